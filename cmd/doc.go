// Package cmd provides CLI commands for XChat services.
//
// # Commands
//
// xchatd: Runs the development ledger and the secret disclosure service in
// one process. Persists to PostgreSQL when configured, in memory otherwise.
//
//	go run ./cmd/xchatd --addr=:8080
//	go run ./cmd/xchatd --config=xchatd.yaml
//
// xchat: CLI client for a running deployment.
//
//	go run ./cmd/xchat keygen
//	go run ./cmd/xchat create --ledger=http://localhost:8080 --key=<hex> --name="Test"
//	go run ./cmd/xchat join --ledger=http://localhost:8080 --key=<hex> --group=1
//	go run ./cmd/xchat list --ledger=http://localhost:8080
//	go run ./cmd/xchat send --ledger=http://localhost:8080 --key=<hex> --group=1 --message="hi"
//	go run ./cmd/xchat watch --ledger=http://localhost:8080 --key=<hex> --group=1
//
// # Configuration
//
// xchatd supports a YAML configuration file via the --config flag; flags
// override file values.
package cmd

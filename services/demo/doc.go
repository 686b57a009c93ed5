// Command demo runs a complete local XChat deployment for testing and
// development.
//
// The demo orchestrator starts everything in a single process:
//   - The ledger and disclosure services over an in-memory store
//   - A configurable number of chat users
//
// One user creates a group, the rest join it, and all of them send messages
// on a timer. Every user runs a live session; received messages are printed
// as they decrypt, demonstrating the full path: append, event stream,
// reconciliation, reveal, decrypt.
//
// # Usage
//
//	go run ./services/demo [flags]
//
// # Flags
//
//	--users     Number of chat users (default: 3)
//	--port      Listen port for the services (default: 8000)
//	--interval  Delay between messages per user (default: 2s)
//
// # Example
//
//	go run ./services/demo --users=5 --interval=1s
package main

// Command xchatd runs the XChat backend: the development ledger and the
// secret disclosure service in one process.
//
// The ledger is an append-only public log with server-assigned ordering and
// join-only membership. The disclosure service guards group secrets and
// discloses them only to group members presenting a signed, time-bounded
// authorization.
//
// # Configuration File
//
// Create a YAML file with service settings:
//
//	addr: ":8080"
//	pprof: false
//	postgres:
//	  host: "localhost"   # in-memory store when empty
//	  port: 5432
//	  user: "xchat"
//	  password: "secret"
//	  database: "xchat"
//
// # Usage
//
//	go run ./cmd/xchatd --addr=:8080
//	go run ./cmd/xchatd --config=xchatd.yaml
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xSterling/XChat/api/httpserver"
	"github.com/0xSterling/XChat/cmd/common"
	"github.com/0xSterling/XChat/services"
)

type daemonConfig struct {
	Addr     string `yaml:"addr"`
	Pprof    bool   `yaml:"pprof"`
	Debug    bool   `yaml:"debug"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"postgres"`
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		pprof      = flag.Bool("pprof", false, "Enable pprof debug API")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg := &daemonConfig{Addr: *addr, Pprof: *pprof, Debug: *debug}
	if err := common.LoadYAMLConfig(*configPath, cfg); err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	log := common.SetupLogger(cfg.Debug)

	var (
		ledgerStore services.LedgerStore
		secretStore services.SecretStore
	)
	if cfg.Postgres.Host != "" {
		store, err := services.NewPostgresStore(&services.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			log.Error("postgres store failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		ledgerStore, secretStore = store, store
		log.Info("using postgres store", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		store := services.NewInMemoryStore()
		ledgerStore, secretStore = store, store
		log.Info("using in-memory store; state is lost on restart")
	}

	ledgerSvc := services.NewLedgerService(ledgerStore, log)
	disclosureSvc := services.NewDisclosureService(secretStore,
		&services.MembershipPolicy{Ledger: ledgerStore}, log)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Addr,
		EnablePprof:              cfg.Pprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		// No write timeout: the ledger serves long-lived event streams.
	}, ledgerSvc, disclosureSvc)
	if err != nil {
		log.Error("server setup failed", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	srv.Shutdown()
}

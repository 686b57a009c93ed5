package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var (
		users    = flag.Int("users", 3, "Number of chat users")
		port     = flag.Int("port", 8000, "Listen port for the services")
		interval = flag.Duration("interval", 2*time.Second, "Delay between messages per user")
	)
	flag.Parse()

	config := &OrchestratorConfig{
		NumUsers:        *users,
		Port:            *port,
		MessageInterval: *interval,
	}

	orchestrator := NewOrchestrator(config)
	if err := orchestrator.Deploy(); err != nil {
		fmt.Printf("Deployment failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nXChat demo running...")
	fmt.Printf("  Users: %d\n", config.NumUsers)
	fmt.Printf("  Services: http://localhost:%d\n", config.Port)
	fmt.Printf("  Message interval: %v\n", config.MessageInterval)
	fmt.Println("\nPress Ctrl+C to shutdown...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	orchestrator.Shutdown()
}

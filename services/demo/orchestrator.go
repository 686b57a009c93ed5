package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/0xSterling/XChat/api/httpserver"
	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
	"github.com/0xSterling/XChat/services"
)

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	NumUsers        int
	Port            int
	MessageInterval time.Duration
}

// ChatUser is one simulated participant with its own key and live session.
type ChatUser struct {
	Name    string
	Signer  crypto.PrivateKey
	State   *protocol.GroupState
	Session *protocol.ChatSession
}

// Orchestrator deploys the services and a set of chatting users in one
// process.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	server *httpserver.BaseServer
	users  []*ChatUser

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config: config,
		log:    slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Deploy starts the services, creates the users and the demo group, and
// begins the chatter.
func (o *Orchestrator) Deploy() error {
	store := services.NewInMemoryStore()
	ledgerSvc := services.NewLedgerService(store, o.log)
	disclosureSvc := services.NewDisclosureService(store,
		&services.MembershipPolicy{Ledger: store}, o.log)

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               fmt.Sprintf(":%d", o.config.Port),
		Log:                      o.log,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              15 * time.Second,
	}, ledgerSvc, disclosureSvc)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	o.server = server
	server.RunInBackground()

	baseURL := fmt.Sprintf("http://localhost:%d", o.config.Port)
	if err := o.createUsers(baseURL); err != nil {
		return err
	}

	group, err := o.users[0].State.CreateGroup(o.ctx, "demo")
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	fmt.Printf("Group %d created by %s\n", uint64(group.ID), o.users[0].Name)

	for _, user := range o.users[1:] {
		if _, err := user.State.JoinGroup(o.ctx, group.ID); err != nil {
			return fmt.Errorf("%s join: %w", user.Name, err)
		}
	}

	for _, user := range o.users {
		session, err := user.State.OpenSession(o.ctx, group.ID)
		if err != nil {
			return fmt.Errorf("%s session: %w", user.Name, err)
		}
		if err := session.LoadKey(o.ctx); err != nil {
			return fmt.Errorf("%s key: %w", user.Name, err)
		}
		user.Session = session
	}

	// One reader prints the conversation; everyone sends.
	go o.printFeed(o.users[0])
	for _, user := range o.users {
		go o.chatter(user)
	}
	return nil
}

func (o *Orchestrator) createUsers(baseURL string) error {
	for i := 0; i < o.config.NumUsers; i++ {
		_, signer, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		ledger := services.NewHTTPLedger(baseURL, o.log)
		disclosure := services.NewHTTPDisclosure(baseURL, o.log)
		state, err := protocol.NewGroupState(ledger, disclosure, signer, nil, o.log)
		if err != nil {
			return err
		}
		o.users = append(o.users, &ChatUser{
			Name:   fmt.Sprintf("user-%d", i),
			Signer: signer,
			State:  state,
		})
	}
	return nil
}

var demoLines = []string{
	"hello everyone",
	"anyone around?",
	"the ledger only sees ciphertext",
	"try reading this without the group key",
	"ok, signing off",
}

func (o *Orchestrator) chatter(user *ChatUser) {
	ticker := time.NewTicker(o.config.MessageInterval + time.Duration(rand.Intn(500))*time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			line := demoLines[rand.Intn(len(demoLines))]
			if _, err := user.Session.Send(o.ctx, line); err != nil {
				o.log.Warn("send failed", "user", user.Name, "err", err)
			}
		}
	}
}

func (o *Orchestrator) printFeed(user *ChatUser) {
	for msg := range user.Session.Feed() {
		sender := msg.Record.Sender.String()[:8]
		if msg.Redacted {
			fmt.Printf("  #%-3d %s: <redacted>\n", msg.Record.Seq, sender)
			continue
		}
		fmt.Printf("  #%-3d %s: %s\n", msg.Record.Seq, sender, msg.Plaintext)
	}
}

// Shutdown stops the chatter, the sessions, and the services.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	for _, user := range o.users {
		if user.Session != nil {
			user.Session.Close()
		}
	}
	o.server.Shutdown()
}

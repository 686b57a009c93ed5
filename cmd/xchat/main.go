// Command xchat is the CLI client for a running XChat deployment.
//
// # Commands
//
// keygen: Generate a signing key pair.
//
//	xchat keygen
//
// create: Create a group and become its first member.
//
//	xchat create --ledger=http://localhost:8080 --key=<hex> --name="Test"
//
// join: Join an existing group.
//
//	xchat join --ledger=http://localhost:8080 --key=<hex> --group=1
//
// list: List all groups on the ledger.
//
//	xchat list --ledger=http://localhost:8080
//
// send: Send an encrypted message to a group.
//
//	xchat send --ledger=http://localhost:8080 --key=<hex> --group=1 --message="hi"
//
// history: Print the group's decrypted history.
//
//	xchat history --ledger=http://localhost:8080 --key=<hex> --group=1
//
// watch: Stream the group's messages as they arrive.
//
//	xchat watch --ledger=http://localhost:8080 --key=<hex> --group=1
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xSterling/XChat/cmd/common"
	"github.com/0xSterling/XChat/crypto"
	"github.com/0xSterling/XChat/protocol"
	"github.com/0xSterling/XChat/services"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen()
	case "create":
		err = runCreate(os.Args[2:])
	case "join":
		err = runJoin(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: xchat <keygen|create|join|list|send|history|watch> [flags]")
}

// clientFlags are the flags shared by every command that talks to a
// deployment.
type clientFlags struct {
	fs     *flag.FlagSet
	ledger *string
	key    *string
	group  *uint64
}

func newClientFlags(name string) *clientFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &clientFlags{
		fs:     fs,
		ledger: fs.String("ledger", "http://localhost:8080", "Deployment base URL"),
		key:    fs.String("key", "", "Ed25519 signing key (hex, generates if empty)"),
		group:  fs.Uint64("group", 0, "Group id"),
	}
}

func (c *clientFlags) state(debug bool) (*protocol.GroupState, error) {
	log := common.SetupLogger(debug)
	signer, err := common.LoadOrGenerateSigningKey(*c.key)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	ledger := services.NewHTTPLedger(*c.ledger, log)
	disclosure := services.NewHTTPDisclosure(*c.ledger, log)
	return protocol.NewGroupState(ledger, disclosure, signer, nil, log)
}

func runKeygen() error {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("Private key: %s\n", hex.EncodeToString(priv.Bytes()))
	fmt.Printf("Public key:  %s\n", pub.String())
	return nil
}

func runCreate(args []string) error {
	flags := newClientFlags("create")
	name := flags.fs.String("name", "", "Group name")
	flags.fs.Parse(args)

	state, err := flags.state(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, err := state.CreateGroup(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Created group %d (%s)\n", uint64(group.ID), group.Name)
	return nil
}

func runJoin(args []string) error {
	flags := newClientFlags("join")
	flags.fs.Parse(args)

	state, err := flags.state(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, err := state.JoinGroup(ctx, protocol.GroupID(*flags.group))
	if err != nil {
		return err
	}
	fmt.Printf("Joined group %d (%s), %d members\n", uint64(group.ID), group.Name, group.MemberCount)
	return nil
}

func runList(args []string) error {
	flags := newClientFlags("list")
	flags.fs.Parse(args)

	state, err := flags.state(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	groups, err := state.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		fmt.Printf("%4d  %-24s  %d members  created %s\n",
			uint64(group.ID), group.Name, group.MemberCount,
			group.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSend(args []string) error {
	flags := newClientFlags("send")
	message := flags.fs.String("message", "", "Message text")
	flags.fs.Parse(args)

	if *message == "" {
		return fmt.Errorf("--message is required")
	}

	state, err := flags.state(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := state.OpenSession(ctx, protocol.GroupID(*flags.group))
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.LoadKey(ctx); err != nil {
		return fmt.Errorf("load group key: %w", err)
	}
	receipt, err := session.Send(ctx, *message)
	if err != nil {
		return err
	}
	fmt.Printf("Sent as record %d (%s)\n", receipt.Seq, string(receipt.LogID))
	return nil
}

func printMessage(msg protocol.DecryptedMessage) {
	when := msg.Record.Timestamp.Local().Format("15:04:05")
	sender := msg.Record.Sender.String()
	if len(sender) > 8 {
		sender = sender[:8]
	}
	if msg.Redacted {
		fmt.Printf("[%s] %s: <redacted>\n", when, sender)
		return
	}
	fmt.Printf("[%s] %s: %s\n", when, sender, msg.Plaintext)
}

func openLiveSession(flags *clientFlags, ctx context.Context) (*protocol.ChatSession, error) {
	state, err := flags.state(false)
	if err != nil {
		return nil, err
	}
	session, err := state.OpenSession(ctx, protocol.GroupID(*flags.group))
	if err != nil {
		return nil, err
	}
	if err := session.LoadKey(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("load group key: %w", err)
	}
	for session.State() != protocol.StateLive {
		if err := session.Err(); err != nil {
			session.Close()
			return nil, err
		}
		select {
		case <-ctx.Done():
			session.Close()
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return session, nil
}

func runHistory(args []string) error {
	flags := newClientFlags("history")
	flags.fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := openLiveSession(flags, ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	for _, msg := range session.Messages() {
		printMessage(msg)
	}
	return nil
}

func runWatch(args []string) error {
	flags := newClientFlags("watch")
	flags.fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := openLiveSession(flags, ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// The feed replays everything accepted since the session was opened,
	// so history and live messages print through the same path.
	feed := session.Feed()
	for {
		select {
		case <-sigChan:
			return nil
		case msg, ok := <-feed:
			if !ok {
				return session.Err()
			}
			printMessage(msg)
		}
	}
}

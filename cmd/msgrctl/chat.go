package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/chat"
	"github.com/matheus3301/msgr/internal/command"
	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/lock"
	"github.com/matheus3301/msgr/internal/model"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/matheus3301/msgr/internal/status"
	"github.com/matheus3301/msgr/internal/store"
	intsync "github.com/matheus3301/msgr/internal/sync"
	"github.com/matheus3301/msgr/internal/transport"
	"github.com/spf13/cobra"
)

var (
	flagConversation int64
	flagUser         int64
	flagWait         time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send one message over a short-lived connection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE:  runConversations,
}

func init() {
	sendCmd.Flags().Int64VarP(&flagConversation, "conversation", "c", 0, "conversation id")
	sendCmd.Flags().Int64Var(&flagUser, "user", 0, "start a conversation with this user id")
	sendCmd.MarkFlagsMutuallyExclusive("conversation", "user")
	sendCmd.MarkFlagsOneRequired("conversation", "user")

	conversationsCmd.Flags().DurationVar(&flagWait, "wait", 5*time.Second, "how long to wait for the server")

	rootCmd.AddCommand(conversationsCmd)
}

// session is a chat client for a single command.
type session struct {
	client *chat.Client
	events <-chan bus.Event
	unsub  func()
	ch     *transport.Channel
	db     *store.DB
	bus    *bus.Bus
	lk     *lock.Lock
}

// openSession connects with the profile's credentials. It holds the
// profile lock so that it never refreshes the credential pair at the same
// time as a running msgrd; the server revokes a refresh credential once used.
func openSession(ctx context.Context, cfg *config.Config, name string) (*session, error) {
	if err := profile.EnsureDir(name); err != nil {
		return nil, err
	}
	lk, err := lock.Acquire(profile.Dir(name))
	var held *lock.LockHeldError
	if errors.As(err, &held) {
		return nil, fmt.Errorf("profile %q is in use by msgrd (pid %d); stop it first: %w", name, held.PID, err)
	}
	if err != nil {
		return nil, err
	}
	sup, db, err := openSupervisor(cfg, name)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	b := bus.New()
	ch := transport.NewChannel(cfg.Server.WebSocketURL, nil)
	engine := intsync.NewEngine(ch, b, cfg.Sync.NotificationTTL.Duration, nil)
	client := chat.NewClient(sup, ch, engine, command.NewEmitter(ch, nil), status.NewMachine(b), chat.Options{}, nil)

	s := &session{client: client, ch: ch, db: db, bus: b, lk: lk}
	s.events, s.unsub = client.Subscribe(64)
	if _, err := client.Connect(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

func (s *session) close() {
	s.unsub()
	_ = s.ch.Close()
	s.bus.Close()
	_ = s.db.Close()
	_ = s.lk.Release()
}

// await returns once an event of kind arrives or ctx ends.
func (s *session) await(ctx context.Context, kind string) error {
	for {
		select {
		case evt, ok := <-s.events:
			if !ok {
				return errors.New("connection closed")
			}
			if evt.Kind == kind {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolve()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	s, err := openSession(ctx, cfg, name)
	if err != nil {
		return err
	}
	defer s.close()

	text := strings.Join(args, " ")
	if flagUser != 0 {
		s.client.SelectUser(model.SearchUser{UserID: flagUser})
		err = s.client.Send(text)
	} else {
		err = s.client.SendTo(flagConversation, text)
	}
	if err != nil {
		return err
	}
	fmt.Println("Sent.")
	return nil
}

func runConversations(cmd *cobra.Command, _ []string) error {
	cfg, name, err := resolve()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagWait)
	defer cancel()

	s, err := openSession(ctx, cfg, name)
	if err != nil {
		return err
	}
	defer s.close()

	// The server pushes the list when the connection opens.
	if err := s.await(ctx, intsync.KindSummaries); err != nil {
		return fmt.Errorf("waiting for conversation list: %w", err)
	}
	summaries := s.client.Snapshot().Summaries

	if flagJSON {
		outputJSON(summaries)
		return nil
	}
	if len(summaries) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, c := range summaries {
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Content
		}
		fmt.Printf("%-6d %-24s %3d unread  %s\n", c.ConversationID, c.DisplayName, c.UnreadCount, last)
	}
	return nil
}

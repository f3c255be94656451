package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"roomsync/internal/config"
	"roomsync/internal/models"
	"roomsync/internal/outbox"
	"roomsync/internal/presence"
	"roomsync/internal/reconcile"
	"roomsync/internal/service"
	"roomsync/internal/session"
	"roomsync/internal/storage"
	"roomsync/internal/store"
	"roomsync/internal/transport"
	"roomsync/internal/view"
)

var errQuit = errors.New("quit")

func run(ctx context.Context) error {
	room := flag.String("room", "", "Room to join on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cache, err := storage.NewBboltCache(cfg.CacheFile)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	st := store.New(cfg.PageSize)
	defer st.Close()

	views := view.NewCache()
	tracker := presence.New(ctx, presence.Config{
		TypingTTL:   cfg.TypingTTL,
		PresenceTTL: cfg.PresenceTTL,
	})

	api := service.NewClient(cfg.ServerURL, cfg.Token, logger)
	actions := outbox.New(st, api, views, cfg.UserID, logger)
	rec := reconcile.New(st, tracker, views, logger)

	wsClient := transport.NewClient(transport.Config{
		URL:   cfg.RealtimeURL,
		Token: cfg.Token,
	}, logger)
	subs := transport.NewManager(wsClient, logger)

	sess := session.New(session.Config{
		Store:    st,
		Actions:  actions,
		Tracker:  tracker,
		Subs:     subs,
		Lister:   api,
		Typing:   wsClient,
		Views:    views,
		Cache:    cache,
		UserID:   cfg.UserID,
		PageSize: cfg.PageSize,
		Log:      logger,
	})

	events := make(chan string, 64)
	wsClient.OnEvent(func(ev models.Event) {
		rec.Apply(ev)
		if ev.RoomID == sess.Room() {
			select {
			case events <- formatEvent(ev):
			default:
			}
		}
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsClient.Run(gCtx)
	})

	// Keep our presence entry alive server-side; peers expire it on TTL.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := wsClient.SendPresence(models.StatusOnline); err != nil && !errors.Is(err, models.ErrNotConnected) {
					logger.Warn("presence heartbeat failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line := <-events:
				fmt.Println(line)
			}
		}
	})

	g.Go(func() error {
		defer sess.Flush()
		if *room != "" {
			if err := sess.SelectRoom(gCtx, *room); err != nil {
				logger.Warn("initial room join failed", "room_id", *room, "error", err)
			} else {
				printMessages(sess.Messages())
			}
		}
		return repl(gCtx, sess)
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// repl reads commands from stdin. Anything not starting with a slash is
// sent as a text message to the current room.
func repl(ctx context.Context, sess *session.Session) error {
	fmt.Println(`Commands: /room <id>, /older, /edit <id> <text>, /delete <id>, /pin <id>, /unpin <id>, /react <id> <emoji>, /unreact <id> <emoji>, /read <id>, /read-all, /who, /quit`)

	// Scanner runs on its own goroutine so a signal still shuts us down
	// while Scan is blocked on a quiet terminal.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := dispatch(ctx, sess, line); err != nil {
				if errors.Is(err, errQuit) {
					return errQuit
				}
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

func dispatch(ctx context.Context, sess *session.Session, line string) error {
	if !strings.HasPrefix(line, "/") {
		sess.StartTyping()
		defer sess.StopTyping()
		_, err := sess.Send(ctx, line)
		return err
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit":
		return errQuit
	case "/room":
		if len(args) != 1 {
			return errors.New("usage: /room <id>")
		}
		if err := sess.SelectRoom(ctx, args[0]); err != nil {
			return err
		}
		printMessages(sess.Messages())
		return nil
	case "/older":
		if err := sess.LoadOlder(ctx); err != nil {
			return err
		}
		printMessages(sess.Messages())
		return nil
	case "/edit":
		if len(args) < 2 {
			return errors.New("usage: /edit <id> <text>")
		}
		_, err := sess.Edit(ctx, args[0], strings.Join(args[1:], " "))
		return err
	case "/delete":
		if len(args) != 1 {
			return errors.New("usage: /delete <id>")
		}
		return sess.Delete(ctx, args[0])
	case "/pin":
		if len(args) != 1 {
			return errors.New("usage: /pin <id>")
		}
		return sess.SetPinned(ctx, args[0], true)
	case "/unpin":
		if len(args) != 1 {
			return errors.New("usage: /unpin <id>")
		}
		return sess.SetPinned(ctx, args[0], false)
	case "/react":
		if len(args) != 2 {
			return errors.New("usage: /react <id> <emoji>")
		}
		return sess.React(ctx, args[0], args[1])
	case "/unreact":
		if len(args) != 2 {
			return errors.New("usage: /unreact <id> <emoji>")
		}
		return sess.Unreact(ctx, args[0], args[1])
	case "/read":
		if len(args) != 1 {
			return errors.New("usage: /read <id>")
		}
		return sess.MarkRead(ctx, args[0])
	case "/read-all":
		sess.MarkRoomRead(ctx)
		return nil
	case "/who":
		printPresence(sess)
		return nil
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func printMessages(msgs []models.Message) {
	for _, m := range msgs {
		fmt.Println(formatMessage(m))
	}
}

func formatMessage(m models.Message) string {
	ts := m.CreatedAt.Local().Format("15:04:05")
	if m.Deleted() {
		return fmt.Sprintf("[%s] %s <%s> (deleted)", ts, m.ID, m.SenderID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s <%s> %s", ts, m.ID, m.SenderID, m.Content)
	if m.EditedAt != nil {
		b.WriteString(" (edited)")
	}
	if m.Pinned {
		b.WriteString(" (pinned)")
	}
	for _, r := range m.Reactions {
		fmt.Fprintf(&b, " %s:%s", r.Emoji, r.UserID)
	}
	return b.String()
}

func formatEvent(ev models.Event) string {
	switch ev.Kind {
	case models.EventMessageCreated:
		if ev.Message != nil {
			return formatMessage(*ev.Message)
		}
	case models.EventMessageUpdated:
		return fmt.Sprintf("* %s edited", ev.MessageID)
	case models.EventMessageDeleted:
		return fmt.Sprintf("* %s deleted", ev.MessageID)
	case models.EventReactionChanged:
		return fmt.Sprintf("* reaction on %s", ev.MessageID)
	case models.EventTypingStarted:
		return fmt.Sprintf("* %s is typing...", ev.UserID)
	case models.EventPresenceJoined:
		return fmt.Sprintf("* %s joined", ev.UserID)
	case models.EventPresenceLeft:
		return fmt.Sprintf("* %s left", ev.UserID)
	}
	return fmt.Sprintf("* %s", ev.Kind)
}

func printPresence(sess *session.Session) {
	for _, p := range sess.Presence() {
		fmt.Printf("%s: %s\n", p.UserID, p.Status)
	}
	if users := sess.TypingUsers(); len(users) > 0 {
		fmt.Printf("typing: %s\n", strings.Join(users, ", "))
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

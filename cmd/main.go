package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"roomsync/auth"
	"roomsync/domain"
	"roomsync/domain/event"
	"roomsync/httpapi"
	"roomsync/internal"
	"roomsync/runtime"
	"roomsync/services"
	"roomsync/storage"
	"roomsync/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the session engine and drives a minimal terminal client on top
// of it. Returning the error instead of exiting keeps defers running.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.NewLogger(config.LogLevel)

	// 2. Session-lifetime credential store (in-memory Badger)
	db, err := storage.OpenInMemory()
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing session store...")
		_ = db.Close()
	}()

	// 3. Wire the engine
	tokens := auth.NewTokenStore()
	credStore := storage.NewCredentialStore(db, log)
	api := httpapi.NewClient(config.APIBaseURL, config.HTTPTimeout, tokens, log)
	authSession := services.NewAuthSession(api, tokens, credStore, log)
	api.SetUnauthorizedHook(authSession.ForceLogout)

	ws := transport.NewWebsocketTransport(config.SocketURL, config.ConnectTimeout, log)
	manager := runtime.NewManager(ws, runtime.Config{
		MaxAttempts: config.ReconnectAttempts,
		RetryDelay:  config.ReconnectDelay,
		DialTimeout: config.ConnectTimeout,
	}, log)

	session := services.NewSession(authSession, manager, log)
	defer session.Close()

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Login and connect
	if _, err := authSession.Login(ctx, config.Username, config.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	roomID := domain.RoomID(config.RoomID)
	if err := waitConnected(ctx, session); err != nil {
		return err
	}
	if err := session.JoinRoom(roomID); err != nil {
		return fmt.Errorf("joining %s: %w", roomID, err)
	}

	// 6. Render inbound events while reading stdin
	events, cancel := session.Subscribe()
	defer cancel()
	go renderEvents(events)

	color.Greenln(">>> Connected. Type a message, /members, /leave or /quit.")

	lines := readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch {
			case line == "/quit":
				return nil
			case line == "/members":
				printMembers(session.Members(roomID))
			case line == "/leave":
				if err := session.LeaveRoom(roomID); err != nil {
					color.Redln("leave failed:", err)
				}
			case strings.TrimSpace(line) != "":
				if err := session.SendMessage(roomID, line); err != nil {
					color.Redln("send failed:", err)
				}
			}
		}
	}
}

// waitConnected blocks until the connection opens or terminally fails.
func waitConnected(ctx context.Context, session *services.Session) error {
	events, cancel := session.Subscribe()
	defer cancel()

	switch session.ConnectionState() {
	case domain.Connected:
		return nil
	case domain.Failed:
		return fmt.Errorf("connection failed: %w", session.LastError())
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return fmt.Errorf("session closed")
			}
			switch e := evt.(type) {
			case event.ConnectionOpened:
				return nil
			case event.ConnectionFailed:
				return fmt.Errorf("connection failed after %d attempts: %w", e.Attempts, e.Err)
			}
		}
	}
}

func renderEvents(events <-chan event.SessionEvent) {
	for evt := range events {
		switch e := evt.(type) {
		case event.MessageReceived:
			msg := e.Message
			stamp := msg.Timestamp.Format(time.TimeOnly)
			if msg.Kind == domain.KindSystem {
				color.Grayln(fmt.Sprintf("[%s] * %s", stamp, msg.Content))
			} else {
				color.Printf("[%s] <cyan>%s</>: %s\n", stamp, msg.SenderName, msg.Content)
			}
		case event.ConnectionClosed:
			color.Yellowln("* connection lost")
		case event.ConnectionOpened:
			color.Greenln("* connection open")
		case event.ConnectionFailed:
			color.Redln("* connection failed:", e.Err)
		}
	}
}

func printMembers(members []domain.MembershipEntry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"User", "Role", "Online", "Joined"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, m := range members {
		online := "no"
		if m.Online {
			online = "yes"
		}
		table.Append([]string{m.Username, string(m.Role), online, m.JoinedAt.Format(time.TimeOnly)})
	}
	table.Render()
}

// readLines feeds stdin lines into a channel so the select loop can also
// honor signal cancellation.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

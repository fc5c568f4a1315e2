package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"

	"roomsync/auth"
	"roomsync/domain/event"
	"roomsync/httpapi"
	"roomsync/internal"
	"roomsync/runtime"
	"roomsync/services"
	"roomsync/storage"
	"roomsync/transport"
)

// BaseSessionSuite spins up the in-process backend and builds full client
// stacks against it: real HTTP client, real websocket transport, real
// connection manager, nothing mocked.
type BaseSessionSuite struct {
	suite.Suite
	Config  Config
	Backend *fakeBackend

	log *slog.Logger
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSessionSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.log = internal.NewLogger(s.Config.LogLevel)
}

func (s *BaseSessionSuite) SetupTest() {
	s.Backend = newFakeBackend()
}

func (s *BaseSessionSuite) TearDownTest() {
	s.Backend.Close()
}

// Step prints a colorized header so scenario phases stand out in logs.
func (s *BaseSessionSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Client is one fully wired stack under test, identified by its username.
type Client struct {
	Auth    *services.AuthSession
	Session *services.Session
	Events  <-chan event.SessionEvent
}

// NewClient registers a fresh account on the backend and wires a complete
// client stack for it, cleaned up with the test.
func (s *BaseSessionSuite) NewClient(username, password string) *Client {
	tokens := auth.NewTokenStore()
	db, err := storage.OpenInMemory()
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })

	api := httpapi.NewClient(s.Backend.APIBaseURL(), 5*time.Second, tokens, s.log)
	authSession := services.NewAuthSession(api, tokens, storage.NewCredentialStore(db, s.log), s.log)
	api.SetUnauthorizedHook(authSession.ForceLogout)

	manager := runtime.NewManager(
		transport.NewWebsocketTransport(s.Backend.SocketURL(), 5*time.Second, s.log),
		runtime.Config{MaxAttempts: 5, RetryDelay: 50 * time.Millisecond, DialTimeout: 5 * time.Second},
		s.log,
	)
	session := services.NewSession(authSession, manager, s.log)
	s.T().Cleanup(session.Close)

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.StepTimeout)
	defer cancel()
	identity, err := authSession.Register(ctx, username, username+"@example.com", password)
	s.Require().NoError(err)
	s.Require().Equal(username, identity.Username)

	events, cancelSub := session.Subscribe()
	s.T().Cleanup(cancelSub)

	return &Client{Auth: authSession, Session: session, Events: events}
}

// Connect drives the client to Connected, failing the test on timeout.
func (s *BaseSessionSuite) Connect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.StepTimeout)
	defer cancel()
	s.Require().NoError(c.Session.Connect(ctx))
	s.AwaitEvent(c, func(evt event.SessionEvent) bool {
		_, ok := evt.(event.ConnectionOpened)
		return ok
	}, "connection never opened")
}

// AwaitEvent drains the client's stream until match accepts an event.
func (s *BaseSessionSuite) AwaitEvent(c *Client, match func(event.SessionEvent) bool, onTimeout string) event.SessionEvent {
	deadline := time.After(s.Config.StepTimeout)
	for {
		select {
		case evt, ok := <-c.Events:
			s.Require().True(ok, "event stream closed")
			if match(evt) {
				return evt
			}
		case <-deadline:
			s.Require().FailNow(onTimeout)
			return nil
		}
	}
}

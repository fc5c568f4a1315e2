package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomsync/domain"
	"roomsync/domain/event"
	"roomsync/errors"
	"roomsync/transport"
)

// Config bounds the connection lifecycle. The reconnect cap and delay are
// deployment configuration, not a protocol contract.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// Manager owns the single physical connection to the messaging backend.
//
// Exactly one connection exists at a time and every state transition goes
// through transitionLocked, so transitions are totally ordered. The
// credential is read as a snapshot at connect time; rotations performed by
// the auth session are only observed at the next (re)connect.
type Manager struct {
	transport transport.ITransport
	fanout    *Fanout
	cfg       Config
	log       *slog.Logger

	mu      sync.Mutex
	state   domain.ConnectionState
	token   string
	conn    transport.IConn
	cancel  context.CancelFunc
	gen     int
	epoch   int
	lastErr error
}

func NewManager(t transport.ITransport, cfg Config, log *slog.Logger) *Manager {
	return &Manager{
		transport: t,
		fanout:    NewFanout(log),
		cfg:       cfg,
		log:       log,
		state:     domain.Disconnected,
	}
}

// Subscribe yields the stream of lifecycle and inbound events in the order
// they were applied.
func (m *Manager) Subscribe() (<-chan event.SessionEvent, func()) {
	return m.fanout.Subscribe()
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch identifies the current connection span. It increments on every
// transport open; join state never outlives an epoch.
func (m *Manager) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect starts the connection using a snapshot of the given credential.
// It is a no-op while Connected, or while an attempt with the same token is
// in flight. An in-flight attempt with a different token is replaced.
func (m *Manager) Connect(cred domain.Credential) error {
	m.mu.Lock()

	switch m.state {
	case domain.Connected:
		m.mu.Unlock()
		return nil
	case domain.Connecting, domain.Reconnecting:
		if m.token == cred.AccessToken {
			m.mu.Unlock()
			return nil
		}
		// A different credential replaces the in-flight attempt.
		m.teardownLocked()
		m.transitionLocked(domain.Disconnected)
	default:
		// Release whatever context the previous generation left behind.
		m.teardownLocked()
	}

	m.gen++
	gen := m.gen
	m.token = cred.AccessToken
	m.transitionLocked(domain.Connecting)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(ctx, gen, cred.AccessToken)
	return nil
}

// Disconnect tears the connection down from any state, cancelling any
// in-flight connect or reconnect attempt. Safe to call repeatedly. A close
// is announced only when a connection was actually open; attempts that never
// attached produce no ConnectionClosed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	wasOpen := m.state == domain.Connected
	epoch := m.epoch
	m.teardownLocked()
	m.transitionLocked(domain.Disconnected)
	m.mu.Unlock()

	if wasOpen {
		m.fanout.Publish(event.ConnectionClosed{Epoch: epoch})
	}
}

// Emit forwards a named event to the backend. Operations are rejected
// rather than queued while the connection is not open.
func (m *Manager) Emit(name string, payload any) error {
	_, err := m.EmitEpoch(name, payload)
	return err
}

// EmitEpoch is Emit plus the epoch of the connection the event was written
// to. Callers stamping local state with an epoch need the connection and the
// epoch read atomically; reading Epoch() separately races a reconnect.
func (m *Manager) EmitEpoch(name string, payload any) (int, error) {
	m.mu.Lock()
	if m.state != domain.Connected || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: connection is %s", errors.ErrNotConnected, state)
	}
	conn := m.conn
	epoch := m.epoch
	m.mu.Unlock()

	return epoch, conn.Emit(name, payload)
}

// Close shuts the manager down for good.
func (m *Manager) Close() {
	m.Disconnect()
	m.fanout.Close()
}

// run drives one connect lifetime: initial dial, event pumping, and the
// bounded redial loop. A newer generation invalidates this goroutine; it
// then exits without touching state.
func (m *Manager) run(ctx context.Context, gen int, token string) {
	conn, err := m.dial(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.noteError(err)
		conn = m.redial(ctx, gen, token)
		if conn == nil {
			return
		}
	}

	for {
		epoch, ok := m.attach(gen, conn)
		if !ok {
			_ = conn.Close()
			return
		}
		m.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		m.log.Info("connection dropped", "epoch", epoch)
		m.fanout.Publish(event.ConnectionClosed{Epoch: epoch})

		conn = m.redial(ctx, gen, token)
		if conn == nil {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (transport.IConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	return m.transport.Dial(dialCtx, token)
}

// redial attempts to reopen the transport up to MaxAttempts times.
// Exhaustion is terminal: the machine parks in Failed until an explicit
// Connect.
func (m *Manager) redial(ctx context.Context, gen int, token string) transport.IConn {
	if m.cfg.MaxAttempts <= 0 {
		m.fail(gen)
		return nil
	}
	if !m.transitionTo(gen, domain.Reconnecting) {
		return nil
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.RetryDelay):
		}

		conn, err := m.dial(ctx, token)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		m.noteError(err)
		m.log.Warn("reconnect attempt failed", "attempt", attempt, "max", m.cfg.MaxAttempts, "error", err)
	}

	m.fail(gen)
	return nil
}

// attach installs an open connection and advances the epoch.
func (m *Manager) attach(gen int, conn transport.IConn) (int, bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return 0, false
	}
	if !m.transitionLocked(domain.Connected) {
		m.mu.Unlock()
		return 0, false
	}
	m.conn = conn
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	m.log.Info("connection open", "epoch", epoch)
	m.fanout.Publish(event.ConnectionOpened{Epoch: epoch})
	return epoch, true
}

// pump forwards inbound events in arrival order until the connection drops.
func (m *Manager) pump(ctx context.Context, conn transport.IConn) {
	for {
		select {
		case evt, ok := <-conn.Events():
			if !ok {
				return
			}
			m.fanout.Publish(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) fail(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(domain.Failed)
	lastErr := m.lastErr
	m.mu.Unlock()

	m.log.Error("connection failed, attempts exhausted", "attempts", m.cfg.MaxAttempts, "error", lastErr)
	m.fanout.Publish(event.ConnectionFailed{Attempts: m.cfg.MaxAttempts, Err: lastErr})
}

func (m *Manager) transitionTo(gen int, to domain.ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	return m.transitionLocked(to)
}

// transitionLocked is the only mutation point for the connection state.
func (m *Manager) transitionLocked(to domain.ConnectionState) bool {
	if m.state == to {
		return true
	}
	if !domain.CanTransition(m.state, to) {
		m.log.Error("illegal state transition", "from", m.state, "to", to)
		return false
	}
	from := m.state
	m.state = to
	m.log.Debug("connection state", "from", from, "to", to)
	m.fanout.Publish(event.StateChanged{From: from, To: to})
	return true
}

func (m *Manager) noteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// teardownLocked cancels the running goroutine and closes any live
// connection without emitting events.
func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/domain"
	"roomsync/domain/event"
)

const (
	// Writes must not stall the session loop; a full buffer means the
	// backend stopped draining and the connection is as good as dead.
	writeBufferSize = 64
	writeTimeout    = 5 * time.Second
)

// envelope is the wire framing: a named event with a raw JSON body.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebsocketTransport dials the backend over a websocket and speaks the
// named-event envelope protocol.
type WebsocketTransport struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewWebsocketTransport(url string, handshakeTimeout time.Duration, log *slog.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		log: log,
	}
}

// Dial opens one physical connection, attaching the access token at the
// handshake. The returned connection owns its reader and writer goroutines.
func (t *WebsocketTransport) Dial(ctx context.Context, token string) (IConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", t.url, err)
	}

	conn := &wsConn{
		ws:      ws,
		writeCh: make(chan envelope, writeBufferSize),
		events:  make(chan event.SessionEvent, writeBufferSize),
		done:    make(chan struct{}),
		log:     t.log,
	}
	go conn.writeLoop()
	go conn.readLoop()
	return conn, nil
}

// wsConn wraps one gorilla connection. All writes are serialized through a
// single writer goroutine; gorilla allows at most one concurrent writer.
type wsConn struct {
	ws        *websocket.Conn
	writeCh   chan envelope
	events    chan event.SessionEvent
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func (c *wsConn) Emit(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}

	select {
	case c.writeCh <- envelope{Event: name, Data: data}:
		return nil
	case <-c.done:
		return fmt.Errorf("emit %s: connection closed", name)
	case <-time.After(writeTimeout):
		return fmt.Errorf("emit %s: write buffer full", name)
	}
}

func (c *wsConn) Events() <-chan event.SessionEvent {
	return c.events
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case env := <-c.writeCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.log.Debug("websocket write failed", "event", env.Event, "error", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop decodes envelopes into typed events until the connection drops,
// then closes the event channel so the layer above sees the drop.
func (c *wsConn) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		evt, err := decodeEvent(env)
		if err != nil {
			c.log.Warn("dropping malformed event", "event", env.Event, "error", err)
			continue
		}
		if evt == nil {
			c.log.Warn("dropping unknown event", "event", env.Event)
			continue
		}

		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

func decodeEvent(env envelope) (event.SessionEvent, error) {
	switch env.Event {
	case EventNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		return event.MessageReceived{Message: msg}, nil

	case EventUserJoined:
		var p PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.MemberJoined{RoomID: p.RoomID, Member: p.User}, nil

	case EventUserLeft:
		var p PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.MemberLeft{RoomID: p.RoomID, Member: p.User}, nil

	case EventRoomUpdate:
		var p RoomUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.RoomUpdated{RoomID: p.RoomID, MemberCount: p.MemberCount}, nil

	default:
		return nil, nil
	}
}

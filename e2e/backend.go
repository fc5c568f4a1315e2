package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomsync/auth"
	"roomsync/domain"
	"roomsync/httpapi"
	"roomsync/transport"
)

// fakeBackend is an in-process stand-in for the chat server: an HTTP auth
// boundary issuing HS256 tokens plus a websocket endpoint speaking the
// named-event envelope protocol. Just enough behavior to drive full client
// scenarios, no persistence.
type fakeBackend struct {
	srv      *httptest.Server
	secret   []byte
	upgrader websocket.Upgrader

	mu            sync.Mutex
	users         map[string]backendUser
	refreshTokens map[string]string
	rejectRefresh bool
	conns         map[*backendConn]struct{}
	rooms         map[domain.RoomID]map[*backendConn]domain.MembershipEntry
}

type backendUser struct {
	id       string
	email    string
	password string
}

// backendConn is one authenticated websocket peer. Writes are serialized.
type backendConn struct {
	ws   *websocket.Conn
	user domain.Identity

	mu sync.Mutex
}

type wireFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		secret:        []byte("e2e-signing-secret"),
		users:         make(map[string]backendUser),
		refreshTokens: make(map[string]string),
		conns:         make(map[*backendConn]struct{}),
		rooms:         make(map[domain.RoomID]map[*backendConn]domain.MembershipEntry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", b.handleLogin)
	mux.HandleFunc("/auth/register", b.handleRegister)
	mux.HandleFunc("/auth/refresh", b.handleRefresh)
	mux.HandleFunc("/socket", b.handleSocket)
	b.srv = httptest.NewServer(mux)
	return b
}

func (b *fakeBackend) APIBaseURL() string { return b.srv.URL }

func (b *fakeBackend) SocketURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/socket"
}

func (b *fakeBackend) Close() {
	b.DropConnections()
	b.srv.Close()
}

// RejectRefresh makes every subsequent refresh answer 401.
func (b *fakeBackend) RejectRefresh(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectRefresh = reject
}

// DropConnections severs every live websocket, simulating a server restart.
func (b *fakeBackend) DropConnections() {
	b.mu.Lock()
	conns := make([]*backendConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (b *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	user, ok := b.users[req.Username]
	b.mu.Unlock()
	if !ok || user.password != req.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.writeAuthResponse(w, domain.Identity{UserID: user.id, Username: req.Username})
}

func (b *fakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	if _, exists := b.users[req.Username]; exists {
		b.mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		return
	}
	user := backendUser{id: uuid.New().String(), email: req.Email, password: req.Password}
	b.users[req.Username] = user
	b.mu.Unlock()

	b.writeAuthResponse(w, domain.Identity{UserID: user.id, Username: req.Username})
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	username, known := b.refreshTokens[req.RefreshToken]
	rejected := b.rejectRefresh
	user := b.users[username]
	if known {
		delete(b.refreshTokens, req.RefreshToken)
	}
	b.mu.Unlock()

	if rejected || !known {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.writeAuthResponse(w, domain.Identity{UserID: user.id, Username: username})
}

func (b *fakeBackend) writeAuthResponse(w http.ResponseWriter, identity domain.Identity) {
	claims := jwt.MapClaims{
		"sub":      identity.UserID,
		"username": identity.Username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	refresh := uuid.New().String()
	b.mu.Lock()
	b.refreshTokens[refresh] = identity.Username
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(httpapi.AuthResponse{
		User:         identity,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func (b *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := b.authenticate(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &backendConn{ws: ws, user: identity}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	b.serve(conn)
}

func (b *fakeBackend) authenticate(r *http.Request) (domain.Identity, bool) {
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return domain.Identity{}, false
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return b.secret, nil })
	if err != nil || !token.Valid {
		return domain.Identity{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, false
	}
	sub, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	return domain.Identity{UserID: sub, Username: username}, sub != ""
}

func (b *fakeBackend) serve(conn *backendConn) {
	defer b.disconnect(conn)

	for {
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ws.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case transport.EventJoinRoom:
			var roomID domain.RoomID
			if json.Unmarshal(env.Data, &roomID) == nil {
				b.join(conn, roomID)
			}

		case transport.EventLeaveRoom:
			var roomID domain.RoomID
			if json.Unmarshal(env.Data, &roomID) == nil {
				b.leave(conn, roomID)
			}

		case transport.EventSendMessage:
			var p transport.SendMessagePayload
			if json.Unmarshal(env.Data, &p) == nil {
				b.broadcastMessage(conn, p)
			}
		}
	}
}

// join registers the peer and replays the existing roster to it, so a
// newcomer converges on the same member list as everyone else.
func (b *fakeBackend) join(conn *backendConn, roomID domain.RoomID) {
	entry := domain.MembershipEntry{
		UserID:   conn.user.UserID,
		Username: conn.user.Username,
		Role:     domain.RoleMember,
		JoinedAt: time.Now().UTC(),
		Online:   true,
	}

	b.mu.Lock()
	room, ok := b.rooms[roomID]
	if !ok {
		room = make(map[*backendConn]domain.MembershipEntry)
		b.rooms[roomID] = room
		entry.Role = domain.RoleOwner
	}
	roster := make([]domain.MembershipEntry, 0, len(room))
	peers := make([]*backendConn, 0, len(room))
	for peer, member := range room {
		roster = append(roster, member)
		peers = append(peers, peer)
	}
	room[conn] = entry
	b.mu.Unlock()

	for _, member := range roster {
		conn.send(transport.EventUserJoined, transport.PresencePayload{RoomID: roomID, User: member})
	}
	conn.send(transport.EventUserJoined, transport.PresencePayload{RoomID: roomID, User: entry})
	for _, peer := range peers {
		peer.send(transport.EventUserJoined, transport.PresencePayload{RoomID: roomID, User: entry})
	}
	b.broadcastRoomUpdate(roomID)
}

func (b *fakeBackend) leave(conn *backendConn, roomID domain.RoomID) {
	b.mu.Lock()
	room, ok := b.rooms[roomID]
	if !ok {
		b.mu.Unlock()
		return
	}
	entry, present := room[conn]
	delete(room, conn)
	peers := make([]*backendConn, 0, len(room))
	for peer := range room {
		peers = append(peers, peer)
	}
	b.mu.Unlock()

	if !present {
		return
	}
	for _, peer := range peers {
		peer.send(transport.EventUserLeft, transport.PresencePayload{RoomID: roomID, User: entry})
	}
	b.broadcastRoomUpdate(roomID)
}

func (b *fakeBackend) broadcastMessage(conn *backendConn, p transport.SendMessagePayload) {
	msg := domain.Message{
		ID:         uuid.New().String(),
		RoomID:     p.RoomID,
		SenderID:   conn.user.UserID,
		SenderName: conn.user.Username,
		Content:    p.Content,
		Timestamp:  time.Now().UTC(),
		Kind:       domain.KindText,
	}

	b.mu.Lock()
	room := b.rooms[p.RoomID]
	if _, member := room[conn]; !member {
		b.mu.Unlock()
		return
	}
	peers := make([]*backendConn, 0, len(room))
	for peer := range room {
		peers = append(peers, peer)
	}
	b.mu.Unlock()

	for _, peer := range peers {
		peer.send(transport.EventNewMessage, msg)
	}
}

func (b *fakeBackend) broadcastRoomUpdate(roomID domain.RoomID) {
	b.mu.Lock()
	room := b.rooms[roomID]
	count := len(room)
	peers := make([]*backendConn, 0, count)
	for peer := range room {
		peers = append(peers, peer)
	}
	b.mu.Unlock()

	for _, peer := range peers {
		peer.send(transport.EventRoomUpdate, transport.RoomUpdatePayload{RoomID: roomID, MemberCount: count})
	}
}

// disconnect removes the peer from every room it was in, announcing the
// departures, then forgets the connection.
func (b *fakeBackend) disconnect(conn *backendConn) {
	b.mu.Lock()
	var roomIDs []domain.RoomID
	for roomID, room := range b.rooms {
		if _, ok := room[conn]; ok {
			roomIDs = append(roomIDs, roomID)
		}
	}
	delete(b.conns, conn)
	b.mu.Unlock()

	for _, roomID := range roomIDs {
		b.leave(conn, roomID)
	}
	_ = conn.ws.Close()
}

func (c *backendConn) send(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteJSON(wireFrame{Event: event, Data: payload})
}

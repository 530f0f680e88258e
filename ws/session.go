// Package ws implements the WebSocket side of the gateway: the per-connection
// session actor, the user→session manager used for directed delivery, the
// bounded outbound queue, and the frame codec.
//
// Architecture:
//   - One Session per upgraded connection.  The read loop is the session's
//     driving goroutine; the heartbeat timer runs on a second goroutine and
//     the outbound queue drains on a third.  All cross-goroutine state is
//     either atomic (last activity) or owned by the Outbox's mutex.
//   - Registries hold the session by id; the session removes itself on every
//     termination path through one idempotent teardown.
package ws

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/metrics"
	"github.com/lumichat/gateserver/registry"
	"github.com/lumichat/gateserver/status"
	"github.com/lumichat/gateserver/status/statuspb"
	"github.com/lumichat/gateserver/worker"
)

// ReasonHeartbeatTimeout is the close reason sent when a session dies of
// inactivity.
const ReasonHeartbeatTimeout = "heartbeat_timeout"

// backendTimeout bounds every store and stub call made on behalf of one
// inbound frame.
const backendTimeout = 10 * time.Second

// Conn is the slice of *websocket.Conn the session uses.  Narrowed to an
// interface so session tests can drive the actor without a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// MessageStore is the slice of the database driver the session uses.
type MessageStore interface {
	StoreMessage(ctx context.Context, senderID, receiverID int64, content string) error
	SearchUsers(ctx context.Context, query string, limit int) ([]db.UserSummary, error)
	ChatHistory(ctx context.Context, userID, peerID int64, limit int) ([]db.Message, error)
}

// PresenceStub is the slice of the status client the session uses.
type PresenceStub interface {
	UpdateUserStatus(ctx context.Context, userID int32, st statuspb.UserStatus, sessionToken string) error
	AddFriend(ctx context.Context, userID, friendID int32) error
	FriendsList(ctx context.Context, userID int32) ([]statuspb.FriendInfo, error)
}

// StubPool lends presence stubs to sessions.
type StubPool interface {
	Acquire() (PresenceStub, error)
	Release(stub PresenceStub)
}

// PoolAdapter adapts *status.Pool to StubPool.
type PoolAdapter struct {
	Pool *status.Pool
}

// Acquire borrows a stub from the underlying pool.
func (a PoolAdapter) Acquire() (PresenceStub, error) {
	client, err := a.Pool.Acquire()
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Release returns a stub to the underlying pool.
func (a PoolAdapter) Release(stub PresenceStub) {
	if client, ok := stub.(*status.Client); ok {
		a.Pool.Release(client)
	}
}

// Deps bundles the process-wide services a session talks to.
type Deps struct {
	Manager  *Manager
	Registry *registry.ConnectionRegistry
	Store    MessageStore
	Pool     StubPool
	Workers  *worker.Pool
	Metrics  *metrics.Metrics
	Log      *logger.Logger

	// HeartbeatInterval is H: the keepalive period.  A session with no
	// inbound activity for 3*H is declared dead.
	HeartbeatInterval time.Duration

	// SendQueueLimit bounds the outbound queue.
	SendQueueLimit int

	// SearchLimit and HistoryLimit bound the row counts of the search and
	// history handlers.
	SearchLimit  int
	HistoryLimit int
}

// Session is one authenticated, upgraded, full-duplex client connection.
type Session struct {
	id           string
	userID       string
	sessionToken string
	remoteAddr   string

	conn   Conn
	outbox *Outbox
	stub   PresenceStub

	deps Deps

	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewSession builds a Session over an upgraded connection.  Run must be
// called to start it.
func NewSession(conn Conn, userID, sessionID, sessionToken, remoteAddr string, deps Deps) *Session {
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 30 * time.Second
	}
	if deps.SendQueueLimit <= 0 {
		deps.SendQueueLimit = 256
	}
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 20
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 50
	}

	s := &Session{
		id:           sessionID,
		userID:       userID,
		sessionToken: sessionToken,
		remoteAddr:   remoteAddr,
		conn:         conn,
		deps:         deps,
		stopCh:       make(chan struct{}),
	}
	s.lastActivity.Store(time.Now().UnixNano())

	s.outbox = NewOutbox(deps.SendQueueLimit,
		func(frame []byte) error {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
			if deps.Metrics != nil {
				deps.Metrics.IncrFramesOut()
			}
			return nil
		},
		func() {
			if deps.Metrics != nil {
				deps.Metrics.IncrDroppedFrames()
			}
		},
		func() {
			if deps.Metrics != nil {
				deps.Metrics.IncrSlowPeers()
			}
			deps.Log.Warnf("ws: session %s user %s marked slow peer", sessionID, userID)
		},
		func(err error) {
			deps.Log.Warnf("ws: session %s write: %v", sessionID, err)
			s.teardown("write error")
		},
	)
	return s
}

// UserID returns the authenticated user id.
func (s *Session) UserID() string { return s.userID }

// SessionID returns the minted session id.
func (s *Session) SessionID() string { return s.id }

// Send enqueues one outbound frame.  Never blocks.
func (s *Session) Send(frame []byte) { s.outbox.Enqueue(frame) }

// Run registers the session, publishes ONLINE, starts the heartbeat and then
// drives the read loop until the connection dies.  It returns after teardown.
func (s *Session) Run() {
	s.start()
	s.readLoop()
}

func (s *Session) start() {
	if s.deps.Pool != nil {
		stub, err := s.deps.Pool.Acquire()
		if err != nil {
			// The session stays usable for chat; presence calls will answer
			// with a service-unavailable message.
			s.deps.Log.Warnf("ws: session %s: acquire presence stub: %v", s.id, err)
		} else {
			s.stub = stub
		}
	}

	s.deps.Registry.Add(s.userID, s.id, s.remoteAddr)
	s.deps.Manager.Put(s.userID, s)
	if s.deps.Metrics != nil {
		s.deps.Metrics.IncrConnections()
	}

	s.publishStatusAsync(statuspb.Online)

	go s.heartbeatLoop()

	s.deps.Log.Infof("ws: session %s opened for user %s from %s", s.id, s.userID, s.remoteAddr)
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deps.Log.Debugf("ws: session %s read: %v", s.id, err)
			s.teardown("read error")
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.IncrFramesIn()
		}
		s.touch()
		s.dispatch(data)
	}
}

// touch advances the liveness clock.  Every inbound frame counts as
// activity, heartbeats included.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	s.deps.Registry.Touch(s.userID, s.id)
}

// dispatch routes one inbound frame by its type field.  Frames that fail to
// parse, and unknown types, are echoed back and never kill the session.
func (s *Session) dispatch(data []byte) {
	in, err := ParseInbound(data)
	if err != nil {
		s.Send(Echo(data))
		return
	}

	switch in.Type {
	case TypeLogin:
		s.Send(LoginResponse(s.userID))
	case TypeHeartbeat:
		s.Send(HeartbeatResponse(time.Now().UnixMilli()))
	case TypeTextMessage:
		s.handleTextMessage(in, data)
	case TypeSearchUser:
		s.handleSearchUser(in)
	case TypeAddFriendRequest:
		s.handleAddFriend(in)
	case TypeGetFriendsList:
		s.handleFriendsList()
	case TypeGetChatHistory:
		s.handleChatHistory(in)
	default:
		s.Send(Echo(data))
	}
}

func (s *Session) handleTextMessage(in *Inbound, raw []byte) {
	if in.Content == "" || in.ReceiverID == "" {
		s.Send(Echo(raw))
		return
	}
	senderID, err := strconv.ParseInt(s.userID, 10, 64)
	if err != nil {
		s.deps.Log.Errorf("ws: session %s: non-numeric user id %q", s.id, s.userID)
		return
	}
	receiverID, err := in.ReceiverID.Int64()
	if err != nil {
		s.Send(Echo(raw))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.deps.Store.StoreMessage(ctx, senderID, receiverID, in.Content); err != nil {
		s.deps.Log.Errorf("ws: session %s: persist message %d->%d: %v", s.id, senderID, receiverID, err)
		return
	}

	// Directed delivery: only if the receiver is homed on this gateway.
	if receiver := s.deps.Manager.Get(string(in.ReceiverID)); receiver != nil {
		receiver.Send(TextMessage(s.userID, in.Content, time.Now().UnixMilli()))
	}
}

func (s *Session) handleSearchUser(in *Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	rows, err := s.deps.Store.SearchUsers(ctx, in.Query, s.deps.SearchLimit)
	if err != nil {
		s.deps.Log.Errorf("ws: session %s: search %q: %v", s.id, in.Query, err)
		s.Send(SearchUserResponse(nil))
		return
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		id := strconv.FormatInt(row.ID, 10)
		st := "offline"
		if s.deps.Registry.IsOnline(id) {
			st = "online"
		}
		results = append(results, SearchResult{UserID: id, UserName: row.Username, UserStatus: st})
	}
	s.Send(SearchUserResponse(results))
}

func (s *Session) handleAddFriend(in *Inbound) {
	selfID, friendID, ok := s.pairIDs(in.FriendID)
	if !ok {
		s.Send(AddFriendResponse(false, "Invalid friend id"))
		return
	}
	if s.stub == nil {
		s.Send(AddFriendResponse(false, "Presence service unavailable"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.stub.AddFriend(ctx, selfID, friendID); err != nil {
		s.deps.Log.Errorf("ws: session %s: add friend %d->%d: %v", s.id, selfID, friendID, err)
		s.Send(AddFriendResponse(false, "Failed to add friend"))
		return
	}
	s.Send(AddFriendResponse(true, "Friend added successfully"))
}

func (s *Session) handleFriendsList() {
	if s.stub == nil {
		s.Send(FriendsListResponse(false, nil, "Presence service unavailable"))
		return
	}
	selfID, err := strconv.ParseInt(s.userID, 10, 32)
	if err != nil {
		s.Send(FriendsListResponse(false, nil, "Invalid user id"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	friends, err := s.stub.FriendsList(ctx, int32(selfID))
	if err != nil {
		s.deps.Log.Errorf("ws: session %s: friends list: %v", s.id, err)
		s.Send(FriendsListResponse(false, nil, "Failed to retrieve friends list"))
		return
	}

	entries := make([]FriendEntry, 0, len(friends))
	for _, f := range friends {
		entries = append(entries, FriendEntry{UserID: f.UserID, UserName: f.Username})
	}
	s.Send(FriendsListResponse(true, entries, ""))
}

func (s *Session) handleChatHistory(in *Inbound) {
	selfID, err := strconv.ParseInt(s.userID, 10, 64)
	if err != nil {
		s.Send(ChatHistoryResponse(false, nil, "Invalid user id"))
		return
	}
	peerID, err := in.PeerID.Int64()
	if err != nil {
		s.Send(ChatHistoryResponse(false, nil, "Invalid peer id"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	msgs, err := s.deps.Store.ChatHistory(ctx, selfID, peerID, s.deps.HistoryLimit)
	if err != nil {
		s.deps.Log.Errorf("ws: session %s: history with %d: %v", s.id, peerID, err)
		s.Send(ChatHistoryResponse(false, nil, "Failed to retrieve chat history"))
		return
	}

	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			Timestamp:  m.TimeMillis,
		})
	}
	s.Send(ChatHistoryResponse(true, entries, ""))
}

// pairIDs parses the session's own user id and a counterpart id as int32s.
func (s *Session) pairIDs(other ID) (self, counterpart int32, ok bool) {
	selfID, err := strconv.ParseInt(s.userID, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	otherID, err := other.Int64()
	if err != nil || otherID > 1<<31-1 {
		return 0, 0, false
	}
	return int32(selfID), int32(otherID), true
}

// heartbeatLoop enqueues a server heartbeat every H and declares the session
// dead after 3*H without inbound activity.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.deps.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastActivity.Load()))
			if idle >= 3*s.deps.HeartbeatInterval {
				s.deps.Log.Infof("ws: session %s user %s idle %s, closing", s.id, s.userID, idle.Round(time.Second))
				s.teardown(ReasonHeartbeatTimeout)
				return
			}
			s.Send(ServerHeartbeat(time.Now().UnixMilli()))
		}
	}
}

// Close tears the session down from outside (shutdown path).
func (s *Session) Close() { s.teardown("closed") }

// teardown runs the four-step shutdown exactly once, on whichever
// termination path fires first: read error, write error, heartbeat timeout,
// or explicit close.
func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.deps.Log.Infof("ws: session %s user %s closing (%s)", s.id, s.userID, reason)

		// 1. Presence OFFLINE, best-effort and off this goroutine.  The
		//    stub multiplexes safely, so the publish may still be in flight
		//    when the stub returns to the pool below.
		s.publishStatusAsync(statuspb.Offline)

		// 2. Deregister.  RemoveSession compares handles so an old
		//    session's teardown cannot evict a reconnection.
		s.deps.Manager.RemoveSession(s.userID, s)
		s.deps.Registry.Remove(s.userID, s.id)

		// 3. Return the stub.
		if s.deps.Pool != nil && s.stub != nil {
			s.deps.Pool.Release(s.stub)
		}

		// 4. Close the transport.
		close(s.stopCh)
		s.outbox.Close()
		if reason == ReasonHeartbeatTimeout {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, ReasonHeartbeatTimeout)
			s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
		}
		s.conn.Close()
	})
}

// publishStatusAsync writes a presence transition through the stub on the
// worker pool.  TrySubmit keeps a saturated pool from ever stalling the
// session; a skipped publish is logged and recovered by the next transition.
func (s *Session) publishStatusAsync(st statuspb.UserStatus) {
	if s.stub == nil {
		return
	}
	stub := s.stub
	userID := s.userID
	sessionToken := s.sessionToken

	job := func() {
		id, err := strconv.ParseInt(userID, 10, 32)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		if err := stub.UpdateUserStatus(ctx, int32(id), st, sessionToken); err != nil {
			s.deps.Log.Warnf("ws: publish %s for user %s: %v", st, userID, err)
		}
	}

	if s.deps.Workers == nil || !s.deps.Workers.TrySubmit(job) {
		s.deps.Log.Debugf("ws: worker pool saturated; skipping %s publish for user %s", st, userID)
	}
}

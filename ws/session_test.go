package ws_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/metrics"
	"github.com/lumichat/gateserver/registry"
	"github.com/lumichat/gateserver/status/statuspb"
	"github.com/lumichat/gateserver/worker"
	"github.com/lumichat/gateserver/ws"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	controls [][]byte
	closeCh  chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.inbound:
		return 1, frame, nil
	case <-c.closeCh:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closeCh:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = string(f)
	}
	return out
}

func (c *fakeConn) hasFrame(substr string) bool {
	for _, f := range c.frames() {
		if strings.Contains(f, substr) {
			return true
		}
	}
	return false
}

func (c *fakeConn) hasControl(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctl := range c.controls {
		if strings.Contains(string(ctl), substr) {
			return true
		}
	}
	return false
}

type storedMessage struct {
	sender, receiver int64
	content          string
}

type fakeStore struct {
	mu       sync.Mutex
	messages []storedMessage
	users    []db.UserSummary
	history  []db.Message
}

func (s *fakeStore) StoreMessage(_ context.Context, senderID, receiverID int64, content string) error {
	s.mu.Lock()
	s.messages = append(s.messages, storedMessage{senderID, receiverID, content})
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) SearchUsers(_ context.Context, _ string, _ int) ([]db.UserSummary, error) {
	return s.users, nil
}

func (s *fakeStore) ChatHistory(_ context.Context, _, _ int64, _ int) ([]db.Message, error) {
	return s.history, nil
}

func (s *fakeStore) stored() []storedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedMessage(nil), s.messages...)
}

type fakeStub struct {
	mu           sync.Mutex
	transitions  []statuspb.UserStatus
	friends      []statuspb.FriendInfo
	addFriendErr error
}

func (s *fakeStub) UpdateUserStatus(_ context.Context, _ int32, st statuspb.UserStatus, _ string) error {
	s.mu.Lock()
	s.transitions = append(s.transitions, st)
	s.mu.Unlock()
	return nil
}

func (s *fakeStub) AddFriend(_ context.Context, _, _ int32) error { return s.addFriendErr }

func (s *fakeStub) FriendsList(_ context.Context, _ int32) ([]statuspb.FriendInfo, error) {
	return s.friends, nil
}

func (s *fakeStub) seen() []statuspb.UserStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statuspb.UserStatus(nil), s.transitions...)
}

type fakePool struct {
	mu       sync.Mutex
	stub     ws.PresenceStub
	released int
}

func (p *fakePool) Acquire() (ws.PresenceStub, error) { return p.stub, nil }

func (p *fakePool) Release(ws.PresenceStub) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

func (p *fakePool) releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	manager *ws.Manager
	reg     *registry.ConnectionRegistry
	store   *fakeStore
	stub    *fakeStub
	pool    *fakePool
	workers *worker.Pool
	metrics *metrics.Metrics
	deps    ws.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		manager: ws.NewManager(),
		reg:     registry.New(),
		store:   &fakeStore{},
		stub:    &fakeStub{},
		metrics: metrics.New(),
		workers: worker.NewPool(2),
	}
	h.pool = &fakePool{stub: h.stub}
	h.workers.Start()
	t.Cleanup(h.workers.Stop)

	h.deps = ws.Deps{
		Manager:           h.manager,
		Registry:          h.reg,
		Store:             h.store,
		Pool:              h.pool,
		Workers:           h.workers,
		Metrics:           h.metrics,
		Log:               logger.New(logger.LevelError),
		HeartbeatInterval: time.Hour, // heartbeat inert unless a test shortens it
		SendQueueLimit:    64,
		SearchLimit:       20,
		HistoryLimit:      50,
	}
	return h
}

func (h *harness) spawn(t *testing.T, userID, sessionID string) (*ws.Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	sess := ws.NewSession(conn, userID, sessionID, "token_"+userID+"_1_ab", "10.0.0.1", h.deps)
	go sess.Run()
	t.Cleanup(sess.Close)
	waitFor(t, func() bool { return h.manager.Get(userID) != nil })
	return sess, conn
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestSession_StartupRegistersAndPublishesOnline(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.spawn(t, "1", "s1")

	if !h.reg.IsOnline("1") {
		t.Error("user should be online after startup")
	}
	if h.manager.Get("1") != sess {
		t.Error("manager should hold the live session handle")
	}
	waitFor(t, func() bool {
		seen := h.stub.seen()
		return len(seen) >= 1 && seen[0] == statuspb.Online
	})
}

func TestSession_TeardownCleansEverything(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.spawn(t, "1", "s1")

	sess.Close()
	waitFor(t, func() bool { return !h.reg.IsOnline("1") })

	if h.manager.Get("1") != nil {
		t.Error("manager entry should be gone after teardown")
	}
	if got := h.pool.releases(); got != 1 {
		t.Errorf("pool releases = %d, want 1", got)
	}
	// The Online and Offline publishes run on separate pool workers, so
	// only the multiset is deterministic.
	waitFor(t, func() bool {
		return containsStatus(h.stub.seen(), statuspb.Offline)
	})
}

func containsStatus(seen []statuspb.UserStatus, want statuspb.UserStatus) bool {
	for _, st := range seen {
		if st == want {
			return true
		}
	}
	return false
}

func TestSession_TeardownIdempotent(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.spawn(t, "1", "s1")

	sess.Close()
	sess.Close()
	sess.Close()

	waitFor(t, func() bool { return !h.reg.IsOnline("1") })
	if got := h.pool.releases(); got != 1 {
		t.Errorf("pool releases after repeated Close = %d, want 1", got)
	}
}

func TestSession_LoginAndHeartbeatFrames(t *testing.T) {
	h := newHarness(t)
	_, conn := h.spawn(t, "7", "s1")

	conn.inbound <- []byte(`{"type":"login"}`)
	waitFor(t, func() bool { return conn.hasFrame(`"login_response"`) })
	if !conn.hasFrame(`"userId":"7"`) {
		t.Errorf("login_response missing user id: %v", conn.frames())
	}

	conn.inbound <- []byte(`{"type":"heartbeat"}`)
	waitFor(t, func() bool { return conn.hasFrame(`"heartbeat_response"`) })
}

func TestSession_EchoOnGarbage(t *testing.T) {
	h := newHarness(t)
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`hello server`)
	waitFor(t, func() bool { return conn.hasFrame("Echo: hello server") })

	conn.inbound <- []byte(`{"type":"mystery"}`)
	waitFor(t, func() bool { return conn.hasFrame(`Echo: {\"type\":\"mystery\"}`) })
}

func TestSession_TextMessage_PersistAndDeliver(t *testing.T) {
	h := newHarness(t)
	_, conn1 := h.spawn(t, "1", "s1")
	_, conn2 := h.spawn(t, "2", "s2")

	conn1.inbound <- []byte(`{"type":"text_message","content":"hi","receiver_id":"2"}`)

	waitFor(t, func() bool { return len(h.store.stored()) == 1 })
	msg := h.store.stored()[0]
	if msg.sender != 1 || msg.receiver != 2 || msg.content != "hi" {
		t.Errorf("persisted = %+v", msg)
	}

	waitFor(t, func() bool { return conn2.hasFrame(`"text_message"`) })
	if !conn2.hasFrame(`"sender_id":"1"`) || !conn2.hasFrame(`"content":"hi"`) {
		t.Errorf("receiver frames = %v", conn2.frames())
	}
}

func TestSession_TextMessage_OfflineReceiverPersistsOnly(t *testing.T) {
	h := newHarness(t)
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`{"type":"text_message","content":"hi","receiver_id":"9"}`)
	waitFor(t, func() bool { return len(h.store.stored()) == 1 })
}

func TestSession_SearchUser(t *testing.T) {
	h := newHarness(t)
	h.store.users = []db.UserSummary{{ID: 2, Username: "bob"}}
	_, conn1 := h.spawn(t, "1", "s1")
	h.spawn(t, "2", "s2") // bob online

	conn1.inbound <- []byte(`{"type":"search_user","query":"bo"}`)
	waitFor(t, func() bool { return conn1.hasFrame(`"search_user_response"`) })
	if !conn1.hasFrame(`"userName":"bob"`) || !conn1.hasFrame(`"userStatus":"online"`) {
		t.Errorf("search frames = %v", conn1.frames())
	}
}

func TestSession_AddFriend(t *testing.T) {
	h := newHarness(t)
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`{"type":"add_friend_request","friend_id":2}`)
	waitFor(t, func() bool { return conn.hasFrame(`"add_friend_response"`) })
	if !conn.hasFrame(`"success":true`) {
		t.Errorf("add friend frames = %v", conn.frames())
	}
}

func TestSession_AddFriend_StubFailure(t *testing.T) {
	h := newHarness(t)
	h.stub.addFriendErr = errors.New("conflict")
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`{"type":"add_friend_request","friend_id":2}`)
	waitFor(t, func() bool { return conn.hasFrame(`"add_friend_response"`) })
	if !conn.hasFrame(`"success":false`) {
		t.Errorf("add friend frames = %v", conn.frames())
	}
}

func TestSession_FriendsList(t *testing.T) {
	h := newHarness(t)
	h.stub.friends = []statuspb.FriendInfo{{UserID: 2, Username: "bob"}}
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`{"type":"get_friends_list"}`)
	waitFor(t, func() bool { return conn.hasFrame(`"friends_list_response"`) })
	if !conn.hasFrame(`"userName":"bob"`) {
		t.Errorf("friends list frames = %v", conn.frames())
	}
}

func TestSession_ChatHistory(t *testing.T) {
	h := newHarness(t)
	h.store.history = []db.Message{
		{SenderID: 1, ReceiverID: 2, Content: "hi", TimeMillis: 1000},
	}
	_, conn := h.spawn(t, "1", "s1")

	conn.inbound <- []byte(`{"type":"get_chat_history","peer_id":"2"}`)
	waitFor(t, func() bool { return conn.hasFrame(`"chat_history_response"`) })
	if !conn.hasFrame(`"content":"hi"`) {
		t.Errorf("history frames = %v", conn.frames())
	}
}

func TestSession_HeartbeatTimeout(t *testing.T) {
	h := newHarness(t)
	h.deps.HeartbeatInterval = 30 * time.Millisecond

	conn := newFakeConn()
	sess := ws.NewSession(conn, "1", "s1", "token_1_1_ab", "10.0.0.1", h.deps)
	go sess.Run()
	t.Cleanup(sess.Close)

	// No inbound activity: the third missed heartbeat kills the session.
	waitFor(t, func() bool { return !h.reg.IsOnline("1") && h.manager.Get("1") == nil })
	if !conn.hasControl(ws.ReasonHeartbeatTimeout) {
		t.Error("close control frame should carry the heartbeat_timeout reason")
	}
	waitFor(t, func() bool {
		return containsStatus(h.stub.seen(), statuspb.Offline)
	})
}

func TestSession_HeartbeatKeepsAliveSessionOpen(t *testing.T) {
	h := newHarness(t)
	h.deps.HeartbeatInterval = 30 * time.Millisecond

	conn := newFakeConn()
	sess := ws.NewSession(conn, "1", "s1", "token_1_1_ab", "10.0.0.1", h.deps)
	go sess.Run()
	t.Cleanup(sess.Close)
	waitFor(t, func() bool { return h.manager.Get("1") != nil })

	// Keep sending heartbeats past several timeout windows.
	for i := 0; i < 10; i++ {
		conn.inbound <- []byte(`{"type":"heartbeat"}`)
		time.Sleep(20 * time.Millisecond)
	}
	if !h.reg.IsOnline("1") {
		t.Error("active session was torn down despite heartbeats")
	}
	// And the server generated its own keepalive frames meanwhile.
	if !conn.hasFrame(`"type":"heartbeat"`) {
		t.Error("server heartbeat frames missing")
	}
}

func TestSession_ReconnectNotEvictedByStaleTeardown(t *testing.T) {
	h := newHarness(t)
	old, _ := h.spawn(t, "1", "s-old")

	// Reconnect: a fresh session for the same user replaces the handle.
	fresh, _ := h.spawn(t, "1", "s-new")
	if h.manager.Get("1") != fresh {
		t.Fatal("reconnect did not replace the manager handle")
	}

	old.Close()
	time.Sleep(20 * time.Millisecond)
	if h.manager.Get("1") != fresh {
		t.Error("stale teardown evicted the reconnected session")
	}
}

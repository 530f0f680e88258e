package gate_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumichat/gateserver/config"
	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/gate"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/metrics"
	"github.com/lumichat/gateserver/registry"
	"github.com/lumichat/gateserver/token"
	"github.com/lumichat/gateserver/ws"
)

// memStore is an in-memory gate.Store: enough of the database driver to run
// the HTTP surface end to end.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]struct {
		id   int64
		hash string
	}
}

func newMemStore() *memStore {
	return &memStore{
		nextID: 1,
		users: make(map[string]struct {
			id   int64
			hash string
		}),
	}
}

func (s *memStore) CreateUser(_ context.Context, username, password, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return 0, db.ErrDuplicateUser
	}
	id := s.nextID
	s.nextID++
	s.users[username] = struct {
		id   int64
		hash string
	}{id, token.HashPassword(password)}
	return id, nil
}

func (s *memStore) GetUserByUsername(_ context.Context, username string) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return 0, "", db.ErrNotFound
	}
	return u.id, u.hash, nil
}

func (s *memStore) IsConnected(context.Context) bool { return true }

func (s *memStore) StoreMessage(context.Context, int64, int64, string) error { return nil }

func (s *memStore) SearchUsers(context.Context, string, int) ([]db.UserSummary, error) {
	return nil, nil
}

func (s *memStore) ChatHistory(context.Context, int64, int64, int) ([]db.Message, error) {
	return nil, nil
}

type testGate struct {
	server *gate.Server
	ts     *httptest.Server
	reg    *registry.ConnectionRegistry
	store  *memStore
}

func newTestGate(t *testing.T) *testGate {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimitMax = 1000 // most tests are not about the limiter
	cfg.HeartbeatIntervalSec = 3600

	reg := registry.New()
	store := newMemStore()
	srv := gate.NewServer(cfg, logger.New(logger.LevelError), store, reg,
		ws.NewManager(), metrics.New(), nil, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testGate{server: srv, ts: ts, reg: reg, store: store}
}

func (g *testGate) postJSON(t *testing.T, path string, body interface{}) (*http.Response, map[string]string) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(g.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp, decoded
}

func TestRoot(t *testing.T) {
	g := newTestGate(t)
	resp, err := http.Get(g.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Server"); got != "GateServer" {
		t.Errorf("Server header = %q, want GateServer", got)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] == "" || body["version"] != gate.Version {
		t.Errorf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	g := newTestGate(t)
	resp, err := http.Get(g.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["database_connected"] != true {
		t.Errorf("database_connected = %v, want true", body["database_connected"])
	}
	for _, field := range []string{"online_users", "timestamp", "slow_peers", "dropped_frames"} {
		if _, ok := body[field]; !ok {
			t.Errorf("health body missing %q", field)
		}
	}
}

func TestRegisterLoginUpgrade_HappyPath(t *testing.T) {
	g := newTestGate(t)

	// Register.
	resp, body := g.postJSON(t, "/register", map[string]string{
		"username": "alice", "password": "p", "email": "a@x",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want 200", resp.StatusCode)
	}
	if body["type"] != "register_success" || body["userId"] != "1" {
		t.Fatalf("register body = %v", body)
	}

	// Login.
	resp, body = g.postJSON(t, "/login", map[string]string{
		"username": "alice", "password": "p",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	if body["type"] != "login_success" || body["userId"] != "1" {
		t.Fatalf("login body = %v", body)
	}
	if uid, ok := token.Verify(body["token"]); !ok || uid != "1" {
		t.Fatalf("issued token %q does not verify to user 1", body["token"])
	}

	// Upgrade with the issued token.
	wsURL := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/?token=" + url.QueryEscape(body["token"])
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !g.reg.IsOnline("1") {
		if time.Now().After(deadline) {
			t.Fatal("user never registered as online")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The socket dispatches frames: a login frame gets a login_response.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"login"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !strings.Contains(string(frame), `"login_response"`) {
		t.Errorf("frame = %s, want login_response", frame)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	g := newTestGate(t)
	resp, body := g.postJSON(t, "/register", map[string]string{"username": "bob"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body["type"] != "register_failed" {
		t.Errorf("body = %v", body)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	g := newTestGate(t)
	g.postJSON(t, "/register", map[string]string{"username": "bob", "password": "p"})
	resp, body := g.postJSON(t, "/register", map[string]string{"username": "bob", "password": "q"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if body["message"] != "Username already exists" {
		t.Errorf("body = %v", body)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	g := newTestGate(t)
	g.postJSON(t, "/register", map[string]string{"username": "bob", "password": "p"})

	resp, body := g.postJSON(t, "/login", map[string]string{"username": "bob", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["type"] != "login_failed" {
		t.Errorf("body = %v", body)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	g := newTestGate(t)
	resp, _ := g.postJSON(t, "/login", map[string]string{"username": "ghost", "password": "p"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogin_FormEncoded(t *testing.T) {
	g := newTestGate(t)
	g.postJSON(t, "/register", map[string]string{"username": "carol", "password": "p"})

	resp, err := http.PostForm(g.ts.URL+"/login", url.Values{
		"username": {"carol"}, "password": {"p"},
	})
	if err != nil {
		t.Fatalf("POST form: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUpgrade_InvalidToken(t *testing.T) {
	g := newTestGate(t)

	wsURL := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("upgrade with a garbage token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Unauthorized: Invalid token" {
		t.Errorf("body = %v", body)
	}
	if g.reg.OnlineCount() != 0 {
		t.Error("no registry entry should exist after a rejected upgrade")
	}
}

func TestUpgrade_BearerHeader(t *testing.T) {
	g := newTestGate(t)
	tok := token.Generate("5")

	wsURL := "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/"
	header := http.Header{"Authorization": {"Bearer " + tok}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("upgrade with bearer token: %v", err)
	}
	conn.Close()
}

func TestRateLimit_Returns429(t *testing.T) {
	cfg := config.Default() // 10 per 60s
	reg := registry.New()
	srv := gate.NewServer(cfg, logger.New(logger.LevelError), newMemStore(), reg,
		ws.NewManager(), metrics.New(), nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/")
		if err != nil {
			t.Fatalf("GET %d: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("11th GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("11th request status = %d, want 429", resp.StatusCode)
	}
}

func TestUnknownEndpoint(t *testing.T) {
	g := newTestGate(t)
	resp, err := http.Get(g.ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

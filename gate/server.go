// Package gate implements the gateway's HTTP surface: credential exchange
// (/login, /register), liveness (/health, GET /), the fixed-window rate
// limiter, and the WebSocket upgrade that hands authenticated connections to
// the ws session actor.
package gate

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumichat/gateserver/config"
	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/metrics"
	"github.com/lumichat/gateserver/registry"
	"github.com/lumichat/gateserver/token"
	"github.com/lumichat/gateserver/worker"
	"github.com/lumichat/gateserver/ws"
)

// Version is reported by GET /.
const Version = "1.0.0"

// Store is the slice of the database driver the HTTP surface uses, plus the
// session-facing message operations.  Satisfied by *db.Manager.
type Store interface {
	ws.MessageStore
	CreateUser(ctx context.Context, username, password, email string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (int64, string, error)
	IsConnected(ctx context.Context) bool
}

// Server is the gateway's HTTP handler.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	db       Store
	registry *registry.ConnectionRegistry
	manager  *ws.Manager
	metrics  *metrics.Metrics
	pool     ws.StubPool
	workers  *worker.Pool
	limiter  *RateLimiter
	upgrader websocket.Upgrader
}

// NewServer wires the HTTP surface over the process-wide services.
func NewServer(cfg *config.Config, log *logger.Logger, database Store,
	reg *registry.ConnectionRegistry, manager *ws.Manager, m *metrics.Metrics,
	pool ws.StubPool, workers *worker.Pool) *Server {

	return &Server{
		cfg:      cfg,
		log:      log,
		db:       database,
		registry: reg,
		manager:  manager,
		metrics:  m,
		pool:     pool,
		workers:  workers,
		limiter: NewRateLimiter(
			time.Duration(cfg.RateLimitWindowSec)*time.Second, cfg.RateLimitMax),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Native and test clients send no Origin header worth checking.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Limiter exposes the rate limiter so the periodic sweep can prune it.
func (s *Server) Limiter() *RateLimiter { return s.limiter }

// ServeHTTP dispatches one request: rate limit, then upgrade or endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientAddr(r)) {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.handleUpgrade(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		s.writeJSON(w, http.StatusOK, map[string]string{
			"message": "GateServer is running",
			"version": Version,
		})
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		s.handleHealth(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/login":
		s.handleLogin(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/register":
		s.handleRegister(w, r)
	default:
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, dropped, slowPeers := s.metrics.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"database_connected": s.db.IsConnected(r.Context()),
		"online_users":       s.registry.OnlineCount(),
		"timestamp":          time.Now().UnixMilli(),
		"slow_peers":         slowPeers,
		"dropped_frames":     dropped,
	})
}

// credentials is the /login and /register request body, accepted as JSON or
// form-urlencoded.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := parseCredentials(r)
	if err != nil || creds.Username == "" || creds.Password == "" {
		s.loginFailed(w)
		return
	}

	userID, storedHash, err := s.db.GetUserByUsername(r.Context(), creds.Username)
	if err != nil || token.HashPassword(creds.Password) != storedHash {
		if err != nil && err != db.ErrNotFound {
			s.log.Errorf("gate: login %q: %v", creds.Username, err)
		}
		s.loginFailed(w)
		return
	}

	tok := token.Generate(strconv.FormatInt(userID, 10))
	s.log.Infof("gate: user %d logged in", userID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"type":   "login_success",
		"token":  tok,
		"userId": strconv.FormatInt(userID, 10),
	})
}

func (s *Server) loginFailed(w http.ResponseWriter) {
	s.metrics.IncrAuthFailures()
	s.writeJSON(w, http.StatusUnauthorized, map[string]string{
		"type":    "login_failed",
		"message": "Invalid username or password",
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := parseCredentials(r)
	if err != nil || creds.Username == "" || creds.Password == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"type":    "register_failed",
			"message": "Username and password are required",
		})
		return
	}

	userID, err := s.db.CreateUser(r.Context(), creds.Username, creds.Password, creds.Email)
	if err == db.ErrDuplicateUser {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"type":    "register_failed",
			"message": "Username already exists",
		})
		return
	}
	if err != nil {
		s.log.Errorf("gate: register %q: %v", creds.Username, err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"type":    "register_failed",
			"message": "Failed to register user",
		})
		return
	}

	s.log.Infof("gate: user %q registered with id %d", creds.Username, userID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"type":    "register_success",
		"message": "User registered successfully",
		"userId":  strconv.FormatInt(userID, 10),
	})
}

// handleUpgrade validates the token, mints a session id and hands the socket
// to a ws.Session.  The token is checked before the protocol switch so a
// rejection is still a plain HTTP 401.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	tok := upgradeToken(r)
	userID, ok := token.Verify(tok)
	if !ok {
		s.metrics.IncrAuthFailures()
		s.log.Warnf("gate: rejected upgrade from %s: invalid token", clientAddr(r))
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized: Invalid token"})
		return
	}

	sessionID := token.NewSessionID(func(err error) {
		s.log.Errorf("gate: session id entropy failure: %v", err)
	})

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"Server": {"GateServer"}})
	if err != nil {
		// Upgrade has already written its own error response.
		s.log.Warnf("gate: upgrade from %s: %v", clientAddr(r), err)
		return
	}

	sess := ws.NewSession(conn, userID, sessionID, tok, clientAddr(r), ws.Deps{
		Manager:           s.manager,
		Registry:          s.registry,
		Store:             s.db,
		Pool:              s.pool,
		Workers:           s.workers,
		Metrics:           s.metrics,
		Log:               s.log,
		HeartbeatInterval: s.cfg.HeartbeatInterval(),
		SendQueueLimit:    s.cfg.SendQueueLimit,
		SearchLimit:       s.cfg.SearchLimit,
		HistoryLimit:      s.cfg.HistoryLimit,
	})
	sess.Run()
}

// upgradeToken pulls the token from the query string, the Authorization
// bearer, or the bare Token header, in that order.
func upgradeToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("Token")
}

// parseCredentials accepts a JSON object or a form-urlencoded body.
func parseCredentials(r *http.Request) (credentials, error) {
	var creds credentials
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return creds, err
		}
		return creds, nil
	}
	if err := r.ParseForm(); err != nil {
		return creds, err
	}
	creds.Username = r.PostFormValue("username")
	creds.Password = r.PostFormValue("password")
	creds.Email = r.PostFormValue("email")
	return creds, nil
}

// clientAddr strips the port from the request's remote address so the rate
// limiter and the registry key by host.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Server", "GateServer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("gate: write response: %v", err)
	}
}

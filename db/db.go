// Package db provides serialized access to the replicated MySQL store used
// for authentication, registration, message persistence, user search, the
// presence rows, and the friend graph.
//
// Concurrency model:
//   - A single mutex serializes every operation: the driver contract is
//     non-reentrant and the gateway's DB traffic is light enough that
//     serialisation is simpler than auditing statement-level concurrency.
//   - Public methods take the mutex; *Locked helpers assume it is held.
//     The split exists to keep internal call chains (CreateUser →
//     userExistsLocked) from re-acquiring the lock.
//
// Connection management is lazy and balancer-driven: Connect asks the
// shared LoadBalancer for a healthy "mysql" instance, and a replica that
// fails to connect is marked unhealthy before the next pick, so the driver
// walks the replica set until one answers or the set is exhausted.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver

	"github.com/lumichat/gateserver/balancer"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/token"
)

// ServiceName is the load-balancer service name of the MySQL replicas.
const ServiceName = "mysql"

var (
	// ErrDuplicateUser is returned by CreateUser when the username is taken.
	ErrDuplicateUser = errors.New("db: username already exists")

	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("db: not found")
)

// Credentials carries the login shared by every replica.
type Credentials struct {
	User     string
	Password string
	Name     string
}

// UserSummary is one row of a user search result.
type UserSummary struct {
	ID       int64
	Username string
}

// FriendInfo is one row of a friends-list result.
type FriendInfo struct {
	ID       int32
	Username string
}

// Message is one persisted chat message.
type Message struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	TimeMillis int64
}

// Manager owns the single MySQL connection handle.
type Manager struct {
	mu        sync.Mutex
	conn      *sql.DB
	connected bool
	current   balancer.Instance

	lb      *balancer.LoadBalancer
	creds   Credentials
	timeout time.Duration
	log     *logger.Logger
}

// NewManager creates a disconnected Manager.  Connect (or any operation,
// which connects lazily) must succeed before the store is usable.
func NewManager(lb *balancer.LoadBalancer, creds Credentials, timeout time.Duration, log *logger.Logger) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{lb: lb, creds: creds, timeout: timeout, log: log}
}

// Connect establishes the connection if one is not already up.  Idempotent.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// Disconnect closes the connection.  Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected = false
}

// IsConnected reports whether the store is reachable right now.
func (m *Manager) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnectedLocked(ctx)
}

func (m *Manager) isConnectedLocked(ctx context.Context) bool {
	if !m.connected || m.conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.conn.PingContext(ctx) == nil
}

// connectLocked walks balancer picks until a replica answers.  Each failed
// replica is marked unhealthy so neither this driver nor the status client
// pool selects it again before the health checker clears it.
func (m *Manager) connectLocked(ctx context.Context) error {
	if m.connected && m.conn != nil {
		return nil
	}

	attempts := len(m.lb.Instances(ServiceName))
	if attempts == 0 {
		return fmt.Errorf("db: connect: %w", balancer.ErrNoHealthyInstance)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		inst, err := m.lb.Pick(ServiceName, balancer.RoundRobin)
		if err != nil {
			if lastErr != nil {
				return fmt.Errorf("db: connect: %w (last attempt: %v)", err, lastErr)
			}
			return fmt.Errorf("db: connect: %w", err)
		}

		conn, err := m.open(ctx, inst)
		if err != nil {
			m.log.Warnf("db: replica %s:%d unreachable: %v", inst.Host, inst.Port, err)
			m.lb.UpdateHealth(ServiceName, inst.Host, inst.Port, false)
			lastErr = err
			continue
		}

		m.conn = conn
		m.connected = true
		m.current = inst
		m.log.Infof("db: connected to %s:%d/%s", inst.Host, inst.Port, m.creds.Name)
		return nil
	}
	return fmt.Errorf("db: connect: all replicas failed: %w", lastErr)
}

func (m *Manager) open(ctx context.Context, inst balancer.Instance) (*sql.DB, error) {
	secs := int(m.timeout.Seconds())
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%ds&readTimeout=%ds&writeTimeout=%ds&parseTime=true",
		m.creds.User, m.creds.Password, inst.Host, inst.Port, m.creds.Name, secs, secs, secs)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// ensureLocked reconnects if the handle went away.  Assumes the mutex held.
func (m *Manager) ensureLocked(ctx context.Context) error {
	if m.isConnectedLocked(ctx) {
		return nil
	}
	m.connected = false
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return m.connectLocked(ctx)
}

// ─── Users ──────────────────────────────────────────────────────────────────

// CreateUser hashes the password, inserts the user row, and returns the new
// user id.  Returns ErrDuplicateUser if the username is taken.
func (m *Manager) CreateUser(ctx context.Context, username, password, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return 0, err
	}

	exists, err := m.userExistsLocked(ctx, username)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrDuplicateUser
	}

	res, err := m.conn.ExecContext(ctx,
		"INSERT INTO users (username, password, email) VALUES (?, ?, ?)",
		username, token.HashPassword(password), email)
	if err != nil {
		return 0, fmt.Errorf("db: create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: create user %q: last insert id: %w", username, err)
	}
	return id, nil
}

// GetUserByUsername returns the id and stored password hash for username.
// Returns ErrNotFound for an unknown user.  The username is bound as a
// statement parameter, never concatenated into the SQL text.
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return 0, "", err
	}

	var id int64
	var hash string
	err := m.conn.QueryRowContext(ctx,
		"SELECT id, password FROM users WHERE username = ? LIMIT 1", username).
		Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("db: get user %q: %w", username, err)
	}
	return id, hash, nil
}

// UserExists reports whether username is taken.
func (m *Manager) UserExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return false, err
	}
	return m.userExistsLocked(ctx, username)
}

func (m *Manager) userExistsLocked(ctx context.Context, username string) (bool, error) {
	var one int
	err := m.conn.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE username = ? LIMIT 1", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db: user exists %q: %w", username, err)
	}
	return true, nil
}

// SearchUsers returns up to limit users whose username contains query.
func (m *Manager) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.QueryContext(ctx,
		"SELECT id, username FROM users WHERE username LIKE CONCAT('%', ?, '%') ORDER BY id LIMIT ?",
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: search users %q: %w", query, err)
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, fmt.Errorf("db: search users %q: scan: %w", query, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: search users %q: %w", query, err)
	}
	return out, nil
}

// ─── Messages ───────────────────────────────────────────────────────────────

// StoreMessage persists one directed chat message.
func (m *Manager) StoreMessage(ctx context.Context, senderID, receiverID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return err
	}

	_, err := m.conn.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, content, ts) VALUES (?, ?, ?, NOW())",
		senderID, receiverID, content)
	if err != nil {
		return fmt.Errorf("db: store message %d->%d: %w", senderID, receiverID, err)
	}
	return nil
}

// ChatHistory returns up to limit messages between userID and peerID,
// newest first.
func (m *Manager) ChatHistory(ctx context.Context, userID, peerID int64, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.QueryContext(ctx,
		`SELECT sender_id, receiver_id, content, UNIX_TIMESTAMP(ts) * 1000
		   FROM messages
		  WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		  ORDER BY ts DESC LIMIT ?`,
		userID, peerID, peerID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db: chat history %d/%d: %w", userID, peerID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.TimeMillis); err != nil {
			return nil, fmt.Errorf("db: chat history %d/%d: scan: %w", userID, peerID, err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: chat history %d/%d: %w", userID, peerID, err)
	}
	return out, nil
}

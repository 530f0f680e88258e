package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Presence rows and the friend graph.  These are used by the status service
// (colocated with the driver in this binary layout); the gateway reaches
// them only through the status channel.

// UpsertUserStatus writes the authoritative presence row for userID.  The
// write is idempotent: a second upsert for the same user replaces status,
// last_seen and session_token in place.
func (m *Manager) UpsertUserStatus(ctx context.Context, userID, status int32, sessionToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return err
	}

	_, err := m.conn.ExecContext(ctx,
		`INSERT INTO user_status (user_id, status, last_seen, session_token)
		 VALUES (?, ?, NOW(), ?)
		 ON DUPLICATE KEY UPDATE
		   status = VALUES(status),
		   last_seen = VALUES(last_seen),
		   session_token = VALUES(session_token)`,
		userID, status, sessionToken)
	if err != nil {
		return fmt.Errorf("db: upsert status user %d: %w", userID, err)
	}
	return nil
}

// GetUserStatus returns the presence row for userID: the status value and
// last-seen as unix millis.  Returns ErrNotFound for a user with no row.
func (m *Manager) GetUserStatus(ctx context.Context, userID int32) (status int32, lastSeenMillis int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return 0, 0, err
	}

	err = m.conn.QueryRowContext(ctx,
		"SELECT status, UNIX_TIMESTAMP(last_seen) * 1000 FROM user_status WHERE user_id = ?",
		userID).Scan(&status, &lastSeenMillis)
	if err == sql.ErrNoRows {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("db: get status user %d: %w", userID, err)
	}
	return status, lastSeenMillis, nil
}

// FriendExists reports whether the directed edge (userID, friendID) is
// present.
func (m *Manager) FriendExists(ctx context.Context, userID, friendID int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return false, err
	}

	var one int
	err := m.conn.QueryRowContext(ctx,
		"SELECT 1 FROM user_friends WHERE user_id = ? AND friend_id = ? LIMIT 1",
		userID, friendID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db: friend exists %d/%d: %w", userID, friendID, err)
	}
	return true, nil
}

// AddFriend inserts the directed edge (userID, friendID).  The status
// service inserts both directions; a friendship is always stored as two
// edges.
func (m *Manager) AddFriend(ctx context.Context, userID, friendID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return err
	}

	_, err := m.conn.ExecContext(ctx,
		"INSERT INTO user_friends (user_id, friend_id) VALUES (?, ?)",
		userID, friendID)
	if err != nil {
		return fmt.Errorf("db: add friend %d->%d: %w", userID, friendID, err)
	}
	return nil
}

// Friends returns the friend ids of userID.
func (m *Manager) Friends(ctx context.Context, userID int32) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.QueryContext(ctx,
		"SELECT friend_id FROM user_friends WHERE user_id = ? ORDER BY friend_id", userID)
	if err != nil {
		return nil, fmt.Errorf("db: friends of %d: %w", userID, err)
	}
	defer rows.Close()

	var out []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db: friends of %d: scan: %w", userID, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: friends of %d: %w", userID, err)
	}
	return out, nil
}

// FriendsWithNames returns the friend ids of userID joined with usernames,
// for the friends-list RPC.
func (m *Manager) FriendsWithNames(ctx context.Context, userID int32) ([]FriendInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.QueryContext(ctx,
		`SELECT uf.friend_id, u.username
		   FROM user_friends uf
		   JOIN users u ON u.id = uf.friend_id
		  WHERE uf.user_id = ?
		  ORDER BY uf.friend_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("db: friend list of %d: %w", userID, err)
	}
	defer rows.Close()

	var out []FriendInfo
	for rows.Next() {
		var fi FriendInfo
		if err := rows.Scan(&fi.ID, &fi.Username); err != nil {
			return nil, fmt.Errorf("db: friend list of %d: scan: %w", userID, err)
		}
		out = append(out, fi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: friend list of %d: %w", userID, err)
	}
	return out, nil
}

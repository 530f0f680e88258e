package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// statusKey returns the hash key mirroring one user's presence.
func statusKey(userID int32) string { return fmt.Sprintf("user:status:%d", userID) }

// friendsKey returns the sorted-set key mirroring one user's friend list.
func friendsKey(userID int32) string { return fmt.Sprintf("user:friends:%d", userID) }

// SetUserStatus writes the cache side of a presence write-through: the
// status, the session token that performed the update, and the update
// instant (unix millis).
func (m *Manager) SetUserStatus(ctx context.Context, userID int32, status int32, sessionToken string) error {
	return m.HSet(ctx, statusKey(userID), map[string]string{
		"status":        strconv.FormatInt(int64(status), 10),
		"session_token": sessionToken,
		"last_updated":  strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
}

// GetUserStatus returns the cached status for userID.  ok is false on a
// cache miss; the caller falls through to the status service and populates
// the cache from the authoritative answer.
func (m *Manager) GetUserStatus(ctx context.Context, userID int32) (status int32, lastUpdated int64, ok bool, err error) {
	fields, err := m.HGetAll(ctx, statusKey(userID))
	if err != nil {
		return 0, 0, false, err
	}
	raw, present := fields["status"]
	if !present {
		return 0, 0, false, nil
	}
	s, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, 0, false, fmt.Errorf("cache: corrupt status for user %d: %w", userID, err)
	}
	var millis int64
	if lu, present := fields["last_updated"]; present {
		millis, _ = strconv.ParseInt(lu, 10, 64)
	}
	return int32(s), millis, true, nil
}

// CacheFriends replaces the cached friend list for userID, keyed by
// ordinal position so ZRange returns the list in insertion order.
func (m *Manager) CacheFriends(ctx context.Context, userID int32, friendIDs []int32) error {
	key := friendsKey(userID)
	if err := m.Del(ctx, key); err != nil {
		return err
	}
	for i, id := range friendIDs {
		if err := m.ZAdd(ctx, key, float64(i), strconv.FormatInt(int64(id), 10)); err != nil {
			return err
		}
	}
	return nil
}

// CachedFriends returns the cached friend list for userID.  ok is false
// when the list has not been cached.
func (m *Manager) CachedFriends(ctx context.Context, userID int32) (friendIDs []int32, ok bool, err error) {
	members, err := m.ZRange(ctx, friendsKey(userID), 0, -1)
	if err != nil {
		return nil, false, err
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	out := make([]int32, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 32)
		if err != nil {
			return nil, false, fmt.Errorf("cache: corrupt friend id %q for user %d: %w", member, userID, err)
		}
		out = append(out, int32(id))
	}
	return out, true, nil
}

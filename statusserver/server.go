// Package statusserver implements the StatusService: the authoritative
// store of user presence, last-seen instants, and the friendship graph.
// The database rows are authoritative; every write goes through to the
// cache, and reads prefer the cache with a database fallback that
// repopulates it.
package statusserver

import (
	"context"
	"errors"
	"strconv"

	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/status/statuspb"
	"github.com/lumichat/gateserver/token"
)

// Store is the slice of the database driver the service uses.  Satisfied by
// *db.Manager.
type Store interface {
	UpsertUserStatus(ctx context.Context, userID, status int32, sessionToken string) error
	GetUserStatus(ctx context.Context, userID int32) (status int32, lastSeenMillis int64, err error)
	FriendExists(ctx context.Context, userID, friendID int32) (bool, error)
	AddFriend(ctx context.Context, userID, friendID int32) error
	Friends(ctx context.Context, userID int32) ([]int32, error)
	FriendsWithNames(ctx context.Context, userID int32) ([]db.FriendInfo, error)
}

// Cache is the slice of the cache manager the service uses.  Satisfied by
// *cache.Manager.
type Cache interface {
	SetUserStatus(ctx context.Context, userID, status int32, sessionToken string) error
	GetUserStatus(ctx context.Context, userID int32) (status int32, lastUpdated int64, ok bool, err error)
	CacheFriends(ctx context.Context, userID int32, friendIDs []int32) error
	CachedFriends(ctx context.Context, userID int32) (friendIDs []int32, ok bool, err error)
}

// Service implements statuspb.StatusServiceServer.
type Service struct {
	db    Store
	cache Cache
	log   *logger.Logger
}

// New creates a Service over the given stores.
func New(database Store, c Cache, log *logger.Logger) *Service {
	return &Service{db: database, cache: c, log: log}
}

// validSessionToken checks the structural shape of tok and that the user id
// embedded in it matches userID.  A presence write carrying someone else's
// token is rejected.
func validSessionToken(userID int32, tok string) bool {
	id, ok := token.Verify(tok)
	if !ok {
		return false
	}
	return id == strconv.FormatInt(int64(userID), 10)
}

// UpdateUserStatus records a new presence state after validating the
// session token, then writes through to the cache.  A cache failure is
// logged but does not fail the update: the database row is the truth.
func (s *Service) UpdateUserStatus(ctx context.Context, in *statuspb.UserStatusRequest) (*statuspb.UserStatusResponse, error) {
	if !validSessionToken(in.UserID, in.SessionToken) {
		return &statuspb.UserStatusResponse{Success: false, Message: "Invalid session token"}, nil
	}

	if err := s.db.UpsertUserStatus(ctx, in.UserID, int32(in.Status), in.SessionToken); err != nil {
		s.log.Errorf("statusserver: upsert status user %d: %v", in.UserID, err)
		return &statuspb.UserStatusResponse{Success: false, Message: "Failed to update user status"}, nil
	}

	if err := s.cache.SetUserStatus(ctx, in.UserID, int32(in.Status), in.SessionToken); err != nil {
		s.log.Warnf("statusserver: cache write-through user %d: %v", in.UserID, err)
	}

	s.log.Infof("statusserver: user %d -> %s", in.UserID, in.Status)
	return &statuspb.UserStatusResponse{Success: true, Message: "User status updated successfully"}, nil
}

// GetUserStatus returns one user's presence, cache-first.
func (s *Service) GetUserStatus(ctx context.Context, in *statuspb.GetUserStatusRequest) (*statuspb.GetUserStatusResponse, error) {
	if st, lastSeen, ok, err := s.cache.GetUserStatus(ctx, in.UserID); err == nil && ok {
		return &statuspb.GetUserStatusResponse{
			Success:  true,
			Status:   statuspb.UserStatus(st),
			LastSeen: lastSeen,
			Message:  "User status retrieved successfully",
		}, nil
	} else if err != nil {
		s.log.Warnf("statusserver: cache read user %d: %v", in.UserID, err)
	}

	st, lastSeen, err := s.db.GetUserStatus(ctx, in.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return &statuspb.GetUserStatusResponse{Success: false, Message: "User not found"}, nil
	}
	if err != nil {
		s.log.Errorf("statusserver: get status user %d: %v", in.UserID, err)
		return &statuspb.GetUserStatusResponse{Success: false, Message: "Failed to retrieve user status"}, nil
	}

	// Populate the cache from the authoritative row.
	if err := s.cache.SetUserStatus(ctx, in.UserID, st, ""); err != nil {
		s.log.Warnf("statusserver: cache populate user %d: %v", in.UserID, err)
	}

	return &statuspb.GetUserStatusResponse{
		Success:  true,
		Status:   statuspb.UserStatus(st),
		LastSeen: lastSeen,
		Message:  "User status retrieved successfully",
	}, nil
}

// GetFriendsStatus returns the presence of every friend of a user.
func (s *Service) GetFriendsStatus(ctx context.Context, in *statuspb.GetFriendsStatusRequest) (*statuspb.GetFriendsStatusResponse, error) {
	friends, err := s.db.FriendsWithNames(ctx, in.UserID)
	if err != nil {
		s.log.Errorf("statusserver: friends of %d: %v", in.UserID, err)
		return &statuspb.GetFriendsStatusResponse{Success: false, Message: "Failed to retrieve friends"}, nil
	}

	out := make([]statuspb.FriendStatus, 0, len(friends))
	for _, fi := range friends {
		entry := statuspb.FriendStatus{UserID: fi.ID, Username: fi.Username}
		if st, lastSeen, ok, err := s.cache.GetUserStatus(ctx, fi.ID); err == nil && ok {
			entry.Status = statuspb.UserStatus(st)
			entry.LastSeen = lastSeen
		} else if st, lastSeen, err := s.db.GetUserStatus(ctx, fi.ID); err == nil {
			entry.Status = statuspb.UserStatus(st)
			entry.LastSeen = lastSeen
		}
		// A friend with no presence row reads as OFFLINE with zero last-seen.
		out = append(out, entry)
	}

	return &statuspb.GetFriendsStatusResponse{
		Success: true,
		Friends: out,
		Message: "Friends status retrieved successfully",
	}, nil
}

// AddFriend creates a friendship.  Both directed edges are stored; the
// cached friend lists of both parties are refreshed afterwards.
func (s *Service) AddFriend(ctx context.Context, in *statuspb.AddFriendRequest) (*statuspb.AddFriendResponse, error) {
	exists, err := s.db.FriendExists(ctx, in.UserID, in.FriendID)
	if err != nil {
		s.log.Errorf("statusserver: friend exists %d/%d: %v", in.UserID, in.FriendID, err)
		return &statuspb.AddFriendResponse{Success: false, Message: "Failed to add friend"}, nil
	}
	if exists {
		return &statuspb.AddFriendResponse{Success: false, Message: "Friend relationship already exists"}, nil
	}

	if err := s.db.AddFriend(ctx, in.UserID, in.FriendID); err != nil {
		s.log.Errorf("statusserver: add friend %d->%d: %v", in.UserID, in.FriendID, err)
		return &statuspb.AddFriendResponse{Success: false, Message: "Failed to add friend"}, nil
	}
	if err := s.db.AddFriend(ctx, in.FriendID, in.UserID); err != nil {
		s.log.Errorf("statusserver: add friend %d->%d: %v", in.FriendID, in.UserID, err)
		return &statuspb.AddFriendResponse{Success: false, Message: "Failed to add friend"}, nil
	}

	s.refreshCachedFriends(ctx, in.UserID)
	s.refreshCachedFriends(ctx, in.FriendID)

	return &statuspb.AddFriendResponse{Success: true, Message: "Friend added successfully"}, nil
}

// GetFriendsList returns a user's friend identities, cache-first for the
// id list with a database fallback that repopulates the cache.  Usernames
// always come from the database join.
func (s *Service) GetFriendsList(ctx context.Context, in *statuspb.GetFriendsListRequest) (*statuspb.GetFriendsListResponse, error) {
	friends, err := s.db.FriendsWithNames(ctx, in.UserID)
	if err != nil {
		s.log.Errorf("statusserver: friend list of %d: %v", in.UserID, err)
		return &statuspb.GetFriendsListResponse{Success: false, Message: "Failed to retrieve friends list"}, nil
	}

	if _, ok, err := s.cache.CachedFriends(ctx, in.UserID); err == nil && !ok {
		s.refreshCachedFriends(ctx, in.UserID)
	}

	out := make([]statuspb.FriendInfo, 0, len(friends))
	for _, fi := range friends {
		out = append(out, statuspb.FriendInfo{UserID: fi.ID, Username: fi.Username})
	}
	return &statuspb.GetFriendsListResponse{
		Success: true,
		Friends: out,
		Message: "Friends list retrieved successfully",
	}, nil
}

func (s *Service) refreshCachedFriends(ctx context.Context, userID int32) {
	ids, err := s.db.Friends(ctx, userID)
	if err != nil {
		s.log.Warnf("statusserver: refresh cached friends of %d: %v", userID, err)
		return
	}
	if err := s.cache.CacheFriends(ctx, userID, ids); err != nil {
		s.log.Warnf("statusserver: cache friends of %d: %v", userID, err)
	}
}

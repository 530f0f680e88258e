package statusserver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lumichat/gateserver/db"
	"github.com/lumichat/gateserver/logger"
	"github.com/lumichat/gateserver/status/statuspb"
	"github.com/lumichat/gateserver/statusserver"
	"github.com/lumichat/gateserver/token"
)

type statusRow struct {
	status   int32
	lastSeen int64
}

// fakeStore is an in-memory statusserver.Store.
type fakeStore struct {
	statuses map[int32]statusRow
	edges    map[[2]int32]bool
	names    map[int32]string
	failAll  bool

	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[int32]statusRow),
		edges:    make(map[[2]int32]bool),
		names:    make(map[int32]string),
	}
}

func (f *fakeStore) UpsertUserStatus(_ context.Context, userID, status int32, _ string) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.upserts++
	f.statuses[userID] = statusRow{status: status, lastSeen: 1000}
	return nil
}

func (f *fakeStore) GetUserStatus(_ context.Context, userID int32) (int32, int64, error) {
	if f.failAll {
		return 0, 0, errors.New("db down")
	}
	row, ok := f.statuses[userID]
	if !ok {
		return 0, 0, db.ErrNotFound
	}
	return row.status, row.lastSeen, nil
}

func (f *fakeStore) FriendExists(_ context.Context, userID, friendID int32) (bool, error) {
	if f.failAll {
		return false, errors.New("db down")
	}
	return f.edges[[2]int32{userID, friendID}], nil
}

func (f *fakeStore) AddFriend(_ context.Context, userID, friendID int32) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.edges[[2]int32{userID, friendID}] = true
	return nil
}

func (f *fakeStore) Friends(_ context.Context, userID int32) ([]int32, error) {
	var out []int32
	for edge := range f.edges {
		if edge[0] == userID {
			out = append(out, edge[1])
		}
	}
	return out, nil
}

func (f *fakeStore) FriendsWithNames(_ context.Context, userID int32) ([]db.FriendInfo, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	ids, _ := f.Friends(context.Background(), userID)
	out := make([]db.FriendInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, db.FriendInfo{ID: id, Username: f.names[id]})
	}
	return out, nil
}

// fakeCache is an in-memory statusserver.Cache.
type fakeCache struct {
	statuses map[int32]statusRow
	friends  map[int32][]int32

	statusWrites int
	friendWrites int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		statuses: make(map[int32]statusRow),
		friends:  make(map[int32][]int32),
	}
}

func (f *fakeCache) SetUserStatus(_ context.Context, userID, status int32, _ string) error {
	f.statusWrites++
	f.statuses[userID] = statusRow{status: status, lastSeen: 2000}
	return nil
}

func (f *fakeCache) GetUserStatus(_ context.Context, userID int32) (int32, int64, bool, error) {
	row, ok := f.statuses[userID]
	if !ok {
		return 0, 0, false, nil
	}
	return row.status, row.lastSeen, true, nil
}

func (f *fakeCache) CacheFriends(_ context.Context, userID int32, ids []int32) error {
	f.friendWrites++
	f.friends[userID] = ids
	return nil
}

func (f *fakeCache) CachedFriends(_ context.Context, userID int32) ([]int32, bool, error) {
	ids, ok := f.friends[userID]
	return ids, ok, nil
}

func newService() (*statusserver.Service, *fakeStore, *fakeCache) {
	store := newFakeStore()
	c := newFakeCache()
	return statusserver.New(store, c, logger.New(logger.LevelError)), store, c
}

func TestUpdateUserStatus_WritesThrough(t *testing.T) {
	svc, store, c := newService()

	resp, err := svc.UpdateUserStatus(context.Background(), &statuspb.UserStatusRequest{
		UserID:       1,
		Status:       statuspb.Online,
		SessionToken: token.Generate("1"),
	})
	if err != nil {
		t.Fatalf("UpdateUserStatus: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response = %+v, want success", resp)
	}
	if store.upserts != 1 {
		t.Errorf("database upserts = %d, want 1", store.upserts)
	}
	if c.statusWrites != 1 {
		t.Errorf("cache writes = %d, want 1", c.statusWrites)
	}
	if c.statuses[1].status != int32(statuspb.Online) {
		t.Errorf("cached status = %d, want ONLINE", c.statuses[1].status)
	}
}

func TestUpdateUserStatus_RejectsForeignToken(t *testing.T) {
	svc, store, _ := newService()

	// A structurally valid token issued to a different user.
	resp, err := svc.UpdateUserStatus(context.Background(), &statuspb.UserStatusRequest{
		UserID:       1,
		Status:       statuspb.Online,
		SessionToken: token.Generate("2"),
	})
	if err != nil {
		t.Fatalf("UpdateUserStatus: %v", err)
	}
	if resp.Success || resp.Message != "Invalid session token" {
		t.Errorf("response = %+v, want token rejection", resp)
	}
	if store.upserts != 0 {
		t.Error("rejected update must not reach the database")
	}
}

func TestUpdateUserStatus_RejectsMalformedToken(t *testing.T) {
	svc, _, _ := newService()
	resp, _ := svc.UpdateUserStatus(context.Background(), &statuspb.UserStatusRequest{
		UserID:       1,
		Status:       statuspb.Online,
		SessionToken: "garbage",
	})
	if resp.Success {
		t.Error("malformed token should be rejected")
	}
}

func TestUpdateUserStatus_DatabaseError(t *testing.T) {
	svc, store, c := newService()
	store.failAll = true

	resp, _ := svc.UpdateUserStatus(context.Background(), &statuspb.UserStatusRequest{
		UserID:       1,
		Status:       statuspb.Online,
		SessionToken: token.Generate("1"),
	})
	if resp.Success {
		t.Error("database failure should fail the update")
	}
	if c.statusWrites != 0 {
		t.Error("cache must not be written when the database write failed")
	}
}

func TestGetUserStatus_CacheHit(t *testing.T) {
	svc, store, c := newService()
	c.statuses[3] = statusRow{status: int32(statuspb.Away), lastSeen: 555}
	store.failAll = true // a cache hit must not touch the database

	resp, err := svc.GetUserStatus(context.Background(), &statuspb.GetUserStatusRequest{UserID: 3})
	if err != nil {
		t.Fatalf("GetUserStatus: %v", err)
	}
	if !resp.Success || resp.Status != statuspb.Away || resp.LastSeen != 555 {
		t.Errorf("response = %+v, want AWAY/555 from cache", resp)
	}
}

func TestGetUserStatus_FallbackPopulatesCache(t *testing.T) {
	svc, store, c := newService()
	store.statuses[4] = statusRow{status: int32(statuspb.Busy), lastSeen: 777}

	resp, err := svc.GetUserStatus(context.Background(), &statuspb.GetUserStatusRequest{UserID: 4})
	if err != nil {
		t.Fatalf("GetUserStatus: %v", err)
	}
	if !resp.Success || resp.Status != statuspb.Busy || resp.LastSeen != 777 {
		t.Errorf("response = %+v, want BUSY/777 from database", resp)
	}
	if c.statuses[4].status != int32(statuspb.Busy) {
		t.Error("fallback read should populate the cache")
	}
}

func TestGetUserStatus_UnknownUser(t *testing.T) {
	svc, _, _ := newService()
	resp, err := svc.GetUserStatus(context.Background(), &statuspb.GetUserStatusRequest{UserID: 99})
	if err != nil {
		t.Fatalf("GetUserStatus: %v", err)
	}
	if resp.Success || resp.Message != "User not found" {
		t.Errorf("response = %+v, want not-found", resp)
	}
}

func TestAddFriend_StoresBothEdgesAndRefreshesCache(t *testing.T) {
	svc, store, c := newService()

	resp, err := svc.AddFriend(context.Background(), &statuspb.AddFriendRequest{UserID: 1, FriendID: 2})
	if err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response = %+v, want success", resp)
	}
	if !store.edges[[2]int32{1, 2}] || !store.edges[[2]int32{2, 1}] {
		t.Error("both directed edges should be stored")
	}
	if c.friendWrites != 2 {
		t.Errorf("cached friend lists refreshed %d times, want 2 (both parties)", c.friendWrites)
	}
	if len(c.friends[1]) != 1 || c.friends[1][0] != 2 {
		t.Errorf("cached friends of 1 = %v, want [2]", c.friends[1])
	}
}

func TestAddFriend_AlreadyExists(t *testing.T) {
	svc, store, _ := newService()
	store.edges[[2]int32{1, 2}] = true

	resp, _ := svc.AddFriend(context.Background(), &statuspb.AddFriendRequest{UserID: 1, FriendID: 2})
	if resp.Success || resp.Message != "Friend relationship already exists" {
		t.Errorf("response = %+v, want conflict", resp)
	}
}

func TestGetFriendsStatus(t *testing.T) {
	svc, store, c := newService()
	store.edges[[2]int32{1, 2}] = true
	store.names[2] = "bob"
	c.statuses[2] = statusRow{status: int32(statuspb.Online), lastSeen: 100}

	resp, err := svc.GetFriendsStatus(context.Background(), &statuspb.GetFriendsStatusRequest{UserID: 1})
	if err != nil {
		t.Fatalf("GetFriendsStatus: %v", err)
	}
	if !resp.Success || len(resp.Friends) != 1 {
		t.Fatalf("response = %+v, want one friend", resp)
	}
	entry := resp.Friends[0]
	if entry.UserID != 2 || entry.Username != "bob" || entry.Status != statuspb.Online {
		t.Errorf("entry = %+v", entry)
	}
}

func TestGetFriendsStatus_MissingPresenceRowReadsOffline(t *testing.T) {
	svc, store, _ := newService()
	store.edges[[2]int32{1, 2}] = true
	store.names[2] = "bob"
	// No status row anywhere for user 2.

	resp, err := svc.GetFriendsStatus(context.Background(), &statuspb.GetFriendsStatusRequest{UserID: 1})
	if err != nil {
		t.Fatalf("GetFriendsStatus: %v", err)
	}
	if len(resp.Friends) != 1 {
		t.Fatalf("friends = %+v, want one entry", resp.Friends)
	}
	if resp.Friends[0].Status != statuspb.Offline || resp.Friends[0].LastSeen != 0 {
		t.Errorf("entry = %+v, want OFFLINE with zero last-seen", resp.Friends[0])
	}
}

func TestGetFriendsList_RepopulatesCacheOnMiss(t *testing.T) {
	svc, store, c := newService()
	store.edges[[2]int32{1, 2}] = true
	store.names[2] = "bob"

	resp, err := svc.GetFriendsList(context.Background(), &statuspb.GetFriendsListRequest{UserID: 1})
	if err != nil {
		t.Fatalf("GetFriendsList: %v", err)
	}
	if !resp.Success || len(resp.Friends) != 1 || resp.Friends[0].Username != "bob" {
		t.Fatalf("response = %+v", resp)
	}
	if c.friendWrites != 1 {
		t.Errorf("cache refreshes = %d, want 1 on miss", c.friendWrites)
	}

	// A second call hits the cached list and does not rewrite it.
	if _, err := svc.GetFriendsList(context.Background(), &statuspb.GetFriendsListRequest{UserID: 1}); err != nil {
		t.Fatalf("second GetFriendsList: %v", err)
	}
	if c.friendWrites != 1 {
		t.Errorf("cache refreshes after hit = %d, want still 1", c.friendWrites)
	}
}

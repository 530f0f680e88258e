// Package statuspb is the checked-in stub surface of the StatusService
// channel: the request/response message types, a client stub, and the
// server service descriptor.
//
// The channel runs over gRPC/HTTP2 with the JSON codec in codec.go, so the
// stubs here are plain structs with no generation step.  The method set and
// field names match the original service contract one for one.
package statuspb

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "status.StatusService"

// UserStatus is the presence state of a user.
type UserStatus int32

const (
	// Offline means no live session.
	Offline UserStatus = 0
	// Online means at least one live session.
	Online UserStatus = 1
	// Away is a user-selected idle state.
	Away UserStatus = 2
	// Busy is a user-selected do-not-disturb state.
	Busy UserStatus = 3
)

// String returns the wire-stable name of the status.
func (s UserStatus) String() string {
	switch s {
	case Offline:
		return "OFFLINE"
	case Online:
		return "ONLINE"
	case Away:
		return "AWAY"
	case Busy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// UserStatusRequest asks the service to record a new status for a user.
type UserStatusRequest struct {
	UserID       int32      `json:"user_id"`
	Status       UserStatus `json:"status"`
	SessionToken string     `json:"session_token"`
}

// UserStatusResponse reports the outcome of UpdateUserStatus.
type UserStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetUserStatusRequest asks for one user's current status.
type GetUserStatusRequest struct {
	UserID int32 `json:"user_id"`
}

// GetUserStatusResponse carries one user's status and last-seen instant
// (unix millis).
type GetUserStatusResponse struct {
	Success  bool       `json:"success"`
	Status   UserStatus `json:"status"`
	LastSeen int64      `json:"last_seen"`
	Message  string     `json:"message"`
}

// FriendStatus is one friend's presence entry.
type FriendStatus struct {
	UserID   int32      `json:"user_id"`
	Username string     `json:"username"`
	Status   UserStatus `json:"status"`
	LastSeen int64      `json:"last_seen"`
}

// GetFriendsStatusRequest asks for the presence of every friend of a user.
type GetFriendsStatusRequest struct {
	UserID int32 `json:"user_id"`
}

// GetFriendsStatusResponse carries the friends' presence entries.
type GetFriendsStatusResponse struct {
	Success bool           `json:"success"`
	Friends []FriendStatus `json:"friends"`
	Message string         `json:"message"`
}

// AddFriendRequest asks the service to create a friendship.
type AddFriendRequest struct {
	UserID   int32 `json:"user_id"`
	FriendID int32 `json:"friend_id"`
}

// AddFriendResponse reports the outcome of AddFriend.
type AddFriendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FriendInfo is one friend's identity entry.
type FriendInfo struct {
	UserID   int32  `json:"user_id"`
	Username string `json:"username"`
}

// GetFriendsListRequest asks for a user's friend list.
type GetFriendsListRequest struct {
	UserID int32 `json:"user_id"`
}

// GetFriendsListResponse carries the friend list.
type GetFriendsListResponse struct {
	Success bool         `json:"success"`
	Friends []FriendInfo `json:"friends"`
	Message string       `json:"message"`
}

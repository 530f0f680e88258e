package ws

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound frame types accepted from clients.
const (
	TypeLogin            = "login"
	TypeHeartbeat        = "heartbeat"
	TypeTextMessage      = "text_message"
	TypeSearchUser       = "search_user"
	TypeAddFriendRequest = "add_friend_request"
	TypeGetFriendsList   = "get_friends_list"
	TypeGetChatHistory   = "get_chat_history"
)

// ID is a user identifier that clients may send as either a JSON string or a
// JSON number.  The Qt client sends strings; other clients send numbers.
type ID string

// UnmarshalJSON accepts "2" and 2 alike.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Int64 parses the id as a positive integer.
func (id ID) Int64() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("ws: bad user id %q", string(id))
	}
	return n, nil
}

// Inbound is the union of every client frame.  Only the fields relevant to
// the frame's type are populated; handlers validate the ones they need.
type Inbound struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	ReceiverID ID     `json:"receiver_id"`
	Query      string `json:"query"`
	FriendID   ID     `json:"friend_id"`
	PeerID     ID     `json:"peer_id"`
}

// ParseInbound decodes one text frame.  A decode failure means the frame is
// not JSON (or not an object); the caller echoes it back instead of failing
// the session.
func ParseInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("ws: parse frame: %w", err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("ws: frame without type")
	}
	return &in, nil
}

// ─── Outbound frames ────────────────────────────────────────────────────────

// marshalFrame builds an outbound frame.  The frame structs below contain
// only marshal-friendly fields, so an encode failure is a programming error;
// it is surfaced as an empty frame plus the returned error for logging.
func marshalFrame(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Unreachable with the types below; keep the session alive anyway.
		return []byte(`{"type":"message","from":"server","content":"internal error"}`)
	}
	return b
}

// LoginResponse confirms the authenticated user to the client.
func LoginResponse(userID string) []byte {
	return marshalFrame(struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
		UserID  string `json:"userId"`
	}{"login_response", true, userID})
}

// HeartbeatResponse answers a client heartbeat with the server clock.
func HeartbeatResponse(nowMillis int64) []byte {
	return marshalFrame(struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}{"heartbeat_response", nowMillis})
}

// ServerHeartbeat is the server-generated keepalive frame.
func ServerHeartbeat(nowMillis int64) []byte {
	return marshalFrame(struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}{"heartbeat", nowMillis})
}

// TextMessage is the directed-delivery frame placed on the receiver's queue.
func TextMessage(senderID, content string, tsMillis int64) []byte {
	return marshalFrame(struct {
		Type      string `json:"type"`
		SenderID  string `json:"sender_id"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	}{"text_message", senderID, content, tsMillis})
}

// SearchResult is one row of a user search.
type SearchResult struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserStatus string `json:"userStatus"`
}

// SearchUserResponse carries the bounded search result set.
func SearchUserResponse(users []SearchResult) []byte {
	if users == nil {
		users = []SearchResult{}
	}
	return marshalFrame(struct {
		Type    string         `json:"type"`
		Success bool           `json:"success"`
		Users   []SearchResult `json:"users"`
	}{"search_user_response", true, users})
}

// AddFriendResponse is fanned back to the requester only.
func AddFriendResponse(success bool, message string) []byte {
	return marshalFrame(struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{"add_friend_response", success, message})
}

// FriendEntry is one row of a friends-list response.
type FriendEntry struct {
	UserID   int32  `json:"userId"`
	UserName string `json:"userName"`
}

// FriendsListResponse carries the friend identities of the requester.
func FriendsListResponse(success bool, friends []FriendEntry, message string) []byte {
	if friends == nil {
		friends = []FriendEntry{}
	}
	return marshalFrame(struct {
		Type    string        `json:"type"`
		Success bool          `json:"success"`
		Friends []FriendEntry `json:"friends"`
		Message string        `json:"message,omitempty"`
	}{"friends_list_response", success, friends, message})
}

// HistoryEntry is one row of a chat-history response.
type HistoryEntry struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// ChatHistoryResponse carries up to the configured limit of messages between
// the requester and one peer, newest first.
func ChatHistoryResponse(success bool, messages []HistoryEntry, message string) []byte {
	if messages == nil {
		messages = []HistoryEntry{}
	}
	return marshalFrame(struct {
		Type     string         `json:"type"`
		Success  bool           `json:"success"`
		Messages []HistoryEntry `json:"messages"`
		Message  string         `json:"message,omitempty"`
	}{"chat_history_response", success, messages, message})
}

// Echo wraps a frame the session could not interpret.  Unknown and
// unparseable frames are never fatal; they come straight back to the sender.
func Echo(raw []byte) []byte {
	return marshalFrame(struct {
		Type    string `json:"type"`
		From    string `json:"from"`
		Content string `json:"content"`
	}{"message", "server", "Echo: " + string(raw)})
}

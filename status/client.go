// Package status provides the gateway-side client for the presence/friend
// service: a thin facade over the StatusService channel plus a fixed-size
// pool of stubs that sessions borrow for their lifetime.
package status

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lumichat/gateserver/status/statuspb"
)

// Client is a stub bound to one status-service replica.  It is safe for
// concurrent use by many goroutines; the underlying gRPC connection
// multiplexes calls.
//
// A Client that has observed a transport error marks itself faulted.  The
// pool consults Faulted on release and discards such stubs instead of
// recycling them.
type Client struct {
	addr    string
	conn    *grpc.ClientConn
	client  statuspb.StatusServiceClient
	faulted atomic.Bool
}

// Dial connects a Client to the replica at addr.  The channel is
// plain-text gRPC with the JSON codec; the status service lives on a
// trusted backend network.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(statuspb.Codec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("status: dial %s: %w", addr, err)
	}
	return &Client{
		addr:   addr,
		conn:   conn,
		client: statuspb.NewStatusServiceClient(conn),
	}, nil
}

// Addr returns the replica address this stub is bound to.
func (c *Client) Addr() string { return c.addr }

// Faulted reports whether this stub has observed a transport error.
func (c *Client) Faulted() bool { return c.faulted.Load() }

// Close tears down the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// fail records a transport fault and wraps the error.
func (c *Client) fail(op string, err error) error {
	c.faulted.Store(true)
	return fmt.Errorf("status: %s via %s: %w", op, c.addr, err)
}

// UpdateUserStatus records a new presence state for userID.
func (c *Client) UpdateUserStatus(ctx context.Context, userID int32, st statuspb.UserStatus, sessionToken string) error {
	resp, err := c.client.UpdateUserStatus(ctx, &statuspb.UserStatusRequest{
		UserID:       userID,
		Status:       st,
		SessionToken: sessionToken,
	})
	if err != nil {
		return c.fail("update status", err)
	}
	if !resp.Success {
		return fmt.Errorf("status: update status for user %d rejected: %s", userID, resp.Message)
	}
	return nil
}

// UserStatus returns the presence state and last-seen millis for userID.
func (c *Client) UserStatus(ctx context.Context, userID int32) (statuspb.UserStatus, int64, error) {
	resp, err := c.client.GetUserStatus(ctx, &statuspb.GetUserStatusRequest{UserID: userID})
	if err != nil {
		return statuspb.Offline, 0, c.fail("get status", err)
	}
	if !resp.Success {
		return statuspb.Offline, 0, fmt.Errorf("status: get status for user %d: %s", userID, resp.Message)
	}
	return resp.Status, resp.LastSeen, nil
}

// FriendsStatus returns the presence entries of every friend of userID.
func (c *Client) FriendsStatus(ctx context.Context, userID int32) ([]statuspb.FriendStatus, error) {
	resp, err := c.client.GetFriendsStatus(ctx, &statuspb.GetFriendsStatusRequest{UserID: userID})
	if err != nil {
		return nil, c.fail("get friends status", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("status: get friends status for user %d: %s", userID, resp.Message)
	}
	return resp.Friends, nil
}

// AddFriend creates a friendship between userID and friendID.
func (c *Client) AddFriend(ctx context.Context, userID, friendID int32) error {
	resp, err := c.client.AddFriend(ctx, &statuspb.AddFriendRequest{UserID: userID, FriendID: friendID})
	if err != nil {
		return c.fail("add friend", err)
	}
	if !resp.Success {
		return fmt.Errorf("status: add friend %d->%d rejected: %s", userID, friendID, resp.Message)
	}
	return nil
}

// FriendsList returns the friend identities of userID.
func (c *Client) FriendsList(ctx context.Context, userID int32) ([]statuspb.FriendInfo, error) {
	resp, err := c.client.GetFriendsList(ctx, &statuspb.GetFriendsListRequest{UserID: userID})
	if err != nil {
		return nil, c.fail("get friends list", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("status: get friends list for user %d: %s", userID, resp.Message)
	}
	return resp.Friends, nil
}

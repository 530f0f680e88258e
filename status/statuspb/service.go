package statuspb

import (
	"context"

	"google.golang.org/grpc"
)

// StatusServiceClient is the client-side stub surface.
type StatusServiceClient interface {
	UpdateUserStatus(ctx context.Context, in *UserStatusRequest, opts ...grpc.CallOption) (*UserStatusResponse, error)
	GetUserStatus(ctx context.Context, in *GetUserStatusRequest, opts ...grpc.CallOption) (*GetUserStatusResponse, error)
	GetFriendsStatus(ctx context.Context, in *GetFriendsStatusRequest, opts ...grpc.CallOption) (*GetFriendsStatusResponse, error)
	AddFriend(ctx context.Context, in *AddFriendRequest, opts ...grpc.CallOption) (*AddFriendResponse, error)
	GetFriendsList(ctx context.Context, in *GetFriendsListRequest, opts ...grpc.CallOption) (*GetFriendsListResponse, error)
}

type statusServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStatusServiceClient creates a client stub over cc.
func NewStatusServiceClient(cc grpc.ClientConnInterface) StatusServiceClient {
	return &statusServiceClient{cc: cc}
}

func (c *statusServiceClient) UpdateUserStatus(ctx context.Context, in *UserStatusRequest, opts ...grpc.CallOption) (*UserStatusResponse, error) {
	out := new(UserStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/UpdateUserStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *statusServiceClient) GetUserStatus(ctx context.Context, in *GetUserStatusRequest, opts ...grpc.CallOption) (*GetUserStatusResponse, error) {
	out := new(GetUserStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetUserStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *statusServiceClient) GetFriendsStatus(ctx context.Context, in *GetFriendsStatusRequest, opts ...grpc.CallOption) (*GetFriendsStatusResponse, error) {
	out := new(GetFriendsStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetFriendsStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *statusServiceClient) AddFriend(ctx context.Context, in *AddFriendRequest, opts ...grpc.CallOption) (*AddFriendResponse, error) {
	out := new(AddFriendResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/AddFriend", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *statusServiceClient) GetFriendsList(ctx context.Context, in *GetFriendsListRequest, opts ...grpc.CallOption) (*GetFriendsListResponse, error) {
	out := new(GetFriendsListResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetFriendsList", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusServiceServer is the server-side surface.
type StatusServiceServer interface {
	UpdateUserStatus(ctx context.Context, in *UserStatusRequest) (*UserStatusResponse, error)
	GetUserStatus(ctx context.Context, in *GetUserStatusRequest) (*GetUserStatusResponse, error)
	GetFriendsStatus(ctx context.Context, in *GetFriendsStatusRequest) (*GetFriendsStatusResponse, error)
	AddFriend(ctx context.Context, in *AddFriendRequest) (*AddFriendResponse, error)
	GetFriendsList(ctx context.Context, in *GetFriendsListRequest) (*GetFriendsListResponse, error)
}

// RegisterStatusServiceServer registers srv on s.  The server must be built
// with grpc.ForceServerCodec(Codec{}).
func RegisterStatusServiceServer(s grpc.ServiceRegistrar, srv StatusServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func updateUserStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UserStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).UpdateUserStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/UpdateUserStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).UpdateUserStatus(ctx, req.(*UserStatusRequest))
	})
}

func getUserStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetUserStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetUserStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetUserStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).GetUserStatus(ctx, req.(*GetUserStatusRequest))
	})
}

func getFriendsStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetFriendsStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetFriendsStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetFriendsStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).GetFriendsStatus(ctx, req.(*GetFriendsStatusRequest))
	})
}

func addFriendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddFriendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).AddFriend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/AddFriend"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).AddFriend(ctx, req.(*AddFriendRequest))
	})
}

func getFriendsListHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetFriendsListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetFriendsList(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetFriendsList"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).GetFriendsList(ctx, req.(*GetFriendsListRequest))
	})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpdateUserStatus", Handler: updateUserStatusHandler},
		{MethodName: "GetUserStatus", Handler: getUserStatusHandler},
		{MethodName: "GetFriendsStatus", Handler: getFriendsStatusHandler},
		{MethodName: "AddFriend", Handler: addFriendHandler},
		{MethodName: "GetFriendsList", Handler: getFriendsListHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "status.json-rpc",
}

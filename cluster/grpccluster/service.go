package grpccluster

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName     = "conductor.cluster.Member"
	requestMethod   = "/" + serviceName + "/Request"
	publishMethod   = "/" + serviceName + "/Publish"
	subjectMetadata = "x-conductor-subject"
	topicMetadata   = "x-conductor-topic"
	requestMetadata = "x-conductor-request-id"
	senderMetadata  = "x-conductor-sender"
)

// memberServer is the server-side interface of the cluster member service.
//
// The service carries opaque payloads in wrapperspb.BytesValue messages. The
// subject or topic of each call is carried in its metadata.
type memberServer interface {
	request(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	publish(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*memberServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Request",
			Handler: func(
				srv any,
				ctx context.Context,
				dec func(any) error,
				interceptor grpc.UnaryServerInterceptor,
			) (any, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}

				s := srv.(memberServer)
				if interceptor == nil {
					return s.request(ctx, in)
				}

				return interceptor(
					ctx,
					in,
					&grpc.UnaryServerInfo{Server: srv, FullMethod: requestMethod},
					func(ctx context.Context, req any) (any, error) {
						return s.request(ctx, req.(*wrapperspb.BytesValue))
					},
				)
			},
		},
		{
			MethodName: "Publish",
			Handler: func(
				srv any,
				ctx context.Context,
				dec func(any) error,
				interceptor grpc.UnaryServerInterceptor,
			) (any, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}

				s := srv.(memberServer)
				if interceptor == nil {
					return s.publish(ctx, in)
				}

				return interceptor(
					ctx,
					in,
					&grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod},
					func(ctx context.Context, req any) (any, error) {
						return s.publish(ctx, req.(*wrapperspb.BytesValue))
					},
				)
			},
		},
	},
	Metadata: "conductor/cluster.proto",
}

// publishTimeout is the time allowed for delivering a published message to a
// single member.
const publishTimeout = 5 * time.Second

package conductor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/grpcx"
	"github.com/dogmatiq/conductor/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	commandAPIName     = "conductor.CommandAPI"
	executeMethod      = "/" + commandAPIName + "/Execute"
	partitionsMethod   = "/" + commandAPIName + "/Partitions"
	commandAPIMetadata = "conductor/command.proto"
)

// RegisterCommandAPI registers the command API of e with a gRPC server.
//
// The Execute method accepts an encoded command record. It replies with the
// encoded response record, or with an encoded codec.ErrorResponse if the
// command could not be submitted.
func RegisterCommandAPI(s grpc.ServiceRegistrar, e *Engine) {
	s.RegisterService(&commandAPIDesc, &commandAPI{e})
}

// commandServer is the server-side interface of the command API.
type commandServer interface {
	execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	partitions(ctx context.Context, in *emptypb.Empty) (*wrapperspb.Int32Value, error)
}

type commandAPI struct {
	engine *Engine
}

func (a *commandAPI) execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	data := in.GetValue()

	var r protocol.Record
	if !r.TryWrap(data) {
		return errorResponse(codec.Errorf(codec.MalformedRequest, "expected an encoded record"))
	}

	cmd, err := protocol.UnmarshalRecord(data)
	if err != nil {
		return errorResponse(codec.Errorf(codec.MalformedRequest, "%s", err))
	}

	res, err := a.engine.execute(ctx, cmd)
	if err != nil {
		var er *codec.ErrorResponse

		switch {
		case errors.As(err, &er):
			return errorResponse(er)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, grpcx.Errorf(codes.DeadlineExceeded, "%s", err)
		case errors.Is(err, context.Canceled):
			return nil, grpcx.Errorf(codes.Canceled, "%s", err)
		default:
			return errorResponse(codec.Errorf(codec.InternalError, "%s", err))
		}
	}

	data, err = res.MarshalBinary()
	if err != nil {
		return nil, grpcx.Errorf(codes.Internal, "unable to marshal response: %s", err)
	}

	return wrapperspb.Bytes(data), nil
}

func (a *commandAPI) partitions(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(a.engine.opts.PartitionCount), nil
}

func errorResponse(er *codec.ErrorResponse) (*wrapperspb.BytesValue, error) {
	data, err := er.MarshalBinary()
	if err != nil {
		return nil, grpcx.Errorf(codes.Internal, "unable to marshal error response: %s", err)
	}

	return wrapperspb.Bytes(data), nil
}

// remote submits commands via the command API of another engine.
type remote struct {
	conn grpc.ClientConnInterface
}

func (r remote) execute(ctx context.Context, cmd *protocol.Record) (*protocol.Record, error) {
	data, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := &wrapperspb.BytesValue{}
	if err := r.conn.Invoke(ctx, executeMethod, wrapperspb.Bytes(data), out); err != nil {
		return nil, fmt.Errorf("unable to execute %s: %w", cmd, err)
	}

	var er codec.ErrorResponse
	if er.TryWrap(out.GetValue()) {
		if err := er.UnmarshalBinary(out.GetValue()); err != nil {
			return nil, err
		}
		return nil, &er
	}

	return protocol.UnmarshalRecord(out.GetValue())
}

func (r remote) partitionCount(ctx context.Context) (int32, error) {
	out := &wrapperspb.Int32Value{}
	if err := r.conn.Invoke(ctx, partitionsMethod, &emptypb.Empty{}, out); err != nil {
		return 0, err
	}

	return out.GetValue(), nil
}

var commandAPIDesc = grpc.ServiceDesc{
	ServiceName: commandAPIName,
	HandlerType: (*commandServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
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

				s := srv.(commandServer)
				if interceptor == nil {
					return s.execute(ctx, in)
				}

				return interceptor(
					ctx,
					in,
					&grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod},
					func(ctx context.Context, req any) (any, error) {
						return s.execute(ctx, req.(*wrapperspb.BytesValue))
					},
				)
			},
		},
		{
			MethodName: "Partitions",
			Handler: func(
				srv any,
				ctx context.Context,
				dec func(any) error,
				interceptor grpc.UnaryServerInterceptor,
			) (any, error) {
				in := &emptypb.Empty{}
				if err := dec(in); err != nil {
					return nil, err
				}

				s := srv.(commandServer)
				if interceptor == nil {
					return s.partitions(ctx, in)
				}

				return interceptor(
					ctx,
					in,
					&grpc.UnaryServerInfo{Server: srv, FullMethod: partitionsMethod},
					func(ctx context.Context, req any) (any, error) {
						return s.partitions(ctx, req.(*emptypb.Empty))
					},
				)
			},
		},
	},
	Metadata: commandAPIMetadata,
}

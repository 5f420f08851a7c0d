// Package grpccluster implements the cluster messaging and event services
// over gRPC.
package grpccluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/internal/x/grpcx"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Transport connects the members of a cluster over gRPC.
//
// It implements cluster.Messaging and cluster.EventService.
type Transport struct {
	// Local is the ID of the local member.
	Local cluster.MemberID

	// Members maps the ID of each member of the cluster, including the local
	// member, to the address of its internal API.
	Members map[cluster.MemberID]string

	// DialOptions are additional options used when connecting to other
	// members.
	DialOptions []grpc.DialOption

	// Logger is the target for log messages about failed deliveries.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m        sync.Mutex
	conns    map[cluster.MemberID]*grpc.ClientConn
	handlers map[string]cluster.RequestHandler
	topics   map[string]map[int]cluster.TopicHandler
	next     int
}

// Register registers the transport's service with a gRPC server.
func (t *Transport) Register(s *grpc.Server) {
	s.RegisterService(&serviceDesc, t)
}

// Request sends a request to a member and blocks until it replies.
func (t *Transport) Request(
	ctx context.Context,
	to cluster.MemberID,
	subject string,
	payload []byte,
) ([]byte, error) {
	conn, err := t.conn(ctx, to)
	if err != nil {
		return nil, err
	}

	ctx = metadata.AppendToOutgoingContext(
		ctx,
		subjectMetadata, subject,
		requestMetadata, uuid.NewString(),
		senderMetadata, string(t.Local),
	)

	out := &wrapperspb.BytesValue{}
	if err := conn.Invoke(ctx, requestMethod, wrapperspb.Bytes(payload), out); err != nil {
		if grpcx.Code(err) == codes.Unimplemented {
			return nil, cluster.ErrNoHandler
		}
		return nil, err
	}

	return out.GetValue(), nil
}

// Handle registers the handler for requests with the given subject.
func (t *Transport) Handle(subject string, h cluster.RequestHandler) func() {
	t.m.Lock()
	defer t.m.Unlock()

	if t.handlers == nil {
		t.handlers = map[string]cluster.RequestHandler{}
	}
	t.handlers[subject] = h

	return func() {
		t.m.Lock()
		defer t.m.Unlock()
		delete(t.handlers, subject)
	}
}

// Publish sends a message to the subscribers of a topic on every member.
//
// Each member is called on its own goroutine. Failures are logged.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for id := range t.Members {
		id := id

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()

			if err := t.publishTo(ctx, id, topic, payload); err != nil {
				logging.Log(
					t.logger(),
					"unable to publish to %s on member %s: %s",
					topic,
					id,
					err,
				)
			}
		}()
	}

	return nil
}

// Subscribe registers the handler for messages published on a topic.
func (t *Transport) Subscribe(topic string, h cluster.TopicHandler) func() {
	t.m.Lock()
	defer t.m.Unlock()

	if t.topics == nil {
		t.topics = map[string]map[int]cluster.TopicHandler{}
	}
	if t.topics[topic] == nil {
		t.topics[topic] = map[int]cluster.TopicHandler{}
	}

	id := t.next
	t.next++
	t.topics[topic][id] = h

	return func() {
		t.m.Lock()
		defer t.m.Unlock()
		delete(t.topics[topic], id)
	}
}

// Close closes the connections to other members.
func (t *Transport) Close() error {
	t.m.Lock()
	defer t.m.Unlock()

	var err error
	for id, conn := range t.conns {
		err = multierr.Append(err, conn.Close())
		delete(t.conns, id)
	}

	return err
}

func (t *Transport) publishTo(ctx context.Context, to cluster.MemberID, topic string, payload []byte) error {
	conn, err := t.conn(ctx, to)
	if err != nil {
		return err
	}

	ctx = metadata.AppendToOutgoingContext(
		ctx,
		topicMetadata, topic,
		senderMetadata, string(t.Local),
	)

	return conn.Invoke(ctx, publishMethod, wrapperspb.Bytes(payload), &emptypb.Empty{})
}

// conn returns the connection to a member, dialing it if necessary.
func (t *Transport) conn(ctx context.Context, id cluster.MemberID) (*grpc.ClientConn, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if conn, ok := t.conns[id]; ok {
		return conn, nil
	}

	addr, ok := t.Members[id]
	if !ok {
		return nil, cluster.UnknownMemberError{Member: id}
	}

	opts := append(
		[]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
		t.DialOptions...,
	)

	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to member %s: %w", id, err)
	}

	if t.conns == nil {
		t.conns = map[cluster.MemberID]*grpc.ClientConn{}
	}
	t.conns[id] = conn

	return conn, nil
}

func (t *Transport) request(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	subject := incoming(ctx, subjectMetadata)

	t.m.Lock()
	h := t.handlers[subject]
	t.m.Unlock()

	if h == nil {
		return nil, grpcx.Errorf(
			codes.Unimplemented,
			"no handler is registered for %q",
			subject,
		)
	}

	out, err := h(ctx, in.GetValue())
	if err != nil {
		return nil, grpcx.Errorf(
			codes.Internal,
			"request %s failed: %s",
			incoming(ctx, requestMetadata),
			err,
		)
	}

	return wrapperspb.Bytes(out), nil
}

func (t *Transport) publish(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	topic := incoming(ctx, topicMetadata)

	t.m.Lock()
	subs := make([]cluster.TopicHandler, 0, len(t.topics[topic]))
	for _, h := range t.topics[topic] {
		subs = append(subs, h)
	}
	t.m.Unlock()

	for _, h := range subs {
		go h(in.GetValue())
	}

	return &emptypb.Empty{}, nil
}

func (t *Transport) logger() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.DefaultLogger
}

// incoming returns the value of a metadata key of an incoming call.
func incoming(ctx context.Context, k string) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(k); len(v) > 0 {
		return v[0]
	}
	return ""
}

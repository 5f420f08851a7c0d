package grpcx

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
)

// GracePeriod is how long Serve waits for in-flight calls to finish after
// its context is canceled before it closes their connections.
var GracePeriod = 5 * time.Second

// Serve serves requests on lis until ctx is canceled or the server fails.
//
// It returns ctx.Err() once the server has stopped because ctx was canceled.
func Serve(ctx context.Context, lis net.Listener, s *grpc.Server) error {
	result := make(chan error, 1)
	go func() {
		result <- s.Serve(lis)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(GracePeriod):
		s.Stop()
		<-stopped
	}

	<-result

	return ctx.Err()
}

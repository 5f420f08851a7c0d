package conductor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dogmatiq/conductor/cluster/grpccluster"
	"github.com/dogmatiq/conductor/internal/x/grpcx"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// serve starts the listeners of the command, internal and monitoring APIs.
func (e *Engine) serve(ctx context.Context, t *grpccluster.Transport) error {
	g, ctx := errgroup.WithContext(ctx)

	hs := health.NewServer()
	commands := grpc.NewServer(e.opts.Network.ServerOptions...)
	RegisterCommandAPI(commands, e)
	grpc_health_v1.RegisterHealthServer(commands, hs)

	internal := grpc.NewServer(e.opts.Network.ServerOptions...)
	t.Register(internal)

	g.Go(func() error {
		return e.listen(ctx, "command", e.opts.Network.CommandAPIAddress, commands)
	})

	g.Go(func() error {
		return e.listen(ctx, "internal", e.opts.Network.InternalAPIAddress, internal)
	})

	g.Go(func() error {
		return e.monitor(ctx, e.opts.Network.MonitoringAPIAddress)
	})

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	defer hs.Shutdown()

	return g.Wait()
}

// listen starts a listener and serves s until ctx is canceled.
func (e *Engine) listen(
	ctx context.Context,
	name string,
	addr string,
	s *grpc.Server,
) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to start %s API listener: %w", name, err)
	}
	defer lis.Close()

	logging.Log(
		e.opts.Logger,
		"listening for %s API requests on %s",
		name,
		addr,
	)

	err = grpcx.Serve(ctx, lis, s)
	return fmt.Errorf("%s API server stopped: %w", name, err)
}

// monitor serves the monitoring API over HTTP until ctx is canceled.
func (e *Engine) monitor(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to start monitoring API listener: %w", err)
	}

	logging.Log(
		e.opts.Logger,
		"listening for monitoring API requests on %s",
		addr,
	)

	s := &http.Server{
		Handler:           e.MonitoringHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	result := make(chan error, 1)
	go func() {
		result <- s.Serve(lis)
	}()

	select {
	case err := <-result:
		return fmt.Errorf("monitoring API server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcx.GracePeriod)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		s.Close()
	}

	if err := <-result; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitoring API server stopped: %w", err)
	}

	return fmt.Errorf("monitoring API server stopped: %w", ctx.Err())
}

// MonitoringHandler returns the HTTP handler of the monitoring API.
//
// It serves Prometheus metrics at /metrics. /ready responds with 200 OK once
// the partitions led by the engine are open, and /health responds with 200 OK
// while the handler is reachable.
func (e *Engine) MonitoringHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-e.ready:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

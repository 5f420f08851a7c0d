package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/config"
	"github.com/dogmatiq/conductor/internal/x/loggingx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// configEnv is the environment variable that holds the path of the
// configuration file if none is given on the command line.
const configEnv = "CONDUCTOR_CONFIG"

// newContext returns a cancelable context that is canceled when the process
// receives a SIGTERM or SIGINT.
func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			cancel()
		}
	}()

	return ctx, cancel
}

func main() {
	ctx, cancel := newContext()
	defer cancel()

	err := run(ctx, os.Args[1:])
	if failed(err) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// failed returns true if err indicates that the broker stopped for a reason
// other than a shutdown signal.
func failed(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func run(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	e := conductor.New(
		options(cfg, &loggingx.Zap{Target: logger})...,
	)

	return e.Run(ctx)
}

// loadConfig loads the configuration from the file named by the first
// argument, or by the CONDUCTOR_CONFIG environment variable. If neither is
// set the default configuration is used.
func loadConfig(args []string) (*config.Broker, error) {
	path := os.Getenv(configEnv)
	if len(args) > 0 {
		path = args[0]
	}

	if path == "" {
		return config.Parse(strings.NewReader(""))
	}

	return config.Load(path)
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	c := zap.NewProductionConfig()
	if cfg.Level == "debug" {
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	return c.Build()
}

// options returns the engine options described by cfg.
func options(cfg *config.Broker, logger *loggingx.Zap) []conductor.EngineOption {
	network := []conductor.NetworkOption{
		conductor.WithCommandAPIAddress(cfg.Network.CommandAPI.Address()),
		conductor.WithInternalAPIAddress(cfg.Network.InternalAPI.Address()),
		conductor.WithMonitoringAPIAddress(cfg.Network.MonitoringAPI.Address()),
		conductor.WithServerOptions(
			grpc.WriteBufferSize(int(cfg.Network.CommandAPI.SendBufferSize)),
		),
		conductor.WithDialOptions(
			grpc.WithWriteBufferSize(int(cfg.Network.InternalAPI.SendBufferSize)),
		),
	}

	if len(cfg.Members) > 0 {
		network = append(network, conductor.WithMembers(cfg.Members))
	}

	return []conductor.EngineOption{
		conductor.WithNodeID(cfg.NodeID),
		conductor.WithPartitions(cfg.PartitionsCount),
		conductor.WithDataDirectory(cfg.Data.Directory),
		conductor.WithSnapshotPeriod(cfg.Data.SnapshotPeriod),
		conductor.WithMaxSnapshots(cfg.Data.MaxSnapshots),
		conductor.WithLogger(logger),
		conductor.WithNetworking(network...),
	}
}

package conductor

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
)

var (
	// DefaultCommandAPIAddress is the default TCP address for the command API
	// listener, which serves client requests.
	//
	// It is overridden by the WithCommandAPIAddress() option.
	DefaultCommandAPIAddress = ":26501"

	// DefaultInternalAPIAddress is the default TCP address for the internal
	// API listener, which serves requests from other members of the cluster.
	//
	// It is overridden by the WithInternalAPIAddress() option.
	DefaultInternalAPIAddress = ":26502"

	// DefaultMonitoringAPIAddress is the default TCP address for the
	// monitoring API listener, which serves the gRPC health service.
	//
	// It is overridden by the WithMonitoringAPIAddress() option.
	DefaultMonitoringAPIAddress = ":9600"
)

// NetworkOption configures the networking-related behavior of an engine.
type NetworkOption func(*networkOptions)

// WithNetworking returns an engine option that enables network communication
// with clients and with the other members of the cluster.
//
// Engines communicate using gRPC APIs.
func WithNetworking(options ...NetworkOption) EngineOption {
	n := resolveNetworkOptions(options...)

	return func(opts *engineOptions) {
		opts.Network = n
	}
}

// WithCommandAPIAddress returns a network option that sets the TCP address for
// the command API listener.
//
// If this option is omitted or addr is empty, DefaultCommandAPIAddress is
// used.
func WithCommandAPIAddress(addr string) NetworkOption {
	validateAddress(addr)

	return func(opts *networkOptions) {
		opts.CommandAPIAddress = addr
	}
}

// WithInternalAPIAddress returns a network option that sets the TCP address
// for the internal API listener.
//
// If this option is omitted or addr is empty, DefaultInternalAPIAddress is
// used.
func WithInternalAPIAddress(addr string) NetworkOption {
	validateAddress(addr)

	return func(opts *networkOptions) {
		opts.InternalAPIAddress = addr
	}
}

// WithMonitoringAPIAddress returns a network option that sets the TCP address
// for the monitoring API listener.
//
// If this option is omitted or addr is empty, DefaultMonitoringAPIAddress is
// used.
func WithMonitoringAPIAddress(addr string) NetworkOption {
	validateAddress(addr)

	return func(opts *networkOptions) {
		opts.MonitoringAPIAddress = addr
	}
}

// WithMembers returns a network option that adds members to the cluster.
//
// members maps the node ID of each member to the address of its internal API.
// It must include the local member.
func WithMembers(members map[string]string) NetworkOption {
	for id, addr := range members {
		if id == "" {
			panic("member ID must not be empty")
		}

		validateAddress(addr)
	}

	return func(opts *networkOptions) {
		if opts.Members == nil {
			opts.Members = map[string]string{}
		}

		for id, addr := range members {
			opts.Members[id] = addr
		}
	}
}

// WithServerOptions returns a network option that adds gRPC server options.
func WithServerOptions(options ...grpc.ServerOption) NetworkOption {
	return func(opts *networkOptions) {
		opts.ServerOptions = append(opts.ServerOptions, options...)
	}
}

// WithDialOptions returns a network option that adds gRPC dial options used
// when connecting to other members of the cluster.
func WithDialOptions(options ...grpc.DialOption) NetworkOption {
	return func(opts *networkOptions) {
		opts.DialOptions = append(opts.DialOptions, options...)
	}
}

// networkOptions is a container for a fully-resolve set of networking options.
type networkOptions struct {
	CommandAPIAddress    string
	InternalAPIAddress   string
	MonitoringAPIAddress string
	Members              map[string]string
	ServerOptions        []grpc.ServerOption
	DialOptions          []grpc.DialOption
}

// resolveNetworkOptions returns a fully-populated set of network options built
// from the given set of option functions.
func resolveNetworkOptions(options ...NetworkOption) *networkOptions {
	opts := &networkOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.CommandAPIAddress == "" {
		opts.CommandAPIAddress = DefaultCommandAPIAddress
	}

	if opts.InternalAPIAddress == "" {
		opts.InternalAPIAddress = DefaultInternalAPIAddress
	}

	if opts.MonitoringAPIAddress == "" {
		opts.MonitoringAPIAddress = DefaultMonitoringAPIAddress
	}

	return opts
}

// validateAddress panics if addr is neither empty nor a valid TCP address.
func validateAddress(addr string) {
	if addr == "" {
		return
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		panic(fmt.Sprintf("invalid listen address: %s", err))
	}

	if _, err := net.LookupPort("tcp", port); err != nil {
		panic(fmt.Sprintf("invalid listen address: %s", err))
	}
}

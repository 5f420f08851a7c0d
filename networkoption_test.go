package conductor

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
)

var _ = Describe("func WithNetworking()", func() {
	It("sets the network options", func() {
		opts := resolveEngineOptions(
			WithNetworking(),
		)

		Expect(opts.Network).ToNot(BeNil())
	})

	It("does not construct a default if the option is omitted", func() {
		opts := resolveEngineOptions()

		Expect(opts.Network).To(BeNil())
	})

	It("includes the members in the cluster", func() {
		opts := resolveEngineOptions(
			WithNodeID("a"),
			WithNetworking(
				WithMembers(map[string]string{
					"a": "10.0.0.1:26502",
					"b": "10.0.0.2:26502",
				}),
			),
		)

		Expect(opts.members()).To(HaveLen(2))
	})
})

var _ = Describe("address options", func() {
	DescribeTable(
		"it sets the address",
		func(
			option func(string) NetworkOption,
			field func(*networkOptions) string,
		) {
			opts := resolveNetworkOptions(option("localhost:1234"))
			Expect(field(opts)).To(Equal("localhost:1234"))
		},
		Entry(
			"WithCommandAPIAddress()",
			WithCommandAPIAddress,
			func(o *networkOptions) string { return o.CommandAPIAddress },
		),
		Entry(
			"WithInternalAPIAddress()",
			WithInternalAPIAddress,
			func(o *networkOptions) string { return o.InternalAPIAddress },
		),
		Entry(
			"WithMonitoringAPIAddress()",
			WithMonitoringAPIAddress,
			func(o *networkOptions) string { return o.MonitoringAPIAddress },
		),
	)

	DescribeTable(
		"it uses the default if the address is empty",
		func(
			option func(string) NetworkOption,
			field func(*networkOptions) string,
			def string,
		) {
			opts := resolveNetworkOptions(option(""))
			Expect(field(opts)).To(Equal(def))
		},
		Entry(
			"WithCommandAPIAddress()",
			WithCommandAPIAddress,
			func(o *networkOptions) string { return o.CommandAPIAddress },
			DefaultCommandAPIAddress,
		),
		Entry(
			"WithInternalAPIAddress()",
			WithInternalAPIAddress,
			func(o *networkOptions) string { return o.InternalAPIAddress },
			DefaultInternalAPIAddress,
		),
		Entry(
			"WithMonitoringAPIAddress()",
			WithMonitoringAPIAddress,
			func(o *networkOptions) string { return o.MonitoringAPIAddress },
			DefaultMonitoringAPIAddress,
		),
	)

	DescribeTable(
		"it panics if the address is invalid",
		func(option func(string) NetworkOption, addr string) {
			Expect(func() {
				option(addr)
			}).To(PanicWith(HavePrefix("invalid listen address: ")))
		},
		Entry("missing port", WithCommandAPIAddress, "localhost"),
		Entry("unknown port name", WithInternalAPIAddress, "localhost:<unknown>"),
		Entry("invalid member address", func(addr string) NetworkOption {
			return WithMembers(map[string]string{"a": addr})
		}, "localhost"),
	)
})

var _ = Describe("func WithMembers()", func() {
	It("merges the members", func() {
		opts := resolveNetworkOptions(
			WithMembers(map[string]string{"a": "localhost:1"}),
			WithMembers(map[string]string{"b": "localhost:2"}),
		)

		Expect(opts.Members).To(Equal(map[string]string{
			"a": "localhost:1",
			"b": "localhost:2",
		}))
	})

	It("panics if a member ID is empty", func() {
		Expect(func() {
			WithMembers(map[string]string{"": "localhost:1"})
		}).To(PanicWith("member ID must not be empty"))
	})
})

var _ = Describe("func WithServerOptions()", func() {
	It("appends to the options", func() {
		opts := resolveNetworkOptions(
			WithServerOptions(grpc.ConnectionTimeout(0)),
			WithServerOptions(grpc.ConnectionTimeout(0)),
		)

		Expect(opts.ServerOptions).To(HaveLen(2))
	})
})

var _ = Describe("func WithDialOptions()", func() {
	It("appends to the options", func() {
		opts := resolveNetworkOptions(
			WithDialOptions(grpc.WithBlock()),
			WithDialOptions(grpc.WithBlock()),
		)

		Expect(opts.DialOptions).To(HaveLen(2))
	})
})

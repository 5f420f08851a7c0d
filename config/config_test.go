package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/dogmatiq/conductor/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func Parse()", func() {
	It("applies the defaults to an empty document", func() {
		b, err := Parse(strings.NewReader(""))
		Expect(err).ShouldNot(HaveOccurred())

		Expect(b.PartitionsCount).To(BeEquivalentTo(1))
		Expect(b.ClusterSize).To(Equal(1))
		Expect(b.Log.Level).To(Equal("info"))
		Expect(b.Network.Host).To(Equal("0.0.0.0"))

		Expect(b.Network.CommandAPI).To(Equal(SocketBinding{
			Host:           "0.0.0.0",
			Port:           26501,
			SendBufferSize: 16 * Megabyte,
		}))
		Expect(b.Network.InternalAPI.Address()).To(Equal("0.0.0.0:26502"))
		Expect(b.Network.MonitoringAPI.Address()).To(Equal("0.0.0.0:9600"))
	})

	It("parses a complete document", func() {
		b, err := Parse(strings.NewReader(`
nodeId: broker-1
partitionsCount: 3
clusterSize: 2
members:
  broker-1: 10.0.0.1:26502
  broker-2: 10.0.0.2:26502
data:
  directory: /data
  snapshotPeriod: 5m
  maxSnapshots: 2
network:
  host: 10.0.0.1
  portOffset: 1
  commandApi:
    host: 0.0.0.0
    sendBufferSize: 4M
  internalApi:
    port: 30000
  monitoringApi:
    sendBufferSize: 512K
log:
  level: debug
`))
		Expect(err).ShouldNot(HaveOccurred())

		Expect(b.NodeID).To(Equal("broker-1"))
		Expect(b.PartitionsCount).To(BeEquivalentTo(3))
		Expect(b.Members).To(HaveKeyWithValue("broker-2", "10.0.0.2:26502"))
		Expect(b.Data).To(Equal(Data{
			Directory:      "/data",
			SnapshotPeriod: 5 * time.Minute,
			MaxSnapshots:   2,
		}))
		Expect(b.Log.Level).To(Equal("debug"))

		Expect(b.Network.CommandAPI).To(Equal(SocketBinding{
			Host:           "0.0.0.0",
			Port:           26511,
			SendBufferSize: 4 * Megabyte,
		}))
		Expect(b.Network.InternalAPI).To(Equal(SocketBinding{
			Host:           "10.0.0.1",
			Port:           30010,
			SendBufferSize: 16 * Megabyte,
		}))
		Expect(b.Network.MonitoringAPI).To(Equal(SocketBinding{
			Host:           "10.0.0.1",
			Port:           9610,
			SendBufferSize: 512 * Kilobyte,
		}))
	})

	DescribeTable(
		"it returns an error if the document is invalid",
		func(doc string) {
			_, err := Parse(strings.NewReader(doc))
			Expect(err).To(HaveOccurred())
		},
		Entry("unknown field", "unknown: 1"),
		Entry("malformed byte size", "network: { commandApi: { sendBufferSize: 16X } }"),
		Entry("negative partition count", "partitionsCount: -1"),
		Entry("members without a node ID", "members: { a: 'localhost:1' }"),
		Entry("members that exclude the local node", "nodeId: b\nmembers: { a: 'localhost:1' }"),
		Entry("cluster size without members", "nodeId: a\nclusterSize: 2"),
		Entry("port out of range", "network: { portOffset: 7000 }"),
		Entry("unknown log level", "log: { level: trace }"),
	)
})

var _ = Describe("func Load()", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "")
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
	})

	It("loads the configuration from a file", func() {
		path := filepath.Join(dir, "broker.yaml")
		err := os.WriteFile(path, []byte("nodeId: broker-1\npartitionsCount: 4\n"), 0600)
		Expect(err).ShouldNot(HaveOccurred())

		b, err := Load(path)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(b.NodeID).To(Equal("broker-1"))
		Expect(b.PartitionsCount).To(BeEquivalentTo(4))
	})

	It("returns an error if the file does not exist", func() {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		Expect(err).To(MatchError(os.ErrNotExist))
	})
})

var _ = Describe("func ParseByteSize()", func() {
	DescribeTable(
		"it parses the size",
		func(s string, expect ByteSize) {
			b, err := ParseByteSize(s)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(b).To(Equal(expect))
		},
		Entry("bytes", "100", ByteSize(100)),
		Entry("kilobytes", "8K", 8*Kilobyte),
		Entry("megabytes", "16M", 16*Megabyte),
		Entry("gigabytes", "1G", Gigabyte),
		Entry("lowercase unit", "2m", 2*Megabyte),
	)

	DescribeTable(
		"it returns an error if the size is invalid",
		func(s string) {
			_, err := ParseByteSize(s)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("unit only", "M"),
		Entry("unknown unit", "16T"),
		Entry("negative", "-1K"),
	)

	It("formats the size using the largest exact unit", func() {
		Expect((16 * Megabyte).String()).To(Equal("16M"))
		Expect((1536 * Kilobyte).String()).To(Equal("1536K"))
		Expect(ByteSize(100).String()).To(Equal("100"))
	})
})

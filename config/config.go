// Package config loads the configuration of a broker from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Broker.ApplyDefaults().
const (
	DefaultHost              = "0.0.0.0"
	DefaultCommandAPIPort    = 26501
	DefaultInternalAPIPort   = 26502
	DefaultMonitoringAPIPort = 9600
	DefaultSendBufferSize    = 16 * Megabyte
	DefaultPartitionsCount   = 1
	DefaultClusterSize       = 1
)

// Broker is the configuration of a single member of a cluster.
type Broker struct {
	// NodeID is the ID of the member within the cluster.
	NodeID string `yaml:"nodeId"`

	// PartitionsCount is the number of partitions in the cluster. Every member
	// must use the same value.
	PartitionsCount int32 `yaml:"partitionsCount"`

	// ClusterSize is the number of members in the cluster.
	ClusterSize int `yaml:"clusterSize"`

	// Members maps the node ID of each member to the address of its internal
	// API. It is required if ClusterSize is greater than one.
	Members map[string]string `yaml:"members"`

	Data    Data    `yaml:"data"`
	Network Network `yaml:"network"`
	Log     Log     `yaml:"log"`
}

// Data configures where and how a broker keeps its partitions.
type Data struct {
	Directory      string        `yaml:"directory"`
	SnapshotPeriod time.Duration `yaml:"snapshotPeriod"`
	MaxSnapshots   int           `yaml:"maxSnapshots"`
}

// Network configures the broker's socket bindings.
type Network struct {
	// Host is the host that bindings without their own host listen on.
	Host string `yaml:"host"`

	// PortOffset shifts the port of every binding by ten times its value, so
	// that several brokers may run on the same host.
	PortOffset int `yaml:"portOffset"`

	CommandAPI    SocketBinding `yaml:"commandApi"`
	InternalAPI   SocketBinding `yaml:"internalApi"`
	MonitoringAPI SocketBinding `yaml:"monitoringApi"`
}

// SocketBinding configures a single listener.
type SocketBinding struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	SendBufferSize ByteSize `yaml:"sendBufferSize"`
}

// Address returns the binding's TCP address.
func (b SocketBinding) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Log configures the broker's log output.
type Log struct {
	// Level is either "info" or "debug".
	Level string `yaml:"level"`
}

// Load reads the configuration in the file at path.
//
// The defaults are applied and the result is validated.
func Load(path string) (*Broker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("unable to load configuration from %s: %w", path, err)
	}

	return b, nil
}

// Parse reads the configuration from r.
//
// The defaults are applied and the result is validated. An empty document
// yields the default configuration.
func Parse(r io.Reader) (*Broker, error) {
	b := &Broker{}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(b); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	b.ApplyDefaults()

	if err := b.Validate(); err != nil {
		return nil, err
	}

	return b, nil
}

// ApplyDefaults populates the fields that are not set.
//
// It must be called once, as it applies the network port offset to every
// binding.
func (b *Broker) ApplyDefaults() {
	if b.PartitionsCount == 0 {
		b.PartitionsCount = DefaultPartitionsCount
	}

	if b.ClusterSize == 0 {
		b.ClusterSize = DefaultClusterSize
	}

	if b.Log.Level == "" {
		b.Log.Level = "info"
	}

	n := &b.Network
	if n.Host == "" {
		n.Host = DefaultHost
	}

	n.CommandAPI.applyDefaults(n, DefaultCommandAPIPort)
	n.InternalAPI.applyDefaults(n, DefaultInternalAPIPort)
	n.MonitoringAPI.applyDefaults(n, DefaultMonitoringAPIPort)
}

func (b *SocketBinding) applyDefaults(n *Network, port int) {
	if b.Host == "" {
		b.Host = n.Host
	}

	if b.Port == 0 {
		b.Port = port
	}

	if b.SendBufferSize == 0 {
		b.SendBufferSize = DefaultSendBufferSize
	}

	b.Port += n.PortOffset * 10
}

// Validate returns an error if the configuration is inconsistent.
func (b *Broker) Validate() error {
	if b.PartitionsCount < 0 {
		return fmt.Errorf("partitionsCount must not be negative, got %d", b.PartitionsCount)
	}

	if b.ClusterSize < 1 {
		return fmt.Errorf("clusterSize must be positive, got %d", b.ClusterSize)
	}

	if b.ClusterSize > 1 || len(b.Members) > 0 {
		if b.NodeID == "" {
			return errors.New("nodeId is required when members are configured")
		}

		if len(b.Members) != b.ClusterSize {
			return fmt.Errorf(
				"expected %d members, got %d",
				b.ClusterSize,
				len(b.Members),
			)
		}

		if _, ok := b.Members[b.NodeID]; !ok {
			return fmt.Errorf("members must include the local node %q", b.NodeID)
		}
	}

	for _, x := range []struct {
		name string
		b    SocketBinding
	}{
		{"commandApi", b.Network.CommandAPI},
		{"internalApi", b.Network.InternalAPI},
		{"monitoringApi", b.Network.MonitoringAPI},
	} {
		if x.b.Port < 1 || x.b.Port > 65535 {
			return fmt.Errorf("%s port out of range: %d", x.name, x.b.Port)
		}
	}

	if b.Data.SnapshotPeriod < 0 {
		return errors.New("data.snapshotPeriod must not be negative")
	}

	if b.Data.MaxSnapshots < 0 {
		return errors.New("data.maxSnapshots must not be negative")
	}

	switch b.Log.Level {
	case "info", "debug":
	default:
		return fmt.Errorf("log.level must be 'info' or 'debug', got %q", b.Log.Level)
	}

	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteSize is a number of bytes.
//
// In YAML it is written as an integer with an optional K, M or G suffix, such
// as "16M".
type ByteSize int64

// Byte size units.
const (
	Kilobyte ByteSize = 1 << (10 * (iota + 1))
	Megabyte
	Gigabyte
)

// ParseByteSize parses a byte size with an optional K, M or G suffix.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	unit := ByteSize(1)
	n := s

	switch s[len(s)-1] {
	case 'k', 'K':
		unit = Kilobyte
	case 'm', 'M':
		unit = Megabyte
	case 'g', 'G':
		unit = Gigabyte
	}

	if unit != 1 {
		n = s[:len(s)-1]
	}

	v, err := strconv.ParseInt(n, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	return ByteSize(v) * unit, nil
}

// String returns the size using the largest unit that divides it exactly.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0"
	case b%Gigabyte == 0:
		return fmt.Sprintf("%dG", b/Gigabyte)
	case b%Megabyte == 0:
		return fmt.Sprintf("%dM", b/Megabyte)
	case b%Kilobyte == 0:
		return fmt.Sprintf("%dK", b/Kilobyte)
	default:
		return strconv.FormatInt(int64(b), 10)
	}
}

// UnmarshalYAML parses a byte size from a YAML scalar.
func (b *ByteSize) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", n.Line)
	}

	v, err := ParseByteSize(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}

	*b = v
	return nil
}

// MarshalYAML returns the size in its string form.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

package bboltx

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
)

// Parent is a transaction or bucket that contains buckets.
type Parent interface {
	CreateBucketIfNotExists([]byte) (*bbolt.Bucket, error)
	Bucket([]byte) *bbolt.Bucket
}

var (
	_ Parent = (*bbolt.Tx)(nil)
	_ Parent = (*bbolt.Bucket)(nil)
)

// CreateBucketIfNotExists returns the bucket at the given path below p,
// creating it and its ancestors as necessary.
func CreateBucketIfNotExists(p Parent, path ...[]byte) *bbolt.Bucket {
	var b *bbolt.Bucket

	for _, name := range path {
		child, err := p.CreateBucketIfNotExists(name)
		Must(err)
		b, p = child, child
	}

	if b == nil {
		panic("bucket path must not be empty")
	}

	return b
}

// Bucket returns the bucket at the given path below p, or nil if it does not
// exist.
func Bucket(p Parent, path ...[]byte) *bbolt.Bucket {
	var b *bbolt.Bucket

	for _, name := range path {
		if b = p.Bucket(name); b == nil {
			return nil
		}
		p = b
	}

	return b
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	Must(b.Put(k, v))
}

// present is the value stored against keys in buckets that are used as sets.
var present = []byte{1}

// Add adds k to a bucket that is used as a set.
func Add(b *bbolt.Bucket, k []byte) {
	Put(b, k, present)
}

// Has returns true if k is in b. It returns false if b is nil.
func Has(b *bbolt.Bucket, k []byte) bool {
	return b != nil && b.Get(k) != nil
}

// Get returns a copy of the value associated with k.
//
// It returns nil if b is nil or the key does not exist.
func Get(b *bbolt.Bucket, k []byte) []byte {
	if b == nil {
		return nil
	}

	v := b.Get(k)
	if v == nil {
		return nil
	}

	return append([]byte{}, v...)
}

// Delete removes k from b. It is a no-op if b is nil.
func Delete(b *bbolt.Bucket, k []byte) {
	if b != nil {
		Must(b.Delete(k))
	}
}

// ForEachPrefix calls fn for each key in b that begins with prefix, in key
// order. Iteration stops if fn returns false.
//
// fn must not modify b. Keys passed to fn are only valid during the call.
func ForEachPrefix(b *bbolt.Bucket, prefix []byte, fn func(k, v []byte) bool) {
	if b == nil {
		return
	}

	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

// Keys returns copies of the keys in b that begin with prefix.
//
// Unlike ForEachPrefix() the result may be used to modify b.
func Keys(b *bbolt.Bucket, prefix []byte) [][]byte {
	var keys [][]byte

	ForEachPrefix(b, prefix, func(k, _ []byte) bool {
		keys = append(keys, append([]byte{}, k...))
		return true
	})

	return keys
}

// Uint64Key returns the big-endian representation of v, such that keys sort
// in numeric order.
func Uint64Key(v uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v)
}

// ParseUint64Key parses a key produced by Uint64Key().
func ParseUint64Key(k []byte) uint64 {
	if len(k) < 8 {
		panic("key is too short")
	}

	return binary.BigEndian.Uint64(k)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}

	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}

	return true
}

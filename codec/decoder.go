package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decoder reads fields from an encoded message.
//
// Fixed-length fields beyond the end of the block written by the encoder are
// decoded as zero values, and any trailing fixed-length fields that the
// decoder does not read are skipped by EndBlock(). This allows messages
// written by newer and older versions of a schema to be decoded.
//
// Errors are sticky; once a read fails all subsequent reads return zero values
// and Err() returns the first error.
type Decoder struct {
	Header Header

	buf      []byte
	off      int
	blockEnd int
	inBlock  bool
	err      error
}

// NewDecoder returns a decoder for the message in b.
//
// It returns ErrSchemaMismatch if b does not contain a message with the given
// schema and template IDs.
func NewDecoder(b []byte, schemaID, templateID uint16) (*Decoder, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}

	if h.SchemaID != schemaID || h.TemplateID != templateID {
		return nil, fmt.Errorf(
			"expected schema %d template %d, got schema %d template %d: %w",
			schemaID,
			templateID,
			h.SchemaID,
			h.TemplateID,
			ErrSchemaMismatch,
		)
	}

	end := HeaderLength + int(h.BlockLength)
	if len(b) < end {
		return nil, fmt.Errorf("unable to decode fixed-length block: %w", ErrShortBuffer)
	}

	return &Decoder{
		Header:   h,
		buf:      b,
		off:      HeaderLength,
		blockEnd: end,
		inBlock:  true,
	}, nil
}

// Err returns the first error that occurred while decoding.
func (d *Decoder) Err() error {
	return d.err
}

// Uint8 reads a fixed-length uint8 field.
func (d *Decoder) Uint8() uint8 {
	if b := d.fixed(1); b != nil {
		return b[0]
	}
	return 0
}

// Bool reads a fixed-length boolean field.
func (d *Decoder) Bool() bool {
	return d.Uint8() != 0
}

// Uint16 reads a fixed-length uint16 field.
func (d *Decoder) Uint16() uint16 {
	if b := d.fixed(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// Int16 reads a fixed-length int16 field.
func (d *Decoder) Int16() int16 {
	return int16(d.Uint16())
}

// Int32 reads a fixed-length int32 field.
func (d *Decoder) Int32() int32 {
	if b := d.fixed(4); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// Int64 reads a fixed-length int64 field.
func (d *Decoder) Int64() int64 {
	if b := d.fixed(8); b != nil {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// Float64 reads a fixed-length float64 field.
func (d *Decoder) Float64() float64 {
	if b := d.fixed(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// EndBlock skips any unread fixed-length fields.
func (d *Decoder) EndBlock() {
	if d.inBlock {
		d.off = d.blockEnd
		d.inBlock = false
	}
}

// Bytes reads a variable-length field.
//
// It returns nil if the field is empty.
func (d *Decoder) Bytes() []byte {
	n := d.Count()
	if n == 0 {
		return nil
	}

	b := d.take(n)
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

// String reads a variable-length string field.
func (d *Decoder) String() string {
	n := d.Count()
	if n == 0 {
		return ""
	}

	return string(d.take(n))
}

// Count reads the number of elements in a repeated group.
func (d *Decoder) Count() int {
	d.EndBlock()

	if b := d.take(4); b != nil {
		return int(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// Int64s reads a variable-length list of int64 values.
//
// It returns nil if the list is empty.
func (d *Decoder) Int64s() []int64 {
	n := d.Count()
	if n == 0 {
		return nil
	}

	v := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		b := d.take(8)
		if b == nil {
			return nil
		}
		v = append(v, int64(binary.LittleEndian.Uint64(b)))
	}

	return v
}

func (d *Decoder) fixed(n int) []byte {
	if d.err != nil {
		return nil
	}

	if !d.inBlock {
		panic("fixed-length fields must precede variable-length fields")
	}

	if d.off+n > d.blockEnd {
		// The field was not present in the version of the schema that was
		// used to encode the message.
		d.off = d.blockEnd
		return nil
	}

	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}

	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("unable to decode variable-length field: %w", ErrShortBuffer)
		return nil
	}

	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

package codec

import (
	"encoding/binary"
	"math"
)

// Encoder builds an encoded message.
//
// Fixed-length fields must all be written before EndBlock() is called.
// Variable-length fields are written afterwards.
type Encoder struct {
	header  Header
	buf     []byte
	inBlock bool
}

// NewEncoder returns an encoder for a message with the given identity.
func NewEncoder(schemaID, templateID, version uint16) *Encoder {
	return &Encoder{
		header: Header{
			SchemaID:   schemaID,
			TemplateID: templateID,
			Version:    version,
		},
		buf:     make([]byte, HeaderLength, 64),
		inBlock: true,
	}
}

// Uint8 appends a fixed-length uint8 field.
func (e *Encoder) Uint8(v uint8) {
	e.fixed()
	e.buf = append(e.buf, v)
}

// Bool appends a fixed-length boolean field.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

// Uint16 appends a fixed-length uint16 field.
func (e *Encoder) Uint16(v uint16) {
	e.fixed()
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

// Int16 appends a fixed-length int16 field.
func (e *Encoder) Int16(v int16) {
	e.Uint16(uint16(v))
}

// Int32 appends a fixed-length int32 field.
func (e *Encoder) Int32(v int32) {
	e.fixed()
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

// Int64 appends a fixed-length int64 field.
func (e *Encoder) Int64(v int64) {
	e.fixed()
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

// Float64 appends a fixed-length float64 field.
func (e *Encoder) Float64(v float64) {
	e.fixed()
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// EndBlock marks the end of the fixed-length block.
func (e *Encoder) EndBlock() {
	if !e.inBlock {
		panic("fixed-length block has already ended")
	}

	n := len(e.buf) - HeaderLength
	if n > math.MaxUint16 {
		panic("fixed-length block is too large")
	}

	e.header.BlockLength = uint16(n)
	e.inBlock = false
}

// Bytes appends a variable-length field.
func (e *Encoder) Bytes(v []byte) {
	e.variable()
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// String appends a variable-length string field.
func (e *Encoder) String(v string) {
	e.variable()
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// Count appends the number of elements in a repeated group that follows.
func (e *Encoder) Count(n int) {
	e.variable()
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(n))
}

// Int64s appends a variable-length list of int64 values.
func (e *Encoder) Int64s(v []int64) {
	e.Count(len(v))
	for _, x := range v {
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(x))
	}
}

// Finish returns the encoded message.
func (e *Encoder) Finish() []byte {
	if e.inBlock {
		e.EndBlock()
	}

	e.header.put(e.buf)
	return e.buf
}

func (e *Encoder) fixed() {
	if !e.inBlock {
		panic("fixed-length fields must precede variable-length fields")
	}
}

func (e *Encoder) variable() {
	if e.inBlock {
		e.EndBlock()
	}
}

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLength is the size of an encoded Header, in bytes.
const HeaderLength = 8

var (
	// ErrShortBuffer is returned when a buffer is too small to contain the
	// message it claims to contain.
	ErrShortBuffer = errors.New("buffer is too short")

	// ErrSchemaMismatch is returned when a buffer contains a message from a
	// different schema or template than the one being decoded.
	ErrSchemaMismatch = errors.New("schema or template does not match")
)

// Header is the fixed-size prefix of every encoded message.
//
// The header is followed by a fixed-length block of BlockLength bytes and then
// by a variable-length block.
type Header struct {
	SchemaID    uint16
	TemplateID  uint16
	BlockLength uint16
	Version     uint16
}

// DecodeHeader decodes the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("unable to decode header: %w", ErrShortBuffer)
	}

	return Header{
		SchemaID:    binary.LittleEndian.Uint16(b[0:]),
		TemplateID:  binary.LittleEndian.Uint16(b[2:]),
		BlockLength: binary.LittleEndian.Uint16(b[4:]),
		Version:     binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// TryWrap returns true if b contains a message with the given schema and
// template IDs.
func TryWrap(b []byte, schemaID, templateID uint16) bool {
	h, err := DecodeHeader(b)
	if err != nil {
		return false
	}

	return h.SchemaID == schemaID && h.TemplateID == templateID
}

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], h.SchemaID)
	binary.LittleEndian.PutUint16(b[2:], h.TemplateID)
	binary.LittleEndian.PutUint16(b[4:], h.BlockLength)
	binary.LittleEndian.PutUint16(b[6:], h.Version)
}

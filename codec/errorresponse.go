package codec

import "fmt"

const (
	// ErrorResponseSchemaID is the schema ID of an encoded ErrorResponse.
	ErrorResponseSchemaID uint16 = 0

	// ErrorResponseTemplateID is the template ID of an encoded ErrorResponse.
	ErrorResponseTemplateID uint16 = 120

	errorResponseVersion uint16 = 1
)

// ErrorCode identifies the class of failure described by an ErrorResponse.
type ErrorCode int16

const (
	// PartitionLeaderMismatch indicates that the request was sent to a node
	// that is not the leader of the target partition.
	PartitionLeaderMismatch ErrorCode = iota

	// ResourceExhausted indicates that the receiver is overloaded.
	ResourceExhausted

	// SBEUnknown indicates an unrecognized error code.
	SBEUnknown

	// InternalError indicates an unexpected failure within the receiver.
	InternalError

	// MalformedRequest indicates that the request could not be decoded.
	MalformedRequest

	// UnsupportedMessage indicates that the receiver does not handle the
	// request's message type.
	UnsupportedMessage

	// InvalidClientVersion indicates that the request was encoded with an
	// unsupported protocol version.
	InvalidClientVersion

	// InvalidMessageTemplate indicates that the request's template ID is not
	// known to the receiver.
	InvalidMessageTemplate
)

func (c ErrorCode) String() string {
	switch c {
	case PartitionLeaderMismatch:
		return "PARTITION_LEADER_MISMATCH"
	case ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case InternalError:
		return "INTERNAL_ERROR"
	case MalformedRequest:
		return "MALFORMED_REQUEST"
	case UnsupportedMessage:
		return "UNSUPPORTED_MESSAGE"
	case InvalidClientVersion:
		return "INVALID_CLIENT_VERSION"
	case InvalidMessageTemplate:
		return "INVALID_MESSAGE_TEMPLATE"
	default:
		return "SBE_UNKNOWN"
	}
}

// ErrorResponse is a reply that indicates a request could not be handled.
type ErrorResponse struct {
	Code ErrorCode
	Data []byte
}

// Errorf returns a new error response with a formatted message as its data.
func Errorf(c ErrorCode, f string, v ...any) *ErrorResponse {
	return &ErrorResponse{
		Code: c,
		Data: []byte(fmt.Sprintf(f, v...)),
	}
}

func (r *ErrorResponse) Error() string {
	if len(r.Data) == 0 {
		return r.Code.String()
	}

	return fmt.Sprintf("%s: %s", r.Code, r.Data)
}

// TryWrap returns true if b contains an encoded ErrorResponse.
func (r *ErrorResponse) TryWrap(b []byte) bool {
	return TryWrap(b, ErrorResponseSchemaID, ErrorResponseTemplateID)
}

// MarshalBinary returns the binary representation of the response.
func (r *ErrorResponse) MarshalBinary() ([]byte, error) {
	e := NewEncoder(ErrorResponseSchemaID, ErrorResponseTemplateID, errorResponseVersion)
	e.Int16(int16(r.Code))
	e.Bytes(r.Data)
	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *ErrorResponse) UnmarshalBinary(b []byte) error {
	d, err := NewDecoder(b, ErrorResponseSchemaID, ErrorResponseTemplateID)
	if err != nil {
		return err
	}

	code := ErrorCode(d.Int16())
	if code < PartitionLeaderMismatch || code > InvalidMessageTemplate {
		code = SBEUnknown
	}

	r.Code = code
	r.Data = d.Bytes()

	return d.Err()
}

package grpcx

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Errorf returns a gRPC status error with a formatted message.
func Errorf(code codes.Code, f string, v ...any) error {
	return status.Newf(code, f, v...).Err()
}

// Code returns the status code of err, or codes.Unknown if err did not
// originate from a gRPC status.
func Code(err error) codes.Code {
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

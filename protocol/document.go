package protocol

import (
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalOptions produces identical bytes for identical documents, which is
// required for replayed state to match the original state.
var marshalOptions = proto.MarshalOptions{Deterministic: true}

// MarshalDocument returns the binary representation of a variable document.
//
// It returns nil if the document is empty.
func MarshalDocument(doc map[string]any) ([]byte, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	s, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, err
	}

	return marshalOptions.Marshal(s)
}

// MustMarshalDocument returns the binary representation of a variable
// document. It panics if the document contains unsupported value types.
func MustMarshalDocument(doc map[string]any) []byte {
	b, err := MarshalDocument(doc)
	if err != nil {
		panic(err)
	}

	return b
}

// UnmarshalDocument returns the variable document represented by b.
//
// It always returns a non-nil map.
func UnmarshalDocument(b []byte) (map[string]any, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, err
	}

	return s.AsMap(), nil
}

// MarshalVariable returns the binary representation of a single variable
// value.
func MarshalVariable(v any) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, err
	}

	return marshalOptions.Marshal(pv)
}

// UnmarshalVariable returns the variable value represented by b.
func UnmarshalVariable(b []byte) (any, error) {
	pv := &structpb.Value{}
	if err := proto.Unmarshal(b, pv); err != nil {
		return nil, err
	}

	return pv.AsInterface(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

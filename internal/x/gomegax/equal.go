// Package gomegax contains Gomega matchers used by the engine's tests.
package gomegax

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"
	"google.golang.org/protobuf/testing/protocmp"
)

// EqualRecord matches values that are semantically equal to expected
// according to cmp.Equal().
//
// Empty and nil slices and maps are considered equal, and protocol buffers
// messages such as variable documents are compared by their content.
func EqualRecord(expected any, options ...cmp.Option) types.GomegaMatcher {
	return &equalRecord{
		expected: expected,
		options: append(
			cmp.Options{
				cmpopts.EquateEmpty(),
				protocmp.Transform(),
			},
			options...,
		),
	}
}

type equalRecord struct {
	expected any
	options  cmp.Options
}

func (m *equalRecord) Match(actual any) (bool, error) {
	return cmp.Equal(actual, m.expected, m.options), nil
}

func (m *equalRecord) FailureMessage(actual any) string {
	return format.Message(actual, "to equal", m.expected) +
		"\n\nDiff (-actual +expected):\n" +
		format.IndentString(cmp.Diff(actual, m.expected, m.options), 1)
}

func (m *equalRecord) NegatedFailureMessage(actual any) string {
	return format.Message(actual, "not to equal", m.expected)
}

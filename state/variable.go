package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	variablesBucketKey = []byte("variables")
	scopesBucketKey    = []byte("variables.scopes")
	temporaryBucketKey = []byte("variables.temporary")
)

// Variable is a variable within a scope.
type Variable struct {
	Key   int64
	Scope int64
	Name  string
	Value []byte
}

// VariableState is the view of variables.
//
// Each element instance is a variable scope. The parent of a scope is the
// scope of the element instance's flow scope.
type VariableState struct{ t *Tx }

// Variables returns the view of variables.
func (t *Tx) Variables() VariableState {
	return VariableState{t}
}

// SetParent sets the parent of a scope.
func (s VariableState) SetParent(scope, parent int64) {
	bboltx.Put(s.t.bucket(scopesBucketKey), int64Key(scope), int64Key(parent))
}

// Parent returns the parent of a scope, or 0 if the scope is a root scope.
func (s VariableState) Parent(scope int64) int64 {
	v := bboltx.Get(s.t.bucket(scopesBucketKey), int64Key(scope))
	if v == nil {
		return 0
	}
	return parseInt64Key(v)
}

// Set stores a variable in the given scope.
func (s VariableState) Set(v *Variable) {
	data := encodeEntry(variableTemplate, func(e *codec.Encoder) {
		e.Int64(v.Key)
		e.EndBlock()
		e.Bytes(v.Value)
	})

	bboltx.Put(s.t.bucket(variablesBucketKey), variableKey(v.Scope, v.Name), data)
}

// Get returns the variable with the given name in the given scope, without
// considering its parents.
func (s VariableState) Get(scope int64, name string) (*Variable, bool) {
	data := bboltx.Get(s.t.bucket(variablesBucketKey), variableKey(scope, name))
	if data == nil {
		return nil, false
	}

	return decodeVariable(scope, name, data), true
}

// Lookup returns the variable with the given name that is visible from the
// given scope. The nearest scope takes precedence.
func (s VariableState) Lookup(scope int64, name string) (*Variable, bool) {
	for scope > 0 {
		if v, ok := s.Get(scope, name); ok {
			return v, true
		}
		scope = s.Parent(scope)
	}

	return nil, false
}

// Local returns the variables defined in the given scope.
func (s VariableState) Local(scope int64) []*Variable {
	var vars []*Variable

	bboltx.ForEachPrefix(
		s.t.bucket(variablesBucketKey),
		int64Key(scope),
		func(k, v []byte) bool {
			vars = append(vars, decodeVariable(scope, string(k[8:]), v))
			return true
		},
	)

	return vars
}

// Visible returns the encoded values of all variables visible from the given
// scope.
func (s VariableState) Visible(scope int64) map[string][]byte {
	values := map[string][]byte{}

	for scope > 0 {
		for _, v := range s.Local(scope) {
			if _, ok := values[v.Name]; !ok {
				values[v.Name] = v.Value
			}
		}
		scope = s.Parent(scope)
	}

	return values
}

// Document returns the variables visible from the given scope as a document.
func (s VariableState) Document(scope int64) (map[string]any, error) {
	doc := map[string]any{}

	for n, data := range s.Visible(scope) {
		v, err := protocol.UnmarshalVariable(data)
		if err != nil {
			return nil, err
		}
		doc[n] = v
	}

	return doc, nil
}

// RemoveScope removes all variables of a scope, its parent link and any
// temporary variables.
func (s VariableState) RemoveScope(scope int64) {
	b := s.t.bucket(variablesBucketKey)
	for _, k := range bboltx.Keys(b, int64Key(scope)) {
		bboltx.Delete(b, k)
	}

	bboltx.Delete(s.t.bucket(scopesBucketKey), int64Key(scope))
	bboltx.Delete(s.t.bucket(temporaryBucketKey), int64Key(scope))
}

// SetTemporary stores a document that is applied to a scope when its element
// completes, such as the variables of a completed job or correlated message.
func (s VariableState) SetTemporary(scope int64, doc []byte) {
	if len(doc) == 0 {
		s.RemoveTemporary(scope)
		return
	}

	bboltx.Put(s.t.bucket(temporaryBucketKey), int64Key(scope), doc)
}

// Temporary returns the temporary document of a scope.
func (s VariableState) Temporary(scope int64) []byte {
	return bboltx.Get(s.t.bucket(temporaryBucketKey), int64Key(scope))
}

// RemoveTemporary removes the temporary document of a scope.
func (s VariableState) RemoveTemporary(scope int64) {
	bboltx.Delete(s.t.bucket(temporaryBucketKey), int64Key(scope))
}

func variableKey(scope int64, name string) []byte {
	return join(int64Key(scope), []byte(name))
}

func decodeVariable(scope int64, name string, data []byte) *Variable {
	v := &Variable{Scope: scope, Name: name}

	decodeEntry(data, variableTemplate, func(d *codec.Decoder) {
		v.Key = d.Int64()
		d.EndBlock()
		v.Value = d.Bytes()
	})

	return v
}

package bboltx

// Failure is the panic value used by Must() to abort a transaction.
type Failure struct {
	Err error
}

func (f Failure) Error() string {
	return f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Must aborts the current transaction by panicking with a Failure if err is
// non-nil.
func Must(err error) {
	if err != nil {
		panic(Failure{err})
	}
}

// Recover assigns the cause of a Failure panic to *err.
//
// It must be called directly by a deferred statement. Other panics are
// propagated.
func Recover(err *error) {
	switch v := recover().(type) {
	case nil:
	case Failure:
		*err = v.Err
	default:
		panic(v)
	}
}

package processor

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/protocol"
)

// RejectionError is an error returned by a command processor to reject the
// command.
type RejectionError struct {
	Type   protocol.RejectionType
	Reason string
}

// Reject returns a RejectionError with a formatted reason.
func Reject(t protocol.RejectionType, f string, v ...any) RejectionError {
	return RejectionError{t, fmt.Sprintf(f, v...)}
}

func (e RejectionError) Error() string {
	return fmt.Sprintf("command rejected (%s): %s", e.Type, e.Reason)
}

// CommandControl accepts or rejects a command.
type CommandControl struct {
	pc       *Context
	key      int64
	accepted *protocol.Record
	rejected *protocol.Record
}

// Key returns the key of the entity that the command applies to.
//
// If the command does not carry a key a new key is generated.
func (c *CommandControl) Key() int64 {
	if c.key == keys.None {
		c.key = c.pc.NextKey()
	}
	return c.key
}

// Accept stages the event that results from the command and responds to the
// command's request with that event.
func (c *CommandControl) Accept(i protocol.Intent, v protocol.Value) *protocol.Record {
	if c.accepted != nil || c.rejected != nil {
		panic("command has already been accepted or rejected")
	}

	c.accepted = c.pc.WriteEvent(c.Key(), i, v)
	c.pc.Respond(c.accepted)

	return c.accepted
}

// Reject stages the rejection of the command.
func (c *CommandControl) Reject(t protocol.RejectionType, f string, v ...any) {
	if c.accepted != nil || c.rejected != nil {
		panic("command has already been accepted or rejected")
	}

	c.rejected = c.pc.WriteRejection(t, fmt.Sprintf(f, v...))
}

// CommandFunc is a processor of commands.
//
// If it returns a RejectionError the command is rejected.
type CommandFunc func(pc *Context, ctl *CommandControl) error

// Process calls fn with a control for the command being processed.
func (fn CommandFunc) Process(pc *Context) error {
	ctl := &CommandControl{
		pc:  pc,
		key: pc.Record.Key,
	}

	if ctl.key < 0 {
		ctl.key = keys.None
	}

	err := fn(pc, ctl)

	var rej RejectionError
	if errors.As(err, &rej) {
		if ctl.accepted != nil {
			return fmt.Errorf("command was rejected after it was accepted: %w", err)
		}
		ctl.Reject(rej.Type, "%s", rej.Reason)
		return nil
	}

	return err
}

package rlog

import (
	"fmt"
	"io"
)

const (
	// PositionIcon is the icon shown directly before a record's log position.
	// It is an "equals sign", indicating that the record "is at" the displayed
	// position.
	PositionIcon Icon = "="

	// SourceIcon is the icon shown directly before the position of the record
	// that caused a record to be written. It is the mathematical "because"
	// symbol.
	SourceIcon Icon = "∵"

	// ProcessIcon is the icon shown when a record is being processed. It is a
	// downward pointing arrow, as the record is "read" from the log.
	ProcessIcon Icon = "▼"

	// ReprocessIcon is a variant of ProcessIcon used when a record is being
	// processed to rebuild the state after a restart. It is hollow, as none
	// of its follow-up records are written.
	ReprocessIcon Icon = "▽"

	// WriteIcon is the icon shown when a record is appended to the log. It is
	// an upward pointing arrow.
	WriteIcon Icon = "▲"

	// RejectIcon is the icon shown when a command is rejected.
	RejectIcon Icon = "⊘"

	// RetryIcon is the icon used when processing of a record is re-attempted.
	RetryIcon Icon = "↻"

	// ErrorIcon is the icon shown when logging information about an error.
	ErrorIcon Icon = "✖"

	// SystemIcon is the icon shown when a log message relates to the
	// internals of the engine, rather than to a specific record.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is used to separate unrelated text inside a log message.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	if i == "" {
		return " "
	}
	return string(i)
}

// WriteTo writes the icon to w. The zero-value is rendered as a single space.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, i.String())
	return int64(n), err
}

// Label returns a Label with this icon and formatted text.
func (i Icon) Label(f string, v ...any) Label {
	return Label{i, fmt.Sprintf(f, v...)}
}

// Position returns a Label with this icon and a log position. Negative
// positions have no text.
func (i Icon) Position(p int64) Label {
	if p < 0 {
		return Label{Icon: i}
	}
	return i.Label("%d", p)
}

// Label is an icon followed by a short piece of text, such as a position.
type Label struct {
	Icon Icon
	Text string
}

func (l Label) String() string {
	if l.Text == "" {
		return l.Icon.String() + " -"
	}
	return l.Icon.String() + " " + l.Text
}

// WriteTo writes the label to w. Empty text is rendered as a hyphen.
func (l Label) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, l.String())
	return int64(n), err
}

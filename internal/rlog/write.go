package rlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

// Line is a single log message.
//
// It is rendered as its labels, each followed by two spaces, then its icons,
// each followed by a single space, then its non-empty text fragments
// separated by SeparatorIcon.
type Line struct {
	Labels []Label
	Icons  []Icon
	Text   []string
}

func (l Line) String() string {
	w := &strings.Builder{}
	l.mustWriteTo(w)
	return w.String()
}

// WriteTo writes the rendered line to w.
func (l Line) WriteTo(w io.Writer) (n int64, err error) {
	defer must.Recover(&err)
	return int64(l.mustWriteTo(w)), nil
}

func (l Line) mustWriteTo(w io.Writer) (n int) {
	for _, lbl := range l.Labels {
		n += must.WriteTo(w, lbl)
		n += must.WriteString(w, "  ")
	}

	for _, icon := range l.Icons {
		n += must.WriteTo(w, icon)
		n += must.WriteString(w, " ")
	}

	first := true
	for _, t := range l.Text {
		if t == "" {
			continue
		}

		if first {
			n += must.WriteString(w, " ")
			first = false
		} else {
			n += must.WriteString(w, " ")
			n += must.WriteTo(w, SeparatorIcon)
			n += must.WriteString(w, " ")
		}

		n += must.WriteString(w, t)
	}

	return n
}

package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Infinite is the number of repetitions of a cycle that repeats forever.
const Infinite int32 = -1

// ParseDuration parses a timer duration.
//
// It accepts both Go durations, such as "10s", and ISO-8601 durations of the
// form "PnDTnHnMnS".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "P") {
		return parseISODuration(s)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}

	return d, nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

func parseISODuration(s string) (time.Duration, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}

	for i, u := range units {
		if m[i+1] != "" {
			n, err := strconv.ParseInt(m[i+1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			d += time.Duration(n) * u
		}
	}

	if m[4] != "" {
		n, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d += time.Duration(n * float64(time.Second))
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}

	return d, nil
}

// Cycle is a repeating timer definition.
type Cycle struct {
	// Repetitions is the number of times the timer fires, or Infinite.
	Repetitions int32

	interval time.Duration
	schedule cron.Schedule
}

// ParseCycle parses a timer cycle.
//
// A cycle is either "R<n>/<interval>", where the interval is a duration or a
// cron specification such as "@every 1m", or a standard cron specification
// that repeats forever. "R/<interval>" repeats forever.
func ParseCycle(s string) (Cycle, error) {
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "R") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return Cycle{}, fmt.Errorf("invalid cycle %q: %w", s, err)
		}
		return Cycle{Repetitions: Infinite, schedule: sched}, nil
	}

	n, interval, ok := strings.Cut(s[1:], "/")
	if !ok {
		return Cycle{}, fmt.Errorf("invalid cycle %q: missing interval", s)
	}

	c := Cycle{Repetitions: Infinite}

	if n != "" {
		r, err := strconv.ParseInt(n, 10, 32)
		if err != nil || r <= 0 {
			return Cycle{}, fmt.Errorf("invalid cycle %q: repetitions must be a positive integer", s)
		}
		c.Repetitions = int32(r)
	}

	if d, err := ParseDuration(interval); err == nil {
		c.interval = d
		return c, nil
	}

	sched, err := cron.ParseStandard(interval)
	if err != nil {
		return Cycle{}, fmt.Errorf("invalid cycle %q: %w", s, err)
	}
	c.schedule = sched

	return c, nil
}

// Next returns the time that the timer fires after t.
func (c Cycle) Next(t time.Time) time.Time {
	if c.schedule != nil {
		return c.schedule.Next(t)
	}

	return t.Add(c.interval)
}

// CheckTimer returns an error if exactly one of duration and cycle is not a
// valid timer definition.
func CheckTimer(duration, cycle string) error {
	switch {
	case duration != "" && cycle != "":
		return errors.New("timer must specify either a duration or a cycle, not both")
	case duration != "":
		_, err := ParseDuration(duration)
		return err
	case cycle != "":
		_, err := ParseCycle(cycle)
		return err
	default:
		return errors.New("timer must specify a duration or a cycle")
	}
}

package routine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleKind string

const (
	ScheduleOnce      ScheduleKind = "once"
	ScheduleRecurring ScheduleKind = "recurring"
)

// Schedule is the timing rule of a routine.
//
//   - once: fires at the absolute timestamp At, at most once; afterwards the
//     owning definition is disabled.
//   - recurring: fires at TimeOfDay ("HH:MM", 24h) on each weekday in Days,
//     indefinitely.
type Schedule struct {
	Kind      ScheduleKind   `json:"kind"`
	At        time.Time      `json:"at,omitempty"`
	TimeOfDay string         `json:"time_of_day,omitempty"`
	Days      []time.Weekday `json:"days,omitempty"`
}

// ErrScheduleExpired marks a one-time schedule whose timestamp has passed.
// Reconciliation maps it to auto-disable, not to a validation failure.
var ErrScheduleExpired = errors.New("one-time schedule already passed")

// recurringParser is the classic 5-field cron parser; the recurring rule is
// expressed as "M H * * d,d,..." with Sunday=0, the same expression the
// system has always fed its cron layer.
var recurringParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the schedule structurally. It does not consider "now";
// expiry of one-time schedules is reported by Next.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleOnce:
		if s.At.IsZero() {
			return errors.New("once schedule requires a timestamp")
		}
		return nil
	case ScheduleRecurring:
		if len(s.Days) == 0 {
			return errors.New("recurring schedule requires at least one weekday")
		}
		for _, d := range s.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", int(d))
			}
		}
		if _, _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", string(s.Kind))
	}
}

// Next computes the earliest fire time strictly after now.
// For expired one-time schedules it returns ErrScheduleExpired.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleOnce:
		if s.At.IsZero() {
			return time.Time{}, errors.New("once schedule requires a timestamp")
		}
		if !s.At.After(now) {
			return time.Time{}, ErrScheduleExpired
		}
		return s.At, nil
	case ScheduleRecurring:
		spec, err := s.CronSpec()
		if err != nil {
			return time.Time{}, err
		}
		sched, err := recurringParser.Parse(spec)
		if err != nil {
			return time.Time{}, err
		}
		// cron Next is strictly after its argument, which keeps the
		// "next fire is always in the future" invariant for free.
		return sched.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", string(s.Kind))
	}
}

// CronSpec renders a recurring schedule as a 5-field cron expression.
func (s Schedule) CronSpec() (string, error) {
	if s.Kind != ScheduleRecurring {
		return "", errors.New("cron spec only applies to recurring schedules")
	}
	h, m, err := ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return "", err
	}
	days := normalizeDays(s.Days)
	if len(days) == 0 {
		return "", errors.New("recurring schedule requires at least one weekday")
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d)) // Sunday=0, matching both cron and time.Weekday
	}
	return fmt.Sprintf("%d %d * * %s", m, h, strings.Join(parts, ",")), nil
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleOnce:
		return "once at " + s.At.Format(time.RFC3339)
	case ScheduleRecurring:
		days := normalizeDays(s.Days)
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = d.String()[:3]
		}
		return fmt.Sprintf("%s on %s", s.TimeOfDay, strings.Join(parts, ","))
	default:
		return string(s.Kind)
	}
}

// ParseTimeOfDay parses "HH:MM" in 24h time.
func ParseTimeOfDay(v string) (hour, minute int, err error) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h, m, nil
}

func normalizeDays(days []time.Weekday) []time.Weekday {
	seen := [7]bool{}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

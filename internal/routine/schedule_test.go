package routine

import (
	"errors"
	"testing"
	"time"
)

func TestScheduleNextRecurring(t *testing.T) {
	t.Parallel()

	mwf := Schedule{
		Kind:      ScheduleRecurring,
		TimeOfDay: "07:00",
		Days:      []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}

	tests := []struct {
		name  string
		sched Schedule
		now   time.Time
		want  time.Time
	}{
		{
			name:  "tuesday morning rolls to wednesday",
			sched: mwf,
			// Tue 2026-01-06 08:00
			now:  time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC),
		},
		{
			name:  "exact fire time is not reused",
			sched: mwf,
			// Wed 07:00 sharp must give Friday, never "now".
			now:  time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 9, 7, 0, 0, 0, time.UTC),
		},
		{
			name:  "same day earlier hour",
			sched: mwf,
			// Wed 06:15 fires the same day.
			now:  time.Date(2026, 1, 7, 6, 15, 0, 0, time.UTC),
			want: time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "week wrap",
			sched: Schedule{
				Kind:      ScheduleRecurring,
				TimeOfDay: "06:30",
				Days:      []time.Weekday{time.Monday},
			},
			// Mon 07:00, past today's slot: next Monday.
			now:  time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 12, 6, 30, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.sched.Next(tc.now)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want)
			}
			if !got.After(tc.now) {
				t.Fatalf("Next = %v is not strictly after now %v", got, tc.now)
			}
		})
	}
}

func TestScheduleNextOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	future := Schedule{Kind: ScheduleOnce, At: now.Add(time.Hour)}
	got, err := future.Next(now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("Next = %v, want %v", got, now.Add(time.Hour))
	}

	for _, at := range []time.Time{now, now.Add(-time.Minute)} {
		expired := Schedule{Kind: ScheduleOnce, At: at}
		if _, err := expired.Next(now); !errors.Is(err, ErrScheduleExpired) {
			t.Fatalf("Next(at=%v) err = %v, want ErrScheduleExpired", at, err)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{
			name:  "valid recurring",
			sched: Schedule{Kind: ScheduleRecurring, TimeOfDay: "07:00", Days: []time.Weekday{time.Monday}},
		},
		{
			name:  "valid once",
			sched: Schedule{Kind: ScheduleOnce, At: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:    "recurring without weekdays",
			sched:   Schedule{Kind: ScheduleRecurring, TimeOfDay: "07:00"},
			wantErr: true,
		},
		{
			name:    "recurring with bad time",
			sched:   Schedule{Kind: ScheduleRecurring, TimeOfDay: "25:00", Days: []time.Weekday{time.Monday}},
			wantErr: true,
		},
		{
			name:    "recurring with bad weekday",
			sched:   Schedule{Kind: ScheduleRecurring, TimeOfDay: "07:00", Days: []time.Weekday{time.Weekday(9)}},
			wantErr: true,
		},
		{
			name:    "once without timestamp",
			sched:   Schedule{Kind: ScheduleOnce},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			sched:   Schedule{Kind: "hourly"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.sched.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestScheduleCronSpec(t *testing.T) {
	t.Parallel()

	s := Schedule{
		Kind:      ScheduleRecurring,
		TimeOfDay: "07:30",
		// Deliberately unsorted with a duplicate.
		Days: []time.Weekday{time.Friday, time.Monday, time.Friday, time.Wednesday},
	}
	spec, err := s.CronSpec()
	if err != nil {
		t.Fatalf("CronSpec: %v", err)
	}
	if want := "30 7 * * 1,3,5"; spec != want {
		t.Fatalf("CronSpec = %q, want %q", spec, want)
	}

	if _, err := (Schedule{Kind: ScheduleOnce}).CronSpec(); err == nil {
		t.Fatal("CronSpec on once schedule should fail")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	h, m, err := ParseTimeOfDay("23:59")
	if err != nil || h != 23 || m != 59 {
		t.Fatalf("ParseTimeOfDay = %d:%d, %v", h, m, err)
	}

	for _, bad := range []string{"", "7", "7:5:0", "24:00", "12:60", "ab:cd"} {
		if _, _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("ParseTimeOfDay(%q) should fail", bad)
		}
	}
}

package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martijn/vmvault/internal/core/domain"
)

// Trigger fires on start + k*interval boundaries between start and end.
type Trigger struct {
	Start    time.Time
	End      *time.Time
	Interval time.Duration
}

var _ cron.Schedule = (*Trigger)(nil)

// NewTrigger builds the trigger of a job schedule. created is used as the
// start when the schedule names none.
func NewTrigger(schedule domain.JobSchedule, created time.Time) (*Trigger, error) {
	start, err := schedule.StartAt(created)
	if err != nil {
		return nil, err
	}
	end, err := schedule.EndAt()
	if err != nil {
		return nil, err
	}
	return &Trigger{Start: start, End: end, Interval: schedule.IntervalDuration()}, nil
}

// IntervalSeconds is the clamped interval in whole seconds.
func (t *Trigger) IntervalSeconds() int64 {
	return int64(t.interval() / time.Second)
}

func (t *Trigger) interval() time.Duration {
	if t.Interval < domain.MinScheduleInterval {
		return domain.MinScheduleInterval
	}
	return t.Interval
}

// NextFireTime returns the first boundary at or after ref. The second result
// is false when the trigger will never fire again.
func (t *Trigger) NextFireTime(ref time.Time) (time.Time, bool) {
	if t.End != nil && t.End.Before(t.Start) {
		return time.Time{}, false
	}
	if ref.Before(t.Start) {
		return t.Start, true
	}
	if t.End != nil && ref.After(*t.End) {
		return time.Time{}, false
	}

	interval := t.interval()
	elapsed := ref.Sub(t.Start)
	n := elapsed / interval
	if elapsed%interval != 0 {
		n++
	}
	return t.Start.Add(n * interval), true
}

// Next implements cron.Schedule. cron expects a time strictly after ref and
// treats the zero time as never.
func (t *Trigger) Next(ref time.Time) time.Time {
	next, ok := t.NextFireTime(ref.Add(time.Nanosecond))
	if !ok {
		return time.Time{}
	}
	if t.End != nil && next.After(*t.End) {
		return time.Time{}
	}
	return next
}

func (t *Trigger) String() string {
	end := "no end"
	if t.End != nil {
		end = t.End.Format(time.RFC3339)
	}
	return fmt.Sprintf("every %s from %s until %s", t.interval(), t.Start.Format(time.RFC3339), end)
}

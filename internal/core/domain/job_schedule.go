package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type RetentionPolicyType string

const (
	RetentionByCount RetentionPolicyType = "count"
	RetentionByTime  RetentionPolicyType = "time"
)

const (
	// MinScheduleInterval bounds how often a workload may be snapshotted.
	MinScheduleInterval = 30 * time.Minute

	// FullBackupOnly marks a schedule that only ever takes its first full snapshot.
	FullBackupOnly = -1

	noEnd = "no end"
)

var (
	dateLayouts = []string{"01/02/2006", "2006-01-02", time.RFC3339}
	timeLayouts = []string{"3:04 PM", "3:04PM", "15:04", "15:04:05"}
)

// JobSchedule is the schedule and retention policy attached to a workload.
type JobSchedule struct {
	Enabled              bool                `json:"enabled"`
	StartDate            string              `json:"start_date,omitempty"`
	StartTime            string              `json:"start_time,omitempty"`
	EndDate              string              `json:"end_date,omitempty"`
	Interval             float64             `json:"interval"` // hours
	RetentionPolicyType  RetentionPolicyType `json:"retention_policy_type"`
	RetentionPolicyValue int                 `json:"retention_policy_value"`
	FullBackupInterval   int                 `json:"fullbackup_interval"`
}

func (s JobSchedule) Validate() error {
	if s.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	switch s.RetentionPolicyType {
	case RetentionByCount, RetentionByTime:
	default:
		return fmt.Errorf("retention_policy_type must be 'count' or 'time'")
	}
	if s.RetentionPolicyValue < 1 {
		return fmt.Errorf("retention_policy_value must be at least 1")
	}
	if s.FullBackupInterval < FullBackupOnly {
		return fmt.Errorf("fullbackup_interval must be -1, 0 or positive")
	}
	if _, err := s.StartAt(time.Now()); err != nil {
		return err
	}
	if _, err := s.EndAt(); err != nil {
		return err
	}
	return nil
}

// IntervalDuration returns the interval clamped to MinScheduleInterval.
func (s JobSchedule) IntervalDuration() time.Duration {
	d := time.Duration(s.Interval * float64(time.Hour))
	if d < MinScheduleInterval {
		return MinScheduleInterval
	}
	return d
}

// SnapshotsPerDay is the number of scheduled snapshots in 24 hours.
func (s JobSchedule) SnapshotsPerDay() int {
	return int((24 * time.Hour) / s.IntervalDuration())
}

// RetainedSnapshots is the expected number of snapshots held over the retention horizon.
func (s JobSchedule) RetainedSnapshots() int {
	if s.RetentionPolicyType == RetentionByTime {
		return s.RetentionPolicyValue * s.SnapshotsPerDay()
	}
	return s.RetentionPolicyValue
}

// RetentionWindow is the maximum age of a snapshot under time-based retention.
func (s JobSchedule) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionPolicyValue) * 24 * time.Hour
}

// StartAt resolves start_date/start_time; an empty or "now" date means created.
func (s JobSchedule) StartAt(created time.Time) (time.Time, error) {
	date := strings.TrimSpace(s.StartDate)
	if date == "" || strings.EqualFold(date, "now") {
		return created, nil
	}

	day, err := parseWithLayouts(date, dateLayouts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date %q", s.StartDate)
	}
	if s.StartTime == "" || strings.Contains(date, "T") {
		return day, nil
	}

	clock, err := parseWithLayouts(strings.ToUpper(strings.TrimSpace(s.StartTime)), timeLayouts)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_time %q", s.StartTime)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location()), nil
}

// EndAt resolves end_date. A nil result means the schedule never ends.
func (s JobSchedule) EndAt() (*time.Time, error) {
	date := strings.TrimSpace(s.EndDate)
	if date == "" || strings.EqualFold(date, noEnd) {
		return nil, nil
	}
	end, err := parseWithLayouts(date, dateLayouts)
	if err != nil {
		return nil, fmt.Errorf("invalid end_date %q", s.EndDate)
	}
	return &end, nil
}

func parseWithLayouts(value string, layouts []string) (time.Time, error) {
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Value stores the schedule as JSON text.
func (s JobSchedule) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *JobSchedule) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src interface{}, dst interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/robfig/cron/v3"

	"fknsrs.biz/p/ytcampaigns/internal/stringutil"
	"fknsrs.biz/p/ytcampaigns/models"
)

const (
	DefaultDayOfWeek = int(time.Friday)
	DefaultHour      = 9
	DefaultMinute    = 0
	DefaultTimezone  = "America/New_York"
)

var (
	ErrInvalidSchedule = fmt.Errorf("invalid schedule")
)

// ValidationError describes the first invalid field. It matches
// ErrInvalidSchedule.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSchedule
}

func Default() models.Schedule {
	return models.Schedule{
		DayOfWeek: DefaultDayOfWeek,
		Hour:      DefaultHour,
		Minute:    DefaultMinute,
		Timezone:  DefaultTimezone,
		Enabled:   true,
	}
}

// Load returns the stored schedule, or the default when none has been
// saved yet.
func Load(ctx context.Context, q sorm.Querier) (*models.Schedule, error) {
	var s models.Schedule
	if err := sorm.FindFirstWhere(ctx, q, &s, "where 1 = 1 order by id asc"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			d := Default()
			return &d, nil
		}

		return nil, fmt.Errorf("schedule.Load: %w", err)
	}

	return &s, nil
}

// Save stores s as the only schedule row.
func Save(ctx context.Context, tx *sql.Tx, s *models.Schedule, now time.Time) error {
	if err := Validate(*s); err != nil {
		return fmt.Errorf("schedule.Save: %w", err)
	}

	s.UpdatedAt = now.UTC()

	var existing models.Schedule
	if err := sorm.FindFirstWhere(ctx, tx, &existing, "where 1 = 1 order by id asc"); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schedule.Save: %w", err)
		}

		s.ID = 0
		if err := sorm.CreateRecord(ctx, tx, s); err != nil {
			return fmt.Errorf("schedule.Save: could not create schedule record: %w", err)
		}

		return nil
	}

	s.ID = existing.ID
	if err := sorm.SaveRecord(ctx, tx, s); err != nil {
		return fmt.Errorf("schedule.Save: could not save schedule record: %w", err)
	}

	return nil
}

// MarkRun records the time of a finished collection run.
func MarkRun(ctx context.Context, tx *sql.Tx, at time.Time) error {
	s, err := Load(ctx, tx)
	if err != nil {
		return fmt.Errorf("schedule.MarkRun: %w", err)
	}

	at = at.UTC()
	s.LastRunAt = &at

	if err := Save(ctx, tx, s, at); err != nil {
		return fmt.Errorf("schedule.MarkRun: %w", err)
	}

	return nil
}

func Validate(s models.Schedule) error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return &ValidationError{Message: "day of week must be between 0 (Sunday) and 6 (Saturday)"}
	}
	if s.Hour < 0 || s.Hour > 23 {
		return &ValidationError{Message: "hour must be between 0 and 23"}
	}
	if s.Minute < 0 || s.Minute > 59 {
		return &ValidationError{Message: "minute must be between 0 and 59"}
	}
	if s.Timezone == "" || strings.ContainsAny(s.Timezone, " \t") {
		return &ValidationError{Message: fmt.Sprintf("timezone %q is not an IANA zone name", s.Timezone)}
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return &ValidationError{Message: fmt.Sprintf("timezone %q is not an IANA zone name", s.Timezone)}
	}

	return nil
}

// Spec is the cron expression for s, with its timezone attached.
func Spec(s models.Schedule) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %d", s.Timezone, s.Minute, s.Hour, s.DayOfWeek)
}

// NextRun is the first time strictly after now that s fires, or nil when s
// is disabled.
func NextRun(s models.Schedule, now time.Time) (*time.Time, error) {
	if !s.Enabled {
		return nil, nil
	}

	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("schedule.NextRun: %w", err)
	}

	sched, err := cron.ParseStandard(Spec(s))
	if err != nil {
		return nil, fmt.Errorf("schedule.NextRun: %w", err)
	}

	next := sched.Next(now).UTC()

	return &next, nil
}

// View is the JSON form of a schedule. Numbers are strings, zero padded
// for the hour and minute.
type View struct {
	DayOfWeek string     `json:"dayOfWeek"`
	Hour      string     `json:"hour"`
	Minute    string     `json:"minute"`
	Timezone  string     `json:"timezone"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"lastRun"`
	NextRun   *time.Time `json:"nextRun"`
}

func MakeView(s models.Schedule, now time.Time) View {
	v := View{
		DayOfWeek: strconv.Itoa(s.DayOfWeek),
		Hour:      fmt.Sprintf("%02d", s.Hour),
		Minute:    fmt.Sprintf("%02d", s.Minute),
		Timezone:  s.Timezone,
		Enabled:   s.Enabled,
		LastRun:   s.LastRunAt,
	}

	if next, err := NextRun(s, now); err == nil {
		v.NextRun = next
	}

	return v
}

// Flexible accepts a number or a string holding one, so both {"hour": 9}
// and {"hour": "09"} parse, as does a form value.
type Flexible int

func (f *Flexible) UnmarshalText(b []byte) error {
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("schedule.Flexible.UnmarshalText: %w", err)
	}

	*f = Flexible(n)

	return nil
}

func (f *Flexible) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return f.UnmarshalText([]byte(s))
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("schedule.Flexible.UnmarshalJSON: %w", err)
	}

	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("schedule.Flexible.UnmarshalJSON: %w", err)
	}

	*f = Flexible(i)

	return nil
}

// FlexibleBool is a bool that also accepts form style values like "on".
type FlexibleBool bool

func (f *FlexibleBool) UnmarshalText(b []byte) error {
	switch s := string(b); {
	case stringutil.LooksTrue(s):
		*f = true
	case stringutil.LooksFalse(s):
		*f = false
	default:
		return fmt.Errorf("schedule.FlexibleBool.UnmarshalText: %q is not a boolean", s)
	}

	return nil
}

func (f *FlexibleBool) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = FlexibleBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("schedule.FlexibleBool.UnmarshalJSON: %w", err)
	}

	return f.UnmarshalText([]byte(s))
}

// Input is a schedule update. Missing fields keep their current value.
type Input struct {
	DayOfWeek *Flexible     `json:"dayOfWeek" formam:"dayOfWeek"`
	Hour      *Flexible     `json:"hour" formam:"hour"`
	Minute    *Flexible     `json:"minute" formam:"minute"`
	Timezone  *string       `json:"timezone" formam:"timezone"`
	Enabled   *FlexibleBool `json:"enabled" formam:"enabled"`
}

func (in Input) Apply(s models.Schedule) (models.Schedule, error) {
	if in.DayOfWeek != nil {
		s.DayOfWeek = int(*in.DayOfWeek)
	}
	if in.Hour != nil {
		s.Hour = int(*in.Hour)
	}
	if in.Minute != nil {
		s.Minute = int(*in.Minute)
	}
	if in.Timezone != nil {
		s.Timezone = strings.TrimSpace(*in.Timezone)
	}
	if in.Enabled != nil {
		s.Enabled = bool(*in.Enabled)
	}

	if err := Validate(s); err != nil {
		return s, fmt.Errorf("schedule.Input.Apply: %w", err)
	}

	return s, nil
}

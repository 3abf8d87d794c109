package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/ytcampaigns/internal/sqliteutil"
	"fknsrs.biz/p/ytcampaigns/internal/sqltypes"
)

const (
	DefaultFailureDelay    = time.Second * 5
	DefaultAttempts        = 5
	DefaultReserveDuration = time.Minute * 5

	// NoRetries as AttemptsRemaining means the job runs exactly once.
	NoRetries = -1
)

var (
	ErrDuplicateJob    = fmt.Errorf("a job with the same unique key is already pending")
	ErrJobNotFound     = fmt.Errorf("job not found")

	// ErrReservationLost means the job finished or was reserved again by
	// another runner after its reservation lapsed.
	ErrReservationLost = fmt.Errorf("job reservation lost")
)

// job definition

type Job struct {
	ID                int `sql:",table:jobs"`
	CreatedAt         time.Time
	QueueName         string
	UniqueKey         *string
	Payload           string
	RunAfter          time.Time
	FailureDelay      time.Duration
	AttemptsRemaining int
	ReservedAt        *time.Time
	ReservedUntil     *time.Time
	FinishedAt        *time.Time
	ErrorMessages     sqltypes.JSONStringSlice
	OutputMessages    sqltypes.JSONStringSlice
}

// NewJob builds a job for queueName carrying payload encoded as JSON.
func NewJob(queueName string, payload interface{}) (*Job, error) {
	s, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.NewJob: %w", err)
	}

	return &Job{QueueName: queueName, Payload: s}, nil
}

func EncodePayload(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jobqueue.EncodePayload: %w", err)
	}

	return string(b), nil
}

func (j *Job) DecodePayload(v interface{}) error {
	if j.Payload == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(j.Payload), v); err != nil {
		return fmt.Errorf("jobqueue.Job.DecodePayload: %w", err)
	}

	return nil
}

func (j *Job) Pending() bool {
	return j.FinishedAt == nil
}

func (j *Job) Failed() bool {
	return j.FinishedAt != nil && len(j.ErrorMessages) > 0 && j.ErrorMessages[len(j.ErrorMessages)-1] != ""
}

// LastOutput is the output recorded by the most recent attempt.
func (j *Job) LastOutput() string {
	if len(j.OutputMessages) == 0 {
		return ""
	}

	return j.OutputMessages[len(j.OutputMessages)-1]
}

// lookups

func Find(ctx context.Context, db sorm.Querier, id int) (*Job, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("jobqueue.Find: %w", ErrJobNotFound)
		}

		return nil, fmt.Errorf("jobqueue.Find: %w", err)
	}

	return &job, nil
}

func FindPending(ctx context.Context, db sorm.Querier, limit int) ([]Job, error) {
	var jobs []Job
	if err := sorm.FindWhere(ctx, db, &jobs, fmt.Sprintf("where finished_at is null order by run_after asc, id asc limit %d", limit)); err != nil {
		return nil, fmt.Errorf("jobqueue.FindPending: %w", err)
	}

	return jobs, nil
}

func FindRecent(ctx context.Context, db sorm.Querier, limit int) ([]Job, error) {
	var jobs []Job
	if err := sorm.FindWhere(ctx, db, &jobs, fmt.Sprintf("where 1 = 1 order by id desc limit %d", limit)); err != nil {
		return nil, fmt.Errorf("jobqueue.FindRecent: %w", err)
	}

	return jobs, nil
}

func findPendingByUniqueKey(ctx context.Context, db sorm.Querier, queueName, uniqueKey string) (*Job, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, "where queue_name = ? and unique_key = ? and finished_at is null", queueName, uniqueKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("jobqueue.findPendingByUniqueKey: %w", err)
	}

	return &job, nil
}

// create inserts job, or fills it from the pending job with the same unique
// key and returns ErrDuplicateJob.
func create(ctx context.Context, tx *sql.Tx, job *Job) error {
	if job.UniqueKey != nil {
		existing, err := findPendingByUniqueKey(ctx, tx, job.QueueName, *job.UniqueKey)
		if err != nil {
			return fmt.Errorf("jobqueue.create: %w", err)
		}
		if existing != nil {
			*job = *existing
			return fmt.Errorf("jobqueue.create: %w", ErrDuplicateJob)
		}
	}

	if err := sorm.CreateRecord(ctx, tx, job); err != nil {
		if job.UniqueKey != nil && sqliteutil.IsUniqueViolation(err) {
			if existing, err := findPendingByUniqueKey(ctx, tx, job.QueueName, *job.UniqueKey); err == nil && existing != nil {
				*job = *existing
			}

			return fmt.Errorf("jobqueue.create: %w", ErrDuplicateJob)
		}

		return fmt.Errorf("jobqueue.create: could not create job record: %w", err)
	}

	return nil
}

func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}

	var parameters []interface{}
	var placeholders []string

	for i := range queueNames {
		parameters = append(parameters, queueNames[i])
		placeholders = append(placeholders, fmt.Sprintf("?%d", i+1))
	}

	parameters = append(parameters, now)

	query := fmt.Sprintf(
		"where queue_name in (%s) and run_after <= ?%d and (reserved_until is null or reserved_until < ?%d) and finished_at is null order by run_after asc, id asc",
		strings.Join(placeholders, ", "),
		len(parameters),
		len(parameters),
	)

	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, query, parameters...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	return &job, nil
}

func reserve(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	if job.ReservedUntil != nil && job.ReservedUntil.After(now) {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job with a non-expired reservation")
	}
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job that has already finished")
	}

	if reserveDuration == 0 {
		reserveDuration = DefaultReserveDuration
	}

	reservedUntil := now.Add(reserveDuration)
	job.ReservedAt = &now
	job.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.reserve: could not save job record: %w", err)
	}

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not find next job: %w", err)
	}

	if j == nil {
		return nil, nil
	}

	if err := reserve(ctx, tx, j, now, reserveDuration); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not reserve job: %w", err)
	}

	return j, nil
}

// holdsReservation reports whether stored is still reserved by the runner
// holding job.
func holdsReservation(stored, job *Job) bool {
	return stored.FinishedAt == nil &&
		stored.ReservedAt != nil &&
		job.ReservedAt != nil &&
		stored.ReservedAt.Equal(*job.ReservedAt)
}

func extend(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	stored, err := Find(ctx, tx, job.ID)
	if err != nil {
		return fmt.Errorf("jobqueue.extend: %w", err)
	}

	if !holdsReservation(stored, job) {
		return fmt.Errorf("jobqueue.extend: %w", ErrReservationLost)
	}

	if reserveDuration == 0 {
		reserveDuration = DefaultReserveDuration
	}

	reservedUntil := now.Add(reserveDuration)
	stored.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, stored); err != nil {
		return fmt.Errorf("jobqueue.extend: could not save job record: %w", err)
	}

	job.ReservedUntil = &reservedUntil

	return nil
}

func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.finish: can't finish a job that has already finished")
	}

	stored, err := Find(ctx, tx, job.ID)
	if err != nil {
		return fmt.Errorf("jobqueue.finish: %w", err)
	}

	if !holdsReservation(stored, job) {
		return fmt.Errorf("jobqueue.finish: %w", ErrReservationLost)
	}

	job.FinishedAt = &now
	job.ErrorMessages = append(job.ErrorMessages, errorMessage)
	job.OutputMessages = append(job.OutputMessages, outputMessage)

	if errorMessage != "" && job.AttemptsRemaining > 0 {
		job.AttemptsRemaining--
		job.RunAfter = now.Add(job.FailureDelay)
		job.ReservedAt = nil
		job.ReservedUntil = nil
		job.FinishedAt = nil
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}

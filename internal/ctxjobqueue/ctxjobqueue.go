package ctxjobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
)

// context registration

var workerKey int

func WithWorker(ctx context.Context, w *jobqueue.Worker) context.Context {
	return context.WithValue(ctx, &workerKey, w)
}

func GetWorker(ctx context.Context) *jobqueue.Worker {
	if v := ctx.Value(&workerKey); v != nil {
		return v.(*jobqueue.Worker)
	}

	return nil
}

// middleware

func Register(w *jobqueue.Worker) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithWorker(r.Context(), w)))
	}
}

// main interface

var (
	ErrNoWorker = fmt.Errorf("no worker found in context")
)

func Add(ctx context.Context, tx *sql.Tx, job *jobqueue.Job) error {
	w := GetWorker(ctx)
	if w == nil {
		return ErrNoWorker
	}

	if err := w.Add(ctx, tx, job); err != nil {
		return fmt.Errorf("ctxjobqueue.Add: %w", err)
	}

	return nil
}

type SendOption func(j *jobqueue.Job)

// After delays the job until at.
func After(at time.Time) SendOption {
	return func(j *jobqueue.Job) { j.RunAfter = at }
}

func UniqueKey(key string) SendOption {
	return func(j *jobqueue.Job) { j.UniqueKey = &key }
}

func NoRetries() SendOption {
	return func(j *jobqueue.Job) { j.AttemptsRemaining = jobqueue.NoRetries }
}

// Send enqueues an event: a job on the queue called name with data as its
// JSON payload. The returned job is the pending one when the unique key was
// already taken, alongside an error wrapping jobqueue.ErrDuplicateJob.
func Send(ctx context.Context, tx *sql.Tx, name string, data interface{}, options ...SendOption) (*jobqueue.Job, error) {
	job, err := jobqueue.NewJob(name, data)
	if err != nil {
		return nil, fmt.Errorf("ctxjobqueue.Send: %w", err)
	}

	for _, fn := range options {
		fn(job)
	}

	if err := Add(ctx, tx, job); err != nil {
		return job, fmt.Errorf("ctxjobqueue.Send: %w", err)
	}

	return job, nil
}

package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/catchpanic"
	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
)

// worker

var (
	ErrWorkerExists       = fmt.Errorf("worker already exists")
	ErrWorkerDoesNotExist = fmt.Errorf("worker does not exist")
	ErrNoPendingJobs      = fmt.Errorf("no pending jobs")
)

const (
	idleDelay     = time.Second * 30
	reserveTries  = 25
	triggerBuffer = 100
)

type WorkerFunction func(ctx context.Context, w *Worker, j *Job) (string, error)

type Worker struct {
	l  sync.RWMutex
	ch chan struct{}
	m  map[string]WorkerFunction
}

func NewWorker(workerFunctions map[string]WorkerFunction) *Worker {
	if workerFunctions == nil {
		workerFunctions = make(map[string]WorkerFunction)
	}

	return &Worker{
		ch: make(chan struct{}, triggerBuffer),
		m:  workerFunctions,
	}
}

func (w *Worker) failIfAnyDoNotExist(queueNames []string) error {
	var a []string

	for _, queueName := range queueNames {
		if _, ok := w.m[queueName]; !ok {
			a = append(a, queueName)
		}
	}

	if len(a) > 0 {
		return fmt.Errorf("jobqueue.Worker.failIfAnyDoNotExist: worker(s) do not exist: %v: %w", a, ErrWorkerDoesNotExist)
	}

	return nil
}

func (w *Worker) failIfAnyExist(queueNames []string) error {
	var a []string

	for _, queueName := range queueNames {
		if _, ok := w.m[queueName]; ok {
			a = append(a, queueName)
		}
	}

	if len(a) > 0 {
		return fmt.Errorf("jobqueue.Worker.failIfAnyExist: worker(s) already exist: %v: %w", a, ErrWorkerExists)
	}

	return nil
}

// Add stores job in tx and wakes a runner. When job carries a unique key
// that is already pending, job is overwritten with the pending one and the
// returned error wraps ErrDuplicateJob.
func (w *Worker) Add(ctx context.Context, tx *sql.Tx, job *Job) error {
	w.l.RLock()
	if err := w.failIfAnyDoNotExist([]string{job.QueueName}); err != nil {
		w.l.RUnlock()
		return fmt.Errorf("jobqueue.Worker.Add: %w", err)
	}
	w.l.RUnlock()

	now := ctxclock.Now(ctx).UTC()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	job.RunAfter = job.RunAfter.UTC()
	if job.FailureDelay == 0 {
		job.FailureDelay = DefaultFailureDelay
	}
	switch job.AttemptsRemaining {
	case 0:
		job.AttemptsRemaining = DefaultAttempts
	case NoRetries:
		job.AttemptsRemaining = 0
	}
	if job.Payload == "" {
		job.Payload = "{}"
	}

	if err := create(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: %w", err)
	}

	w.Trigger(ctx)

	return nil
}

// Trigger wakes a runner without blocking.
func (w *Worker) Trigger(ctx context.Context) {
	select {
	case w.ch <- struct{}{}:
	default:
		// channel already full
	}
}

func (w *Worker) Register(queueName string, workerFunction WorkerFunction) error {
	return w.RegisterAll(map[string]WorkerFunction{queueName: workerFunction})
}

func (w *Worker) RegisterAll(workers map[string]WorkerFunction) error {
	var queueNames []string
	for queueName := range workers {
		queueNames = append(queueNames, queueName)
	}

	w.l.Lock()
	defer w.l.Unlock()

	if err := w.failIfAnyExist(queueNames); err != nil {
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %w", err)
	}

	for queueName, workerFunc := range workers {
		w.m[queueName] = workerFunc
	}

	return nil
}

func (w *Worker) GetQueueNames() []string {
	w.l.RLock()
	defer w.l.RUnlock()

	var queueNames []string

	for k := range w.m {
		queueNames = append(queueNames, k)
	}

	sort.Strings(queueNames)

	return queueNames
}

func (w *Worker) getWorkerFunction(queueName string) (WorkerFunction, bool) {
	w.l.RLock()
	defer w.l.RUnlock()

	fn, ok := w.m[queueName]

	return fn, ok
}

// RunOnce reserves and runs a single due job. It returns ErrNoPendingJobs
// when nothing is due.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	var job *Job
	if err := ctxdb.UsingTxRetry(ctx, reserveTries, func(ctx context.Context, tx *sql.Tx) error {
		j, err := findNextAndReserve(ctx, tx, w.GetQueueNames(), ctxclock.Now(ctx).UTC(), DefaultReserveDuration)
		if err != nil {
			return err
		}

		job = j

		return nil
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not find/reserve job: %w", err)
	}

	if job == nil {
		return false, ErrNoPendingJobs
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"job.queue_name": job.QueueName,
		"job.id":         job.ID,
	})

	l.Info("found pending job, running function")

	workerFunction, ok := w.getWorkerFunction(job.QueueName)
	if !ok {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: worker function not set for queue: %s", job.QueueName)
	}

	var errorMessage string
	outputMessage, err := catchpanic.CatchErr1(func() (string, error) {
		return workerFunction(ctxlogger.WithLogger(ctx, l), w, job)
	})
	if err != nil {
		errorMessage = err.Error()
	}

	l.WithFields(logrus.Fields{"job.error_message": errorMessage, "job.output_message": outputMessage}).Info("finished job")

	if err := ctxdb.UsingTxRetry(ctx, reserveTries, func(ctx context.Context, tx *sql.Tx) error {
		// finish mutates job, so each attempt starts from a copy
		j := *job
		j.ErrorMessages = append([]string(nil), job.ErrorMessages...)
		j.OutputMessages = append([]string(nil), job.OutputMessages...)

		return finish(ctx, tx, &j, ctxclock.Now(ctx).UTC(), errorMessage, outputMessage)
	}); err != nil {
		if errors.Is(err, ErrReservationLost) {
			l.Warn("job reservation lost before it finished, discarding result")
			return true, nil
		}

		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not finish job: %w", err)
	}

	return true, nil
}

// Extend renews job's reservation for reserveDuration from now, or for
// DefaultReserveDuration when it's zero. Worker functions that work through
// many items call it between items so no other runner picks the job up.
func (w *Worker) Extend(ctx context.Context, job *Job, reserveDuration time.Duration) error {
	if err := ctxdb.UsingTxRetry(ctx, reserveTries, func(ctx context.Context, tx *sql.Tx) error {
		return extend(ctx, tx, job, ctxclock.Now(ctx).UTC(), reserveDuration)
	}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Extend: %w", err)
	}

	return nil
}

func (w *Worker) runAndLog(ctx context.Context) time.Duration {
	didRunJob, err := w.RunOnce(ctx)
	switch {
	case err != nil && !errors.Is(err, ErrNoPendingJobs):
		ctxlogger.GetLogger(ctx).WithError(err).Error("could not run job")
		return idleDelay
	case didRunJob:
		return 0
	default:
		return idleDelay
	}
}

// Run processes jobs until ctx is cancelled. It polls every idleDelay and
// immediately after each job or trigger.
func (w *Worker) Run(ctx context.Context) error {
	delay := idleDelay

	w.Trigger(ctx)

	for {
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			delay = w.runAndLog(ctx)
		case <-w.ch:
			timer.Stop()
			delay = w.runAndLog(ctx)
		}
	}
}

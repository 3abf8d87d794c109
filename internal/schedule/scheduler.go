package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/catchpanic"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/models"
)

type TriggerFunc func(ctx context.Context) error

// Scheduler runs trigger on the cadence of the most recently applied
// schedule. There is at most one cron entry at a time.
type Scheduler struct {
	m       sync.Mutex
	ctx     context.Context
	c       *cron.Cron
	trigger TriggerFunc
	entryID cron.EntryID
	spec    string
}

// NewScheduler builds a stopped scheduler. ctx is handed to trigger on each
// run, so it should carry the database, worker and logger.
func NewScheduler(ctx context.Context, trigger TriggerFunc) *Scheduler {
	l := CronLogger{L: ctxlogger.GetLogger(ctx).WithField("component", "scheduler")}

	return &Scheduler{
		ctx:     ctx,
		c:       cron.New(cron.WithLogger(l), cron.WithChain(cron.SkipIfStillRunning(l))),
		trigger: trigger,
	}
}

// Apply replaces the current cron entry with one for s. A disabled schedule
// just removes the entry.
func (s *Scheduler) Apply(sched models.Schedule) error {
	s.m.Lock()
	defer s.m.Unlock()

	l := ctxlogger.GetLogger(s.ctx)

	spec := ""
	if sched.Enabled {
		if err := Validate(sched); err != nil {
			return fmt.Errorf("schedule.Scheduler.Apply: %w", err)
		}
		spec = Spec(sched)
	}

	if spec == s.spec && (spec == "" || s.entryID != 0) {
		return nil
	}

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
		s.entryID = 0
	}
	s.spec = ""

	if spec == "" {
		l.Info("scheduler: collection schedule disabled")
		return nil
	}

	id, err := s.c.AddFunc(spec, s.run)
	if err != nil {
		return fmt.Errorf("schedule.Scheduler.Apply: %w", err)
	}

	s.entryID = id
	s.spec = spec

	l.WithField("schedule.spec", spec).Info("scheduler: collection schedule applied")

	return nil
}

// Spec is the cron expression currently in effect, or an empty string.
func (s *Scheduler) Spec() string {
	s.m.Lock()
	defer s.m.Unlock()

	return s.spec
}

// Next is the next time the current entry fires. It's false when there is
// no entry or the scheduler isn't running.
func (s *Scheduler) Next() (time.Time, bool) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.entryID == 0 {
		return time.Time{}, false
	}

	e := s.c.Entry(s.entryID)
	if !e.Valid() || e.Next.IsZero() {
		return time.Time{}, false
	}

	return e.Next, true
}

func (s *Scheduler) run() {
	l := ctxlogger.GetLogger(s.ctx)

	if err := catchpanic.CatchErr0(func() error { return s.trigger(s.ctx) }); err != nil {
		l.WithError(err).Error("scheduler: could not trigger collection")
		return
	}

	l.Debug("scheduler: triggered collection")
}

// Run starts the cron loop and blocks until ctx is done, then waits for any
// running trigger to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.c.Start()

	<-ctx.Done()

	<-s.c.Stop().Done()
}

// CronLogger adapts a logrus logger to cron's logger interface.
type CronLogger struct {
	L logrus.FieldLogger
}

func (c CronLogger) fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprintf("cron.%v", keysAndValues[i])] = keysAndValues[i+1]
	}

	return f
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.L.WithFields(c.fields(keysAndValues)).Debug("cron: " + msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.WithFields(c.fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

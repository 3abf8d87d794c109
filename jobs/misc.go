package jobs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
)

// ScheduleUpdated reprograms the cron trigger from the stored schedule, so
// the payload is informational only.
func ScheduleUpdated(scheduler *schedule.Scheduler) jobqueue.WorkerFunction {
	return func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
		s, err := schedule.Load(ctx, ctxdb.GetDB(ctx))
		if err != nil {
			return "", fmt.Errorf("jobs.ScheduleUpdated: %w", err)
		}

		view := schedule.MakeView(*s, ctxclock.Now(ctx))

		l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
			"schedule.day_of_week": view.DayOfWeek,
			"schedule.hour":        view.Hour,
			"schedule.minute":      view.Minute,
			"schedule.timezone":    view.Timezone,
			"schedule.enabled":     view.Enabled,
		})

		if scheduler == nil {
			l.Info("schedule updated, no scheduler running")
			return output(view)
		}

		if err := scheduler.Apply(*s); err != nil {
			return "", fmt.Errorf("jobs.ScheduleUpdated: %w", err)
		}

		l.Info("schedule updated")

		return output(view)
	}
}

func Hello(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	var payload HelloPayload
	if err := j.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("jobs.Hello: %w", err)
	}

	name := payload.Name
	if name == "" {
		name = "World"
	}

	ctxlogger.GetLogger(ctx).WithField("hello.name", name).Info("hello from the job queue")

	return output(HelloResult{Message: "Hello " + name, Data: payload})
}

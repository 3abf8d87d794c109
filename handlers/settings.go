package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
	"fknsrs.biz/p/ytcampaigns/jobs"
)

func Schedule(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := schedule.Load(ctx, ctxdb.GetDB(ctx))
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, schedule.MakeView(*s, ctxclock.Now(ctx)))
}

type scheduleUpdatedEvent struct {
	Schedule  schedule.View `json:"schedule"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type updateScheduleResponse struct {
	Success  bool          `json:"success"`
	Schedule schedule.View `json:"schedule"`
	NextRun  *time.Time    `json:"nextRun"`
	Message  string        `json:"message"`
}

// UpdateSchedule stores the new cadence and sends schedule.updated, which
// reprograms the cron trigger from what was stored.
func UpdateSchedule(rw http.ResponseWriter, r *http.Request) {
	var input schedule.Input
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var view schedule.View
	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		current, err := schedule.Load(ctx, tx)
		if err != nil {
			return err
		}

		s, err := input.Apply(*current)
		if err != nil {
			var ve *schedule.ValidationError
			if errors.As(err, &ve) {
				return httputil.Wrap(err, http.StatusBadRequest, "Invalid schedule: "+ve.Message)
			}

			return err
		}

		now := ctxclock.Now(ctx).UTC()

		if err := schedule.Save(ctx, tx, &s, now); err != nil {
			return err
		}

		view = schedule.MakeView(s, now)

		if _, err := ctxjobqueue.Send(ctx, tx, queuenames.ScheduleUpdated, scheduleUpdatedEvent{
			Schedule:  view,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctxlogger.GetLogger(r.Context()).WithFields(logrus.Fields{
		"schedule.day_of_week": view.DayOfWeek,
		"schedule.hour":        view.Hour,
		"schedule.minute":      view.Minute,
		"schedule.timezone":    view.Timezone,
		"schedule.enabled":     view.Enabled,
	}).Info("schedule updated")

	httputil.WriteJSON(rw, http.StatusOK, updateScheduleResponse{
		Success:  true,
		Schedule: view,
		NextRun:  view.NextRun,
		Message:  "Schedule updated successfully",
	})
}

type triggerCollectionResponse struct {
	Success       bool      `json:"success"`
	EventID       int       `json:"eventId"`
	Message       string    `json:"message"`
	TriggeredAt   time.Time `json:"triggeredAt"`
	AlreadyQueued bool      `json:"alreadyQueued,omitempty"`
}

func TriggerCollection(rw http.ResponseWriter, r *http.Request) {
	triggeredAt := ctxclock.Now(r.Context()).UTC()

	var res triggerCollectionResponse
	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		job, alreadyQueued, err := jobs.EnqueueCollection(ctx, tx, triggeredAt, true)
		if err != nil {
			return err
		}

		res = triggerCollectionResponse{
			Success:       true,
			EventID:       job.ID,
			Message:       "Collection triggered successfully",
			TriggeredAt:   triggeredAt,
			AlreadyQueued: alreadyQueued,
		}
		if alreadyQueued {
			res.Message = "Collection already queued"
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctxlogger.GetLogger(r.Context()).WithFields(logrus.Fields{
		"job.id":             res.EventID,
		"job.already_queued": res.AlreadyQueued,
	}).Info("manual collection triggered")

	httputil.WriteJSON(rw, http.StatusOK, res)
}

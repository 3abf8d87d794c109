package jobs

import (
	"context"
	"database/sql"
	"fmt"

	"fknsrs.biz/p/sorm"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
	"fknsrs.biz/p/ytcampaigns/models"
)

// CollectWeeklyVideoMetrics appends a snapshot for every campaign whose
// video can be looked up. Failures are counted and skipped; snapshots
// written before a failure are kept. The job's reservation is renewed
// before each campaign.
func CollectWeeklyVideoMetrics(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	var payload CollectPayload
	if err := j.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("jobs.CollectWeeklyVideoMetrics: %w", err)
	}

	l := ctxlogger.GetLogger(ctx).WithField("collection.manual", payload.Manual)

	var campaigns []models.Campaign
	if err := sorm.FindWhere(ctx, ctxdb.GetDB(ctx), &campaigns, "where 1 = 1 order by id asc"); err != nil {
		return "", fmt.Errorf("jobs.CollectWeeklyVideoMetrics: could not list campaigns: %w", err)
	}

	l.WithField("collection.total", len(campaigns)).Info("collecting video metrics")

	result := CollectResult{
		TotalCampaigns: len(campaigns),
		Manual:         payload.Manual,
		TriggeredAt:    payload.TriggeredAt,
	}

	for _, c := range campaigns {
		if err := w.Extend(ctx, j, jobqueue.DefaultReserveDuration); err != nil {
			return "", fmt.Errorf("jobs.CollectWeeklyVideoMetrics: %w", err)
		}

		cl := l.WithFields(logrus.Fields{"campaign.id": c.ID, "campaign.video_id": c.VideoID})

		if err := collectOne(ctx, c); err != nil {
			cl.WithError(err).Warn("could not collect video metrics")
			result.ErrorCount++
			continue
		}

		result.SuccessCount++
	}

	if err := ctxdb.UsingTxRetry(ctx, 5, func(ctx context.Context, tx *sql.Tx) error {
		return schedule.MarkRun(ctx, tx, ctxclock.Now(ctx))
	}); err != nil {
		return "", fmt.Errorf("jobs.CollectWeeklyVideoMetrics: could not record last run: %w", err)
	}

	l.WithFields(logrus.Fields{
		"collection.total":   result.TotalCampaigns,
		"collection.success": result.SuccessCount,
		"collection.errors":  result.ErrorCount,
	}).Info("collected video metrics")

	return output(result)
}

func collectOne(ctx context.Context, c models.Campaign) error {
	v, err := ctxvideostats.GetVideo(ctx, c.VideoID)
	if err != nil {
		return err
	}

	return ctxdb.UsingTxRetry(ctx, 5, func(ctx context.Context, tx *sql.Tx) error {
		_, err := models.AddSnapshot(ctx, tx, c.ID, v.ViewCount, v.CommentCount, ctxclock.Now(ctx))
		return err
	})
}

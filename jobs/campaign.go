package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxconfig"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/models"
)

// CampaignCreated logs the new campaign, sends a notification (a log line
// for now) and schedules an analytics check.
func CampaignCreated(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	var payload CampaignCreatedPayload
	if err := j.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("jobs.CampaignCreated: %w", err)
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"campaign.id":         payload.CampaignID,
		"campaign.creator_id": payload.CreatorID,
		"campaign.video_id":   payload.VideoID,
	})

	l.WithField("campaign.title", payload.Title).Info("campaign created")
	l.Info("sending campaign notification")

	delay := ctxconfig.GetConfig(ctx).CampaignCheckDelay.Duration()
	if delay <= 0 {
		delay = DefaultCampaignCheckDelay
	}

	runAfter := ctxclock.Now(ctx).Add(delay)

	var check *jobqueue.Job
	if err := ctxdb.UsingTxRetry(ctx, 5, func(ctx context.Context, tx *sql.Tx) error {
		job, err := ctxjobqueue.Send(ctx, tx, queuenames.CampaignCheckAnalytics, CheckAnalyticsPayload{
			CampaignID: payload.CampaignID,
			Title:      payload.Title,
		}, ctxjobqueue.After(runAfter))
		if err != nil {
			return err
		}

		check = job

		return nil
	}); err != nil {
		return "", fmt.Errorf("jobs.CampaignCreated: could not schedule analytics check: %w", err)
	}

	l.WithFields(logrus.Fields{"job.check_id": check.ID, "job.run_after": runAfter}).Info("scheduled campaign analytics check")

	return output(map[string]interface{}{
		"success":     true,
		"campaignId":  payload.CampaignID,
		"checkJobId":  check.ID,
		"checkRunsAt": check.RunAfter,
	})
}

// CampaignCheckAnalytics appends a fresh snapshot for one campaign. A
// campaign deleted in the meantime is skipped.
func CampaignCheckAnalytics(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	var payload CheckAnalyticsPayload
	if err := j.DecodePayload(&payload); err != nil {
		return "", fmt.Errorf("jobs.CampaignCheckAnalytics: %w", err)
	}

	l := ctxlogger.GetLogger(ctx).WithField("campaign.id", payload.CampaignID)

	campaign, err := models.FindCampaign(ctx, ctxdb.GetDB(ctx), payload.CampaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.Info("campaign no longer exists, skipping analytics check")
			return output(CheckAnalyticsResult{CampaignID: payload.CampaignID, Status: "missing"})
		}

		return "", fmt.Errorf("jobs.CampaignCheckAnalytics: %w", err)
	}

	l.WithField("campaign.title", campaign.Title).Info("checking campaign analytics")

	v, err := ctxvideostats.GetVideo(ctx, campaign.VideoID)
	if err != nil {
		return "", fmt.Errorf("jobs.CampaignCheckAnalytics: %w", err)
	}

	if err := ctxdb.UsingTxRetry(ctx, 5, func(ctx context.Context, tx *sql.Tx) error {
		_, err := models.AddSnapshot(ctx, tx, campaign.ID, v.ViewCount, v.CommentCount, ctxclock.Now(ctx))
		return err
	}); err != nil {
		return "", fmt.Errorf("jobs.CampaignCheckAnalytics: %w", err)
	}

	l.WithFields(logrus.Fields{"video.views": v.ViewCount, "video.comments": v.CommentCount}).Info("stored campaign analytics")

	return output(CheckAnalyticsResult{
		CampaignID: campaign.ID,
		Views:      v.ViewCount,
		Comments:   v.CommentCount,
		Status:     "checked",
	})
}

package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
)

// CollectionUniqueKey collapses overlapping collection triggers onto one
// pending job.
const CollectionUniqueKey = "collect-weekly-video-metrics"

const DefaultCampaignCheckDelay = time.Hour

type CollectPayload struct {
	TriggeredAt time.Time `json:"triggeredAt"`
	Manual      bool      `json:"manual"`
}

type CollectResult struct {
	TotalCampaigns int       `json:"totalCampaigns"`
	SuccessCount   int       `json:"successCount"`
	ErrorCount     int       `json:"errorCount"`
	Manual         bool      `json:"manual"`
	TriggeredAt    time.Time `json:"triggeredAt"`
}

type CampaignCreatedPayload struct {
	CampaignID int    `json:"campaignId"`
	CreatorID  int    `json:"creatorId"`
	VideoID    string `json:"videoId"`
	Title      string `json:"title"`
}

type CheckAnalyticsPayload struct {
	CampaignID int    `json:"campaignId"`
	Title      string `json:"title,omitempty"`
}

type CheckAnalyticsResult struct {
	CampaignID int    `json:"campaignId"`
	Views      int64  `json:"views"`
	Comments   int64  `json:"comments"`
	Status     string `json:"status"`
}

type HelloPayload struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type HelloResult struct {
	Message string       `json:"message"`
	Data    HelloPayload `json:"data"`
}

// Register adds a worker function for every known event. scheduler may be
// nil, in which case schedule updates are only logged.
func Register(w *jobqueue.Worker, scheduler *schedule.Scheduler) error {
	if err := w.RegisterAll(map[string]jobqueue.WorkerFunction{
		queuenames.CollectWeeklyVideoMetrics: CollectWeeklyVideoMetrics,
		queuenames.CampaignCreated:           CampaignCreated,
		queuenames.CampaignCheckAnalytics:    CampaignCheckAnalytics,
		queuenames.ScheduleUpdated:           ScheduleUpdated(scheduler),
		queuenames.TestHello:                 Hello,
	}); err != nil {
		return fmt.Errorf("jobs.Register: %w", err)
	}

	return nil
}

// EnqueueCollection sends the collection event with zero retries. When a
// run is already pending or running the existing job is returned and the
// bool is true.
func EnqueueCollection(ctx context.Context, tx *sql.Tx, triggeredAt time.Time, manual bool) (*jobqueue.Job, bool, error) {
	job, err := ctxjobqueue.Send(
		ctx, tx,
		queuenames.CollectWeeklyVideoMetrics,
		CollectPayload{TriggeredAt: triggeredAt.UTC(), Manual: manual},
		ctxjobqueue.UniqueKey(CollectionUniqueKey),
		ctxjobqueue.NoRetries(),
	)
	if err != nil {
		if errors.Is(err, jobqueue.ErrDuplicateJob) {
			return job, true, nil
		}

		return nil, false, fmt.Errorf("jobs.EnqueueCollection: %w", err)
	}

	return job, false, nil
}

// TriggerCollection is the scheduler's trigger.
func TriggerCollection(ctx context.Context) error {
	var job *jobqueue.Job
	var alreadyQueued bool

	if err := ctxdb.UsingTxRetry(ctx, 5, func(ctx context.Context, tx *sql.Tx) error {
		j, q, err := EnqueueCollection(ctx, tx, ctxclock.Now(ctx), false)
		if err != nil {
			return err
		}

		job, alreadyQueued = j, q

		return nil
	}); err != nil {
		return fmt.Errorf("jobs.TriggerCollection: %w", err)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"job.id":             job.ID,
		"job.already_queued": alreadyQueued,
	}).Info("scheduled collection triggered")

	return nil
}

func output(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

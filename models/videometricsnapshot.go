package models

import (
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/sqlbuilderutil"
)

var (
	VideoMetricSnapshotTable *sqlbuilderutil.Table
)

func init() {
	VideoMetricSnapshotTable = sqlbuilderutil.MustMakeTable(VideoMetricSnapshot{})
}

// VideoMetricSnapshot rows are only ever inserted.
type VideoMetricSnapshot struct {
	ID           int       `sql:",table:video_metric_snapshots" json:"id"`
	CampaignID   int       `json:"campaignId"`
	ViewCount    int64     `json:"views"`
	CommentCount int64     `json:"comments"`
	CapturedAt   time.Time `json:"capturedAt"`
}

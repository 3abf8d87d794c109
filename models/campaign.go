package models

import (
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/sqlbuilderutil"
	"fknsrs.biz/p/ytcampaigns/internal/sqltypes"
)

var (
	CampaignTable *sqlbuilderutil.Table
)

func init() {
	CampaignTable = sqlbuilderutil.MustMakeTable(Campaign{})
}

const UntitledVideo = "Untitled Video"

type Campaign struct {
	ID         int                 `sql:",table:campaigns" json:"id"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
	CreatorID  int                 `json:"creatorId"`
	VideoID    string              `json:"videoId"`
	Title      string              `json:"title"`
	WentLiveAt time.Time           `json:"wentLiveAt"`
	CostUSD    *float64            `sql:"cost_usd" json:"costUsd"`
	Notes      sqltypes.JSONObject `json:"notes"`
}

// CampaignDetails is a campaign with the rows it's usually shown with.
type CampaignDetails struct {
	Campaign
	Creator        *Creator              `json:"creator,omitempty"`
	LatestSnapshot *VideoMetricSnapshot  `json:"latestSnapshot"`
	Snapshots      []VideoMetricSnapshot `json:"snapshots,omitempty"`
}

// CreatorDetails is a creator with their campaigns.
type CreatorDetails struct {
	Creator
	Campaigns []CampaignDetails `json:"campaigns"`
}

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func intArgs(a []int) []interface{} {
	r := make([]interface{}, len(a))
	for i, e := range a {
		r[i] = e
	}
	return r
}

// FindCreator returns an error wrapping sql.ErrNoRows when id doesn't exist.
func FindCreator(ctx context.Context, q sorm.Querier, id int) (*Creator, error) {
	var creator Creator
	if err := sorm.FindFirstWhere(ctx, q, &creator, "where id = ?", id); err != nil {
		return nil, fmt.Errorf("models.FindCreator: %w", err)
	}

	return &creator, nil
}

func FindCreatorByChannelID(ctx context.Context, q sorm.Querier, channelID string) (*Creator, error) {
	var creator Creator
	if err := sorm.FindFirstWhere(ctx, q, &creator, "where channel_id = ?", channelID); err != nil {
		return nil, fmt.Errorf("models.FindCreatorByChannelID: %w", err)
	}

	return &creator, nil
}

// FindCampaign returns an error wrapping sql.ErrNoRows when id doesn't exist.
func FindCampaign(ctx context.Context, q sorm.Querier, id int) (*Campaign, error) {
	var campaign Campaign
	if err := sorm.FindFirstWhere(ctx, q, &campaign, "where id = ?", id); err != nil {
		return nil, fmt.Errorf("models.FindCampaign: %w", err)
	}

	return &campaign, nil
}

func FindCampaignsByCreator(ctx context.Context, q sorm.Querier, creatorID int) ([]Campaign, error) {
	var campaigns []Campaign
	if err := sorm.FindWhere(ctx, q, &campaigns, "where creator_id = ? order by went_live_at desc, id desc", creatorID); err != nil {
		return nil, fmt.Errorf("models.FindCampaignsByCreator: %w", err)
	}

	return campaigns, nil
}

func CreatorHasCampaigns(ctx context.Context, q sorm.Querier, creatorID int) (bool, error) {
	var campaign Campaign
	if err := sorm.FindFirstWhere(ctx, q, &campaign, "where creator_id = ?", creatorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("models.CreatorHasCampaigns: %w", err)
	}

	return true, nil
}

func FindSnapshots(ctx context.Context, q sorm.Querier, campaignID int) ([]VideoMetricSnapshot, error) {
	var snapshots []VideoMetricSnapshot
	if err := sorm.FindWhere(ctx, q, &snapshots, "where campaign_id = ? order by captured_at desc, id desc", campaignID); err != nil {
		return nil, fmt.Errorf("models.FindSnapshots: %w", err)
	}

	return snapshots, nil
}

// FindLatestSnapshots maps each campaign id to its most recently captured
// snapshot. Campaigns without snapshots are absent from the map.
func FindLatestSnapshots(ctx context.Context, q sorm.Querier, campaignIDs []int) (map[int]*VideoMetricSnapshot, error) {
	m := make(map[int]*VideoMetricSnapshot)

	if len(campaignIDs) == 0 {
		return m, nil
	}

	var snapshots []VideoMetricSnapshot
	if err := sorm.FindWhere(ctx, q, &snapshots, fmt.Sprintf(
		"where id in (select id from (select id, row_number() over (partition by campaign_id order by captured_at desc, id desc) as n from video_metric_snapshots where campaign_id in (%s)) where n = 1)",
		placeholders(len(campaignIDs)),
	), intArgs(campaignIDs)...); err != nil {
		return nil, fmt.Errorf("models.FindLatestSnapshots: %w", err)
	}

	for i := range snapshots {
		m[snapshots[i].CampaignID] = &snapshots[i]
	}

	return m, nil
}

func FindCreatorsByID(ctx context.Context, q sorm.Querier, ids []int) (map[int]*Creator, error) {
	m := make(map[int]*Creator)

	if len(ids) == 0 {
		return m, nil
	}

	var creators []Creator
	if err := sorm.FindWhere(ctx, q, &creators, fmt.Sprintf("where id in (%s)", placeholders(len(ids))), intArgs(ids)...); err != nil {
		return nil, fmt.Errorf("models.FindCreatorsByID: %w", err)
	}

	for i := range creators {
		m[creators[i].ID] = &creators[i]
	}

	return m, nil
}

// AddSnapshot appends a snapshot for campaignID.
func AddSnapshot(ctx context.Context, tx *sql.Tx, campaignID int, viewCount, commentCount int64, capturedAt time.Time) (*VideoMetricSnapshot, error) {
	snapshot := VideoMetricSnapshot{
		CampaignID:   campaignID,
		ViewCount:    viewCount,
		CommentCount: commentCount,
		CapturedAt:   capturedAt.UTC(),
	}

	if err := sorm.CreateRecord(ctx, tx, &snapshot); err != nil {
		return nil, fmt.Errorf("models.AddSnapshot: %w", err)
	}

	return &snapshot, nil
}

// LoadCampaignDetails attaches latest snapshots, and creators when
// withCreator is set, preserving the order of campaigns.
func LoadCampaignDetails(ctx context.Context, q sorm.Querier, campaigns []Campaign, withCreator bool) ([]CampaignDetails, error) {
	campaignIDs := make([]int, len(campaigns))
	var creatorIDs []int
	seen := make(map[int]bool)

	for i, c := range campaigns {
		campaignIDs[i] = c.ID
		if !seen[c.CreatorID] {
			seen[c.CreatorID] = true
			creatorIDs = append(creatorIDs, c.CreatorID)
		}
	}

	latest, err := FindLatestSnapshots(ctx, q, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("models.LoadCampaignDetails: %w", err)
	}

	var creators map[int]*Creator
	if withCreator {
		if creators, err = FindCreatorsByID(ctx, q, creatorIDs); err != nil {
			return nil, fmt.Errorf("models.LoadCampaignDetails: %w", err)
		}
	}

	r := make([]CampaignDetails, len(campaigns))
	for i, c := range campaigns {
		r[i] = CampaignDetails{Campaign: c, LatestSnapshot: latest[c.ID]}
		if withCreator {
			r[i].Creator = creators[c.CreatorID]
		}
	}

	return r, nil
}

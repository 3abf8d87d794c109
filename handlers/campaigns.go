package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/ptr"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/internal/sqliteutil"
	"fknsrs.biz/p/ytcampaigns/internal/sqltypes"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
	"fknsrs.biz/p/ytcampaigns/internal/ytutil"
	"fknsrs.biz/p/ytcampaigns/jobs"
	"fknsrs.biz/p/ytcampaigns/models"
)

var (
	errCampaignNotFound = httputil.NotFoundError("Campaign not found")
	errVideoNotFound    = httputil.NotFoundError("Video not found or missing data")

	errInvalidWentLiveAt = httputil.BadRequest("wentLiveAt must be a date or timestamp")
)

type campaignInput struct {
	VideoID    *string                `json:"videoId" formam:"videoId"`
	CreatorID  *json.Number           `json:"creatorId" formam:"creatorId"`
	Title      *string                `json:"title" formam:"title"`
	WentLiveAt *string                `json:"wentLiveAt" formam:"wentLiveAt"`
	CostUSD    *json.Number           `json:"costUsd" formam:"costUsd"`
	Notes      map[string]interface{} `json:"notes" formam:"notes"`
}

func number(n *json.Number) string {
	if n == nil {
		return ""
	}

	return strings.TrimSpace(string(*n))
}

func parseCost(n *json.Number) (*float64, error) {
	s := number(n)
	if s == "" {
		return nil, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return nil, httputil.BadRequest("costUsd must be a non-negative number")
	}

	return &f, nil
}

func Campaigns(rw http.ResponseWriter, r *http.Request) {
	var campaigns []models.Campaign
	if err := findList(r, models.CampaignTable, &campaigns, sb.OrderDesc(models.CampaignTable.C("WentLiveAt")), sb.OrderDesc(models.CampaignTable.C("ID"))); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	details, err := models.LoadCampaignDetails(r.Context(), ctxdb.GetDB(r.Context()), campaigns, true)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, details)
}

func CreateCampaign(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input campaignInput
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	rawVideoID, rawCreatorID := value(input.VideoID), number(input.CreatorID)
	if rawVideoID == "" || rawCreatorID == "" {
		httputil.WriteError(rw, r, httputil.BadRequest("videoId and creatorId are required"))
		return
	}

	creatorID, err := strconv.Atoi(rawCreatorID)
	if err != nil {
		httputil.WriteError(rw, r, httputil.BadRequest("creatorId must be an integer"))
		return
	}

	videoID, err := ytutil.ExtractVideoID(rawVideoID)
	if err != nil {
		httputil.WriteError(rw, r, httputil.Wrap(err, http.StatusBadRequest, "videoId must be a YouTube video URL or ID"))
		return
	}

	costUSD, err := parseCost(input.CostUSD)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var wentLiveAt *time.Time
	if s := value(input.WentLiveAt); s != "" {
		t, ok := parseTime(s)
		if !ok {
			httputil.WriteError(rw, r, errInvalidWentLiveAt)
			return
		}
		wentLiveAt = ptr.Time(t)
	}

	// the creator is checked before the statistics source is called
	creator, err := models.FindCreator(ctx, ctxdb.GetDB(ctx), creatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errCreatorNotFound
		}

		httputil.WriteError(rw, r, err)
		return
	}

	video, err := ctxvideostats.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, videostats.ErrVideoNotFound) {
			err = httputil.Wrap(err, errVideoNotFound.Status, errVideoNotFound.Message)
		}

		httputil.WriteError(rw, r, err)
		return
	}

	now := ctxclock.Now(ctx).UTC()

	campaign := models.Campaign{
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatorID:  creator.ID,
		VideoID:    videoID,
		Title:      strings.TrimSpace(video.Title),
		WentLiveAt: now,
		CostUSD:    costUSD,
		Notes:      sqltypes.JSONObject{"description": video.Description},
	}
	if campaign.Title == "" {
		campaign.Title = models.UntitledVideo
	}
	switch {
	case wentLiveAt != nil:
		campaign.WentLiveAt = *wentLiveAt
	case video.PublishedAt != nil:
		campaign.WentLiveAt = video.PublishedAt.UTC()
	}

	var snapshot *models.VideoMetricSnapshot
	if err := ctxdb.UsingTxRetry(ctx, txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		campaign.ID = 0

		if err := sorm.CreateRecord(ctx, tx, &campaign); err != nil {
			if sqliteutil.IsForeignKeyViolation(err) {
				return errCreatorNotFound
			}

			return err
		}

		s, err := models.AddSnapshot(ctx, tx, campaign.ID, video.ViewCount, video.CommentCount, now)
		if err != nil {
			return err
		}
		snapshot = s

		if _, err := ctxjobqueue.Send(ctx, tx, queuenames.CampaignCreated, jobs.CampaignCreatedPayload{
			CampaignID: campaign.ID,
			CreatorID:  campaign.CreatorID,
			VideoID:    campaign.VideoID,
			Title:      campaign.Title,
		}); err != nil {
			return err
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"campaign.id":       campaign.ID,
		"campaign.video_id": campaign.VideoID,
	}).Info("campaign created")

	httputil.WriteJSON(rw, http.StatusCreated, models.CampaignDetails{
		Campaign:       campaign,
		Creator:        creator,
		LatestSnapshot: snapshot,
		Snapshots:      []models.VideoMetricSnapshot{*snapshot},
	})
}

func Campaign(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCampaignNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctx := r.Context()
	db := ctxdb.GetDB(ctx)

	campaign, err := models.FindCampaign(ctx, db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errCampaignNotFound
		}

		httputil.WriteError(rw, r, err)
		return
	}

	creator, err := models.FindCreator(ctx, db, campaign.CreatorID)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	snapshots, err := models.FindSnapshots(ctx, db, campaign.ID)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	details := models.CampaignDetails{
		Campaign:  *campaign,
		Creator:   creator,
		Snapshots: snapshots,
	}
	if len(snapshots) > 0 {
		details.LatestSnapshot = &snapshots[0]
	} else {
		details.Snapshots = []models.VideoMetricSnapshot{}
	}

	httputil.WriteJSON(rw, http.StatusOK, details)
}

func UpdateCampaign(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCampaignNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input campaignInput
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var campaign *models.Campaign
	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		c, err := models.FindCampaign(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errCampaignNotFound
			}

			return err
		}

		if s := value(input.Title); s != "" {
			c.Title = s
		}

		if s := value(input.WentLiveAt); s != "" {
			t, ok := parseTime(s)
			if !ok {
				return errInvalidWentLiveAt
			}

			c.WentLiveAt = t
		}

		if input.CostUSD != nil {
			costUSD, err := parseCost(input.CostUSD)
			if err != nil {
				return err
			}

			c.CostUSD = costUSD
		}

		if input.Notes != nil {
			c.Notes = sqltypes.JSONObject(input.Notes)
		}

		c.UpdatedAt = ctxclock.Now(ctx).UTC()

		if err := sorm.SaveRecord(ctx, tx, c); err != nil {
			return err
		}

		campaign = c

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, campaign)
}

// DeleteCampaign removes the campaign and, through the foreign key, its
// snapshots.
func DeleteCampaign(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCampaignNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "delete from campaigns where id = ?", id)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errCampaignNotFound
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, messageResponse{Message: "Campaign deleted successfully"})
}

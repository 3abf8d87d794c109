package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"fknsrs.biz/p/sorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/ptr"
	"fknsrs.biz/p/ytcampaigns/internal/sqliteutil"
	"fknsrs.biz/p/ytcampaigns/internal/ytutil"
	"fknsrs.biz/p/ytcampaigns/models"
)

var (
	errCreatorNotFound     = httputil.NotFoundError("Creator not found")
	errDuplicateChannel    = httputil.Conflict("A creator with this channel ID already exists")
	errCreatorHasCampaigns = httputil.Conflict("Creator has campaigns")
)

type creatorInput struct {
	Name       *string `json:"name" formam:"name"`
	ChannelID  *string `json:"channelId" formam:"channelId"`
	Email      *string `json:"email" formam:"email"`
	Status     *string `json:"status" formam:"status"`
	PitchNotes *string `json:"pitchNotes" formam:"pitchNotes"`
}

func value(s *string) string {
	if s == nil {
		return ""
	}

	return strings.TrimSpace(*s)
}

func normaliseChannelID(s string) (string, error) {
	channelID, err := ytutil.ExtractChannelID(s)
	if err != nil {
		return "", httputil.Wrap(err, http.StatusBadRequest, "Invalid channel ID")
	}

	return channelID, nil
}

func checkStatus(s string) error {
	if !models.IsCreatorStatus(s) {
		return httputil.BadRequest("Status must be one of " + strings.Join(models.CreatorStatuses, ", "))
	}

	return nil
}

// checkChannelAvailable fails with a conflict when another creator already
// uses channelID.
func checkChannelAvailable(ctx context.Context, tx *sql.Tx, channelID string, selfID int) error {
	existing, err := models.FindCreatorByChannelID(ctx, tx, channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}

		return err
	}

	if existing.ID != selfID {
		return errDuplicateChannel
	}

	return nil
}

func Creators(rw http.ResponseWriter, r *http.Request) {
	creators := []models.Creator{}
	if err := findList(r, models.CreatorTable, &creators, sb.OrderDesc(models.CreatorTable.C("CreatedAt")), sb.OrderDesc(models.CreatorTable.C("ID"))); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, creators)
}

func CreateCreator(rw http.ResponseWriter, r *http.Request) {
	var input creatorInput
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	name, channelID := value(input.Name), value(input.ChannelID)
	if name == "" || channelID == "" {
		httputil.WriteError(rw, r, httputil.BadRequest("Name and channel ID are required"))
		return
	}

	channelID, err := normaliseChannelID(channelID)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	status := value(input.Status)
	if status == "" {
		status = models.CreatorStatusSelected
	}
	if err := checkStatus(status); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	now := ctxclock.Now(r.Context()).UTC()

	creator := models.Creator{
		CreatedAt:  now,
		UpdatedAt:  now,
		Name:       name,
		ChannelID:  channelID,
		Email:      ptr.StringOrNil(value(input.Email)),
		Status:     status,
		PitchNotes: input.PitchNotes,
	}

	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		creator.ID = 0

		if err := checkChannelAvailable(ctx, tx, creator.ChannelID, 0); err != nil {
			return err
		}

		if err := sorm.CreateRecord(ctx, tx, &creator); err != nil {
			if sqliteutil.IsUniqueViolation(err) {
				return errDuplicateChannel
			}

			return err
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusCreated, creator)
}

func Creator(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCreatorNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctx := r.Context()
	db := ctxdb.GetDB(ctx)

	creator, err := models.FindCreator(ctx, db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errCreatorNotFound
		}

		httputil.WriteError(rw, r, err)
		return
	}

	campaigns, err := models.FindCampaignsByCreator(ctx, db, creator.ID)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	details, err := models.LoadCampaignDetails(ctx, db, campaigns, false)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, models.CreatorDetails{Creator: *creator, Campaigns: details})
}

func UpdateCreator(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCreatorNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input creatorInput
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var creator *models.Creator
	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		c, err := models.FindCreator(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errCreatorNotFound
			}

			return err
		}

		if s := value(input.Name); s != "" {
			c.Name = s
		}

		if s := value(input.ChannelID); s != "" {
			channelID, err := normaliseChannelID(s)
			if err != nil {
				return err
			}

			if err := checkChannelAvailable(ctx, tx, channelID, c.ID); err != nil {
				return err
			}

			c.ChannelID = channelID
		}

		if input.Email != nil {
			c.Email = ptr.StringOrNil(value(input.Email))
		}

		if s := value(input.Status); s != "" {
			if err := checkStatus(s); err != nil {
				return err
			}

			c.Status = s
		}

		if input.PitchNotes != nil {
			c.PitchNotes = input.PitchNotes
		}

		c.UpdatedAt = ctxclock.Now(ctx).UTC()

		if err := sorm.SaveRecord(ctx, tx, c); err != nil {
			if sqliteutil.IsUniqueViolation(err) {
				return errDuplicateChannel
			}

			return err
		}

		creator = c

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, creator)
}

func DeleteCreator(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, errCreatorNotFound.Message)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := models.FindCreator(ctx, tx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errCreatorNotFound
			}

			return err
		}

		hasCampaigns, err := models.CreatorHasCampaigns(ctx, tx, id)
		if err != nil {
			return err
		}
		if hasCampaigns {
			return errCreatorHasCampaigns
		}

		if _, err := tx.ExecContext(ctx, "delete from creators where id = ?", id); err != nil {
			if sqliteutil.IsForeignKeyViolation(err) {
				return errCreatorHasCampaigns
			}

			return err
		}

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, messageResponse{Message: "Creator deleted successfully"})
}

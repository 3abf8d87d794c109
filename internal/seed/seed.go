package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/ytcampaigns/models"
)

// Creators is the sample data inserted by Run.
var Creators = []models.Creator{
	{Name: "Tech Reviews Pro", ChannelID: "UCtech123456789", Status: models.CreatorStatusSelected},
	{Name: "Gaming Galaxy", ChannelID: "UCgaming987654321", Status: models.CreatorStatusPitched},
	{Name: "Lifestyle Vlogger", ChannelID: "UClifestyle111222", Status: models.CreatorStatusAgreement},
	{Name: "Fitness Journey", ChannelID: "UCfitness333444", Status: models.CreatorStatusPublished},
	{Name: "Cooking Master", ChannelID: "UCcooking555666", Status: models.CreatorStatusSelected},
	{Name: "DIY Home Projects", ChannelID: "UCdiy777888", Status: models.CreatorStatusPitched},
}

// Run upserts the sample creators by channel id. It returns how many were
// created and how many already existed and were updated.
func Run(ctx context.Context, tx *sql.Tx, now time.Time) (int, int, error) {
	var created, updated int

	now = now.UTC()

	for _, c := range Creators {
		existing, err := models.FindCreatorByChannelID(ctx, tx, c.ChannelID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return created, updated, fmt.Errorf("seed.Run: %w", err)
		}

		if existing != nil {
			existing.Name = c.Name
			existing.Status = c.Status
			existing.UpdatedAt = now

			if err := sorm.SaveRecord(ctx, tx, existing); err != nil {
				return created, updated, fmt.Errorf("seed.Run: could not update creator %s: %w", c.ChannelID, err)
			}

			updated++

			continue
		}

		c.CreatedAt = now
		c.UpdatedAt = now

		if err := sorm.CreateRecord(ctx, tx, &c); err != nil {
			return created, updated, fmt.Errorf("seed.Run: could not create creator %s: %w", c.ChannelID, err)
		}

		created++
	}

	return created, updated, nil
}

package models

import (
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/sqlbuilderutil"
)

var (
	CreatorTable *sqlbuilderutil.Table
)

func init() {
	CreatorTable = sqlbuilderutil.MustMakeTable(Creator{})
}

const (
	CreatorStatusSelected  = "SELECTED"
	CreatorStatusPitched   = "PITCHED"
	CreatorStatusAgreement = "AGREEMENT"
	CreatorStatusPublished = "PUBLISHED"
)

// CreatorStatuses is the pipeline in order.
var CreatorStatuses = []string{
	CreatorStatusSelected,
	CreatorStatusPitched,
	CreatorStatusAgreement,
	CreatorStatusPublished,
}

func IsCreatorStatus(s string) bool {
	for _, e := range CreatorStatuses {
		if e == s {
			return true
		}
	}

	return false
}

type Creator struct {
	ID         int       `sql:",table:creators" json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Name       string    `json:"name"`
	ChannelID  string    `json:"channelId"`
	Email      *string   `json:"email"`
	Status     string    `json:"status"`
	PitchNotes *string   `json:"pitchNotes"`
}

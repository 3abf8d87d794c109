package models

import (
	"time"
)

// ScheduleID is the id of the only schedules row.
const ScheduleID = 1

type Schedule struct {
	ID        int `sql:",table:schedules"`
	DayOfWeek int
	Hour      int
	Minute    int
	Timezone  string
	Enabled   bool
	LastRunAt *time.Time
	UpdatedAt time.Time
}

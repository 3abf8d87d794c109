package queuenames

// Queue names double as event names: sending an event enqueues a job on the
// queue with the same name.
const (
	CampaignCreated           = "campaign.created"
	CampaignCheckAnalytics    = "campaign.check-analytics"
	ScheduleUpdated           = "schedule.updated"
	CollectWeeklyVideoMetrics = "app/youtube.video_metrics.collect.weekly"
	TestHello                 = "test.hello"
)

var All = []string{
	CollectWeeklyVideoMetrics,
	CampaignCreated,
	CampaignCheckAnalytics,
	ScheduleUpdated,
	TestHello,
}

func IsKnown(name string) bool {
	for _, e := range All {
		if e == name {
			return true
		}
	}

	return false
}

package config

import (
	"strings"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/timeutil"
)

type Config struct {
	Config                string                   `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	EnvFile               string                   `name:"env_file" toml:"env_file" yaml:"env_file" help:"Dotenv file to read before the environment."`
	LogLevel              logrus.Level             `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogJSON               bool                     `name:"log_json" toml:"log_json" yaml:"log_json" help:"Write logs as JSON."`
	LogDebugLevels        LevelList                `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries            LogQueries               `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM               bool                     `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`
	ApplicationAddr       string                   `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on for application server."`
	ApplicationDatabase   string                   `name:"application_database" toml:"application_database" yaml:"application_database" help:"Database location for application."`
	ApplicationCachePath  string                   `name:"application_cache_path" toml:"application_cache_path" yaml:"application_cache_path" help:"Location for HTTP client cache."`
	ApplicationSeed       bool                     `name:"application_seed" toml:"application_seed" yaml:"application_seed" help:"Insert sample creators on startup."`
	BackgroundWorkers     int                      `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run."`
	HTTPCacheMaxAge       timeutil.DayTimeDuration `name:"http_cache_max_age" toml:"http_cache_max_age" yaml:"http_cache_max_age" help:"How long cached HTTP responses stay fresh (ISO-8601 duration)."`
	HTTPTimeout           timeutil.DayTimeDuration `name:"http_timeout" toml:"http_timeout" yaml:"http_timeout" help:"Timeout for outbound HTTP requests (ISO-8601 duration)."`
	YouTubeAPIKey         string                   `name:"youtube_api_key" toml:"youtube_api_key" yaml:"youtube_api_key" help:"YouTube Data API key; the watch page is scraped when empty."`
	YouTubeAPIBaseURL     string                   `name:"youtube_api_base_url" toml:"youtube_api_base_url" yaml:"youtube_api_base_url" help:"Base URL for the YouTube Data API."`
	YouTubeWatchBaseURL   string                   `name:"youtube_watch_base_url" toml:"youtube_watch_base_url" yaml:"youtube_watch_base_url" help:"Base URL for YouTube watch pages."`
	CampaignCheckDelay    timeutil.DayTimeDuration `name:"campaign_check_delay" toml:"campaign_check_delay" yaml:"campaign_check_delay" help:"Delay between creating a campaign and checking its analytics (ISO-8601 duration)."`
	CollectionJobDisabled bool                     `name:"collection_job_disabled" toml:"collection_job_disabled" yaml:"collection_job_disabled" help:"Don't run the cron trigger for metric collection."`
}

// Redacted returns a copy that's safe to log.
func (c Config) Redacted() Config {
	if c.YouTubeAPIKey != "" {
		c.YouTubeAPIKey = redact(c.YouTubeAPIKey)
	}

	return c
}

func redact(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}

	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

package cache

import "time"

const (
	OnlineUsersKey    = "stats:online_users"
	UniqueVisitorsKey = "stats:unique_visitors_today"
	AvgDurationKey    = "stats:avg_duration_today"

	DailyPageViewsField = "page_views"

	// DailyTTL keeps per-day counters around a little past their day.
	DailyTTL = 48 * time.Hour
)

// Day formats t as the local calendar day used in per-day keys.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func PageViewsKey(day string) string { return "stats:page_views:" + day }

func TopPagesKey(day string) string { return "stats:top_pages:" + day }

func DailyStatsKey(day string) string { return "daily_stats:" + day }

func DailyEventsKey(day string) string { return "daily_events:" + day }

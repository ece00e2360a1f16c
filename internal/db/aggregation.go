package db

import (
	"time"

	"gorm.io/gorm"
)

// PageCount is a page URL with its view count.
type PageCount struct {
	URL   string `json:"url"`
	Views int64  `json:"views"`
}

// CountActiveSessions counts sessions that started or were last seen at or
// after since. Session ids are unique so every row is a distinct session.
func CountActiveSessions(db *gorm.DB, since time.Time) (int64, error) {
	since = since.UTC()
	var n int64
	err := db.Model(&Session{}).
		Where("start_time >= ? OR end_time >= ?", since, since).
		Count(&n).Error
	return n, err
}

// CountVisitorSessions counts distinct sessions with at least one page view
// at or after since.
func CountVisitorSessions(db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.Model(&PageView{}).
		Where("occurred_at >= ?", since.UTC()).
		Distinct("session_id").
		Count(&n).Error
	return n, err
}

// CountPageViews counts page views at or after since.
func CountPageViews(db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.Model(&PageView{}).Where("occurred_at >= ?", since.UTC()).Count(&n).Error
	return n, err
}

// AvgSessionDuration averages the positive durations of sessions started at
// or after since. Sessions without a reported duration are ignored.
func AvgSessionDuration(db *gorm.DB, since time.Time) (float64, error) {
	var avg float64
	err := db.Model(&Session{}).
		Where("start_time >= ? AND duration > 0", since.UTC()).
		Select("COALESCE(AVG(duration), 0)").
		Scan(&avg).Error
	return avg, err
}

// TopPages returns the most viewed URLs at or after since. Equal counts
// are ordered by URL so the result is stable. A limit of zero or less
// returns every URL.
func TopPages(db *gorm.DB, since time.Time, limit int) ([]PageCount, error) {
	rows := make([]PageCount, 0, max(limit, 0))
	q := db.Model(&PageView{}).
		Select("page_url AS url, COUNT(*) AS views").
		Where("occurred_at >= ?", since.UTC()).
		Group("page_url").
		Order("COUNT(*) DESC, page_url ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(&rows).Error
	return rows, err
}

// EventTypeCounts counts events per event type at or after since.
func EventTypeCounts(db *gorm.DB, since time.Time) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	if err := db.Model(&Event{}).
		Select("event_type, COUNT(*) AS count").
		Where("occurred_at >= ?", since.UTC()).
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.Count
	}
	return out, nil
}

package stats

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
)

const dateLayout = "2006-01-02"

// TrendPoint is one bucket of the page view trend. Hour is set only for
// hourly series.
type TrendPoint struct {
	Date  string `json:"date"`
	Hour  *int   `json:"hour,omitempty"`
	Views int64  `json:"views"`
}

type VisitorPoint struct {
	Date     string `json:"date"`
	Visitors int64  `json:"visitors"`
}

type HourPoint struct {
	Hour  int   `json:"hour"`
	Views int64 `json:"views"`
}

type UserTypePoint struct {
	Date           string `json:"date"`
	NewUsers       int64  `json:"new_users"`
	ReturningUsers int64  `json:"returning_users"`
	TotalActive    int64  `json:"total_active"`
}

// window returns now and the start of a trailing range of days.
func (s *Service) window(days int) (now, start time.Time) {
	now = s.clock.Now().In(s.loc)
	return now, now.Add(-time.Duration(ClampDays(days)) * 24 * time.Hour)
}

// dayKeys lists every local calendar day from start to now inclusive.
func (s *Service) dayKeys(start, now time.Time) []string {
	start = start.In(s.loc)
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)
	var keys []string
	for !d.After(now) {
		keys = append(keys, d.Format(dateLayout))
		d = d.AddDate(0, 0, 1)
	}
	return keys
}

// PageViewTrend counts page views per day over the trailing days. Ranges
// of two days or less are bucketed by hour instead. Every bucket in the
// range is present, empty ones with zero views.
func (s *Service) PageViewTrend(ctx context.Context, days int) ([]TrendPoint, error) {
	days = ClampDays(days)
	now, start := s.window(days)

	var stamps []time.Time
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Where("occurred_at >= ?", start.UTC()).
		Pluck("occurred_at", &stamps).Error; err != nil {
		return nil, xerrors.Errorf("query page view trend: %w", err)
	}

	if days > 2 {
		counts := make(map[string]int64)
		for _, ts := range stamps {
			counts[ts.In(s.loc).Format(dateLayout)]++
		}
		keys := s.dayKeys(start, now)
		points := make([]TrendPoint, 0, len(keys))
		for _, k := range keys {
			points = append(points, TrendPoint{Date: k, Views: counts[k]})
		}
		return points, nil
	}

	counts := make(map[time.Time]int64)
	for _, ts := range stamps {
		counts[s.hourOf(ts)]++
	}
	points := make([]TrendPoint, 0, days*24+1)
	for h := s.hourOf(start); !h.After(now); h = h.Add(time.Hour) {
		hour := h.Hour()
		points = append(points, TrendPoint{Date: h.Format(dateLayout), Hour: &hour, Views: counts[h]})
	}
	return points, nil
}

func (s *Service) hourOf(ts time.Time) time.Time {
	ts = ts.In(s.loc)
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, s.loc)
}

// VisitorTrend counts distinct sessions with a page view per day.
func (s *Service) VisitorTrend(ctx context.Context, days int) ([]VisitorPoint, error) {
	now, start := s.window(days)

	var rows []struct {
		SessionID string
		Timestamp time.Time `gorm:"column:occurred_at"`
	}
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Select("session_id", "occurred_at").
		Where("occurred_at >= ?", start.UTC()).
		Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("query visitor trend: %w", err)
	}

	seen := make(map[string]map[string]struct{})
	for _, r := range rows {
		k := r.Timestamp.In(s.loc).Format(dateLayout)
		if seen[k] == nil {
			seen[k] = make(map[string]struct{})
		}
		seen[k][r.SessionID] = struct{}{}
	}

	keys := s.dayKeys(start, now)
	points := make([]VisitorPoint, 0, len(keys))
	for _, k := range keys {
		points = append(points, VisitorPoint{Date: k, Visitors: int64(len(seen[k]))})
	}
	return points, nil
}

// Hourly distributes page views over the trailing days by local hour of
// day. The result always has 24 entries.
func (s *Service) Hourly(ctx context.Context, days int) ([]HourPoint, error) {
	_, start := s.window(days)

	var stamps []time.Time
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Where("occurred_at >= ?", start.UTC()).
		Pluck("occurred_at", &stamps).Error; err != nil {
		return nil, xerrors.Errorf("query hourly distribution: %w", err)
	}

	var counts [24]int64
	for _, ts := range stamps {
		counts[ts.In(s.loc).Hour()]++
	}
	points := make([]HourPoint, 24)
	for h := range points {
		points[h] = HourPoint{Hour: h, Views: counts[h]}
	}
	return points, nil
}

// UserTypeTrend splits identified active users per day into users first
// seen that day and returning users.
func (s *Service) UserTypeTrend(ctx context.Context, days int) ([]UserTypePoint, error) {
	now, start := s.window(days)
	q := s.db.WithContext(ctx)

	var firsts []time.Time
	if err := q.Model(&dbpkg.User{}).
		Where("first_visit >= ?", start.UTC()).
		Pluck("first_visit", &firsts).Error; err != nil {
		return nil, xerrors.Errorf("query new users: %w", err)
	}
	newByDay := make(map[string]int64)
	for _, ts := range firsts {
		newByDay[ts.In(s.loc).Format(dateLayout)]++
	}

	var rows []struct {
		UserID    string
		Timestamp time.Time `gorm:"column:occurred_at"`
	}
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Select("user_id", "occurred_at").
		Where("occurred_at >= ? AND user_id <> ''", start.UTC()).
		Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("query active users: %w", err)
	}
	active := make(map[string]map[string]struct{})
	for _, r := range rows {
		k := r.Timestamp.In(s.loc).Format(dateLayout)
		if active[k] == nil {
			active[k] = make(map[string]struct{})
		}
		active[k][r.UserID] = struct{}{}
	}

	keys := s.dayKeys(start, now)
	points := make([]UserTypePoint, 0, len(keys))
	for _, k := range keys {
		total := int64(len(active[k]))
		points = append(points, UserTypePoint{
			Date:           k,
			NewUsers:       newByDay[k],
			ReturningUsers: max(0, total-newByDay[k]),
			TotalActive:    total,
		})
	}
	return points, nil
}

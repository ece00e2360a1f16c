package stats

import (
	"context"
	"sort"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
)

type ReferrerCount struct {
	Referrer   string  `json:"referrer"`
	Views      int64   `json:"views"`
	Percentage float64 `json:"percentage"`
}

type Share struct {
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type EventCount struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

type UserTypeStats struct {
	TotalUsers              int64   `json:"total_users"`
	NewUsers                int64   `json:"new_users"`
	ReturningUsers          int64   `json:"returning_users"`
	NewUserPercentage       float64 `json:"new_user_percentage"`
	ReturningUserPercentage float64 `json:"returning_user_percentage"`
}

// TopPagesToday ranks today's pages, from the cache when it has the
// ranking and from the database otherwise.
func (s *Service) TopPagesToday(ctx context.Context, limit int) []dbpkg.PageCount {
	now, midnight := s.today()
	return s.topPagesToday(ctx, cache.Day(now, s.loc), midnight, ClampLimit(limit))
}

// TopPages ranks pages over the trailing days from the database.
func (s *Service) TopPages(ctx context.Context, days, limit int) ([]dbpkg.PageCount, error) {
	_, start := s.window(days)
	pages, err := dbpkg.TopPages(s.pageViews(ctx), start, ClampLimit(limit))
	if err != nil {
		return nil, xerrors.Errorf("query top pages: %w", err)
	}
	return pages, nil
}

type groupCount struct {
	Label string
	Count int64
}

// Referrers groups all page views by normalized traffic source. The
// percentage is relative to every page view, not only the returned ones.
func (s *Service) Referrers(ctx context.Context, limit int) ([]ReferrerCount, error) {
	var rows []groupCount
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Select("referrer AS label, COUNT(*) AS count").
		Group("referrer").
		Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("query referrers: %w", err)
	}

	bySource, total := regroup(rows, ReferrerSource)
	out := make([]ReferrerCount, 0, len(bySource))
	for _, g := range bySource {
		out = append(out, ReferrerCount{Referrer: g.Label, Views: g.Count, Percentage: percentage(g.Count, total)})
	}
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Devices breaks page views down by operating system family.
func (s *Service) Devices(ctx context.Context) (map[string]Share, error) {
	return s.userAgentShares(ctx, OSFamily)
}

// Browsers breaks page views down by browser.
func (s *Service) Browsers(ctx context.Context) (map[string]Share, error) {
	return s.userAgentShares(ctx, BrowserFamily)
}

func (s *Service) userAgentShares(ctx context.Context, classify func(string) string) (map[string]Share, error) {
	var rows []groupCount
	if err := s.pageViews(ctx).Model(&dbpkg.PageView{}).
		Select("user_agent AS label, COUNT(*) AS count").
		Group("user_agent").
		Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("query user agents: %w", err)
	}

	groups, total := regroup(rows, classify)
	out := make(map[string]Share, len(groups))
	for _, g := range groups {
		out[g.Label] = Share{Count: g.Count, Percentage: percentage(g.Count, total)}
	}
	return out, nil
}

// regroup folds raw group counts into classified buckets sorted by count
// descending, then name.
func regroup(rows []groupCount, classify func(string) string) ([]groupCount, int64) {
	counts := make(map[string]int64)
	var total int64
	for _, r := range rows {
		counts[classify(r.Label)] += r.Count
		total += r.Count
	}
	out := make([]groupCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, groupCount{Label: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out, total
}

// Events counts events by name over the trailing days, optionally limited
// to one event type.
func (s *Service) Events(ctx context.Context, eventType string, days int) ([]EventCount, error) {
	_, start := s.window(days)
	q := s.db.WithContext(ctx).Model(&dbpkg.Event{}).
		Select("event_name, COUNT(*) AS count").
		Where("occurred_at >= ?", start.UTC())
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	rows := []EventCount{}
	if err := q.Group("event_name").
		Order("COUNT(*) DESC, event_name ASC").
		Scan(&rows).Error; err != nil {
		return nil, xerrors.Errorf("query events: %w", err)
	}
	return rows, nil
}

// EventTypesToday counts today's events per event type, from the cache when
// it holds the daily counters and from the database otherwise.
func (s *Service) EventTypesToday(ctx context.Context) (map[string]int64, error) {
	now, midnight := s.today()
	if m, out := s.cache.HGetAll(ctx, cache.DailyEventsKey(cache.Day(now, s.loc))); out == cache.OK {
		counts := make(map[string]int64, len(m))
		for t, v := range m {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			counts[t] = n
		}
		return counts, nil
	}
	counts, err := dbpkg.EventTypeCounts(s.db.WithContext(ctx), midnight)
	if err != nil {
		return nil, xerrors.Errorf("count event types: %w", err)
	}
	return counts, nil
}

// UserTypes splits all known users into those first seen today and the rest.
func (s *Service) UserTypes(ctx context.Context) (UserTypeStats, error) {
	_, midnight := s.today()
	q := s.db.WithContext(ctx)

	var st UserTypeStats
	if err := q.Model(&dbpkg.User{}).Count(&st.TotalUsers).Error; err != nil {
		return st, xerrors.Errorf("count users: %w", err)
	}
	if err := q.Model(&dbpkg.User{}).Where("first_visit >= ?", midnight.UTC()).Count(&st.NewUsers).Error; err != nil {
		return st, xerrors.Errorf("count new users: %w", err)
	}
	st.ReturningUsers = st.TotalUsers - st.NewUsers
	st.NewUserPercentage = percentage(st.NewUsers, st.TotalUsers)
	st.ReturningUserPercentage = percentage(st.ReturningUsers, st.TotalUsers)
	return st, nil
}

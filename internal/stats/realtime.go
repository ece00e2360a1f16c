package stats

import (
	"context"
	"time"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
)

// Snapshot is the realtime view pushed to live dashboards. It is never
// persisted.
type Snapshot struct {
	OnlineUsers         int64             `json:"online_users"`
	PageViewsToday      int64             `json:"page_views_today"`
	UniqueVisitorsToday int64             `json:"unique_visitors_today"`
	AvgDurationToday    float64           `json:"avg_duration_today"`
	TopPages            []dbpkg.PageCount `json:"top_pages"`
}

// Realtime builds the current snapshot. Each field comes from the cache
// when it holds a value and from the database otherwise. A field that
// cannot be read from either is reported as zero.
func (s *Service) Realtime(ctx context.Context) Snapshot {
	now, midnight := s.today()
	day := cache.Day(now, s.loc)
	q := s.db.WithContext(ctx)
	views := s.pageViews(ctx)

	snap := Snapshot{TopPages: []dbpkg.PageCount{}}

	if n, out := cache.GetInt64(ctx, s.cache, cache.OnlineUsersKey); out == cache.OK {
		snap.OnlineUsers = n
	} else {
		snap.OnlineUsers = s.count("online_users", func() (int64, error) {
			return dbpkg.CountActiveSessions(q, now.Add(-OnlineWindow))
		})
	}

	if n, out := cache.GetInt64(ctx, s.cache, cache.PageViewsKey(day)); out == cache.OK {
		snap.PageViewsToday = n
	} else {
		snap.PageViewsToday = s.count("page_views_today", func() (int64, error) {
			return dbpkg.CountPageViews(views, midnight)
		})
	}

	if n, out := cache.GetInt64(ctx, s.cache, cache.UniqueVisitorsKey); out == cache.OK {
		snap.UniqueVisitorsToday = n
	} else {
		snap.UniqueVisitorsToday = s.count("unique_visitors_today", func() (int64, error) {
			return dbpkg.CountVisitorSessions(views, midnight)
		})
	}

	if f, out := cache.GetFloat64(ctx, s.cache, cache.AvgDurationKey); out == cache.OK {
		snap.AvgDurationToday = f
	} else if avg, err := dbpkg.AvgSessionDuration(q, midnight); err != nil {
		s.log.Error().Err(err).Str("field", "avg_duration_today").Msg("realtime fallback failed")
	} else {
		snap.AvgDurationToday = avg
	}

	snap.TopPages = s.topPagesToday(ctx, day, midnight, realtimeTopPages)
	return snap
}

func (s *Service) count(field string, fn func() (int64, error)) int64 {
	n, err := fn()
	if err != nil {
		s.log.Error().Err(err).Str("field", field).Msg("realtime fallback failed")
		return 0
	}
	return n
}

func (s *Service) topPagesToday(ctx context.Context, day string, midnight time.Time, limit int) []dbpkg.PageCount {
	if members, out := s.cache.ZTop(ctx, cache.TopPagesKey(day), limit); out == cache.OK {
		pages := make([]dbpkg.PageCount, 0, len(members))
		for _, m := range members {
			pages = append(pages, dbpkg.PageCount{URL: m.Name, Views: int64(m.Score)})
		}
		return pages
	}
	pages, err := dbpkg.TopPages(s.pageViews(ctx), midnight, limit)
	if err != nil {
		s.log.Error().Err(err).Str("field", "top_pages").Msg("realtime fallback failed")
		return []dbpkg.PageCount{}
	}
	return pages
}

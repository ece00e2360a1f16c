package stats

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
)

const (
	OnlineUsersTTL    = 5 * time.Minute
	UniqueVisitorsTTL = 24 * time.Hour
	AvgDurationTTL    = 24 * time.Hour
)

// RefreshOnlineUsers recomputes the online session count into the cache.
// It does nothing when the cache is unavailable.
func (s *Service) RefreshOnlineUsers(ctx context.Context) error {
	if !s.cache.Available(ctx) {
		return nil
	}
	now, _ := s.today()
	n, err := dbpkg.CountActiveSessions(s.db.WithContext(ctx), now.Add(-OnlineWindow))
	if err != nil {
		return xerrors.Errorf("count online sessions: %w", err)
	}
	s.cache.Set(ctx, cache.OnlineUsersKey, strconv.FormatInt(n, 10), OnlineUsersTTL)
	return nil
}

// RefreshUniqueVisitors recomputes today's distinct visiting sessions.
func (s *Service) RefreshUniqueVisitors(ctx context.Context) error {
	if !s.cache.Available(ctx) {
		return nil
	}
	_, midnight := s.today()
	n, err := dbpkg.CountVisitorSessions(s.pageViews(ctx), midnight)
	if err != nil {
		return xerrors.Errorf("count unique visitors: %w", err)
	}
	s.cache.Set(ctx, cache.UniqueVisitorsKey, strconv.FormatInt(n, 10), UniqueVisitorsTTL)
	return nil
}

// RefreshDailyCounters overwrites today's incrementally maintained
// counters (page view total, top pages and event types) with values
// recomputed from the database.
func (s *Service) RefreshDailyCounters(ctx context.Context) error {
	if !s.cache.Available(ctx) {
		return nil
	}
	now, midnight := s.today()
	day := cache.Day(now, s.loc)

	views, err := dbpkg.CountPageViews(s.pageViews(ctx), midnight)
	if err != nil {
		return xerrors.Errorf("count page views: %w", err)
	}
	pages, err := dbpkg.TopPages(s.pageViews(ctx), midnight, 0)
	if err != nil {
		return xerrors.Errorf("top pages: %w", err)
	}
	events, err := dbpkg.EventTypeCounts(s.db.WithContext(ctx), midnight)
	if err != nil {
		return xerrors.Errorf("count event types: %w", err)
	}

	members := make([]cache.Member, 0, len(pages))
	for _, p := range pages {
		members = append(members, cache.Member{Name: p.URL, Score: float64(p.Views)})
	}
	s.cache.Set(ctx, cache.PageViewsKey(day), strconv.FormatInt(views, 10), cache.DailyTTL)
	s.cache.ReplaceHash(ctx, cache.DailyStatsKey(day), map[string]int64{cache.DailyPageViewsField: views}, cache.DailyTTL)
	s.cache.ReplaceZSet(ctx, cache.TopPagesKey(day), members, cache.DailyTTL)
	s.cache.ReplaceHash(ctx, cache.DailyEventsKey(day), events, cache.DailyTTL)
	return nil
}

// RefreshAvgDuration recomputes today's mean positive session duration.
func (s *Service) RefreshAvgDuration(ctx context.Context) error {
	if !s.cache.Available(ctx) {
		return nil
	}
	_, midnight := s.today()
	avg, err := dbpkg.AvgSessionDuration(s.db.WithContext(ctx), midnight)
	if err != nil {
		return xerrors.Errorf("average session duration: %w", err)
	}
	s.cache.Set(ctx, cache.AvgDurationKey, strconv.FormatFloat(avg, 'f', -1, 64), AvgDurationTTL)
	return nil
}

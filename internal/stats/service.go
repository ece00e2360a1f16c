// Package stats answers dashboard queries and recomputes the cached
// realtime aggregates. Reads prefer the fast counter cache and fall back
// to the database field by field.
package stats

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
)

const (
	// OnlineWindow is how recently a session must have been active to
	// count as online.
	OnlineWindow = 5 * time.Minute

	MaxDays  = 30
	MaxLimit = 50

	realtimeTopPages = 10
)

type Options struct {
	Cache    cache.Cache
	Location *time.Location
	Clock    quartz.Clock
	Logger   zerolog.Logger

	// ExcludeURLPatterns are LIKE patterns for page URLs that no
	// statistic counts.
	ExcludeURLPatterns []string
}

type Service struct {
	db    *gorm.DB
	cache cache.Cache
	loc   *time.Location
	clock quartz.Clock
	log   zerolog.Logger

	exclude []string
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Disabled{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	return &Service{
		db:    db,
		cache: opts.Cache,
		loc:   opts.Location,
		clock: opts.Clock,
		log:   opts.Logger.With().Str("component", "stats").Logger(),

		exclude: opts.ExcludeURLPatterns,
	}
}

// pageViews is the database handle for page view queries, with excluded
// URLs filtered out.
func (s *Service) pageViews(ctx context.Context) *gorm.DB {
	return dbpkg.WithoutPages(s.db.WithContext(ctx), s.exclude...)
}

// today returns the current time and the start of the local day.
func (s *Service) today() (now, midnight time.Time) {
	now = s.clock.Now().In(s.loc)
	midnight = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return now, midnight
}

// ClampDays bounds a day range to [1, MaxDays].
func ClampDays(days int) int {
	return clamp(days, 1, MaxDays)
}

// ClampLimit bounds a result limit to [1, MaxLimit].
func ClampLimit(limit int) int {
	return clamp(limit, 1, MaxLimit)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

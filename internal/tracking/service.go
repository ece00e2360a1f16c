// Package tracking records page views, custom events and session
// heartbeats. Each call is one store transaction; cache counters are
// nudged afterwards on a best-effort basis.
package tracking

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

const (
	UserTypeNew       = "new"
	UserTypeReturning = "returning"

	statusSuccess = "success"

	// bumpTimeout bounds the detached cache updates after a commit.
	bumpTimeout = 2 * time.Second
)

type PageViewInput struct {
	SessionID    string
	UserID       string
	PageURL      string
	PageTitle    string
	Referrer     string
	IPAddress    string
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Language     string
	Duration     float64
}

type PageViewResult struct {
	Status     string `json:"status"`
	PageViewID uint   `json:"page_view_id"`
	SessionID  string `json:"session_id"`
	UserType   string `json:"user_type"`
	IsNewUser  bool   `json:"is_new_user"`
}

type EventInput struct {
	SessionID  string
	UserID     string
	EventType  string
	EventName  string
	Properties map[string]any
	PageURL    string
	IPAddress  string
	UserAgent  string
}

type EventResult struct {
	Status    string `json:"status"`
	EventID   uint   `json:"event_id"`
	SessionID string `json:"session_id"`
}

type Options struct {
	Cache    cache.Cache
	Location *time.Location
	// EventCreatesSession creates a missing session row (with zero page
	// views) when an event references it.
	EventCreatesSession bool
	Clock               quartz.Clock
	Logger              zerolog.Logger
	Metrics             *metrics.Metrics
	// ExcludeURLPatterns are LIKE patterns for page URLs that are stored
	// but never counted in the cached daily aggregates.
	ExcludeURLPatterns []string
}

type Service struct {
	db   *gorm.DB
	opts Options
	wg   sync.WaitGroup
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
	opts.Logger = opts.Logger.With().Str("component", "tracking").Logger()
	return &Service{db: db, opts: opts}
}

// Wait blocks until every pending cache update has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) RecordPageView(ctx context.Context, in PageViewInput) (PageViewResult, error) {
	start := s.opts.Clock.Now()

	in.PageURL = strings.TrimSpace(in.PageURL)
	if in.PageURL == "" {
		return PageViewResult{}, s.reject("pageview", &ValidationError{Field: "page_url", Reason: "is required"})
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	now := start.UTC()
	visit := dbpkg.Visit{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Referrer:  in.Referrer,
		At:        now,
	}

	var res PageViewResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		isNewUser := false
		if in.UserID != "" {
			created, err := dbpkg.TouchUser(tx, visit)
			if err != nil {
				return err
			}
			isNewUser = created
		}

		firstView, err := dbpkg.TouchSession(tx, visit, true)
		if err != nil {
			return err
		}

		pv := dbpkg.PageView{
			SessionID:    in.SessionID,
			UserID:       in.UserID,
			PageURL:      in.PageURL,
			PageTitle:    in.PageTitle,
			Referrer:     in.Referrer,
			IPAddress:    in.IPAddress,
			UserAgent:    in.UserAgent,
			ScreenWidth:  in.ScreenWidth,
			ScreenHeight: in.ScreenHeight,
			Language:     in.Language,
			Duration:     in.Duration,
			Timestamp:    now,
		}
		if err := tx.Create(&pv).Error; err != nil {
			return err
		}

		res = PageViewResult{
			Status:     statusSuccess,
			PageViewID: pv.ID,
			SessionID:  in.SessionID,
			UserType:   userType(in.UserID != "", isNewUser, firstView),
			IsNewUser:  isNewUser,
		}
		return nil
	})
	if err != nil {
		return PageViewResult{}, s.fail("pageview", &WriteError{What: "page view", Err: err})
	}

	day := cache.Day(now, s.opts.Location)
	url := in.PageURL
	if dbpkg.MatchesAny(url, s.opts.ExcludeURLPatterns) {
		s.observe("pageview", start)
		return res, nil
	}
	s.bump(func(ctx context.Context) {
		c := s.opts.Cache
		c.IncrBy(ctx, cache.PageViewsKey(day), 1, cache.DailyTTL)
		c.ZIncrBy(ctx, cache.TopPagesKey(day), url, 1, cache.DailyTTL)
		c.HIncrBy(ctx, cache.DailyStatsKey(day), cache.DailyPageViewsField, 1, cache.DailyTTL)
	})

	s.observe("pageview", start)
	return res, nil
}

func (s *Service) RecordEvent(ctx context.Context, in EventInput) (EventResult, error) {
	start := s.opts.Clock.Now()

	in.EventType = strings.TrimSpace(in.EventType)
	in.EventName = strings.TrimSpace(in.EventName)
	if in.EventType == "" {
		return EventResult{}, s.reject("event", &ValidationError{Field: "event_type", Reason: "is required"})
	}
	if in.EventName == "" {
		return EventResult{}, s.reject("event", &ValidationError{Field: "event_name", Reason: "is required"})
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	now := start.UTC()
	visit := dbpkg.Visit{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		At:        now,
	}

	var ev dbpkg.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.UserID != "" {
			if _, err := dbpkg.TouchUser(tx, visit); err != nil {
				return err
			}
		}
		if s.opts.EventCreatesSession {
			if _, err := dbpkg.TouchSession(tx, visit, false); err != nil {
				return err
			}
		} else if err := dbpkg.MarkSessionActive(tx, in.SessionID, now); err != nil {
			return err
		}

		var props datatypes.JSONMap
		if len(in.Properties) > 0 {
			props = datatypes.JSONMap(in.Properties)
		}
		ev = dbpkg.Event{
			SessionID:  in.SessionID,
			UserID:     in.UserID,
			EventType:  in.EventType,
			EventName:  in.EventName,
			Properties: props,
			PageURL:    in.PageURL,
			IPAddress:  in.IPAddress,
			UserAgent:  in.UserAgent,
			Timestamp:  now,
		}
		return tx.Create(&ev).Error
	})
	if err != nil {
		return EventResult{}, s.fail("event", &WriteError{What: "event", Err: err})
	}

	day := cache.Day(now, s.opts.Location)
	eventType := in.EventType
	s.bump(func(ctx context.Context) {
		s.opts.Cache.HIncrBy(ctx, cache.DailyEventsKey(day), eventType, 1, cache.DailyTTL)
	})

	s.observe("event", start)
	return EventResult{Status: statusSuccess, EventID: ev.ID, SessionID: in.SessionID}, nil
}

// UpdateSessionDuration overwrites a session's duration in seconds.
// Negative durations are stored as zero and unknown sessions are ignored.
func (s *Service) UpdateSessionDuration(ctx context.Context, sessionID string, seconds float64) error {
	start := s.opts.Clock.Now()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return s.reject("duration", &ValidationError{Field: "session_id", Reason: "is required"})
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return s.reject("duration", &ValidationError{Field: "duration", Reason: "must be a finite number"})
	}
	if seconds < 0 {
		seconds = 0
	}

	if err := dbpkg.SetSessionDuration(s.db.WithContext(ctx), sessionID, seconds, start.UTC()); err != nil {
		return s.fail("duration", &WriteError{What: "session duration", Err: err})
	}
	s.observe("duration", start)
	return nil
}

// userType classifies the caller. Identified callers follow the user row;
// anonymous callers follow the session.
func userType(identified, newUser, firstView bool) string {
	if identified {
		if newUser {
			return UserTypeNew
		}
		return UserTypeReturning
	}
	if firstView {
		return UserTypeNew
	}
	return UserTypeReturning
}

func (s *Service) bump(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bumpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) reject(kind string, err *ValidationError) error {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IngestFailures.WithLabelValues(kind, "validation").Inc()
	}
	return err
}

func (s *Service) fail(kind string, err *WriteError) error {
	s.opts.Logger.Error().Err(err.Err).Str("kind", kind).Msg(err.Public())
	if s.opts.Metrics != nil {
		s.opts.Metrics.IngestFailures.WithLabelValues(kind, "write").Inc()
	}
	return err
}

func (s *Service) observe(kind string, start time.Time) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.IngestedTotal.WithLabelValues(kind).Inc()
	s.opts.Metrics.IngestDuration.WithLabelValues(kind).Observe(s.opts.Clock.Since(start).Seconds())
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"
	"golang.org/x/xerrors"

	"github.com/dengruihan/Raymond-Analysis/internal/cache"
	"github.com/dengruihan/Raymond-Analysis/internal/config"
	"github.com/dengruihan/Raymond-Analysis/internal/db"
	"github.com/dengruihan/Raymond-Analysis/internal/flow"
	"github.com/dengruihan/Raymond-Analysis/internal/http/handlers"
	appmw "github.com/dengruihan/Raymond-Analysis/internal/http/middleware"
	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/logging"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
	"github.com/dengruihan/Raymond-Analysis/internal/scheduler"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.Set(ctx, &logger)

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("raymond-analysis stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.Get(ctx)

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		return xerrors.Errorf("connect database: %w", err)
	}
	if raw, err := sqlDB.DB(); err == nil {
		defer raw.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var counters cache.Cache = cache.Disabled{}
	if cfg.RedisURL != "" {
		rc, err := cache.Dial(cfg.RedisURL, cache.Options{
			ProbeTimeout: cfg.CacheProbeTimeout,
			OpTimeout:    cfg.CacheOpTimeout,
			Logger:       *log,
			Metrics:      m,
		})
		if err != nil {
			return xerrors.Errorf("configure cache: %w", err)
		}
		defer rc.Close()
		counters = rc
	} else {
		log.Warn().Msg("APP_REDIS_URL is empty; counters are served from the database")
	}

	clock := quartz.NewReal()
	trk := tracking.NewService(sqlDB, tracking.Options{
		Cache:               counters,
		Location:            cfg.Location,
		EventCreatesSession: cfg.EventCreatesSession,
		Clock:               clock,
		Logger:              *log,
		Metrics:             m,
		ExcludeURLPatterns:  cfg.ExcludeURLPatterns,
	})
	defer trk.Wait()

	st := stats.NewService(sqlDB, stats.Options{
		Cache:    counters,
		Location: cfg.Location,
		Clock:    clock,
		Logger:   *log,

		ExcludeURLPatterns: cfg.ExcludeURLPatterns,
	})
	h := hub.New(*log, m)

	sched := scheduler.New(clock, *log, m, scheduler.Jobs(st, h)...)
	sched.Start(ctx)
	defer sched.Stop()

	r := router.New()
	handlers.Register(r, handlers.Deps{
		Tracking:   trk,
		Stats:      st,
		Flow:       flow.NewBuilder(sqlDB, clock, *log, m).ExcludePages(cfg.ExcludeURLPatterns...),
		Hub:        h,
		Gatherer:   reg,
		StatsToken: cfg.StatsToken,
		Logger:     *log,
	})

	// Global middleware chain: request logger, then CORS, then router
	handler := appmw.RequestLogger(*log)(appmw.CORS(cfg.CORSOrigin)(r.Handler))

	srv := &fasthttp.Server{
		Handler:            handler,
		Name:               "raymond-analysis",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("raymond-analysis listening")
		errc <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		return xerrors.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	return nil
}

package handlers

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dengruihan/Raymond-Analysis/internal/flow"
	appmw "github.com/dengruihan/Raymond-Analysis/internal/http/middleware"
	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

type Deps struct {
	Tracking *tracking.Service
	Stats    *stats.Service
	Flow     *flow.Builder
	Hub      *hub.Hub
	Gatherer prometheus.Gatherer

	// StatsToken guards the query and live routes when set.
	StatsToken string
	Logger     zerolog.Logger
}

func Register(r *router.Router, d Deps) {
	guard := appmw.BearerToken(d.StatsToken)

	r.GET("/healthz", Healthz)
	if d.Gatherer != nil {
		r.GET("/metrics", Metrics(d.Gatherer))
	}

	r.POST("/api/track/pageview", TrackPageView(d.Tracking))
	r.POST("/api/track/event", TrackEvent(d.Tracking))
	r.POST("/api/track/session/duration", TrackDuration(d.Tracking))
	r.GET("/api/track/pixel/pageview", PixelPageView(d.Tracking))
	r.GET("/api/track/pixel/event", PixelEvent(d.Tracking))
	r.GET("/api/track/pixel/duration", PixelDuration(d.Tracking))

	r.GET("/api/stats/realtime", guard(Realtime(d.Stats)))
	r.GET("/api/stats/page-views/trend", guard(PageViewTrend(d.Stats)))
	r.GET("/api/stats/visitors/trend", guard(VisitorTrend(d.Stats)))
	r.GET("/api/stats/hourly", guard(Hourly(d.Stats)))
	r.GET("/api/stats/top-pages", guard(TopPages(d.Stats)))
	r.GET("/api/stats/referrers", guard(Referrers(d.Stats)))
	r.GET("/api/stats/devices", guard(Devices(d.Stats)))
	r.GET("/api/stats/browsers", guard(Browsers(d.Stats)))
	r.GET("/api/stats/events", guard(Events(d.Stats)))
	r.GET("/api/stats/events/types", guard(EventTypes(d.Stats)))
	r.GET("/api/stats/user-types", guard(UserTypes(d.Stats)))
	r.GET("/api/stats/user-types/trend", guard(UserTypeTrend(d.Stats)))
	r.GET("/api/stats/page-flow", guard(PageFlow(d.Flow)))

	r.GET("/api/ws/realtime", guard(LiveStats(d.Stats, d.Hub, d.Logger)))
}

package handlers

import (
	"github.com/valyala/fasthttp"

	"github.com/dengruihan/Raymond-Analysis/internal/flow"
	httpctx "github.com/dengruihan/Raymond-Analysis/internal/http/ctx"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
)

const (
	defaultTrendDays = 7
	defaultLimit     = 10
)

func days(ctx *fasthttp.RequestCtx, def int) int {
	return stats.ClampDays(queryInt(ctx, "days", def))
}

func limit(ctx *fasthttp.RequestCtx) int {
	return stats.ClampLimit(queryInt(ctx, "limit", defaultLimit))
}

func queryFailed(ctx *fasthttp.RequestCtx, what string, err error) {
	httpctx.Logger(ctx).Error().Err(err).Str("query", what).Msg("stats query failed")
	errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query "+what)
}

// Realtime returns the same snapshot the live channel pushes.
func Realtime(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, st.Realtime(ctx))
	}
}

// PageViewTrend returns hourly points for ranges of up to two days and
// daily points otherwise.
func PageViewTrend(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		points, err := st.PageViewTrend(ctx, days(ctx, defaultTrendDays))
		if err != nil {
			queryFailed(ctx, "page view trend", err)
			return
		}
		jsonResponse(ctx, points)
	}
}

func VisitorTrend(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		points, err := st.VisitorTrend(ctx, days(ctx, defaultTrendDays))
		if err != nil {
			queryFailed(ctx, "visitor trend", err)
			return
		}
		jsonResponse(ctx, points)
	}
}

func Hourly(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		points, err := st.Hourly(ctx, days(ctx, 1))
		if err != nil {
			queryFailed(ctx, "hourly distribution", err)
			return
		}
		jsonResponse(ctx, points)
	}
}

// TopPages ranks today's pages unless a days window is given, in which
// case the ranking comes from the store over that window.
func TopPages(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.QueryArgs().Has("days") {
			jsonResponse(ctx, st.TopPagesToday(ctx, limit(ctx)))
			return
		}
		pages, err := st.TopPages(ctx, days(ctx, 1), limit(ctx))
		if err != nil {
			queryFailed(ctx, "top pages", err)
			return
		}
		jsonResponse(ctx, pages)
	}
}

func Referrers(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		refs, err := st.Referrers(ctx, limit(ctx))
		if err != nil {
			queryFailed(ctx, "referrers", err)
			return
		}
		jsonResponse(ctx, refs)
	}
}

func Devices(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		shares, err := st.Devices(ctx)
		if err != nil {
			queryFailed(ctx, "devices", err)
			return
		}
		jsonResponse(ctx, shares)
	}
}

func Browsers(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		shares, err := st.Browsers(ctx)
		if err != nil {
			queryFailed(ctx, "browsers", err)
			return
		}
		jsonResponse(ctx, shares)
	}
}

func Events(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rows, err := st.Events(ctx, queryString(ctx, "event_type"), days(ctx, defaultTrendDays))
		if err != nil {
			queryFailed(ctx, "events", err)
			return
		}
		jsonResponse(ctx, rows)
	}
}

// EventTypes returns today's event counts keyed by event type.
func EventTypes(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		counts, err := st.EventTypesToday(ctx)
		if err != nil {
			queryFailed(ctx, "event types", err)
			return
		}
		jsonResponse(ctx, counts)
	}
}

func UserTypes(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		res, err := st.UserTypes(ctx)
		if err != nil {
			queryFailed(ctx, "user types", err)
			return
		}
		jsonResponse(ctx, res)
	}
}

func UserTypeTrend(st *stats.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		points, err := st.UserTypeTrend(ctx, days(ctx, defaultTrendDays))
		if err != nil {
			queryFailed(ctx, "user type trend", err)
			return
		}
		jsonResponse(ctx, points)
	}
}

// PageFlow never fails: a graph that cannot be built is returned empty.
func PageFlow(b *flow.Builder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, b.Build(ctx, days(ctx, defaultTrendDays)))
	}
}

package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	httpctx "github.com/dengruihan/Raymond-Analysis/internal/http/ctx"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

type pageViewRequest struct {
	PageURL      string  `json:"page_url"`
	PageTitle    string  `json:"page_title"`
	Referrer     string  `json:"referrer"`
	UserID       string  `json:"user_id"`
	SessionID    string  `json:"session_id"`
	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
	Language     string  `json:"language"`
	Duration     float64 `json:"duration"`
}

// fillFromQuery copies query parameters into fields the body left empty.
func (r *pageViewRequest) fillFromQuery(ctx *fasthttp.RequestCtx) {
	setString(&r.PageURL, ctx, "page_url")
	setString(&r.PageTitle, ctx, "page_title")
	setString(&r.Referrer, ctx, "referrer")
	setString(&r.UserID, ctx, "user_id")
	setString(&r.SessionID, ctx, "session_id")
	setString(&r.Language, ctx, "language")
	if r.ScreenWidth == 0 {
		r.ScreenWidth = queryInt(ctx, "screen_width", 0)
	}
	if r.ScreenHeight == 0 {
		r.ScreenHeight = queryInt(ctx, "screen_height", 0)
	}
	if r.Duration == 0 {
		r.Duration, _ = queryFloat(ctx, "duration")
	}
}

func (r pageViewRequest) input(ctx *fasthttp.RequestCtx) tracking.PageViewInput {
	return tracking.PageViewInput{
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		PageURL:      r.PageURL,
		PageTitle:    r.PageTitle,
		Referrer:     r.Referrer,
		IPAddress:    httpctx.ClientIP(ctx),
		UserAgent:    httpctx.UserAgent(ctx),
		ScreenWidth:  r.ScreenWidth,
		ScreenHeight: r.ScreenHeight,
		Language:     r.Language,
		Duration:     r.Duration,
	}
}

type eventRequest struct {
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	PageURL    string         `json:"page_url"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Properties map[string]any `json:"properties"`
}

func (r *eventRequest) fillFromQuery(ctx *fasthttp.RequestCtx) {
	setString(&r.EventType, ctx, "event_type")
	setString(&r.EventName, ctx, "event_name")
	setString(&r.PageURL, ctx, "page_url")
	setString(&r.UserID, ctx, "user_id")
	setString(&r.SessionID, ctx, "session_id")
	if r.Properties == nil {
		if raw := ctx.QueryArgs().Peek("properties"); len(raw) > 0 {
			var props map[string]any
			if json.Unmarshal(raw, &props) == nil {
				r.Properties = props
			}
		}
	}
}

func (r eventRequest) input(ctx *fasthttp.RequestCtx) tracking.EventInput {
	return tracking.EventInput{
		SessionID:  r.SessionID,
		UserID:     r.UserID,
		EventType:  r.EventType,
		EventName:  r.EventName,
		Properties: r.Properties,
		PageURL:    r.PageURL,
		IPAddress:  httpctx.ClientIP(ctx),
		UserAgent:  httpctx.UserAgent(ctx),
	}
}

type durationRequest struct {
	SessionID string   `json:"session_id"`
	Duration  *float64 `json:"duration"`
}

func (r *durationRequest) fillFromQuery(ctx *fasthttp.RequestCtx) {
	setString(&r.SessionID, ctx, "session_id")
	if r.Duration == nil {
		if f, ok := queryFloat(ctx, "duration"); ok {
			r.Duration = &f
		}
	}
}

func setString(dst *string, ctx *fasthttp.RequestCtx, name string) {
	if *dst == "" {
		*dst = queryString(ctx, name)
	}
}

// TrackPageView records one page view and answers with the session and
// user classification the tracker should keep using.
func TrackPageView(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req pageViewRequest
		if err := decodeBody(ctx, &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		req.fillFromQuery(ctx)

		res, err := svc.RecordPageView(ctx, req.input(ctx))
		if err != nil {
			writeTrackError(ctx, err)
			return
		}
		jsonResponse(ctx, res)
	}
}

func TrackEvent(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req eventRequest
		if err := decodeBody(ctx, &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		req.fillFromQuery(ctx)

		res, err := svc.RecordEvent(ctx, req.input(ctx))
		if err != nil {
			writeTrackError(ctx, err)
			return
		}
		jsonResponse(ctx, res)
	}
}

func TrackDuration(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req durationRequest
		if err := decodeBody(ctx, &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		req.fillFromQuery(ctx)
		if req.Duration == nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "duration is required")
			return
		}

		if err := svc.UpdateSessionDuration(ctx, req.SessionID, *req.Duration); err != nil {
			writeTrackError(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"status": "success"})
	}
}

package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
	"golang.org/x/xerrors"

	httpctx "github.com/dengruihan/Raymond-Analysis/internal/http/ctx"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		httpctx.Logger(ctx).Error().Err(err).Msg("encode response")
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	body, _ := json.Marshal(errorBody{Status: "error", Error: msg})
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// writeTrackError maps ingestion errors onto 400 and 500 responses. Store
// causes are never shown to the client.
func writeTrackError(ctx *fasthttp.RequestCtx, err error) {
	var verr *tracking.ValidationError
	if xerrors.As(err, &verr) {
		errResponse(ctx, fasthttp.StatusBadRequest, verr.Error())
		return
	}
	var werr *tracking.WriteError
	if xerrors.As(err, &werr) {
		errResponse(ctx, fasthttp.StatusInternalServerError, werr.Public())
		return
	}
	httpctx.Logger(ctx).Error().Err(err).Msg("unexpected tracking error")
	errResponse(ctx, fasthttp.StatusInternalServerError, "internal error")
}

// queryInt reads an integer query parameter, returning def when it is
// absent or malformed. Range checks are left to the caller.
func queryInt(ctx *fasthttp.RequestCtx, name string, def int) int {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return def
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return def
	}
	return n
}

func queryString(ctx *fasthttp.RequestCtx, name string) string {
	return string(ctx.QueryArgs().Peek(name))
}

func queryFloat(ctx *fasthttp.RequestCtx, name string) (float64, bool) {
	raw := ctx.QueryArgs().Peek(name)
	if len(raw) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// decodeBody unmarshals a JSON body into v. Empty bodies are accepted so
// that query-only requests still reach the query fallback; sendBeacon
// posts arrive as text/plain and are decoded the same way.
func decodeBody(ctx *fasthttp.RequestCtx, v any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return xerrors.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

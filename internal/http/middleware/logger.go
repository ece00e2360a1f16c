package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	httpctx "github.com/dengruihan/Raymond-Analysis/internal/http/ctx"
)

// RequestLogger tags every request with an id, stores a request-scoped
// logger on the context and logs method, path, status and duration once
// the handler returns.
func RequestLogger(logger zerolog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			id := string(ctx.Request.Header.Peek("X-Request-ID"))
			if id == "" {
				id = uuid.NewString()
			}
			httpctx.SetRequestID(ctx, id)
			ctx.Response.Header.Set("X-Request-ID", id)

			l := logger.With().Str("request_id", id).Logger()
			httpctx.SetLogger(ctx, &l)

			next(ctx)

			status := ctx.Response.StatusCode()
			ev := l.Info()
			if status >= fasthttp.StatusInternalServerError {
				ev = l.Warn()
			}
			ev.Bytes("method", ctx.Method()).
				Bytes("path", ctx.Path()).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("ip", httpctx.ClientIP(ctx)).
				Msg("request")
		}
	}
}

package middleware

import "github.com/valyala/fasthttp"

// CORS lets trackers embedded on other origins reach the API. Preflight
// requests are answered directly.
func CORS(origin string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if origin == "" {
		origin = "*"
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			if origin != "*" {
				h.Add("Vary", "Origin")
			}

			if ctx.IsOptions() {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

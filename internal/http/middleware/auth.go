package middleware

import (
	"bytes"
	"crypto/subtle"

	"github.com/valyala/fasthttp"
)

// BearerToken guards the wrapped handler with a static token. Browsers
// cannot set headers on websocket upgrades, so a "token" query parameter
// is accepted as well. An empty token disables the check.
func BearerToken(token string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if token == "" {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return next
		}
	}

	want := []byte(token)
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			got := ctx.QueryArgs().Peek("token")
			if auth := ctx.Request.Header.Peek("Authorization"); len(auth) > 0 {
				const prefix = "Bearer "
				if !bytes.HasPrefix(auth, []byte(prefix)) {
					unauthorized(ctx, "invalid Authorization header")
					return
				}
				got = bytes.TrimSpace(auth[len(prefix):])
			}
			if len(got) == 0 {
				unauthorized(ctx, "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare(got, want) != 1 {
				unauthorized(ctx, "invalid bearer token")
				return
			}
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"status":"error","error":"` + msg + `"}`)
}

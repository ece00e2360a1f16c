package ctx

import (
	"net"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const (
	RequestIDKey = "requestID"
	LoggerKey    = "logger"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func SetLogger(ctx *fasthttp.RequestCtx, l *zerolog.Logger) {
	ctx.SetUserValue(LoggerKey, l)
}

// Logger returns the request logger, or a no-op logger when the request
// did not pass through the logging middleware.
func Logger(ctx *fasthttp.RequestCtx) *zerolog.Logger {
	if l, ok := ctx.UserValue(LoggerKey).(*zerolog.Logger); ok && l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Real-IP"))); ip != "" {
		return ip
	}
	if addr := ctx.RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
		return addr.String()
	}
	return "unknown"
}

func UserAgent(ctx *fasthttp.RequestCtx) string {
	return string(ctx.UserAgent())
}

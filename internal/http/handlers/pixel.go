package handlers

import (
	"github.com/valyala/fasthttp"

	httpctx "github.com/dengruihan/Raymond-Analysis/internal/http/ctx"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

// transparentGIF is a 1x1 transparent GIF89a.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00,
	0x3b,
}

func writePixel(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("image/gif")
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
	ctx.SetBody(transparentGIF)
}

// The pixel handlers take every field from the query string and always
// answer with the image; failures only reach the log.

func PixelPageView(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req pageViewRequest
		req.fillFromQuery(ctx)
		if _, err := svc.RecordPageView(ctx, req.input(ctx)); err != nil {
			httpctx.Logger(ctx).Debug().Err(err).Msg("pixel page view dropped")
		}
		writePixel(ctx)
	}
}

func PixelEvent(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req eventRequest
		req.fillFromQuery(ctx)
		if _, err := svc.RecordEvent(ctx, req.input(ctx)); err != nil {
			httpctx.Logger(ctx).Debug().Err(err).Msg("pixel event dropped")
		}
		writePixel(ctx)
	}
}

func PixelDuration(svc *tracking.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req durationRequest
		req.fillFromQuery(ctx)
		if req.Duration != nil {
			if err := svc.UpdateSessionDuration(ctx, req.SessionID, *req.Duration); err != nil {
				httpctx.Logger(ctx).Debug().Err(err).Msg("pixel duration dropped")
			}
		}
		writePixel(ctx)
	}
}

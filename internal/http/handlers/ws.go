package handlers

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
)

const (
	writeWait = 2 * time.Second

	// statsRequest asks for an immediate snapshot push.
	statsRequest = "stats"
)

// wsSubscriber serializes writes from the hub and from the read loop.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// LiveStats upgrades to a websocket and registers the connection with the
// hub until the client goes away.
func LiveStats(st *stats.Service, h *hub.Hub, logger zerolog.Logger) fasthttp.RequestHandler {
	log := logger.With().Str("component", "ws").Logger()
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}

	return func(ctx *fasthttp.RequestCtx) {
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			sub := &wsSubscriber{conn: conn}
			h.Subscribe(sub)
			defer func() {
				h.Unsubscribe(sub)
				_ = sub.Close()
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if !bytes.Equal(bytes.TrimSpace(msg), []byte(statsRequest)) {
					continue
				}
				out, err := hub.StatsUpdate(st.Realtime(context.Background()))
				if err != nil {
					log.Error().Err(err).Msg("encode snapshot")
					continue
				}
				if err := sub.Send(context.Background(), out); err != nil {
					return
				}
			}
		})
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
		}
	}
}

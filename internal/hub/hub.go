// Package hub fans realtime snapshots out to live dashboard subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

const (
	MessageStatsUpdate = "stats_update"

	defaultParallelism = 32
)

// Subscriber is one live connection. Send must be safe to call
// concurrently with the subscriber's own writes.
type Subscriber interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Envelope is the message shape for both pushed and pulled snapshots.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatsUpdate encodes data as a stats_update message.
func StatsUpdate(data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: MessageStatsUpdate, Data: data})
}

type Hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}

	parallelism int
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

func New(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:        make(map[Subscriber]struct{}),
		parallelism: defaultParallelism,
		log:         logger.With().Str("component", "hub").Logger(),
		metrics:     m,
	}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.gauge(n)
}

// Unsubscribe removes s. It does not close it.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	h.gauge(n)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers msg to every current subscriber and returns how many
// deliveries succeeded. Subscribers whose Send fails are removed and
// closed; the others are unaffected.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) int {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(h.parallelism)
	for _, s := range subs {
		g.Go(func() error {
			if err := s.Send(ctx, msg); err != nil {
				h.drop(s, err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if h.metrics != nil {
		h.metrics.BroadcastsTotal.Inc()
	}
	return int(delivered.Load())
}

func (h *Hub) drop(s Subscriber, err error) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.gauge(n)
	h.log.Debug().Err(err).Msg("dropping subscriber after failed delivery")
	_ = s.Close()
}

func (h *Hub) gauge(n int) {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(n))
	}
}

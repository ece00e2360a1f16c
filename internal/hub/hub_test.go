package hub_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSub struct {
	mu     sync.Mutex
	fail   bool
	got    [][]byte
	closed atomic.Bool
}

func (f *fakeSub) Send(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSub) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSub) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func TestBroadcastPrunesFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := hub.New(zerolog.Nop(), m)

	good1, good2, bad := &fakeSub{}, &fakeSub{}, &fakeSub{fail: true}
	h.Subscribe(good1)
	h.Subscribe(bad)
	h.Subscribe(good2)
	require.Equal(t, 3, h.Len())

	n := h.Broadcast(context.Background(), []byte("hello"))
	require.Equal(t, 2, n)
	require.Equal(t, 2, h.Len())
	require.True(t, bad.closed.Load())
	require.False(t, good1.closed.Load())
	require.Equal(t, [][]byte{[]byte("hello")}, good1.messages())
	require.Equal(t, [][]byte{[]byte("hello")}, good2.messages())
	require.Equal(t, float64(2), testutil.ToFloat64(m.Subscribers))

	n = h.Broadcast(context.Background(), []byte("again"))
	require.Equal(t, 2, n)
	require.Equal(t, float64(2), testutil.ToFloat64(m.BroadcastsTotal))
}

func TestUnsubscribe(t *testing.T) {
	h := hub.New(zerolog.Nop(), nil)
	s := &fakeSub{}
	h.Subscribe(s)
	h.Unsubscribe(s)
	h.Unsubscribe(s)
	require.Zero(t, h.Len())
	require.Zero(t, h.Broadcast(context.Background(), []byte("x")))
	require.False(t, s.closed.Load(), "unsubscribe leaves closing to the owner")
}

func TestConcurrentSubscribeDuringBroadcast(t *testing.T) {
	h := hub.New(zerolog.Nop(), nil)
	for i := 0; i < 50; i++ {
		h.Subscribe(&fakeSub{fail: i%5 == 0})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Broadcast(context.Background(), []byte("tick"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s := &fakeSub{}
				h.Subscribe(s)
				h.Unsubscribe(s)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 40, h.Len())
}

func TestStatsUpdateEnvelope(t *testing.T) {
	b, err := hub.StatsUpdate(map[string]int{"online_users": 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"stats_update","data":{"online_users":3}}`, string(b))
}

package scheduler

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
)

const (
	JobOnlineUsers    = "online_users"
	JobUniqueVisitors = "daily_unique_visitors"
	JobAvgDuration    = "avg_session_duration"
	JobBroadcast      = "realtime_broadcast"
	JobDailyCounters  = "daily_counters"
)

// Jobs returns the standard aggregation and broadcast jobs.
func Jobs(st *stats.Service, h *hub.Hub) []Job {
	return []Job{
		{Name: JobOnlineUsers, Every: time.Minute, Run: st.RefreshOnlineUsers},
		{Name: JobUniqueVisitors, Every: 5 * time.Minute, Run: st.RefreshUniqueVisitors},
		{Name: JobAvgDuration, Every: 10 * time.Minute, Run: st.RefreshAvgDuration},
		{Name: JobDailyCounters, Every: 5 * time.Minute, Run: st.RefreshDailyCounters},
		{Name: JobBroadcast, Every: 5 * time.Second, Run: BroadcastSnapshot(st, h)},
	}
}

// BroadcastSnapshot pushes the current realtime snapshot to every live
// subscriber. Nothing is computed while nobody is listening.
func BroadcastSnapshot(st *stats.Service, h *hub.Hub) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if h.Len() == 0 {
			return nil
		}
		msg, err := hub.StatsUpdate(st.Realtime(ctx))
		if err != nil {
			return xerrors.Errorf("encode snapshot: %w", err)
		}
		h.Broadcast(ctx, msg)
		return nil
	}
}

package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

type Options struct {
	ProbeTimeout time.Duration
	OpTimeout    time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// Redis is a Cache backed by a Redis server. Every operation is preceded
// by a bounded PING so an unreachable server costs at most ProbeTimeout.
type Redis struct {
	client *redis.Client
	opts   Options

	mu    sync.Mutex
	known bool
	up    bool
}

var _ Cache = (*Redis)(nil)

// Dial parses a redis:// URL and returns a cache using it. No connection is
// made until the first operation.
func Dial(url string, opts Options) (*Redis, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(ro), opts), nil
}

func NewRedis(client *redis.Client, opts Options) *Redis {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 250 * time.Millisecond
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	opts.Logger = opts.Logger.With().Str("component", "cache").Logger()
	return &Redis{client: client, opts: opts}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Available(ctx context.Context) bool {
	return r.probe(ctx)
}

func (r *Redis) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()
	err := r.client.Ping(pctx).Err()
	r.setUp(err == nil, err)
	return err == nil
}

// setUp logs availability changes once per transition.
func (r *Redis) setUp(up bool, err error) {
	r.mu.Lock()
	changed := !r.known || r.up != up
	r.known = true
	r.up = up
	r.mu.Unlock()

	if !changed {
		return
	}
	if up {
		r.opts.Logger.Info().Msg("cache available")
	} else {
		r.opts.Logger.Warn().Err(err).Msg("cache unavailable, reads fall back to the database")
	}
}

// do probes the server, then runs fn under the operation timeout.
func (r *Redis) do(ctx context.Context, op string, fn func(ctx context.Context) error) Outcome {
	out := r.run(ctx, op, fn)
	if r.opts.Metrics != nil {
		r.opts.Metrics.CacheOps.WithLabelValues(op, out.String()).Inc()
	}
	return out
}

func (r *Redis) run(ctx context.Context, op string, fn func(ctx context.Context) error) Outcome {
	if !r.probe(ctx) {
		return Unavailable
	}
	octx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	err := fn(octx)
	switch {
	case err == nil:
		return OK
	case xerrors.Is(err, redis.Nil):
		return Miss
	default:
		r.opts.Logger.Warn().Err(err).Str("op", op).Msg("cache operation failed")
		return Unavailable
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, Outcome) {
	var v string
	out := r.do(ctx, "get", func(ctx context.Context) error {
		var err error
		v, err = r.client.Get(ctx, key).Result()
		return err
	})
	return v, out
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) Outcome {
	return r.do(ctx, "set", func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, ttl).Err()
	})
}

func (r *Redis) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) Outcome {
	return r.do(ctx, "incrby", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.IncrBy(ctx, key, n)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, n int64, ttl time.Duration) Outcome {
	return r.do(ctx, "hincrby", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HIncrBy(ctx, key, field, n)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, Outcome) {
	var m map[string]string
	out := r.do(ctx, "hgetall", func(ctx context.Context) error {
		var err error
		m, err = r.client.HGetAll(ctx, key).Result()
		return err
	})
	if out == OK && len(m) == 0 {
		return m, Miss
	}
	return m, out
}

func (r *Redis) ZIncrBy(ctx context.Context, key, member string, n float64, ttl time.Duration) Outcome {
	return r.do(ctx, "zincrby", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZIncrBy(ctx, key, n, member)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

// ZTop reads the top limit members. Redis orders equal scores in reverse
// lexical order for descending ranges, so the members tied at the cut-off
// score are re-read in ascending order to apply the name tie-break.
func (r *Redis) ReplaceHash(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) Outcome {
	return r.do(ctx, "replacehash", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			if len(fields) == 0 {
				return nil
			}
			values := make(map[string]any, len(fields))
			for f, n := range fields {
				values[f] = n
			}
			p.HSet(ctx, key, values)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

func (r *Redis) ReplaceZSet(ctx context.Context, key string, members []Member, ttl time.Duration) Outcome {
	return r.do(ctx, "replacezset", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			if len(members) == 0 {
				return nil
			}
			zs := make([]redis.Z, 0, len(members))
			for _, m := range members {
				zs = append(zs, redis.Z{Score: m.Score, Member: m.Name})
			}
			p.ZAdd(ctx, key, zs...)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	})
}

func (r *Redis) ZTop(ctx context.Context, key string, limit int) ([]Member, Outcome) {
	if limit <= 0 {
		return nil, OK
	}
	var members []Member
	out := r.do(ctx, "ztop", func(ctx context.Context) error {
		top, err := r.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
		if err != nil {
			return err
		}
		members = make([]Member, 0, len(top))
		if len(top) < limit {
			for _, z := range top {
				members = append(members, Member{Name: fmt.Sprint(z.Member), Score: z.Score})
			}
			sortMembers(members)
			return nil
		}

		cut := top[len(top)-1].Score
		for _, z := range top {
			if z.Score > cut {
				members = append(members, Member{Name: fmt.Sprint(z.Member), Score: z.Score})
			}
		}
		sortMembers(members)

		bound := strconv.FormatFloat(cut, 'f', -1, 64)
		ties, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: bound, Max: bound}).Result()
		if err != nil {
			return err
		}
		for _, name := range ties {
			if len(members) == limit {
				break
			}
			members = append(members, Member{Name: name, Score: cut})
		}
		return nil
	})
	if out == OK && len(members) == 0 {
		return members, Miss
	}
	return members, out
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].Name < ms[j].Name
	})
}

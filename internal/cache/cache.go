// Package cache implements the best-effort fast counter cache. Every
// operation reports an Outcome instead of an error: an unreachable cache
// is a normal state that callers handle by reading the database.
package cache

import (
	"context"
	"strconv"
	"time"
)

type Outcome int

const (
	OK Outcome = iota
	Miss
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Miss:
		return "miss"
	default:
		return "unavailable"
	}
}

// Member is one entry of a sorted set.
type Member struct {
	Name  string
	Score float64
}

// Cache is the key/value, hash and sorted-set surface the pipeline needs.
// A ttl of zero leaves the key's expiry untouched.
type Cache interface {
	Available(ctx context.Context) bool
	Get(ctx context.Context, key string) (string, Outcome)
	Set(ctx context.Context, key, value string, ttl time.Duration) Outcome
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) Outcome
	HIncrBy(ctx context.Context, key, field string, n int64, ttl time.Duration) Outcome
	HGetAll(ctx context.Context, key string) (map[string]string, Outcome)
	ZIncrBy(ctx context.Context, key, member string, n float64, ttl time.Duration) Outcome
	// ZTop returns up to limit members by descending score. Equal scores
	// are ordered by member name ascending.
	ZTop(ctx context.Context, key string, limit int) ([]Member, Outcome)
	// ReplaceHash and ReplaceZSet swap the whole content of key in one
	// transaction. Empty content deletes the key.
	ReplaceHash(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) Outcome
	ReplaceZSet(ctx context.Context, key string, members []Member, ttl time.Duration) Outcome
}

// GetInt64 reads key as an integer. Unparseable values count as a miss.
func GetInt64(ctx context.Context, c Cache, key string) (int64, Outcome) {
	s, out := c.Get(ctx, key)
	if out != OK {
		return 0, out
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, Miss
		}
		return int64(f), OK
	}
	return n, OK
}

// GetFloat64 reads key as a float. Unparseable values count as a miss.
func GetFloat64(ctx context.Context, c Cache, key string) (float64, Outcome) {
	s, out := c.Get(ctx, key)
	if out != OK {
		return 0, out
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, Miss
	}
	return f, OK
}

// Disabled is a cache that is never available. It is used when no cache
// URL is configured.
type Disabled struct{}

var _ Cache = Disabled{}

func (Disabled) Available(context.Context) bool { return false }

func (Disabled) Get(context.Context, string) (string, Outcome) { return "", Unavailable }

func (Disabled) Set(context.Context, string, string, time.Duration) Outcome { return Unavailable }

func (Disabled) IncrBy(context.Context, string, int64, time.Duration) Outcome { return Unavailable }

func (Disabled) HIncrBy(context.Context, string, string, int64, time.Duration) Outcome {
	return Unavailable
}

func (Disabled) HGetAll(context.Context, string) (map[string]string, Outcome) {
	return nil, Unavailable
}

func (Disabled) ZIncrBy(context.Context, string, string, float64, time.Duration) Outcome {
	return Unavailable
}

func (Disabled) ZTop(context.Context, string, int) ([]Member, Outcome) { return nil, Unavailable }

func (Disabled) ReplaceHash(context.Context, string, map[string]int64, time.Duration) Outcome {
	return Unavailable
}

func (Disabled) ReplaceZSet(context.Context, string, []Member, time.Duration) Outcome {
	return Unavailable
}

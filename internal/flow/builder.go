// Package flow builds the page-to-page navigation graph shown as a Sankey
// chart on the dashboard.
package flow

import (
	"context"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

// maxHops caps the transitions counted per session.
const maxHops = 3

type Node struct {
	Name string `json:"name"`
}

type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int64  `json:"value"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

func emptyGraph() Graph {
	return Graph{Nodes: []Node{}, Links: []Link{}}
}

type Builder struct {
	db      *gorm.DB
	clock   quartz.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	exclude []string
}

func NewBuilder(db *gorm.DB, clock quartz.Clock, logger zerolog.Logger, m *metrics.Metrics) *Builder {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Builder{
		db:      db,
		clock:   clock,
		log:     logger.With().Str("component", "flow").Logger(),
		metrics: m,
	}
}

// ExcludePages leaves page views whose URL matches any of the LIKE
// patterns out of the graph.
func (b *Builder) ExcludePages(patterns ...string) *Builder {
	b.exclude = patterns
	return b
}

// Build aggregates navigation between page categories for sessions active
// in the trailing days. Failures are logged and yield an empty graph.
func (b *Builder) Build(ctx context.Context, days int) Graph {
	g, err := b.build(ctx, days)
	if err != nil {
		b.log.Error().Err(err).Int("days", days).Msg("page flow build failed")
		if b.metrics != nil {
			b.metrics.FlowGraphFailures.Inc()
		}
		return emptyGraph()
	}
	return g
}

type step struct {
	SessionID string
	PageURL   string
}

type edge struct {
	source, target string
}

func (b *Builder) build(ctx context.Context, days int) (Graph, error) {
	if days < 1 {
		days = 1
	}
	since := b.clock.Now().Add(-time.Duration(days) * 24 * time.Hour).UTC()
	q := b.db.WithContext(ctx)

	active := q.Model(&dbpkg.Session{}).
		Select("session_id").
		Where("start_time >= ? OR end_time >= ?", since, since)

	var steps []step
	if err := dbpkg.WithoutPages(q, b.exclude...).Model(&dbpkg.PageView{}).
		Select("session_id", "page_url").
		Where("session_id IN (?)", active).
		Order("session_id, occurred_at, id").
		Scan(&steps).Error; err != nil {
		return Graph{}, xerrors.Errorf("load session page views: %w", err)
	}

	sessions := make(map[edge]map[string]struct{})
	for start := 0; start < len(steps); {
		end := start
		for end < len(steps) && steps[end].SessionID == steps[start].SessionID {
			end++
		}
		walkSession(steps[start:end], sessions)
		start = end
	}

	return assemble(sessions), nil
}

// walkSession records the first transitions of one session's ordered page
// views, skipping transitions that stay within a category.
func walkSession(views []step, sessions map[edge]map[string]struct{}) {
	hops := min(maxHops, len(views)-1)
	for i := 0; i < hops; i++ {
		src, dst := Category(views[i].PageURL), Category(views[i+1].PageURL)
		if src == dst {
			continue
		}
		e := edge{src, dst}
		if sessions[e] == nil {
			sessions[e] = make(map[string]struct{})
		}
		sessions[e][views[i].SessionID] = struct{}{}
	}
}

func assemble(sessions map[edge]map[string]struct{}) Graph {
	g := emptyGraph()
	names := make(map[string]struct{})
	for e, ids := range sessions {
		names[e.source] = struct{}{}
		names[e.target] = struct{}{}
		g.Links = append(g.Links, Link{Source: e.source, Target: e.target, Value: int64(len(ids))})
	}

	for n := range names {
		g.Nodes = append(g.Nodes, Node{Name: n})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Name < g.Nodes[j].Name })
	sort.Slice(g.Links, func(i, j int) bool {
		a, c := g.Links[i], g.Links[j]
		if a.Value != c.Value {
			return a.Value > c.Value
		}
		if a.Source != c.Source {
			return a.Source < c.Source
		}
		return a.Target < c.Target
	})
	return g
}

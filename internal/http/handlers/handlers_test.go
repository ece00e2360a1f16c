package handlers_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/fasthttp/router"
	"github.com/fasthttp/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gorm.io/gorm"

	dbpkg "github.com/dengruihan/Raymond-Analysis/internal/db"
	"github.com/dengruihan/Raymond-Analysis/internal/db/dbtest"
	"github.com/dengruihan/Raymond-Analysis/internal/flow"
	"github.com/dengruihan/Raymond-Analysis/internal/http/handlers"
	"github.com/dengruihan/Raymond-Analysis/internal/hub"
	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
	"github.com/dengruihan/Raymond-Analysis/internal/stats"
	"github.com/dengruihan/Raymond-Analysis/internal/tracking"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type server struct {
	db     *gorm.DB
	hub    *hub.Hub
	ln     *fasthttputil.InmemoryListener
	client *fasthttp.Client
}

func newServer(t *testing.T, token string) *server {
	t.Helper()

	clk := quartz.NewMock(t)
	clk.Set(now).MustWait(context.Background())

	gdb := dbtest.New(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := zerolog.Nop()

	trk := tracking.NewService(gdb, tracking.Options{Location: time.UTC, Clock: clk, Logger: logger, Metrics: m})
	t.Cleanup(trk.Wait)
	st := stats.NewService(gdb, stats.Options{Location: time.UTC, Clock: clk, Logger: logger})
	h := hub.New(logger, m)

	r := router.New()
	handlers.Register(r, handlers.Deps{
		Tracking:   trk,
		Stats:      st,
		Flow:       flow.NewBuilder(gdb, clk, logger, m),
		Hub:        h,
		Gatherer:   reg,
		StatsToken: token,
		Logger:     logger,
	})

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: r.Handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.ShutdownWithContext(ctx)
	})

	return &server{
		db:  gdb,
		hub: h,
		ln:  ln,
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (s *server) do(t *testing.T, method, uri, contentType, body string, headers ...string) response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://analytics.test" + uri)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if body != "" {
		req.SetBodyString(body)
	}
	require.NoError(t, s.client.Do(req, resp))

	return response{
		status:      resp.StatusCode(),
		contentType: string(resp.Header.ContentType()),
		body:        append([]byte(nil), resp.Body()...),
	}
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

type errBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func TestTrackPageView(t *testing.T) {
	s := newServer(t, "")

	resp := s.do(t, "POST", "/api/track/pageview", "application/json",
		`{"page_url":"https://example.com/","user_id":"u1","session_id":"s1","screen_width":1920}`,
		"X-Forwarded-For", "203.0.113.5")
	require.Equal(t, fasthttp.StatusOK, resp.status, string(resp.body))

	var res tracking.PageViewResult
	resp.decode(t, &res)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "new", res.UserType)
	assert.True(t, res.IsNewUser)
	assert.NotZero(t, res.PageViewID)

	var pv dbpkg.PageView
	require.NoError(t, s.db.First(&pv, res.PageViewID).Error)
	assert.Equal(t, "203.0.113.5", pv.IPAddress)
	assert.Equal(t, 1920, pv.ScreenWidth)
	assert.Contains(t, pv.UserAgent, "Chrome")

	resp = s.do(t, "POST", "/api/track/pageview", "text/plain;charset=UTF-8",
		`{"page_url":"https://example.com/login","user_id":"u1","session_id":"s1"}`)
	require.Equal(t, fasthttp.StatusOK, resp.status)
	resp.decode(t, &res)
	assert.Equal(t, "returning", res.UserType)
	assert.False(t, res.IsNewUser)
}

func TestTrackPageViewQueryFallback(t *testing.T) {
	s := newServer(t, "")

	resp := s.do(t, "POST", "/api/track/pageview?page_url=/pricing&page_title=Pricing", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status, string(resp.body))

	var res tracking.PageViewResult
	resp.decode(t, &res)
	assert.NotEmpty(t, res.SessionID, "a session id is generated when none is sent")

	var pv dbpkg.PageView
	require.NoError(t, s.db.First(&pv, res.PageViewID).Error)
	assert.Equal(t, "/pricing", pv.PageURL)
	assert.Equal(t, "Pricing", pv.PageTitle)
}

func TestTrackPageViewRejected(t *testing.T) {
	s := newServer(t, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing url", `{"session_id":"s1"}`, "page_url is required"},
		{"malformed", `{"page_url":`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, "POST", "/api/track/pageview", "application/json", tt.body)
			require.Equal(t, fasthttp.StatusBadRequest, resp.status)

			var e errBody
			resp.decode(t, &e)
			assert.Equal(t, "error", e.Status)
			assert.Equal(t, tt.want, e.Error)
		})
	}

	var n int64
	require.NoError(t, s.db.Model(&dbpkg.Session{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestTrackPageViewStoreFailure(t *testing.T) {
	s := newServer(t, "")
	require.NoError(t, s.db.Migrator().DropTable(&dbpkg.PageView{}))

	resp := s.do(t, "POST", "/api/track/pageview", "application/json", `{"page_url":"/","session_id":"s1"}`)
	require.Equal(t, fasthttp.StatusInternalServerError, resp.status)

	var e errBody
	resp.decode(t, &e)
	assert.Equal(t, "failed to record page view", e.Error)
}

func TestTrackEvent(t *testing.T) {
	s := newServer(t, "")

	resp := s.do(t, "POST", "/api/track/event", "application/json",
		`{"event_type":"click","event_name":"signup","session_id":"s1","properties":{"plan":"pro"}}`)
	require.Equal(t, fasthttp.StatusOK, resp.status, string(resp.body))

	var res tracking.EventResult
	resp.decode(t, &res)
	assert.Equal(t, "s1", res.SessionID)

	var ev dbpkg.Event
	require.NoError(t, s.db.First(&ev, res.EventID).Error)
	assert.Equal(t, "signup", ev.EventName)
	assert.Equal(t, "pro", ev.Properties["plan"])

	resp = s.do(t, "POST", "/api/track/event", "application/json", `{"event_name":"signup"}`)
	require.Equal(t, fasthttp.StatusBadRequest, resp.status)
}

func TestTrackDuration(t *testing.T) {
	s := newServer(t, "")
	resp := s.do(t, "POST", "/api/track/pageview", "application/json", `{"page_url":"/","session_id":"s1"}`)
	require.Equal(t, fasthttp.StatusOK, resp.status)

	resp = s.do(t, "POST", "/api/track/session/duration", "application/json", `{"session_id":"s1","duration":12.5}`)
	require.Equal(t, fasthttp.StatusOK, resp.status, string(resp.body))
	require.JSONEq(t, `{"status":"success"}`, string(resp.body))

	var sess dbpkg.Session
	require.NoError(t, s.db.Where("session_id = ?", "s1").First(&sess).Error)
	assert.InDelta(t, 12.5, sess.Duration, 1e-9)

	resp = s.do(t, "POST", "/api/track/session/duration?session_id=s1&duration=30", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status)
	require.NoError(t, s.db.Where("session_id = ?", "s1").First(&sess).Error)
	assert.InDelta(t, 30, sess.Duration, 1e-9)

	resp = s.do(t, "POST", "/api/track/session/duration", "application/json", `{"session_id":"missing","duration":5}`)
	require.Equal(t, fasthttp.StatusOK, resp.status, "unknown sessions are ignored")

	resp = s.do(t, "POST", "/api/track/session/duration", "application/json", `{"session_id":"s1"}`)
	require.Equal(t, fasthttp.StatusBadRequest, resp.status)
}

func TestPixelAlwaysReturnsImage(t *testing.T) {
	s := newServer(t, "")

	uris := []string{
		"/api/track/pixel/pageview?page_url=/docs&session_id=p1",
		"/api/track/pixel/pageview",
		"/api/track/pixel/event?event_type=click&event_name=cta&session_id=p1&properties=%7B%22pos%22%3A%22hero%22%7D",
		"/api/track/pixel/event?event_type=click",
		"/api/track/pixel/duration?session_id=p1&duration=4",
		"/api/track/pixel/duration?session_id=p1&duration=abc",
	}
	for _, uri := range uris {
		resp := s.do(t, "GET", uri, "", "")
		require.Equal(t, fasthttp.StatusOK, resp.status, uri)
		assert.Equal(t, "image/gif", resp.contentType, uri)
		assert.Len(t, resp.body, 43, uri)
	}

	var views, events int64
	require.NoError(t, s.db.Model(&dbpkg.PageView{}).Count(&views).Error)
	require.NoError(t, s.db.Model(&dbpkg.Event{}).Count(&events).Error)
	assert.EqualValues(t, 1, views)
	assert.EqualValues(t, 1, events)

	var ev dbpkg.Event
	require.NoError(t, s.db.First(&ev).Error)
	assert.Equal(t, "hero", ev.Properties["pos"])

	var sess dbpkg.Session
	require.NoError(t, s.db.Where("session_id = ?", "p1").First(&sess).Error)
	assert.InDelta(t, 4, sess.Duration, 1e-9)
}

func TestStatsEndpoints(t *testing.T) {
	s := newServer(t, "")
	for _, page := range []string{"/", "/login", "/wifi-model/42", "/"} {
		resp := s.do(t, "POST", "/api/track/pageview", "application/json",
			`{"page_url":"https://example.com`+page+`","session_id":"s1","referrer":"https://www.google.com/search"}`)
		require.Equal(t, fasthttp.StatusOK, resp.status)
	}

	var snap stats.Snapshot
	resp := s.do(t, "GET", "/api/stats/realtime", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status)
	resp.decode(t, &snap)
	assert.EqualValues(t, 4, snap.PageViewsToday)
	assert.EqualValues(t, 1, snap.UniqueVisitorsToday)
	assert.EqualValues(t, 1, snap.OnlineUsers)
	require.NotEmpty(t, snap.TopPages)
	assert.Equal(t, "https://example.com/", snap.TopPages[0].URL)

	var pages []dbpkg.PageCount
	s.do(t, "GET", "/api/stats/top-pages?limit=1", "", "").decode(t, &pages)
	require.Len(t, pages, 1)
	assert.EqualValues(t, 2, pages[0].Views)

	s.do(t, "GET", "/api/stats/top-pages?limit=500&days=3", "", "").decode(t, &pages)
	assert.Len(t, pages, 3)

	var refs []stats.ReferrerCount
	s.do(t, "GET", "/api/stats/referrers", "", "").decode(t, &refs)
	require.Len(t, refs, 1)
	assert.Equal(t, "Google", refs[0].Referrer)
	assert.InDelta(t, 100, refs[0].Percentage, 1e-9)

	var browsers map[string]stats.Share
	s.do(t, "GET", "/api/stats/browsers", "", "").decode(t, &browsers)
	assert.EqualValues(t, 4, browsers["Chrome"].Count)

	var trend []stats.TrendPoint
	s.do(t, "GET", "/api/stats/page-views/trend?days=1", "", "").decode(t, &trend)
	require.NotEmpty(t, trend)
	require.NotNil(t, trend[0].Hour, "short ranges use hourly points")

	s.do(t, "GET", "/api/stats/page-views/trend?days=99", "", "").decode(t, &trend)
	assert.Len(t, trend, stats.MaxDays+1, "daily points cover both partial ends of the window")

	var graph flow.Graph
	s.do(t, "GET", "/api/stats/page-flow", "", "").decode(t, &graph)
	assert.NotEmpty(t, graph.Links)

	for _, uri := range []string{
		"/api/stats/visitors/trend", "/api/stats/hourly", "/api/stats/devices",
		"/api/stats/events?event_type=click", "/api/stats/user-types", "/api/stats/user-types/trend",
	} {
		resp := s.do(t, "GET", uri, "", "")
		assert.Equal(t, fasthttp.StatusOK, resp.status, uri)
		assert.Equal(t, "application/json", resp.contentType, uri)
	}
}

func TestEventTypes(t *testing.T) {
	s := newServer(t, "")
	for _, body := range []string{
		`{"event_type":"click","event_name":"cta","session_id":"s1"}`,
		`{"event_type":"click","event_name":"banner","session_id":"s1"}`,
		`{"event_type":"form","event_name":"submit","session_id":"s2"}`,
	} {
		require.Equal(t, fasthttp.StatusOK, s.do(t, "POST", "/api/track/event", "application/json", body).status)
	}

	resp := s.do(t, "GET", "/api/stats/events/types", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status)
	var counts map[string]int64
	resp.decode(t, &counts)
	assert.Equal(t, map[string]int64{"click": 2, "form": 1}, counts)

	require.NoError(t, s.db.Migrator().DropTable(&dbpkg.Event{}))
	resp = s.do(t, "GET", "/api/stats/events/types", "", "")
	require.Equal(t, fasthttp.StatusInternalServerError, resp.status)
	var eb errBody
	resp.decode(t, &eb)
	assert.Equal(t, "error", eb.Status)
	assert.Equal(t, "failed to query event types", eb.Error)
}

func TestStatsToken(t *testing.T) {
	s := newServer(t, "letmein")

	require.Equal(t, fasthttp.StatusUnauthorized, s.do(t, "GET", "/api/stats/realtime", "", "").status)
	require.Equal(t, fasthttp.StatusOK,
		s.do(t, "GET", "/api/stats/realtime", "", "", "Authorization", "Bearer letmein").status)

	resp := s.do(t, "POST", "/api/track/pageview", "application/json", `{"page_url":"/"}`)
	require.Equal(t, fasthttp.StatusOK, resp.status, "tracking stays open")
}

func TestMetricsAndHealth(t *testing.T) {
	s := newServer(t, "")

	resp := s.do(t, "GET", "/healthz", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status)
	require.Equal(t, "ok", string(resp.body))

	s.do(t, "POST", "/api/track/pageview", "application/json", `{"page_url":"/"}`)

	resp = s.do(t, "GET", "/metrics", "", "")
	require.Equal(t, fasthttp.StatusOK, resp.status)
	assert.Contains(t, string(resp.body), `raymond_ingested_total{kind="pageview"} 1`)
	assert.Contains(t, string(resp.body), "raymond_live_subscribers 0")

	resp = s.do(t, "GET", "/metrics?prefix=raymond_live", "", "")
	assert.Contains(t, string(resp.body), "raymond_live_subscribers")
	assert.NotContains(t, string(resp.body), "raymond_ingested_total")
}

func TestLiveStats(t *testing.T) {
	s := newServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialer := websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) { return s.ln.Dial() },
	}
	conn, _, err := dialer.DialContext(ctx, "ws://analytics.test/api/ws/realtime", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	var env struct {
		Type string         `json:"type"`
		Data stats.Snapshot `json:"data"`
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("stats")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &env))
	require.Equal(t, hub.MessageStatsUpdate, env.Type)

	pushed, err := hub.StatsUpdate(stats.Snapshot{OnlineUsers: 7})
	require.NoError(t, err)
	require.Equal(t, 1, s.hub.Broadcast(ctx, pushed))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &env))
	require.EqualValues(t, 7, env.Data.OnlineUsers)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

package httphandler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/buildpulse/internal/adapter/driving/http"
	"github.com/ericfisherdev/buildpulse/internal/application"
	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// --- Mock implementations ---

type memStore struct {
	mu        sync.Mutex
	events    []model.BuildEvent
	appendErr error
	pingErr   error
}

func (m *memStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) Append(_ context.Context, event model.BuildEvent) (model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return model.BuildEvent{}, &model.StorageError{Op: "append", Err: m.appendErr}
	}
	event.ID = int64(len(m.events) + 1)
	event.ReceivedAt = time.Now().UTC()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memStore) List(_ context.Context, limit int, provider model.Provider) ([]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BuildEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if provider != "" && m.events[i].Provider != provider {
			continue
		}
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *memStore) Window(_ context.Context, d time.Duration) ([]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-d)
	var out []model.BuildEvent
	for _, e := range m.events {
		if !e.EffectiveTime().Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) LatestPerPipeline(_ context.Context) (map[string]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.BuildEvent)
	for _, e := range m.events {
		out[e.Pipeline] = e
	}
	return out, nil
}

type countingTransport struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (t *countingTransport) Name() string { return "counting" }

func (t *countingTransport) Deliver(_ context.Context, alert model.Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts = append(t.alerts, alert)
	return nil
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.alerts)
}

// --- Test helpers ---

type testEnv struct {
	store       *memStore
	transport   *countingTransport
	broadcaster *application.Broadcaster
	server      http.Handler
}

func setupHandler(t *testing.T, opts httphandler.Options) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memStore{}
	transport := &countingTransport{}
	broadcaster := application.NewBroadcaster(8, logger)
	alerts := application.NewAlertDispatcher([]driven.AlertTransport{transport}, application.AlertPolicy{}, logger)
	ingest := application.NewIngestService(application.NewNormalizer(), store, alerts, broadcaster, logger)
	metrics := application.NewMetricsService(store)

	h := httphandler.NewHandler(ingest, metrics, store, alerts, broadcaster, opts, logger)
	t.Cleanup(broadcaster.Close)

	return &testEnv{
		store:       store,
		transport:   transport,
		broadcaster: broadcaster,
		server:      httphandler.NewServeMux(h, logger),
	}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func buildBody(pipeline, status string) string {
	now := time.Now().UTC()
	return `{"pipeline":"` + pipeline + `","repo":"acme/api","branch":"main","status":"` + status +
		`","started_at":"` + now.Add(-time.Minute).Format(time.RFC3339) +
		`","completed_at":"` + now.Format(time.RFC3339) + `"}`
}

// --- Tests ---

func TestIngest(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		body       string
		wantStatus int
		wantField  string
	}{
		{name: "github success", provider: "github", body: buildBody("ci", "success"), wantStatus: http.StatusOK},
		{name: "jenkins unstable", provider: "jenkins", body: buildBody("nightly", "UNSTABLE"), wantStatus: http.StatusOK},
		{name: "provider is case insensitive", provider: "GitHub", body: buildBody("ci", "success"), wantStatus: http.StatusOK},
		{name: "unknown provider", provider: "gitlab", body: buildBody("ci", "success"), wantStatus: http.StatusNotFound},
		{name: "missing status", provider: "github", body: `{"pipeline":"ci"}`, wantStatus: http.StatusBadRequest, wantField: "status"},
		{name: "malformed json", provider: "github", body: `{"pipeline":`, wantStatus: http.StatusBadRequest},
		{name: "bad timestamp", provider: "github", body: `{"status":"success","started_at":"yesterday"}`, wantStatus: http.StatusBadRequest, wantField: "started_at"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupHandler(t, httphandler.Options{})

			rec := env.do(http.MethodPost, "/ingest/"+tc.provider, tc.body)
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())

			if tc.wantStatus != http.StatusOK {
				resp := decode[map[string]string](t, rec)
				assert.NotEmpty(t, resp["error"])
				assert.Equal(t, tc.wantField, resp["field"])
				assert.Empty(t, env.store.events)
				return
			}

			resp := decode[httphandler.BuildResponse](t, rec)
			assert.Equal(t, int64(1), resp.ID)
			assert.Equal(t, strings.ToLower(tc.provider), resp.Provider)
			assert.Nil(t, resp.DurationSeconds, "duration is not derived from timestamps")
			assert.NotEmpty(t, resp.ReceivedAt)
		})
	}
}

func TestIngest_ResponseMatchesListedBuild(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantDuration *float64
	}{
		{
			name: "timestamps without duration",
			body: `{"pipeline":"ci","status":"failure","started_at":"2026-04-20T10:00:00Z",` +
				`"completed_at":"2026-04-20T10:05:00Z","logs":"boom"}`,
		},
		{
			name:         "explicit duration",
			body:         `{"pipeline":"ci","status":"success","duration_seconds":42.5,"logs":"ok","url":"https://ci.example/1"}`,
			wantDuration: func() *float64 { d := 42.5; return &d }(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupHandler(t, httphandler.Options{})

			ingested := env.do(http.MethodPost, "/ingest/github", tc.body)
			require.Equal(t, http.StatusOK, ingested.Code, ingested.Body.String())

			listed := env.do(http.MethodGet, "/builds?limit=1", "")
			require.Equal(t, http.StatusOK, listed.Code)

			var fields []map[string]any
			require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &fields))
			require.Len(t, fields, 1)
			assert.Equal(t, decode[map[string]any](t, ingested), fields[0])

			builds := decode[[]httphandler.BuildResponse](t, listed)
			assert.Equal(t, tc.wantDuration, builds[0].DurationSeconds)
			assert.Equal(t, env.store.events[0].Logs, builds[0].Logs)
			assert.NotEmpty(t, builds[0].Logs)
		})
	}
}

func TestIngest_DisabledProvider(t *testing.T) {
	env := setupHandler(t, httphandler.Options{Providers: []model.Provider{model.ProviderJenkins}})

	rec := env.do(http.MethodPost, "/ingest/github", buildBody("ci", "success"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/ingest/jenkins", buildBody("ci", "SUCCESS"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})

	body := `{"status":"failure","logs":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := env.do(http.MethodPost, "/ingest/github", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, env.store.events)
}

func TestIngest_StorageFailure(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})
	env.store.appendErr = errors.New("disk full")

	rec := env.do(http.MethodPost, "/ingest/github", buildBody("ci", "failure"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, env.transport.count(), "no alert for an event that was never stored")
}

func TestIngest_FailureAlertsOnce(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})

	for range 3 {
		rec := env.do(http.MethodPost, "/ingest/github", buildBody("ci", "failure"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, env.transport.count())

	rec := env.do(http.MethodGet, "/alerts/suppressions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]httphandler.SuppressionResponse](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "ci", records[0].Pipeline)
	assert.Equal(t, "alerted", records[0].State)
	assert.Equal(t, 2, records[0].SuppressedCount)
	assert.NotNil(t, records[0].LastAlertedAt)
}

func TestSummary(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})

	for _, status := range []string{"success", "success", "success", "failure", "in_progress"} {
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/ingest/github", buildBody("ci", status)).Code)
	}
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/ingest/jenkins", buildBody("nightly", "ABORTED")).Code)

	rec := env.do(http.MethodGet, "/metrics/summary?window=1h", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[httphandler.SummaryResponse](t, rec)
	assert.InDelta(t, 3600, resp.WindowSeconds, 0.001)
	assert.Equal(t, 4, resp.TotalBuilds)
	assert.InDelta(t, 75, resp.SuccessRate, 0.001)
	assert.InDelta(t, 25, resp.FailureRate, 0.001)
	assert.InDelta(t, 60, resp.AvgBuildTime, 0.01)
	assert.Equal(t, map[string]string{"ci": "in_progress", "nightly": "cancelled"}, resp.LastStatusByPipeline)
}

func TestSummary_Window(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWindow float64
	}{
		{name: "default window", query: "", wantStatus: http.StatusOK, wantWindow: 7 * 24 * 3600},
		{name: "days", query: "?window=1d", wantStatus: http.StatusOK, wantWindow: 24 * 3600},
		{name: "go duration", query: "?window=90m", wantStatus: http.StatusOK, wantWindow: 5400},
		{name: "garbage", query: "?window=soon", wantStatus: http.StatusBadRequest},
		{name: "negative", query: "?window=-1h", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupHandler(t, httphandler.Options{})

			rec := env.do(http.MethodGet, "/metrics/summary"+tc.query, "")
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantStatus != http.StatusOK {
				return
			}

			resp := decode[httphandler.SummaryResponse](t, rec)
			assert.InDelta(t, tc.wantWindow, resp.WindowSeconds, 0.001)
			assert.Zero(t, resp.TotalBuilds)
			assert.Zero(t, resp.SuccessRate)
			assert.NotNil(t, resp.LastStatusByPipeline)
		})
	}
}

func TestListBuilds(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})
	for i := range 4 {
		provider := "github"
		if i%2 == 1 {
			provider = "jenkins"
		}
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/ingest/"+provider, buildBody("ci", "success")).Code)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []int64
	}{
		{name: "default", query: "", wantStatus: http.StatusOK, wantIDs: []int64{4, 3, 2, 1}},
		{name: "limit", query: "?limit=2", wantStatus: http.StatusOK, wantIDs: []int64{4, 3}},
		{name: "limit above cap", query: "?limit=100000", wantStatus: http.StatusOK, wantIDs: []int64{4, 3, 2, 1}},
		{name: "provider filter", query: "?provider=jenkins", wantStatus: http.StatusOK, wantIDs: []int64{4, 2}},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "non-numeric limit", query: "?limit=ten", wantStatus: http.StatusBadRequest},
		{name: "unknown provider", query: "?provider=gitlab", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/builds"+tc.query, "")
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantStatus != http.StatusOK {
				return
			}

			builds := decode[[]httphandler.BuildResponse](t, rec)
			ids := make([]int64, 0, len(builds))
			for _, b := range builds {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestListBuilds_EmptyIsArray(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})

	rec := env.do(http.MethodGet, "/builds", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})

	rec := env.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httphandler.HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	assert.Zero(t, resp.Subscribers)
}

func TestHealth_StoreUnreachable(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})
	env.store.pingErr = errors.New("database is closed")

	rec := env.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[httphandler.HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.Store)
}

func TestCORS(t *testing.T) {
	env := setupHandler(t, httphandler.Options{AllowedOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/builds", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/builds", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func waitForSubscribers(t *testing.T, b *application.Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamWebSocket(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})
	srv := httptest.NewServer(env.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	waitForSubscribers(t, env.broadcaster, 1)

	for _, status := range []string{"failure", "success"} {
		res, err := http.Post(srv.URL+"/ingest/github", "application/json", strings.NewReader(buildBody("ci", status)))
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second httphandler.BuildResponse
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "failure", first.Status)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, "success", second.Status)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, env.broadcaster, 0)
}

func TestStreamWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := setupHandler(t, httphandler.Options{AllowedOrigins: []string{"https://dash.example.com"}})
	srv := httptest.NewServer(env.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, env.broadcaster.Count())
}

func TestStreamEvents(t *testing.T) {
	env := setupHandler(t, httphandler.Options{})
	srv := httptest.NewServer(env.server)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitForSubscribers(t, env.broadcaster, 1)

	res, err := http.Post(srv.URL+"/ingest/jenkins", "application/json", strings.NewReader(buildBody("nightly", "SUCCESS")))
	require.NoError(t, err)
	res.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			data = strings.TrimSpace(rest)
		}
	}

	var build httphandler.BuildResponse
	require.NoError(t, json.Unmarshal([]byte(data), &build))
	assert.Equal(t, int64(1), build.ID)
	assert.Equal(t, "jenkins", build.Provider)
	assert.Equal(t, "success", build.Status)

	cancel()
	waitForSubscribers(t, env.broadcaster, 0)
}

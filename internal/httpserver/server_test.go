package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/monitoring"
	"github.com/tphakala/pairwatch/internal/observability"
)

type fakeSession struct {
	mu        sync.Mutex
	state     monitoring.State
	code      string
	list      []string
	updateErr error
}

func (f *fakeSession) State() monitoring.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) PairingCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeSession) WatchList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = monitoring.StateIdle
	f.code = ""
	f.list = nil
}

func (f *fakeSession) UpdateWatchList(_ context.Context, objects []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.list = objects
	return nil
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	srv, err := New("127.0.0.1:0", opts...)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path, "")
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RejectsBadListenAddress(t *testing.T) {
	t.Parallel()
	_, err := New("not-an-address", WithLogger(logger.NewDiscardLogger()))
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, WithVersion("1.2.3"))

	rec := get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.NotEmpty(t, body.Timestamp)
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		session Session
		want    string
	}{
		{
			name: "no session",
			want: `{"state":"idle","watch_list":[]}`,
		},
		{
			name:    "active",
			session: &fakeSession{state: monitoring.StateActive, code: "ABC123", list: []string{"cat", "dog"}},
			want:    `{"state":"active","pairing_code":"ABC123","watch_list":["cat","dog"]}`,
		},
		{
			name:    "reconnecting with empty watch list",
			session: &fakeSession{state: monitoring.StateReconnecting, code: "ABC123"},
			want:    `{"state":"reconnecting","pairing_code":"ABC123","watch_list":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var opts []Option
			if tt.session != nil {
				opts = append(opts, WithSession(tt.session))
			}
			srv := newTestServer(t, opts...)

			rec := get(t, srv.Handler(), "/api/v1/session")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestStopSession(t *testing.T) {
	t.Parallel()
	session := &fakeSession{state: monitoring.StateActive, code: "ABC123", list: []string{"cat"}}
	srv := newTestServer(t, WithSession(session))

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle","watch_list":[]}`, rec.Body.String())
	assert.Equal(t, monitoring.StateIdle, session.State())
}

func TestControlRoutesNeedSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/session/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWatchList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		updateErr  error
		wantStatus int
		wantList   []string
	}{
		{
			name:       "updated",
			body:       `{"objects":["dog","cat"]}`,
			wantStatus: http.StatusOK,
			wantList:   []string{"dog", "cat"},
		},
		{
			name:       "malformed body",
			body:       `{"objects":`,
			wantStatus: http.StatusBadRequest,
			wantList:   []string{"cat"},
		},
		{
			name:       "session not active",
			body:       `{"objects":["dog"]}`,
			updateErr:  errors.New(monitoring.ErrNotActive).Category(errors.CategoryState).Build(),
			wantStatus: http.StatusConflict,
			wantList:   []string{"cat"},
		},
		{
			name:       "invalid pairing",
			body:       `{"objects":["dog"]}`,
			updateErr:  errors.ValidationError("bad objects"),
			wantStatus: http.StatusBadRequest,
			wantList:   []string{"cat"},
		},
		{
			name:       "store failure",
			body:       `{"objects":["dog"]}`,
			updateErr:  errors.NewStd("store unavailable"),
			wantStatus: http.StatusBadGateway,
			wantList:   []string{"cat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			session := &fakeSession{
				state:     monitoring.StateActive,
				code:      "ABC123",
				list:      []string{"cat"},
				updateErr: tt.updateErr,
			}
			srv := newTestServer(t, WithSession(session))

			rec := do(t, srv.Handler(), http.MethodPut, "/api/v1/session/watch_list", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantList, session.WatchList())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Session.SetState(monitoring.StateActive.String())

	srv := newTestServer(t, WithMetricsHandler(m.Handler()))
	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pairwatch_session_state")
}

func TestMetricsEndpoint_NotRegisteredWithoutHandler(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestClient_AgainstServer(t *testing.T) {
	t.Parallel()
	session := &fakeSession{state: monitoring.StateActive, code: "ABC123", list: []string{"cat"}}
	srv := newTestServer(t, WithSession(session))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := NewClient(strings.TrimPrefix(ts.URL, "http://"), nil)
	require.NoError(t, err)

	status, err := client.Session(t.Context())
	require.NoError(t, err)
	assert.Equal(t, monitoring.StateActive, status.State)
	assert.Equal(t, "ABC123", status.PairingCode)

	status, err = client.UpdateWatchList(t.Context(), []string{"dog"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dog"}, status.WatchList)

	status, err = client.Stop(t.Context())
	require.NoError(t, err)
	assert.Equal(t, monitoring.StateIdle, status.State)

	_, err = client.UpdateWatchList(t.Context(), []string{"dog"})
	require.NoError(t, err, "the fake accepts updates while idle")
}

func TestNewClient_UnspecifiedHostUsesLoopback(t *testing.T) {
	t.Parallel()
	client, err := NewClient("0.0.0.0:8089", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8089", client.base)

	client, err = NewClient(":8089", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8089", client.base)

	_, err = NewClient("nope", nil)
	require.Error(t, err)
}

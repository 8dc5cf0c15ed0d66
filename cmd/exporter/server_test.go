package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/config"
	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/metrics"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/andreweacott/jatekukko-exporter/pkg/scheduler"
	"github.com/andreweacott/jatekukko-exporter/pkg/setup"
	"github.com/andreweacott/jatekukko-exporter/pkg/views"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.January, 8, 9, 30, 0, 0, time.UTC)

func date(day int) portal.Date {
	return portal.NewDate(2024, time.January, day)
}

// staticSource serves one snapshot and remembers its listeners
type staticSource struct {
	snapshot  *coordinator.Snapshot
	listeners []coordinator.Listener
}

func (s *staticSource) Snapshot() *coordinator.Snapshot { return s.snapshot }

func (s *staticSource) Subscribe(listener coordinator.Listener) func() {
	s.listeners = append(s.listeners, listener)
	return func() {}
}

func (s *staticSource) publish(snapshot *coordinator.Snapshot) {
	s.snapshot = snapshot
	for _, l := range s.listeners {
		l(snapshot)
	}
}

type stubStatus struct {
	status coordinator.Status
}

func (s *stubStatus) Status() coordinator.Status { return s.status }

type stubRefresh struct {
	paused bool
	err    error
	calls  int
}

func (s *stubRefresh) Trigger(context.Context) (*coordinator.Snapshot, error) {
	s.calls++
	if s.paused {
		return nil, scheduler.ErrPaused
	}
	if s.err != nil {
		return nil, s.err
	}
	return &coordinator.Snapshot{FetchedAt: fixedNow, Services: map[int]coordinator.ServiceData{1: {}}}, nil
}

func (s *stubRefresh) Paused() bool { return s.paused }

type stubReauth struct {
	err      error
	password string
}

func (s *stubReauth) Reauth(_ context.Context, password string) error {
	s.password = password
	return s.err
}

type testEnv struct {
	source  *staticSource
	status  *stubStatus
	refresh *stubRefresh
	reauth  *stubReauth
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	next := date(10)
	source := &staticSource{snapshot: &coordinator.Snapshot{
		Services: map[int]coordinator.ServiceData{
			1: {
				Service:            portal.Service{Pos: 1, Name: "Sekajäte", NextCollection: &next},
				CollectionSchedule: []portal.Date{date(24), date(5), date(10)},
			},
			2: {Service: portal.Service{Pos: 2, Name: "Kartonki"}},
		},
		InvoiceHeaders: []portal.InvoiceHeader{{Name: "Lasku 1001", DueDate: date(20)}},
		FetchedAt:      fixedNow,
	}}

	clock := func() time.Time { return fixedNow }
	set, err := views.Build(source, "1234", clock, nil)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	_, err = metrics.NewExporterMetrics(registry)
	require.NoError(t, err)

	env := &testEnv{
		source:  source,
		status:  &stubStatus{status: coordinator.Status{LastSuccess: fixedNow}},
		refresh: &stubRefresh{},
		reauth:  &stubReauth{},
	}
	env.server = httptest.NewServer(NewHandler(Handlers{
		Registry: registry,
		Views:    set,
		Status:   env.status,
		Refresh:  env.refresh,
		Reauth:   env.reauth,
		Clock:    clock,
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) get(t *testing.T, path string, dest interface{}) int {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path, body string, dest interface{}) int {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

// TestHandleHealth tests the /health endpoint states
func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		status     coordinator.Status
		paused     bool
		wantStatus string
	}{
		{name: "ok", status: coordinator.Status{LastSuccess: fixedNow}, wantStatus: "ok"},
		{name: "degraded", status: coordinator.Status{LastSuccess: fixedNow, LastError: errors.New("503")}, wantStatus: "degraded"},
		{name: "reauth required", status: coordinator.Status{ConsecutiveAuthFailures: 3, LastError: errors.New("401")}, paused: true, wantStatus: "reauth_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.status.status = tt.status
			env.refresh.paused = tt.paused

			var body map[string]interface{}
			assert.Equal(t, http.StatusOK, env.get(t, "/health", &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "closed", body["circuit_breaker"])
			assert.EqualValues(t, tt.status.ConsecutiveAuthFailures, body["consecutive_auth_failures"])
		})
	}
}

// TestCalendarsEndpoint tests the calendar listing
func TestCalendarsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body []calendarResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/calendars", &body))
	require.Len(t, body, 2, "service without schedule has no calendar")

	assert.Equal(t, "1@1234", body[0].ID)
	assert.Equal(t, "Sekajäte", body[0].Name)
	assert.True(t, body[0].Available)
	require.NotNil(t, body[0].CurrentEvent)
	assert.Equal(t, date(10), body[0].CurrentEvent.Start)

	assert.Equal(t, "invoices@1234", body[1].ID)
	assert.Equal(t, views.InvoiceCalendarName, body[1].Name)
	require.NotNil(t, body[1].CurrentEvent)
	assert.Equal(t, "Lasku 1001", body[1].CurrentEvent.Summary)
}

// TestCalendarEventsEndpoint tests range queries on a single calendar
func TestCalendarEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body calendarResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/calendars/1@1234?start=2024-01-05&end=2024-01-24", &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, date(5), body.Events[0].Start)
	assert.Equal(t, date(10), body.Events[1].Start)

	body = calendarResponse{}
	require.Equal(t, http.StatusOK, env.get(t, "/api/calendars/1@1234", &body))
	require.Len(t, body.Events, 2, "default range starts today")
	assert.Equal(t, date(10), body.Events[0].Start)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/calendars/1@1234?start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/calendars/1@1234?end=2024-13-01", nil))
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/calendars/9@1234", nil))
}

// TestCalendarEventsEndpoint_Unavailable tests 503 once the service disappears
func TestCalendarEventsEndpoint_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.source.publish(&coordinator.Snapshot{Services: map[int]coordinator.ServiceData{}})

	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/api/calendars/1@1234", nil))

	var body []calendarResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/calendars", &body))
	assert.False(t, body[0].Available)
	assert.True(t, body[1].Available)
}

// TestSensorsEndpoint tests the sensor listing
func TestSensorsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body []sensorResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/sensors", &body))
	require.Len(t, body, 1)
	assert.Equal(t, "1@1234", body[0].ID)
	require.NotNil(t, body[0].Value)
	assert.Equal(t, date(10), *body[0].Value)
}

// TestRefreshEndpoint tests manual refresh outcomes
func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]interface{}
	assert.Equal(t, http.StatusOK, env.post(t, "/api/refresh", "", &body))
	assert.EqualValues(t, 1, body["services"])

	env.refresh.err = &coordinator.TransientError{Op: "list services", Err: errors.New("503")}
	assert.Equal(t, http.StatusBadGateway, env.post(t, "/api/refresh", "", nil))

	env.refresh.paused = true
	assert.Equal(t, http.StatusConflict, env.post(t, "/api/refresh", "", nil))

	resp, err := http.Get(env.server.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestReauthEndpoint tests the mapping of re-authentication results to status codes
func TestReauthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "success", body: `{"password":"new"}`, wantStatus: http.StatusOK},
		{name: "missing password", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `password=new`, wantStatus: http.StatusBadRequest},
		{
			name:       "invalid auth",
			body:       `{"password":"wrong"}`,
			err:        &setup.ValidationError{Kind: setup.ErrInvalidAuth, Err: errors.New("401")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_auth",
		},
		{
			name:       "cannot connect",
			body:       `{"password":"new"}`,
			err:        &setup.ValidationError{Kind: setup.ErrCannotConnect, Err: errors.New("refused")},
			wantStatus: http.StatusBadGateway,
			wantError:  "cannot_connect",
		},
		{
			name:       "no entry",
			body:       `{"password":"new"}`,
			err:        setup.ErrReauthNoEntry,
			wantStatus: http.StatusNotFound,
			wantError:  "reauth_failed_existing",
		},
		{
			name:       "unexpected",
			body:       `{"password":"new"}`,
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.reauth.err = tt.err

			var body map[string]string
			assert.Equal(t, tt.wantStatus, env.post(t, "/api/reauth", tt.body, &body))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "new", env.reauth.password)
			}
		})
	}
}

// TestMetricsEndpoint tests that the custom registry is exposed
func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "jatekukko_exporter_build_info")
}

// TestStartServerGracefulShutdown tests graceful shutdown
func TestStartServerGracefulShutdown(t *testing.T) {
	port := findFreePort()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run server in goroutine
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, port, handler, nil)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	// Cancel context to trigger shutdown
	cancel()

	// Wait for server to shut down
	err := <-done
	assert.NoError(t, err)

	// Verify server is stopped
	_, err = http.Get(fmt.Sprintf("http://localhost:%d/health", port))
	assert.Error(t, err)
}

// TestStartServerPortInUse tests server when port is already in use
func TestStartServerPortInUse(t *testing.T) {
	// Occupy the port with a dummy listener
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = StartServer(ctx, port, http.NotFoundHandler(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server error")
}

// TestSetupGracefulShutdownWithSignal tests graceful shutdown with SIGTERM
func TestSetupGracefulShutdownWithSignal(t *testing.T) {
	if os.Getenv("SKIP_SIGNAL_TESTS") != "" {
		t.Skip("Skipping signal test")
	}

	ctx := SetupGracefulShutdown()
	require.NotNil(t, ctx)

	// Context should not be cancelled initially
	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled initially")
	default:
	}

	// Send SIGTERM to current process
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	// Context should be cancelled after signal
	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("context should have been cancelled by signal")
	}
}

// TestResolveCredentials tests the flag and entry store fallbacks
func TestResolveCredentials(t *testing.T) {
	store, err := setup.OpenStore(filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := &config.Config{}

	_, err = resolveCredentials(cfg, store)
	assert.ErrorContains(t, err, "no entries configured")

	require.NoError(t, store.Put(setup.Entry{CustomerNumber: "1234", Password: "stored", Title: "Koti"}))

	entry, err := resolveCredentials(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "stored", entry.Password)

	require.NoError(t, store.Put(setup.Entry{CustomerNumber: "5678", Password: "other"}))
	_, err = resolveCredentials(cfg, store)
	assert.ErrorContains(t, err, "select one with --customer-number")

	cfg.CustomerNumber = "5678"
	entry, err = resolveCredentials(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "other", entry.Password)

	cfg.CustomerNumber = "0000"
	_, err = resolveCredentials(cfg, store)
	assert.ErrorContains(t, err, "run setup first")

	cfg.Password = "from-flags"
	entry, err = resolveCredentials(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "0000", entry.CustomerNumber)
	assert.Equal(t, "from-flags", entry.Password)
}

// TestRootCmd_Version tests cobra wiring of subcommands and flags
func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--port", "9200"})
	require.NoError(t, cmd.Execute())

	flag := cmd.PersistentFlags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "9200", flag.Value.String())

	for _, name := range []string{"serve", "setup", "reauth", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

// TestRootCmd_InvalidConfig tests that validation runs before any command
func TestRootCmd_InvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"version", "--log-level", "verbose"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

// findFreePort finds an available port on the system
func findFreePort() int {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 9100 // fallback to default
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port
}

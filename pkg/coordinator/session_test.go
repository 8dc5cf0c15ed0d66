package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionPortal is an httptest portal whose sessions can expire server-side
type sessionPortal struct {
	mu       sync.Mutex
	sessions map[string]bool
	logins   int
}

func newSessionPortal(t *testing.T) (*sessionPortal, *httptest.Server) {
	p := &sessionPortal{sessions: map[string]bool{}}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /j_security_check", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.logins++
		if r.FormValue("j_password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := "session-" + strconv.Itoa(p.logins)
		p.sessions[id] = true
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: id, Path: "/"})
	})
	mux.HandleFunc("GET /logout.jsp", func(http.ResponseWriter, *http.Request) {})

	p.serve(mux, "/api/customers/1234/services", []map[string]interface{}{{"pos": 1, "name": "Sekajäte"}})
	p.serve(mux, "/api/customers/1234/services/1/schedule", []string{"2024-01-10"})
	p.serve(mux, "/api/customers/1234/invoices", []map[string]string{{"name": "Lasku", "dueDate": "2024-01-20"}})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return p, server
}

func (p *sessionPortal) serve(mux *http.ServeMux, path string, body interface{}) {
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		cookie, err := r.Cookie("JSESSIONID")
		ok := err == nil && p.sessions[cookie.Value]
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (p *sessionPortal) expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = map[string]bool{}
}

// TestRefresh_ExpiredSessionIsNotAnAuthFailure tests refreshing across a server-side session expiry
func TestRefresh_ExpiredSessionIsNotAnAuthFailure(t *testing.T) {
	fake, server := newSessionPortal(t)

	client, err := portal.NewClient(server.URL, "1234", "secret", nil, nil)
	require.NoError(t, err)
	c := newTestCoordinator(t, NewPortalAPIWithCircuitBreaker(client, DefaultCircuitBreakerConfig(), nil))
	ctx := context.Background()

	_, err = c.Refresh(ctx)
	require.NoError(t, err)

	fake.expire()

	snapshot, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot.Services, 1)
	assert.Equal(t, 0, c.ConsecutiveAuthFailures())
	assert.NoError(t, c.LastError())
	assert.Equal(t, 2, fake.logins)
}

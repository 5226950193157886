package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

const consoleHTML = `<html><head><title> Shop Admin </title></head><body><div id="app"></div></body></html>`

func newConsoleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(consoleHTML))
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/", http.StatusFound)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><title>502</title></html>"))
	})
	mux.HandleFunc("/headers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>" + r.Header.Get("X-Env") + "|" + r.UserAgent() + "</title>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck(t *testing.T) {
	srv := newConsoleServer(t)
	c := New(Options{Concurrency: 2, Marker: "#app"}, zaptest.NewLogger(t))

	sites := []schemas.SiteEndpoint{
		{ID: "tw", URL: srv.URL + "/admin/#/login"},
		{ID: "moved", URL: srv.URL + "/old"},
		{ID: "down", URL: srv.URL + "/down"},
		{ID: "bad", URL: "://nope"},
	}
	results, err := c.Check(context.Background(), sites)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.True(t, c.MarkerConfigured())

	tw := results[0]
	assert.Equal(t, "tw", tw.SiteID)
	assert.Equal(t, http.StatusOK, tw.StatusCode)
	assert.Equal(t, "Shop Admin", tw.Title)
	assert.True(t, tw.MarkerFound)
	assert.True(t, tw.OK(true))
	assert.Greater(t, tw.Latency, time.Duration(0))

	moved := results[1]
	assert.Equal(t, srv.URL+"/admin/", moved.FinalURL)
	assert.True(t, moved.OK(true))

	down := results[2]
	assert.Equal(t, http.StatusBadGateway, down.StatusCode)
	assert.False(t, down.MarkerFound)
	assert.False(t, down.OK(false))

	bad := results[3]
	assert.Error(t, bad.Err)
	assert.False(t, bad.OK(false))
}

func TestCheck_MarkerMissing(t *testing.T) {
	srv := newConsoleServer(t)
	c := New(Options{Marker: ".el-login"}, nil)

	results, err := c.Check(context.Background(), []schemas.SiteEndpoint{{ID: "tw", URL: srv.URL + "/admin/"}})
	require.NoError(t, err)
	assert.False(t, results[0].MarkerFound)
	assert.False(t, results[0].OK(true))
	assert.True(t, results[0].OK(false), "without a marker only the status counts")
}

func TestCheck_HeadersAndUserAgent(t *testing.T) {
	srv := newConsoleServer(t)
	c := New(Options{Headers: map[string]string{"X-Env": "staging"}, UserAgent: "consoledeploy-preflight"}, nil)

	results, err := c.Check(context.Background(), []schemas.SiteEndpoint{{ID: "h", URL: srv.URL + "/headers"}})
	require.NoError(t, err)
	assert.Equal(t, "staging|consoledeploy-preflight", results[0].Title)
}

func TestCheck_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte("<title>ok</title>"))
	}))
	defer srv.Close()

	sites := make([]schemas.SiteEndpoint, 8)
	for i := range sites {
		sites[i] = schemas.SiteEndpoint{ID: string(rune('a' + i)), URL: srv.URL}
	}
	results, err := New(Options{Concurrency: 2}, nil).Check(context.Background(), sites)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, sites[i].ID, r.SiteID, "results keep site order")
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCheck_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>secure</title>"))
	}))
	defer srv.Close()
	sites := []schemas.SiteEndpoint{{ID: "s", URL: srv.URL}}

	strict, err := New(Options{}, nil).Check(context.Background(), sites)
	require.NoError(t, err)
	assert.Error(t, strict[0].Err, "self-signed certificate is rejected by default")

	lax, err := New(Options{IgnoreTLSErrors: true}, nil).Check(context.Background(), sites)
	require.NoError(t, err)
	require.NoError(t, lax[0].Err)
	assert.Equal(t, "secure", lax[0].Title)
}

func TestCheck_Cancelled(t *testing.T) {
	srv := newConsoleServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(Options{}, nil).Check(ctx, []schemas.SiteEndpoint{{ID: "tw", URL: srv.URL + "/admin/"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taziji/ChinaRMBSite/internal/auth"
	"github.com/taziji/ChinaRMBSite/internal/config"
	"github.com/taziji/ChinaRMBSite/internal/metrics"
	"github.com/taziji/ChinaRMBSite/internal/static"
)

// --- Test helpers ---

type testServerOptions struct {
	store        *auth.Store
	healthChecks []HealthCheck
	mutateConfig func(*config.Config)
}

func withStore(store *auth.Store) func(*testServerOptions) {
	return func(o *testServerOptions) { o.store = store }
}

func withHealthCheck(name string, check func(ctx context.Context) error) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.healthChecks = append(o.healthChecks, HealthCheck{Name: name, Check: check})
	}
}

func withConfig(mutate func(*config.Config)) func(*testServerOptions) {
	return func(o *testServerOptions) { o.mutateConfig = mutate }
}

// newTestServer builds a fully wired server over a throwaway document
// root containing a 200-byte index page and a nested stylesheet.
func newTestServer(t *testing.T, opts ...func(*testServerOptions)) *Server {
	t.Helper()

	options := &testServerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	root := t.TempDir()
	writeSiteFile(t, root, "index.html", strings.Repeat("x", 200))
	writeSiteFile(t, root, "assets/site.css", "body { color: red }")
	writeSiteFile(t, root, ".htpasswd", "admin:secret")

	cfg := &config.Config{
		AppEnv:            "development",
		Port:              "8080",
		DocumentRoot:      root,
		IndexFile:         "index.html",
		BasicAuthRealm:    "Restricted",
		ShutdownGrace:     10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	if options.mutateConfig != nil {
		options.mutateConfig(cfg)
	}

	resolver, err := static.NewResolver(root, cfg.IndexFile)
	require.NoError(t, err)

	return New(cfg, static.NewHandler(resolver, nil, nil), options.store, metrics.NewRegistry(), options.healthChecks)
}

func writeSiteFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func serveRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func testStore(t *testing.T) *auth.Store {
	t.Helper()
	store, err := auth.FromCredentials("admin", "secret")
	require.NoError(t, err)
	return store
}

// --- Routing ---

func TestServer_ServesIndexAtRoot(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.Repeat("x", 200), rec.Body.String())
	assert.Equal(t, "200", rec.Header().Get(echo.HeaderContentLength))
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
}

func TestServer_ServesNestedAsset(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/assets/site.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body { color: red }", rec.Body.String())
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
}

func TestServer_HeadRequestHasNoBody(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodHead, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "200", rec.Header().Get(echo.HeaderContentLength))
	assert.Empty(t, rec.Body.String())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := serveRequest(srv, httptest.NewRequest(method, "/", nil))

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "Method Not Allowed\n", rec.Body.String())
		})
	}
}

func TestServer_MissingFileReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/missing.html", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found\n", rec.Body.String())
	assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
}

func TestServer_TraversalOutsideRootReturnsForbidden(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden\n", rec.Body.String())
}

func TestServer_TraversalForbiddenEvenWithValidCredentials(t *testing.T) {
	srv := newTestServer(t, withStore(testStore(t)))

	req := httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil)
	req.SetBasicAuth("admin", "secret")
	rec := serveRequest(srv, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden\n", rec.Body.String())
}

func TestServer_DotfileIsHidden(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/.htpasswd", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found\n", rec.Body.String())
}

// --- Auth gate ---

func TestServer_AuthGateChallengesWithoutCredentials(t *testing.T) {
	srv := newTestServer(t, withStore(testStore(t)))

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="Restricted"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
	assert.Equal(t, "Unauthorized\n", rec.Body.String())
}

func TestServer_AuthGateRejectionsAreUniform(t *testing.T) {
	srv := newTestServer(t, withStore(testStore(t)))

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "admin", password: "wrong"},
		{name: "unknown user", username: "nobody", password: "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.SetBasicAuth(tt.username, tt.password)
			rec := serveRequest(srv, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, `Basic realm="Restricted"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
			assert.Equal(t, "Unauthorized\n", rec.Body.String())
		})
	}
}

func TestServer_AuthGateAdmitsValidCredentials(t *testing.T) {
	srv := newTestServer(t, withStore(testStore(t)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "secret")
	rec := serveRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.Repeat("x", 200), rec.Body.String())
}

func TestServer_ObservabilityRoutesBypassAuthGate(t *testing.T) {
	srv := newTestServer(t, withStore(testStore(t)))

	for _, path := range []string{"/health/startup", "/health/live", "/health/ready", "/version", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServer_NoStoreDisablesGate(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec := serveRequest(srv, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Middleware behavior through the full stack ---

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get(echo.HeaderXFrameOptions))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get(echo.HeaderReferrerPolicy))
	assert.Empty(t, rec.Header().Get(echo.HeaderStrictTransportSecurity))
}

func TestServer_HSTSOnlyInProduction(t *testing.T) {
	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.AppEnv = "production"
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	rec := serveRequest(srv, req)

	assert.Contains(t, rec.Header().Get(echo.HeaderStrictTransportSecurity), "max-age=63072000")
}

func TestServer_RateLimitExceededReturnsPlainText(t *testing.T) {
	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.RateLimitRPS = 0.01
		cfg.RateLimitBurst = 1
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = testRemoteAddr
	rec := serveRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = testRemoteAddr
	rec = serveRequest(srv, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too Many Requests\n", rec.Body.String())
}

func TestServer_PanicRecoveredAsInternalError(t *testing.T) {
	srv := newTestServer(t)
	srv.echo.GET("/boom", func(echo.Context) error {
		panic("kaboom")
	})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error\n", rec.Body.String())
	assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
}

func TestServer_MetricsEndpointReportsRequests(t *testing.T) {
	srv := newTestServer(t)

	serveRequest(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rmbsite_http_requests_total{method="GET",route="/*",status_code="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

// --- Lifecycle ---

func TestServer_ShutdownDrainsInFlightRequests(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.Port = "0"
	}))

	handlerStarted := make(chan struct{})
	srv.echo.GET("/slow", func(c echo.Context) error {
		close(handlerStarted)
		time.Sleep(300 * time.Millisecond)
		return c.String(http.StatusOK, "done")
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	var addr string
	require.Eventually(t, func() bool {
		listenerAddr := srv.echo.ListenerAddr()
		if listenerAddr == nil {
			return false
		}
		addr = listenerAddr.String()
		return true
	}, time.Second, 10*time.Millisecond)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()

	type slowResult struct {
		status int
		body   string
		err    error
	}
	slowDone := make(chan slowResult, 1)
	go func() {
		resp, err := client.Get("http://" + addr + "/slow")
		if err != nil {
			slowDone <- slowResult{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		slowDone <- slowResult{status: resp.StatusCode, body: string(body), err: err}
	}()

	<-handlerStarted

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	// The listener closes before in-flight requests finish, so new
	// connections are refused while the slow request is still running.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return false
		}
		return true
	}, time.Second, 20*time.Millisecond)

	result := <-slowDone
	require.NoError(t, result.err)
	assert.Equal(t, http.StatusOK, result.status)
	assert.Equal(t, "done", result.body)

	require.NoError(t, <-shutdownErr)
	assert.ErrorIs(t, <-serveErr, http.ErrServerClosed)
}

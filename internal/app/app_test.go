package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mbr/internal/config"
)

const testSessionSecret = "test-session-secret-32bytes-long!"

// clearedEnvVars はテスト実行環境の値が混入しないよう空にする変数。
var clearedEnvVars = []string{
	"SERVER_PORT", "APP_ENV", "APP_URL", "VERCEL_PROJECT_PRODUCTION_URL", "VERCEL_URL",
	"COOKIE_DOMAIN", "CORS_ALLOWED_ORIGIN",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_ADS_DEVELOPER_TOKEN",
	"LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET", "META_APP_ID", "META_APP_SECRET",
	"HUBSPOT_CLIENT_ID", "HUBSPOT_CLIENT_SECRET", "ANTHROPIC_API_KEY", "LOG_LEVEL",
	"SAFE_UPSTREAM_CLIENT",
}

func setTestEnv(t *testing.T) {
	t.Helper()
	for _, key := range clearedEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("SESSION_SECRET", testSessionSecret)
}

// restoreDefaultLogger はInitが差し替えたデフォルトロガーをテスト終了時に戻す。
func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.BaseURL != "http://localhost:3000" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}

	slog.Default().Info("init test")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingSecret_ReturnsError(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)
	t.Setenv("SESSION_SECRET", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing SESSION_SECRET, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)
	t.Setenv("SESSION_SECRET", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_Check_PrintsConnectorStatusWithoutSecrets(t *testing.T) {
	setTestEnv(t)
	restoreDefaultLogger(t)
	t.Setenv("GOOGLE_CLIENT_ID", "google-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "google-very-secret")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-very-secret")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"check"}); err != nil {
		t.Fatalf("Run(check) error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"base_url: http://localhost:3000",
		"google: configured",
		"hubspot: missing",
		"narrative: configured",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, secret := range []string{"google-very-secret", "sk-ant-very-secret", testSessionSecret} {
		if strings.Contains(out, secret) {
			t.Errorf("output leaked %q", secret)
		}
	}
}

func TestRun_Healthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("SERVER_PORT", srv.URL[strings.LastIndex(srv.URL, ":")+1:])

	if err := Run(io.Discard, []string{"healthcheck"}); err != nil {
		t.Errorf("healthcheck error: %v", err)
	}
}

func TestRunHealthcheck_NonOKStatus_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := runHealthcheck(srv.URL + "/health"); err == nil {
		t.Error("expected error for 503")
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	setTestEnv(t)
	t.Setenv("SAFE_UPSTREAM_CLIENT", "false")
	t.Setenv("GOOGLE_CLIENT_ID", "google-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "google-secret")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestNewServer_WiresRoutes(t *testing.T) {
	srv := newTestServer(t, loadTestConfig(t))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/catalog", http.StatusOK},
		{http.MethodGet, "/api/auth/status", http.StatusOK},
		{http.MethodGet, "/api/auth/google", http.StatusTemporaryRedirect},
		{http.MethodGet, "/api/auth/hubspot", http.StatusServiceUnavailable},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestNewServer_GoogleRedirectUsesCallbackURL(t *testing.T) {
	srv := newTestServer(t, loadTestConfig(t))

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/google", nil))

	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "redirect_uri=http%3A%2F%2Flocalhost%3A3000%2Fapi%2Fauth%2Fgoogle") {
		t.Errorf("Location = %q", loc)
	}
	if !strings.Contains(loc, "client_id=google-id") {
		t.Errorf("Location missing client id: %q", loc)
	}
}

func TestNewServer_NarrativeNotConfigured(t *testing.T) {
	srv := newTestServer(t, loadTestConfig(t))

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(`{"prompt":"x"}`)))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewServer_ShortSecret_ReturnsError(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.SessionSecret = "short"

	if _, err := NewServer(cfg, prometheus.NewRegistry()); err == nil {
		t.Error("expected error for a short session secret")
	}
}

func TestNewUpstreamClient(t *testing.T) {
	cfg := &config.Config{SafeUpstreamClient: false}
	if c := newUpstreamClient(cfg, 0); c.Transport != nil {
		t.Error("plain client should use the default transport")
	}
	cfg.SafeUpstreamClient = true
	if c := newUpstreamClient(cfg, 0); c == nil {
		t.Error("safe client should not be nil")
	}
}

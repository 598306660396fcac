package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/connector"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/narrative"
	"github.com/hitoshi/mbr/internal/session"
)

// --- モック定義 ---

// memoryOpener はリクエストをまたいで同じメモリストアを返すStoreOpener。
type memoryOpener struct {
	store *session.MemoryStore
	guard *session.MemoryStateGuard
}

func newMemoryOpener() *memoryOpener {
	return &memoryOpener{
		store: session.NewMemoryStore(catalog.Default()),
		guard: session.NewMemoryStateGuard(),
	}
}

func (m *memoryOpener) Open(w http.ResponseWriter, r *http.Request) session.CredentialStore {
	return m.store
}

func (m *memoryOpener) Guard(w http.ResponseWriter, r *http.Request) session.StateGuard {
	return m.guard
}

// mockFlow はOAuthFlowのモック実装。
type mockFlow struct {
	configured bool
	beginFn    func(guard session.StateGuard, scopeSet string) (string, error)
	callbackFn func(ctx context.Context, guard session.StateGuard, store session.CredentialStore, params connector.CallbackParams) error
}

func (m *mockFlow) Configured() bool {
	return m.configured
}

func (m *mockFlow) Begin(guard session.StateGuard, scopeSet string) (string, error) {
	if m.beginFn != nil {
		return m.beginFn(guard, scopeSet)
	}
	return "https://provider.example/auth", nil
}

func (m *mockFlow) Callback(ctx context.Context, guard session.StateGuard, store session.CredentialStore, params connector.CallbackParams) error {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, guard, store, params)
	}
	return nil
}

// mockKeyValidator はKeyValidatorのモック実装。
type mockKeyValidator struct {
	validateFn func(ctx context.Context, store session.CredentialStore, rawKey string) (*connector.PlanInfo, error)
}

func (m *mockKeyValidator) Validate(ctx context.Context, store session.CredentialStore, rawKey string) (*connector.PlanInfo, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, store, rawKey)
	}
	return &connector.PlanInfo{Plan: "Pro / Free"}, nil
}

// mockReportGenerator はReportGeneratorのモック実装。
type mockReportGenerator struct {
	generateFn func(ctx context.Context, moduleIDs []string, cfg model.UserConfig, creds session.CredentialStore) *model.Report
}

func (m *mockReportGenerator) Generate(ctx context.Context, moduleIDs []string, cfg model.UserConfig, creds session.CredentialStore) *model.Report {
	if m.generateFn != nil {
		return m.generateFn(ctx, moduleIDs, cfg, creds)
	}
	return &model.Report{Sections: []model.Section{}, NorthStars: []model.NorthStarResult{}}
}

// mockNarrativeService はNarrativeServiceのモック実装。
type mockNarrativeService struct {
	configured  bool
	relayFn     func(ctx context.Context, prompt string, w http.ResponseWriter) error
	summarizeFn func(ctx context.Context, prompt string) (narrative.Result, error)
}

func (m *mockNarrativeService) Configured() bool {
	return m.configured
}

func (m *mockNarrativeService) Relay(ctx context.Context, prompt string, w http.ResponseWriter) error {
	if m.relayFn != nil {
		return m.relayFn(ctx, prompt, w)
	}
	return nil
}

func (m *mockNarrativeService) Summarize(ctx context.Context, prompt string) (narrative.Result, error) {
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, prompt)
	}
	return narrative.Result{}, nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// newTestDeps はモックで構成したRouterDepsを返す。
func newTestDeps() *RouterDeps {
	return &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		AllowedOrigins:    []string{"http://localhost:3000"},
		Catalog:           catalog.Default(),
		Opener:            newMemoryOpener(),
		Flows: map[string]OAuthFlow{
			"google":   &mockFlow{configured: true},
			"linkedin": &mockFlow{configured: false},
		},
		KeyValidator: &mockKeyValidator{},
		AuthConfig:   AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		Reports:      &mockReportGenerator{},
		Narrative:    &mockNarrativeService{configured: true},
	}
}

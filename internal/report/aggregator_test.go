package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

// --- モック定義 ---

type stubFetcher struct {
	id    string
	meta  Meta
	fetch func(ctx context.Context, req Request) (*model.Section, error)
}

func (s *stubFetcher) ProviderID() string { return s.id }
func (s *stubFetcher) Describe() Meta     { return s.meta }
func (s *stubFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	return s.fetch(ctx, req)
}

type mockFetchRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (m *mockFetchRecorder) RecordProviderFetch(provider, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]string{}
	}
	m.outcomes[provider] = outcome
}

func (m *mockFetchRecorder) outcome(provider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[provider]
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }

// newStore は指定プロバイダーに資格情報を持つストアを返す。
func newStore(t *testing.T, cat *catalog.Catalog, providers ...string) session.CredentialStore {
	t.Helper()
	store := session.NewMemoryStore(cat)
	for _, p := range providers {
		if err := store.Put(p, "token-"+p); err != nil {
			t.Fatalf("Put(%q) error: %v", p, err)
		}
	}
	return store
}

func okSection(title string) func(context.Context, Request) (*model.Section, error) {
	return func(context.Context, Request) (*model.Section, error) {
		return &model.Section{Title: title, Source: title, KPIs: []model.KPI{{Label: "x", Value: "1"}}}, nil
	}
}

func newTestFetchers(t *testing.T, srv *httptest.Server) []Fetcher {
	t.Helper()
	base := srv.URL
	return NewFetchers(Options{
		HTTPClient: srv.Client(),
		Endpoints: Endpoints{
			SearchConsole: base + "/gsc",
			AnalyticsData: base + "/ga4",
			GoogleAds:     base + "/gads",
			Semrush:       base + "/semrush",
			LinkedIn:      base + "/linkedin",
			MetaGraph:     base + "/meta",
			HubSpot:       base + "/hubspot",
		},
		GoogleAdsDeveloperToken: "dev-token",
	})
}

// --- テスト ---

func TestGenerate_SearchConsoleTotals(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody gscQueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"rows":[
			{"keys":["zapatos"],"clicks":10,"impressions":100,"ctr":0.1,"position":2},
			{"keys":["botas"],"clicks":20,"impressions":200,"ctr":0.1,"position":4}
		]}`))
	}))
	defer srv.Close()

	cat := catalog.Default()
	agg := NewAggregator(cat, newTestFetchers(t, srv), AggregatorConfig{Now: fixedNow})
	report := agg.Generate(context.Background(), []string{"gsc_summary", "gsc_queries"},
		model.UserConfig{GSCSiteURL: "https://example.com/"}, newStore(t, cat, "google_search_console"))

	if len(report.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(report.Sections))
	}
	s := report.Sections[0]
	if s.IsError() {
		t.Fatalf("unexpected error section: %s", s.Error)
	}
	kpis := map[string]string{}
	for _, k := range s.KPIs {
		kpis[k.Label] = k.Value
	}
	if kpis["Clicks"] != "30" {
		t.Errorf("Clicks = %q, want %q", kpis["Clicks"], "30")
	}
	if kpis["Impresiones"] != "0.3K" {
		t.Errorf("Impresiones = %q, want %q", kpis["Impresiones"], "0.3K")
	}
	if kpis["CTR promedio"] != "10.0%" {
		t.Errorf("CTR promedio = %q, want %q", kpis["CTR promedio"], "10.0%")
	}
	if kpis["Posición prom."] != "3.0" {
		t.Errorf("Posición prom. = %q, want %q", kpis["Posición prom."], "3.0")
	}
	if s.Table == nil || len(s.Table.Rows) != 2 || s.Table.Rows[0][0] != "botas" {
		t.Errorf("table should be sorted by clicks desc, got %+v", s.Table)
	}

	// Google系はGSC/GA4/Adsで同じトークンを共有する
	if gotAuth != "Bearer token-google_search_console" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.Contains(gotPath, "https:%2F%2Fexample.com%2F") {
		t.Errorf("site URL should be path-escaped, got %q", gotPath)
	}
	if gotBody.StartDate != "2026-03-01" || gotBody.EndDate != "2026-03-31" {
		t.Errorf("window = %s..%s, want 2026-03-01..2026-03-31", gotBody.StartDate, gotBody.EndDate)
	}
	if gotBody.RowLimit != 20 || len(gotBody.Dimensions) != 1 || gotBody.Dimensions[0] != "query" {
		t.Errorf("unexpected query body: %+v", gotBody)
	}
}

func TestGenerate_OneFailureDoesNotAbortOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/gsc/"):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/hubspot/crm/v3/objects/contacts/search"):
			_, _ = w.Write([]byte(`{"total":42}`))
		case strings.HasPrefix(r.URL.Path, "/hubspot/crm/v3/objects/deals"):
			_, _ = w.Write([]byte(`{"results":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cat := catalog.Default()
	rec := &mockFetchRecorder{}
	agg := NewAggregator(cat, newTestFetchers(t, srv), AggregatorConfig{Now: fixedNow, Recorder: rec})
	report := agg.Generate(context.Background(), []string{"gsc_summary", "hubspot_leads"},
		model.UserConfig{Domain: "example.com"}, newStore(t, cat, "google_search_console", "hubspot"))

	if len(report.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(report.Sections))
	}
	gsc, hub := report.Sections[0], report.Sections[1]
	if !gsc.IsError() || gsc.Title != "Search Console" {
		t.Errorf("first section should be the Search Console error, got %+v", gsc)
	}
	if !strings.Contains(gsc.Error, "500") {
		t.Errorf("error message should mention status, got %q", gsc.Error)
	}
	if len(gsc.KPIs) != 0 || gsc.Table != nil {
		t.Error("error section must not carry data")
	}
	if hub.IsError() {
		t.Fatalf("hubspot section failed: %s", hub.Error)
	}
	if hub.KPIs[0].Value != "42" {
		t.Errorf("Total contactos = %q, want 42", hub.KPIs[0].Value)
	}
	if rec.outcome("google_search_console") != "error" || rec.outcome("hubspot") != "success" {
		t.Errorf("unexpected outcomes: %+v", rec.outcomes)
	}
}

func TestGenerate_OrderFollowsCatalog(t *testing.T) {
	cat := catalog.Default()
	// 後ろのプロバイダーほど早く完了させる
	fetchers := []Fetcher{
		&stubFetcher{id: "hubspot", meta: Meta{Title: "HubSpot"}, fetch: okSection("hubspot")},
		&stubFetcher{id: "semrush", meta: Meta{Title: "Semrush"}, fetch: func(ctx context.Context, req Request) (*model.Section, error) {
			time.Sleep(20 * time.Millisecond)
			return okSection("semrush")(ctx, req)
		}},
		&stubFetcher{id: "google_search_console", meta: Meta{Title: "Search Console"}, fetch: func(ctx context.Context, req Request) (*model.Section, error) {
			time.Sleep(40 * time.Millisecond)
			return okSection("gsc")(ctx, req)
		}},
	}
	agg := NewAggregator(cat, fetchers, AggregatorConfig{Now: fixedNow})
	report := agg.Generate(context.Background(),
		[]string{"hubspot_leads", "semrush_rankings", "gsc_summary"},
		model.UserConfig{}, newStore(t, cat, "hubspot", "semrush", "google_search_console"))

	var got []string
	for _, s := range report.Sections {
		got = append(got, s.Title)
	}
	want := []string{"gsc", "semrush", "hubspot"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestGenerate_SkipsUnconnectedAndUnselected(t *testing.T) {
	cat := catalog.Default()
	var calls sync.Map
	track := func(id string) *stubFetcher {
		return &stubFetcher{id: id, meta: Meta{Title: id}, fetch: func(ctx context.Context, req Request) (*model.Section, error) {
			calls.Store(id, true)
			return okSection(id)(ctx, req)
		}}
	}
	fetchers := []Fetcher{track("semrush"), track("hubspot"), track("linkedin")}
	agg := NewAggregator(cat, fetchers, AggregatorConfig{Now: fixedNow})

	// semrushは選択済みだが未接続、hubspotは接続済みだが未選択
	report := agg.Generate(context.Background(), []string{"semrush_rankings", "linkedin_page"},
		model.UserConfig{}, newStore(t, cat, "hubspot", "linkedin"))

	if len(report.Sections) != 1 || report.Sections[0].Title != "linkedin" {
		t.Fatalf("sections = %+v, want only linkedin", report.Sections)
	}
	for _, id := range []string{"semrush", "hubspot"} {
		if _, ok := calls.Load(id); ok {
			t.Errorf("%s should not be fetched", id)
		}
	}
}

func TestGenerate_PassesModulesAndCredential(t *testing.T) {
	cat := catalog.Default()
	var got Request
	f := &stubFetcher{id: "meta_ads", meta: Meta{Title: "Meta Ads"}, fetch: func(ctx context.Context, req Request) (*model.Section, error) {
		got = req
		return okSection("meta")(ctx, req)
	}}
	agg := NewAggregator(cat, []Fetcher{f}, AggregatorConfig{Now: fixedNow})
	agg.Generate(context.Background(), []string{"meta_campaigns", "unknown_module"},
		model.UserConfig{MetaAdAccountID: "123"}, newStore(t, cat, "meta_ads"))

	if got.Credential != "token-meta_ads" {
		t.Errorf("Credential = %q", got.Credential)
	}
	if !got.Has("meta_campaigns") || got.Has("meta_summary") {
		t.Errorf("Modules = %v", got.Modules)
	}
	if got.Config.MetaAdAccountID != "123" {
		t.Errorf("Config not forwarded: %+v", got.Config)
	}
}

func TestGenerate_MissingConfigBecomesErrorSection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer srv.Close()

	cat := catalog.Default()
	agg := NewAggregator(cat, newTestFetchers(t, srv), AggregatorConfig{Now: fixedNow})
	report := agg.Generate(context.Background(), []string{"ga4_traffic"},
		model.UserConfig{}, newStore(t, cat, "google_analytics"))

	if len(report.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(report.Sections))
	}
	s := report.Sections[0]
	if s.Title != "Google Analytics 4" || !strings.Contains(s.Error, "Property ID") {
		t.Errorf("unexpected section: %+v", s)
	}
}

func TestGenerate_TimeoutAndPanicAreContained(t *testing.T) {
	cat := catalog.Default()
	rec := &mockFetchRecorder{}
	fetchers := []Fetcher{
		&stubFetcher{id: "linkedin", meta: Meta{Title: "LinkedIn Analytics", Source: "LinkedIn"}, fetch: func(ctx context.Context, _ Request) (*model.Section, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		&stubFetcher{id: "hubspot", meta: Meta{Title: "HubSpot", Source: "HubSpot"}, fetch: func(context.Context, Request) (*model.Section, error) {
			panic("boom")
		}},
		&stubFetcher{id: "semrush", meta: Meta{Title: "Semrush"}, fetch: func(context.Context, Request) (*model.Section, error) {
			return nil, nil
		}},
	}
	agg := NewAggregator(cat, fetchers, AggregatorConfig{Now: fixedNow, Timeout: 20 * time.Millisecond, Recorder: rec})

	done := make(chan *model.Report)
	go func() {
		done <- agg.Generate(context.Background(), []string{"linkedin_page", "hubspot_leads", "semrush_rankings"},
			model.UserConfig{}, newStore(t, cat, "linkedin", "hubspot", "semrush"))
	}()

	var report *model.Report
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after provider timeout")
	}

	if len(report.Sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(report.Sections))
	}
	for _, s := range report.Sections {
		if !s.IsError() {
			t.Errorf("section %q should be an error", s.Title)
		}
	}
	if !strings.Contains(report.Sections[1].Error, "LinkedIn") {
		t.Errorf("timeout message = %q", report.Sections[1].Error)
	}
	if report.Sections[2].Error != genericFetchError {
		t.Errorf("panic message = %q, want generic", report.Sections[2].Error)
	}
	if rec.outcome("linkedin") != "timeout" || rec.outcome("hubspot") != "error" {
		t.Errorf("unexpected outcomes: %+v", rec.outcomes)
	}
}

func TestGenerate_ErrorSectionFromFetcherIsStripped(t *testing.T) {
	cat := catalog.Default()
	f := &stubFetcher{id: "hubspot", meta: Meta{Title: "HubSpot"}, fetch: func(context.Context, Request) (*model.Section, error) {
		return &model.Section{Title: "HubSpot", Error: "fallo", KPIs: []model.KPI{{Label: "x"}}}, nil
	}}
	agg := NewAggregator(cat, []Fetcher{f}, AggregatorConfig{Now: fixedNow})
	report := agg.Generate(context.Background(), []string{"hubspot_leads"}, model.UserConfig{}, newStore(t, cat, "hubspot"))

	if s := report.Sections[0]; s.Error != "fallo" || len(s.KPIs) != 0 {
		t.Errorf("error section should carry no KPIs, got %+v", s)
	}
}

func TestGenerate_EvaluatesNorthStars(t *testing.T) {
	cat := catalog.Default()
	agg := NewAggregator(cat, nil, AggregatorConfig{Now: fixedNow})
	report := agg.Generate(context.Background(), nil, model.UserConfig{
		NorthStars: []model.NorthStar{
			{Label: "Leads", Goal: "100", Real: "110"},
			{Label: "", Goal: "1", Real: "1"},
		},
	}, newStore(t, cat))

	if len(report.Sections) != 0 {
		t.Errorf("sections = %d, want 0", len(report.Sections))
	}
	if len(report.NorthStars) != 1 || report.NorthStars[0].Trend != model.TrendUp {
		t.Errorf("NorthStars = %+v", report.NorthStars)
	}
}

func TestUserMessage(t *testing.T) {
	if got := userMessage(errors.New("dial tcp: secret-host")); got != genericFetchError {
		t.Errorf("plain errors must not leak, got %q", got)
	}
	if got := userMessage(model.NewConfigMissingError("Falta X")); got != "Falta X" {
		t.Errorf("got %q", got)
	}
}

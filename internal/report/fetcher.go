// Package report は接続済みプロバイダーからデータを取得し、レポートのセクションに集計する。
package report

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

// WindowDays は時系列データを取得する期間（日数）。
const WindowDays = 30

// Window は集計対象の期間。
type Window struct {
	Start time.Time
	End   time.Time
}

// TrailingWindow はnowを終端とする直近days日間の期間を返す。日付はUTCで扱う。
func TrailingWindow(now time.Time, days int) Window {
	end := now.UTC()
	return Window{Start: end.AddDate(0, 0, -days), End: end}
}

// StartDate は開始日をYYYY-MM-DD形式で返す。
func (w Window) StartDate() string {
	return w.Start.Format(time.DateOnly)
}

// EndDate は終了日をYYYY-MM-DD形式で返す。
func (w Window) EndDate() string {
	return w.End.Format(time.DateOnly)
}

// Request は1プロバイダー分の取得リクエスト。
type Request struct {
	// Credential はアクセストークンまたはAPIキー。ログやエラーメッセージに含めてはならない。
	Credential string
	// Modules は選択されたモジュールIDの集合。
	Modules map[string]bool
	Config  model.UserConfig
	Window  Window
}

// Has はモジュールが選択されているかを返す。
func (r Request) Has(moduleID string) bool {
	return r.Modules[moduleID]
}

// Meta はセクションの表示名と出典。エラーセクションにも使う。
type Meta struct {
	Title  string
	Source string
}

// Fetcher は1プロバイダーのデータ取得と集計を行う。
// 失敗は*model.APIErrorとして返し、集計器がエラーセクションに変換する。
type Fetcher interface {
	ProviderID() string
	Describe() Meta
	FetchSection(ctx context.Context, req Request) (*model.Section, error)
}

// Endpoints はプロバイダーAPIのベースURL。テスト用にオーバーライドできる。
type Endpoints struct {
	SearchConsole string
	AnalyticsData string
	GoogleAds     string
	Semrush       string
	LinkedIn      string
	MetaGraph     string
	HubSpot       string
}

// DefaultEndpoints は本番のベースURLを返す。
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SearchConsole: "https://www.googleapis.com/webmasters/v3",
		AnalyticsData: "https://analyticsdata.googleapis.com/v1beta",
		GoogleAds:     "https://googleads.googleapis.com/v17",
		Semrush:       "https://api.semrush.com",
		LinkedIn:      "https://api.linkedin.com/v2",
		MetaGraph:     "https://graph.facebook.com/v19.0",
		HubSpot:       "https://api.hubapi.com",
	}
}

// Options は全Fetcherに共通する依存関係。
type Options struct {
	HTTPClient *http.Client
	Endpoints  Endpoints
	Sanitizer  security.TextSanitizer
	Hosts      security.SSRFGuardService
	// GoogleAdsDeveloperToken はGoogle Ads APIに必要なサーバー側の開発者トークン。
	GoogleAdsDeveloperToken string
}

// NewFetchers はカタログの全プロバイダーに対応するFetcherを生成する。
func NewFetchers(opts Options) []Fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = security.NewTextSanitizer()
	}
	if opts.Hosts == nil {
		opts.Hosts = security.NewSSRFGuard()
	}
	ep := opts.Endpoints
	def := DefaultEndpoints()
	if ep.SearchConsole == "" {
		ep.SearchConsole = def.SearchConsole
	}
	if ep.AnalyticsData == "" {
		ep.AnalyticsData = def.AnalyticsData
	}
	if ep.GoogleAds == "" {
		ep.GoogleAds = def.GoogleAds
	}
	if ep.Semrush == "" {
		ep.Semrush = def.Semrush
	}
	if ep.LinkedIn == "" {
		ep.LinkedIn = def.LinkedIn
	}
	if ep.MetaGraph == "" {
		ep.MetaGraph = def.MetaGraph
	}
	if ep.HubSpot == "" {
		ep.HubSpot = def.HubSpot
	}

	return []Fetcher{
		&SearchConsoleFetcher{api: newUpstream(opts.HTTPClient, "Search Console"), baseURL: ep.SearchConsole, sanitizer: opts.Sanitizer, hosts: opts.Hosts},
		&AnalyticsFetcher{api: newUpstream(opts.HTTPClient, "Google Analytics"), baseURL: ep.AnalyticsData, sanitizer: opts.Sanitizer},
		&SemrushFetcher{api: newUpstream(opts.HTTPClient, "Semrush"), baseURL: ep.Semrush, sanitizer: opts.Sanitizer, hosts: opts.Hosts},
		&LinkedInFetcher{api: newUpstream(opts.HTTPClient, "LinkedIn"), baseURL: ep.LinkedIn},
		&MetaFetcher{api: newUpstream(opts.HTTPClient, "Meta"), baseURL: ep.MetaGraph, sanitizer: opts.Sanitizer},
		&GoogleAdsFetcher{api: newUpstream(opts.HTTPClient, "Google Ads"), baseURL: ep.GoogleAds, sanitizer: opts.Sanitizer, developerToken: opts.GoogleAdsDeveloperToken},
		&HubSpotFetcher{api: newUpstream(opts.HTTPClient, "HubSpot"), baseURL: ep.HubSpot, sanitizer: opts.Sanitizer},
	}
}

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

// DefaultTimeout はプロバイダーごとの取得タイムアウトのデフォルト値。
const DefaultTimeout = 8 * time.Second

const genericFetchError = "No se pudieron obtener los datos."

// FetchRecorder はプロバイダーごとの取得結果を記録する。
type FetchRecorder interface {
	RecordProviderFetch(provider, outcome string, duration time.Duration)
}

// AggregatorConfig はAggregatorの設定。
type AggregatorConfig struct {
	// Timeout はプロバイダーごとのタイムアウト。
	Timeout time.Duration
	// Now は現在時刻を返す。テストで期間を固定するために使う。
	Now      func() time.Time
	Recorder FetchRecorder
}

// Aggregator は接続済みプロバイダーのデータを並行に取得してレポートを生成する。
type Aggregator struct {
	catalog  *catalog.Catalog
	fetchers map[string]Fetcher
	config   AggregatorConfig
}

// NewAggregator はAggregatorを生成する。
func NewAggregator(cat *catalog.Catalog, fetchers []Fetcher, config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	byID := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byID[f.ProviderID()] = f
	}
	return &Aggregator{catalog: cat, fetchers: byID, config: config}
}

type job struct {
	fetcher Fetcher
	req     Request
}

// Generate は選択されたモジュールのレポートを生成する。
// 資格情報があり、モジュールが1つ以上選択されたプロバイダーだけを対象とする。
// プロバイダーの失敗はエラーセクションとして表現し、全体としては常に成功する。
// セクションはカタログ順に並び、実行順序には依存しない。
func (a *Aggregator) Generate(ctx context.Context, moduleIDs []string, cfg model.UserConfig, creds session.CredentialStore) *model.Report {
	grouped := a.catalog.GroupModules(moduleIDs)
	window := TrailingWindow(a.config.Now(), WindowDays)

	// 資格情報の読み取りはファンアウト前に済ませる
	var jobs []job
	for _, p := range a.catalog.Providers() {
		selected, ok := grouped[p.ID]
		if !ok {
			continue
		}
		f, ok := a.fetchers[p.ID]
		if !ok {
			continue
		}
		credential, ok := creds.Get(p.ID)
		if !ok {
			continue
		}
		jobs = append(jobs, job{
			fetcher: f,
			req: Request{
				Credential: credential,
				Modules:    selected,
				Config:     cfg,
				Window:     window,
			},
		})
	}

	slots := make([]model.Section, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			slots[i] = a.run(ctx, j.fetcher, j.req)
			return nil
		})
	}
	_ = g.Wait()

	return &model.Report{
		Sections:   slots,
		NorthStars: model.EvaluateNorthStars(cfg.NorthStars),
	}
}

// run は1プロバイダー分の取得を行い、必ずセクションを返す。
func (a *Aggregator) run(ctx context.Context, f Fetcher, req Request) (section model.Section) {
	meta := f.Describe()
	provider := f.ProviderID()
	start := time.Now()
	outcome := "success"

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("provider fetch panicked",
				slog.String("provider", provider),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			section = model.NewErrorSection(meta.Title, meta.Source, genericFetchError)
			outcome = "error"
		}
		if a.config.Recorder != nil {
			a.config.Recorder.RecordProviderFetch(provider, outcome, time.Since(start))
		}
	}()

	s, err := f.FetchSection(ctx, req)
	if err == nil && s == nil {
		err = fmt.Errorf("fetcher returned no section")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			err = model.NewUpstreamUnreachableError(meta.Source, err)
		} else {
			outcome = "error"
		}
		slog.Warn("provider fetch failed",
			slog.String("provider", provider),
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return model.NewErrorSection(meta.Title, meta.Source, userMessage(err))
	}

	if s.IsError() {
		outcome = "error"
		return model.NewErrorSection(s.Title, s.Source, s.Error)
	}
	return *s
}

// userMessage はエラーからユーザー向けメッセージを取り出す。
func userMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return genericFetchError
}

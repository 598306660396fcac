package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/config"
	"github.com/hitoshi/mbr/internal/connector"
	"github.com/hitoshi/mbr/internal/handler"
	"github.com/hitoshi/mbr/internal/logger"
	"github.com/hitoshi/mbr/internal/metrics"
	"github.com/hitoshi/mbr/internal/middleware"
	"github.com/hitoshi/mbr/internal/narrative"
	"github.com/hitoshi/mbr/internal/report"
	"github.com/hitoshi/mbr/internal/security"
	"github.com/hitoshi/mbr/internal/session"
)

const (
	// narrativeTimeout はストリーム全体を読み終えるまでの上限。
	narrativeTimeout = 2 * time.Minute
	shutdownTimeout  = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	switch cmd {
	case CommandCheck:
		return runCheck(w, cfg)
	default:
		return runServe(cfg)
	}
}

// Server は構築済みのHTTPハンドラーと後始末をまとめたもの。
type Server struct {
	Handler http.Handler
	close   func()
}

// Close はバックグラウンドのリソースを解放する。
func (s *Server) Close() {
	if s.close != nil {
		s.close()
	}
}

// NewServer は設定から全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func NewServer(cfg *config.Config, reg *prometheus.Registry) (*Server, error) {
	cat := catalog.Default()
	collector := metrics.NewCollector(reg)

	// 1. セッション（暗号化Cookie）
	cookieCfg := session.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	credentials, err := session.NewCodec([]byte(cfg.SessionSecret), cfg.CredentialMaxAge, cookieCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential codec: %w", err)
	}
	states, err := session.NewCodec([]byte(cfg.SessionSecret), cfg.StateMaxAge, cookieCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create state codec: %w", err)
	}
	opener := handler.NewCookieStoreOpener(session.NewOpener(credentials, states, cat))

	// 2. 上流APIクライアント
	upstream := newUpstreamClient(cfg, cfg.UpstreamTimeout)
	streaming := newUpstreamClient(cfg, narrativeTimeout)

	// 3. コネクター
	flows := handler.FlowsByConnector(newFlows(cfg, cat, upstream, collector))
	validator := connector.NewKeyValidator(connector.KeyValidatorConfig{
		ProbeTimeout:        cfg.KeyProbeTimeout,
		FeatureProbeTimeout: cfg.FeatureProbeTimeout,
		HTTPClient:          upstream,
		Recorder:            collector,
	})

	// 4. レポートとサマリー
	aggregator := report.NewAggregator(cat, report.NewFetchers(report.Options{
		HTTPClient:              upstream,
		Hosts:                   security.NewSSRFGuard(),
		GoogleAdsDeveloperToken: cfg.GoogleAdsDeveloperToken,
	}), report.AggregatorConfig{
		Timeout:  cfg.UpstreamTimeout,
		Recorder: collector,
	})
	proxy := narrative.NewProxy(narrative.Config{
		APIKey:     cfg.AnthropicAPIKey,
		Model:      cfg.NarrativeModel,
		MaxTokens:  cfg.NarrativeMaxTokens,
		HTTPClient: streaming,
		Recorder:   collector,
	})

	// 5. ルーター
	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.ReportRate = rate.Limit(float64(cfg.RateLimitReport) / 60.0)
	limiterCfg.ReportBurst = cfg.RateLimitReport
	limiterCfg.NarrativeRate = rate.Limit(float64(cfg.RateLimitNarrative) / 60.0)
	limiterCfg.NarrativeBurst = cfg.RateLimitNarrative
	limiter := middleware.NewRateLimiter(limiterCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AllowedOrigins:    []string{cfg.BaseURL, cfg.CORSAllowedOrigin},
		RateLimiter:       limiter,
		Catalog:           cat,
		Opener:            opener,
		Flows:             flows,
		KeyValidator:      validator,
		AuthConfig:        handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},
		Reports:           aggregator,
		Narrative:         proxy,
		MetricsHandler:    metrics.Handler(reg),
	})

	return &Server{Handler: router, close: limiter.Stop}, nil
}

// newFlows はカタログに現れる全OAuthコネクターのフローを生成する。
// 資格情報は同じコネクターを使う先頭のプロバイダーのキーに保存する。
func newFlows(cfg *config.Config, cat *catalog.Catalog, client *http.Client, recorder connector.CallbackRecorder) []*connector.Flow {
	configs := []connector.OAuthConfig{
		connector.Google(connector.ClientCredentials(cfg.Google), cfg.CallbackURL("google")),
		connector.LinkedIn(connector.ClientCredentials(cfg.LinkedIn), cfg.CallbackURL("linkedin")),
		connector.Meta(connector.ClientCredentials(cfg.Meta), cfg.CallbackURL("meta")),
		connector.HubSpot(connector.ClientCredentials(cfg.HubSpot), cfg.CallbackURL("hubspot")),
	}

	var flows []*connector.Flow
	for _, oc := range configs {
		providers := cat.ProvidersByConnector(oc.Name)
		if len(providers) == 0 {
			continue
		}
		oc.HTTPClient = client
		flows = append(flows, connector.NewFlow(connector.NewOAuthConnector(oc), providers[0].ID, recorder))
	}
	return flows
}

// newUpstreamClient は上流API用のHTTPクライアントを返す。
// SAFE_UPSTREAM_CLIENTが有効な場合はプライベートアドレスへの接続を拒否する。
func newUpstreamClient(cfg *config.Config, timeout time.Duration) *http.Client {
	if cfg.SafeUpstreamClient {
		return security.NewSSRFGuard().NewSafeClient(timeout)
	}
	return &http.Client{Timeout: timeout}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	srv, err := NewServer(cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.Close()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// サマリーのストリームが続く間は書き込みを打ち切らない
		WriteTimeout: narrativeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting application",
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("env", cfg.AppEnv),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runCheck は各コネクターの設定状況を出力する。シークレットの値は出力しない。
func runCheck(w io.Writer, cfg *config.Config) error {
	if w == nil {
		w = os.Stdout
	}
	status := func(ok bool) string {
		if ok {
			return "configured"
		}
		return "missing"
	}
	lines := []struct {
		name string
		ok   bool
	}{
		{"google", cfg.Google.Configured()},
		{"google_ads_developer_token", cfg.GoogleAdsDeveloperToken != ""},
		{"linkedin", cfg.LinkedIn.Configured()},
		{"meta", cfg.Meta.Configured()},
		{"hubspot", cfg.HubSpot.Configured()},
		{"semrush", true},
		{"narrative", cfg.AnthropicAPIKey != ""},
	}
	fmt.Fprintf(w, "base_url: %s\n", cfg.BaseURL)
	for _, l := range lines {
		fmt.Fprintf(w, "%s: %s\n", l.name, status(l.ok))
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

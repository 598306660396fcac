package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	AllowedOrigins    []string
	RateLimiter       *middleware.RateLimiter

	// セッション
	Catalog *catalog.Catalog
	Opener  StoreOpener

	// 接続
	Flows        map[string]OAuthFlow
	KeyValidator KeyValidator
	AuthConfig   AuthHandlerConfig

	// レポート・サマリー
	Reports   ReportGenerator
	Narrative NarrativeService

	// MetricsHandler はnilの場合/metricsを公開しない。
	MetricsHandler http.Handler
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → Logging → Recovery → SecurityHeaders → SameOrigin
//
// レート制限は/api/reportと/api/exec-summaryにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewSameOriginMiddleware(middleware.SameOriginConfig{
		AllowedOrigins: deps.AllowedOrigins,
	}))

	authHandler := NewAuthHandler(deps.Catalog, deps.Opener, deps.Flows, deps.KeyValidator, deps.AuthConfig)
	reportHandler := NewReportHandler(deps.Catalog, deps.Opener, deps.Reports, deps.Flows, deps.Narrative)
	narrativeHandler := NewNarrativeHandler(deps.Narrative)

	reportLimit := passThrough
	narrativeLimit := passThrough
	if deps.RateLimiter != nil {
		reportLimit = deps.RateLimiter.ReportMiddleware()
		narrativeLimit = deps.RateLimiter.NarrativeMiddleware()
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// プロバイダー接続
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/status", authHandler.Status)
		r.Post("/disconnect", authHandler.Disconnect)
		r.Post("/semrush", authHandler.ConnectSemrush)
		r.Delete("/semrush", authHandler.DisconnectSemrush)
		r.Get("/{connector}", authHandler.Connect)
	})

	r.Get("/api/catalog", reportHandler.Catalog)
	r.With(reportLimit).Post("/api/report", reportHandler.Generate)
	r.With(narrativeLimit).Post("/api/exec-summary", narrativeHandler.ExecSummary)

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}

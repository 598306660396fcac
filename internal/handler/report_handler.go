package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/middleware"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

// ReportGenerator はレポートを生成する。report.Aggregatorが実装する。
type ReportGenerator interface {
	Generate(ctx context.Context, moduleIDs []string, cfg model.UserConfig, creds session.CredentialStore) *model.Report
}

// ReportHandler はカタログとレポート生成のHTTPハンドラー。
type ReportHandler struct {
	catalog   *catalog.Catalog
	opener    StoreOpener
	generator ReportGenerator
	flows     map[string]OAuthFlow
	narrative NarrativeService
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(cat *catalog.Catalog, opener StoreOpener, generator ReportGenerator, flows map[string]OAuthFlow, narrative NarrativeService) *ReportHandler {
	return &ReportHandler{
		catalog:   cat,
		opener:    opener,
		generator: generator,
		flows:     flows,
		narrative: narrative,
	}
}

type reportRequest struct {
	Modules []string         `json:"modules"`
	Config  model.UserConfig `json:"config"`
}

// providerView はカタログのプロバイダーにサーバー側の設定状況を加えたもの。
type providerView struct {
	catalog.Provider
	Configured bool `json:"configured"`
}

type catalogResponse struct {
	Providers           []providerView `json:"providers"`
	NarrativeConfigured bool           `json:"narrativeConfigured"`
}

// Catalog はプロバイダーとモジュールの一覧を返す。資格情報キーは含まない。
// GET /api/catalog
func (h *ReportHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	providers := h.catalog.Providers()
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		configured := p.Auth == catalog.AuthStaticKey
		if flow, ok := h.flows[p.Connector]; ok {
			configured = flow.Configured()
		}
		views = append(views, providerView{Provider: p, Configured: configured})
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Providers:           views,
		NarrativeConfigured: h.narrative != nil && h.narrative.Configured(),
	})
}

// Generate は選択されたモジュールのレポートを生成する。
// プロバイダー単位の失敗はセクション内のエラーとして返り、レスポンスは常に200。
// POST /api/report
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Cuerpo de la solicitud inválido."))
		return
	}

	report := h.generator.Generate(r.Context(), req.Modules, req.Config, h.opener.Open(w, r))
	writeJSON(w, http.StatusOK, report)
}

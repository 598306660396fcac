package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mbr/internal/middleware"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/narrative"
)

// NarrativeService はエグゼクティブサマリーを生成する。narrative.Proxyが実装する。
type NarrativeService interface {
	Configured() bool
	Relay(ctx context.Context, prompt string, w http.ResponseWriter) error
	Summarize(ctx context.Context, prompt string) (narrative.Result, error)
}

// NarrativeHandler はエグゼクティブサマリーのHTTPハンドラー。
type NarrativeHandler struct {
	service NarrativeService
}

// NewNarrativeHandler はNarrativeHandlerを生成する。
func NewNarrativeHandler(service NarrativeService) *NarrativeHandler {
	return &NarrativeHandler{service: service}
}

// execSummaryRequest はサマリー生成リクエスト。
// promptが空の場合はconfigとreportからサーバー側でプロンプトを組み立てる。
type execSummaryRequest struct {
	Prompt string            `json:"prompt"`
	Config *model.UserConfig `json:"config,omitempty"`
	Report *model.Report     `json:"report,omitempty"`
}

func (req execSummaryRequest) resolvePrompt() string {
	if strings.TrimSpace(req.Prompt) != "" || req.Report == nil {
		return req.Prompt
	}
	var cfg model.UserConfig
	if req.Config != nil {
		cfg = *req.Config
	}
	return narrative.BuildPrompt(cfg, *req.Report)
}

// ExecSummary は上流のイベントストリームをそのまま中継する。
// Accept: application/jsonの場合は解釈済みの結果をJSONで返す。
// POST /api/exec-summary
func (h *NarrativeHandler) ExecSummary(w http.ResponseWriter, r *http.Request) {
	var req execSummaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Cuerpo de la solicitud inválido."))
		return
	}
	prompt := req.resolvePrompt()

	if wantsJSON(r) {
		res, err := h.service.Summarize(r.Context(), prompt)
		if err != nil {
			logNarrativeError(err)
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	if err := h.service.Relay(r.Context(), prompt, w); err != nil {
		logNarrativeError(err)
		middleware.WriteError(w, err)
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream")
}

func logNarrativeError(err error) {
	switch model.KindOf(err) {
	case model.KindNotConfigured, model.KindInvalidRequest:
		return
	}
	slog.Warn("narrative generation failed",
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
	)
}

package connector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

const (
	defaultSemrushBaseURL = "https://api.semrush.com"

	// MinKeyLength は前後の空白を除いたAPIキーの最小長。
	MinKeyLength = 10

	defaultKeyProbeTimeout     = 8 * time.Second
	defaultFeatureProbeTimeout = 5 * time.Second
)

// PlanInfo はAPIキー検証で判明したプランの情報。
type PlanInfo struct {
	Plan          string `json:"plan"`
	HasAIOverview bool   `json:"hasAiOverview"`
	RequestsLeft  int    `json:"requestsLeft"`
}

// ValidationRecorder はAPIキー検証の結果を記録する。
type ValidationRecorder interface {
	RecordKeyValidation(outcome string)
}

// KeyValidatorConfig はKeyValidatorの設定。
type KeyValidatorConfig struct {
	ProviderID string
	// テスト用にオーバーライド可能なURL
	BaseURL string

	ProbeTimeout        time.Duration
	FeatureProbeTimeout time.Duration

	HTTPClient *http.Client
	Recorder   ValidationRecorder
}

// KeyValidator はSemrushのAPIキーを実際のAPIに問い合わせて検証する。
type KeyValidator struct {
	config KeyValidatorConfig
	client *http.Client
}

// NewKeyValidator はKeyValidatorを生成する。
func NewKeyValidator(config KeyValidatorConfig) *KeyValidator {
	if config.ProviderID == "" {
		config.ProviderID = "semrush"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultSemrushBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaultKeyProbeTimeout
	}
	if config.FeatureProbeTimeout <= 0 {
		config.FeatureProbeTimeout = defaultFeatureProbeTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &KeyValidator{config: config, client: client}
}

// Validate はAPIキーを検証し、有効な場合のみストアに保存する。
// 無効・到達不能の場合、既存の資格情報は変更しない。
func (v *KeyValidator) Validate(ctx context.Context, store session.CredentialStore, rawKey string) (*PlanInfo, error) {
	key := strings.TrimSpace(rawKey)
	if len(key) < MinKeyLength {
		// 形式の不備はリクエストエラーとし、上流が拒否したキー（401）とは区別する
		v.record("invalid_key")
		return nil, model.NewInvalidRequestError("API key inválida")
	}

	status, err := v.probe(ctx, v.config.ProbeTimeout, "/", url.Values{
		"type":           {"phrase_this"},
		"key":            {key},
		"phrase":         {"test"},
		"database":       {"us"},
		"export_columns": {"Ph,Nq"},
		"display_limit":  {"1"},
	})
	if err != nil {
		v.record("unreachable")
		slog.Warn("semrush key probe failed", slog.String("error", redactKey(err.Error(), key)))
		return nil, model.NewUpstreamUnreachableError("Semrush", nil)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		v.record("invalid_key")
		return nil, model.NewInvalidKeyError("API Key inválida o sin acceso. Verificá que sea correcta en tu cuenta de Semrush.")
	case status < 200 || status > 299:
		v.record("upstream_error")
		return nil, model.NewUpstreamError("Semrush", status, nil)
	}

	// AI Overviewの可否はプランの判定にのみ使い、失敗しても検証は成功とする
	hasAIOverview := false
	featureStatus, err := v.probe(ctx, v.config.FeatureProbeTimeout, "/analytics/v1/", url.Values{
		"key":           {key},
		"type":          {"domain_ai_overview"},
		"domain":        {"example.com"},
		"database":      {"us"},
		"display_limit": {"1"},
	})
	if err == nil {
		hasAIOverview = featureStatus != http.StatusForbidden
	}

	info := &PlanInfo{Plan: "Pro / Free", HasAIOverview: hasAIOverview}
	if hasAIOverview {
		info.Plan = "Guru / Business"
	}

	if err := store.Put(v.config.ProviderID, key); err != nil {
		v.record("error")
		return nil, err
	}

	v.record("success")
	slog.Info("semrush key validated", slog.Bool("has_ai_overview", hasAIOverview))
	return info, nil
}

// probe はGETリクエストを送りステータスコードを返す。ボディは読み捨てる。
func (v *KeyValidator) probe(ctx context.Context, timeout time.Duration, path string, params url.Values) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (v *KeyValidator) record(outcome string) {
	if v.config.Recorder != nil {
		v.config.Recorder.RecordKeyValidation(outcome)
	}
}

// redactKey はエラーメッセージに含まれるURL中のキーを伏せる。
func redactKey(msg, key string) string {
	if key == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(key), "[REDACTED]")
	return strings.ReplaceAll(msg, key, "[REDACTED]")
}


// Package narrative はエグゼクティブサマリーを生成する言語モデルAPIへのストリーミング中継を提供する。
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mbr/internal/model"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 700
	apiVersion       = "2023-06-01"
	providerLabel    = "Anthropic"
	relayBufferSize  = 4 << 10
)

// RelayRecorder は中継の結果を記録する。
type RelayRecorder interface {
	RecordNarrativeRelay(outcome string)
}

// Config はProxyの設定。
type Config struct {
	// APIKey が空の場合、Relayは上流を呼ばずにNotConfiguredを返す。
	APIKey     string
	Model      string
	MaxTokens  int
	Endpoint   string
	HTTPClient *http.Client
	Recorder   RelayRecorder
}

// Proxy はプロンプトを上流に送り、イベントストリームをそのままクライアントに中継する。
type Proxy struct {
	config Config
}

// NewProxy はProxyを生成する。
func NewProxy(config Config) *Proxy {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &Proxy{config: config}
}

// Configured はAPIキーが設定されているかを返す。
func (p *Proxy) Configured() bool {
	return p.config.APIKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	Messages  []message `json:"messages"`
}

// Relay はpromptを上流に送り、レスポンスのストリームをwに中継する。
// エラーを返すのはwにまだ何も書いていない場合だけで、呼び出し側がエラーレスポンスを書ける。
// 中継開始後の切断はログに記録して打ち切る。
func (p *Proxy) Relay(ctx context.Context, prompt string, w http.ResponseWriter) error {
	resp, err := p.open(ctx, prompt)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := copyFlushing(w, resp.Body); err != nil {
		p.record("error")
		slog.Warn("narrative stream interrupted", slog.String("error", err.Error()))
		return nil
	}
	p.record("success")
	return nil
}

// Summarize はストリームを最後まで読み、解釈済みのサマリーを返す。
// ストリーミングを扱えないクライアント向け。
func (p *Proxy) Summarize(ctx context.Context, prompt string) (Result, error) {
	resp, err := p.open(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	in := NewInterpreter()
	buf := make([]byte, relayBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		in.Feed(buf[:n])
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			p.record("error")
			return Result{}, model.NewUpstreamUnreachableError(providerLabel, readErr)
		}
	}
	in.Close()
	p.record("success")
	return in.Result(), nil
}

// open は上流にリクエストを送り、2xxのレスポンスだけを返す。
func (p *Proxy) open(ctx context.Context, prompt string) (*http.Response, error) {
	if !p.Configured() {
		p.record("skipped")
		return nil, model.NewNotConfiguredError(providerLabel)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, model.NewInvalidRequestError("El prompt es obligatorio.")
	}

	body, err := json.Marshal(messagesRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Stream:    true,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode narrative request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build narrative request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		p.record("error")
		return nil, model.NewUpstreamUnreachableError(providerLabel, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.record("error")
		// 上流のエラーボディは中継しない
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, relayBufferSize))
		resp.Body.Close()
		return nil, model.NewUpstreamError(providerLabel, resp.StatusCode, nil)
	}
	return resp, nil
}

// copyFlushing は読み取ったチャンクごとにフラッシュしながらコピーする。
func copyFlushing(w http.ResponseWriter, r io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("client write failed: %w", err)
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return fmt.Errorf("flush failed: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("upstream read failed: %w", readErr)
		}
	}
}

func (p *Proxy) record(outcome string) {
	if p.config.Recorder != nil {
		p.config.Recorder.RecordNarrativeRelay(outcome)
	}
}

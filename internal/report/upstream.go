package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hitoshi/mbr/internal/model"
)

// maxResponseSize はプロバイダーAPIのレスポンスボディの上限。
const maxResponseSize = 4 << 20

// upstream はプロバイダーAPIへのHTTP呼び出しを行い、失敗を分類済みエラーに変換する。
type upstream struct {
	client *http.Client
	label  string
}

func newUpstream(client *http.Client, label string) *upstream {
	return &upstream{client: client, label: label}
}

// getJSON はGETリクエストを送りJSONをoutにデコードする。
func (u *upstream) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	body, err := u.do(ctx, http.MethodGet, rawURL, headers, nil)
	if err != nil {
		return err
	}
	return u.decode(body, out)
}

// postJSON はJSONボディをPOSTしレスポンスのJSONをoutにデコードする。
func (u *upstream) postJSON(ctx context.Context, rawURL string, headers map[string]string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	body, err := u.do(ctx, http.MethodPost, rawURL, headers, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	return u.decode(body, out)
}

// getText はGETリクエストを送りボディを文字列で返す。
func (u *upstream) getText(ctx context.Context, rawURL string) (string, error) {
	body, err := u.do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (u *upstream) do(ctx context.Context, method, rawURL string, headers map[string]string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		// URLにAPIキーを含む場合があるため原因は保持しない
		return nil, model.NewUpstreamError(u.label, 0, errors.New("invalid request"))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		// url.ErrorはURLを含むため、原因だけを保持する
		return nil, model.NewUpstreamUnreachableError(u.label, unwrapURLError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewUpstreamUnreachableError(u.label, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewUpstreamError(u.label, resp.StatusCode, nil)
	}
	return data, nil
}

func (u *upstream) decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return model.NewUpstreamError(u.label, 0, fmt.Errorf("malformed payload: %w", err))
	}
	return nil
}

// bearer はBearer認証ヘッダーを返す。
func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

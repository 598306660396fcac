// Package connector は外部プロバイダーへの接続（OAuth委任認可とAPIキー検証）を提供する。
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL   = "https://oauth2.googleapis.com/token"
	defaultLinkedInAuthURL  = "https://www.linkedin.com/oauth/v2/authorization"
	defaultLinkedInTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultMetaAuthURL      = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultMetaTokenURL     = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultHubSpotAuthURL   = "https://app.hubspot.com/oauth/authorize"
	defaultHubSpotTokenURL  = "https://api.hubapi.com/oauth/v1/token"
)

// DefaultScopeSet はスコープセットが指定されない場合に使うキー。
const DefaultScopeSet = "all"

// ErrEmptyAccessToken はトークンエンドポイントがアクセストークンを返さなかったことを表す。
var ErrEmptyAccessToken = errors.New("empty access token in response")

// OAuthConfig はOAuthコネクターの設定。
type OAuthConfig struct {
	// Name はコネクター名。コールバックURLのパスとstate Cookieのキーに使う。
	Name string
	// Label はユーザー向けエラーメッセージで使う表示名。
	Label string

	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	// ScopeSets はスコープセット名からスコープへの対応。DefaultScopeSetは必須。
	ScopeSets map[string][]string
	// AuthParams は認可URLに追加するパラメータ。
	AuthParams map[string]string

	// HTTPClient はトークン交換に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OAuthConnector はOAuth 2.0認可コードフローの認可URL生成とトークン交換を提供する。
type OAuthConnector struct {
	name      string
	label     string
	base      oauth2.Config
	scopeSets map[string][]string
	options   []oauth2.AuthCodeOption
	client    *http.Client
}

// NewOAuthConnector はOAuthConnectorを生成する。
func NewOAuthConnector(config OAuthConfig) *OAuthConnector {
	options := make([]oauth2.AuthCodeOption, 0, len(config.AuthParams))
	for k, v := range config.AuthParams {
		options = append(options, oauth2.SetAuthURLParam(k, v))
	}
	label := config.Label
	if label == "" {
		label = config.Name
	}
	return &OAuthConnector{
		name:  config.Name,
		label: label,
		base: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		scopeSets: config.ScopeSets,
		options:   options,
		client:    config.HTTPClient,
	}
}

// Name はコネクター名を返す。
func (c *OAuthConnector) Name() string {
	return c.name
}

// Label は表示名を返す。
func (c *OAuthConnector) Label() string {
	return c.label
}

// Configured はクライアントIDとシークレットが設定されているかを返す。
func (c *OAuthConnector) Configured() bool {
	return c.base.ClientID != "" && c.base.ClientSecret != ""
}

// Scopes はスコープセットに対応するスコープを返す。未知のセットはDefaultScopeSetになる。
func (c *OAuthConnector) Scopes(scopeSet string) []string {
	if scopes, ok := c.scopeSets[scopeSet]; ok {
		return scopes
	}
	return c.scopeSets[DefaultScopeSet]
}

// AuthCodeURL は同意画面へのURLを生成する。
func (c *OAuthConnector) AuthCodeURL(state, scopeSet string) string {
	cfg := c.base
	cfg.Scopes = c.Scopes(scopeSet)
	return cfg.AuthCodeURL(state, c.options...)
}

// Exchange は認可コードをアクセストークンに交換する。
// リフレッシュトークンは使わず、アクセストークンのみを返す。
func (c *OAuthConnector) Exchange(ctx context.Context, code string) (string, error) {
	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}
	token, err := c.base.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			// レスポンスボディはログに出さない
			return "", fmt.Errorf("token exchange failed with status %d", retrieveErr.Response.StatusCode)
		}
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", ErrEmptyAccessToken
	}
	return token.AccessToken, nil
}

// ClientCredentials はサーバー側のOAuthクライアント資格情報。
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Google はSearch Console・GA4・Google Adsで共有するコネクター設定を返す。
// アクセスはオンラインのみで、リフレッシュトークンは要求しない。
func Google(creds ClientCredentials, redirectURL string) OAuthConfig {
	const identity = "openid email profile"
	const (
		webmasters = "https://www.googleapis.com/auth/webmasters.readonly"
		analytics  = "https://www.googleapis.com/auth/analytics.readonly"
		adwords    = "https://www.googleapis.com/auth/adwords"
	)
	return OAuthConfig{
		Name:         "google",
		Label:        "Google",
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      defaultGoogleAuthURL,
		TokenURL:     defaultGoogleTokenURL,
		ScopeSets: map[string][]string{
			"gsc":           {identity, webmasters},
			"ga4":           {identity, analytics},
			"ads":           {identity, adwords},
			DefaultScopeSet: {identity, webmasters, analytics, adwords},
		},
		AuthParams: map[string]string{
			"access_type": "online",
			"prompt":      "select_account",
		},
	}
}

// LinkedIn はLinkedInのコネクター設定を返す。
func LinkedIn(creds ClientCredentials, redirectURL string) OAuthConfig {
	return OAuthConfig{
		Name:         "linkedin",
		Label:        "LinkedIn",
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      defaultLinkedInAuthURL,
		TokenURL:     defaultLinkedInTokenURL,
		ScopeSets: map[string][]string{
			DefaultScopeSet: {"r_liteprofile", "r_emailaddress", "r_organization_social", "rw_organization_admin"},
		},
	}
}

// Meta はMeta（Facebook / Instagram広告）のコネクター設定を返す。
// Metaのスコープはカンマ区切りの1文字列で送る。
func Meta(creds ClientCredentials, redirectURL string) OAuthConfig {
	return OAuthConfig{
		Name:         "meta",
		Label:        "Meta",
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      defaultMetaAuthURL,
		TokenURL:     defaultMetaTokenURL,
		ScopeSets: map[string][]string{
			DefaultScopeSet: {strings.Join([]string{"ads_read", "ads_management", "business_management", "read_insights"}, ",")},
		},
	}
}

// HubSpot はHubSpotのコネクター設定を返す。
func HubSpot(creds ClientCredentials, redirectURL string) OAuthConfig {
	return OAuthConfig{
		Name:         "hubspot",
		Label:        "HubSpot",
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      defaultHubSpotAuthURL,
		TokenURL:     defaultHubSpotTokenURL,
		ScopeSets: map[string][]string{
			DefaultScopeSet: {"crm.objects.contacts.read", "crm.objects.deals.read", "marketing-email", "campaigns"},
		},
	}
}

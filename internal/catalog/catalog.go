// Package catalog はプロバイダーとモジュールの宣言的カタログを提供する。
// カタログは埋め込みYAMLドキュメントから起動時に1回読み込み、イミュータブルとして扱う。
// 表示用メタデータ（Display）はコアロジックから参照しない。
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultDocument []byte

// SupportedVersion は読み込み可能なカタログドキュメントのバージョン。
const SupportedVersion = 1

// AuthMethod はプロバイダーの認証方式。
type AuthMethod string

const (
	// AuthDelegated はOAuth認可コードフローによる委任認可。
	AuthDelegated AuthMethod = "delegated"
	// AuthStaticKey はユーザーが入力するAPIキー。
	AuthStaticKey AuthMethod = "static-key"
)

// Display はUI向けの表示メタデータ。
type Display struct {
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
	Color       string `yaml:"color,omitempty" json:"color,omitempty"`
	Icon        string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// Module はプロバイダーに属する選択可能なサブレポート。
type Module struct {
	ID         string  `yaml:"id" json:"id"`
	ProviderID string  `yaml:"-" json:"sourceId"`
	Display    Display `yaml:"display" json:"display"`
}

// Provider は外部プラットフォームの定義。
type Provider struct {
	ID            string     `yaml:"id" json:"id"`
	Auth          AuthMethod `yaml:"auth" json:"authMethod"`
	CredentialKey string     `yaml:"credentialKey" json:"-"`
	Connector     string     `yaml:"connector" json:"connector"`
	ScopeSet      string     `yaml:"scopeSet,omitempty" json:"scopeSet,omitempty"`
	Display       Display    `yaml:"display" json:"display"`
	Modules       []Module   `yaml:"modules" json:"modules"`
}

type document struct {
	Version   int        `yaml:"version"`
	Providers []Provider `yaml:"providers"`
}

// Catalog は読み込み済みのカタログ。
type Catalog struct {
	providers []Provider
	byID      map[string]*Provider
	modules   map[string]*Module
}

// Default は埋め込みドキュメントからカタログを生成する。
// 埋め込みドキュメントはビルド時に固定されるため、失敗時はpanicする。
func Default() *Catalog {
	c, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded catalog: %v", err))
	}
	return c
}

// Parse はYAMLドキュメントを検証してCatalogを生成する。
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if doc.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported catalog version: %d", doc.Version)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("catalog has no providers")
	}

	c := &Catalog{
		providers: doc.Providers,
		byID:      make(map[string]*Provider, len(doc.Providers)),
		modules:   make(map[string]*Module),
	}

	for i := range c.providers {
		p := &c.providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("provider #%d has no id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		switch p.Auth {
		case AuthDelegated, AuthStaticKey:
		default:
			return nil, fmt.Errorf("provider %s: unknown auth method %q", p.ID, p.Auth)
		}
		if p.CredentialKey == "" {
			return nil, fmt.Errorf("provider %s: credentialKey is required", p.ID)
		}
		if p.Connector == "" {
			return nil, fmt.Errorf("provider %s: connector is required", p.ID)
		}
		c.byID[p.ID] = p

		for j := range p.Modules {
			m := &p.Modules[j]
			if m.ID == "" {
				return nil, fmt.Errorf("provider %s: module #%d has no id", p.ID, j)
			}
			if _, dup := c.modules[m.ID]; dup {
				return nil, fmt.Errorf("duplicate module id: %s", m.ID)
			}
			m.ProviderID = p.ID
			c.modules[m.ID] = m
		}
	}

	return c, nil
}

// Providers はカタログ順のプロバイダー一覧を返す。
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Provider はIDに対応するプロバイダーを返す。
func (c *Catalog) Provider(id string) (Provider, bool) {
	p, ok := c.byID[id]
	if !ok {
		return Provider{}, false
	}
	return *p, true
}

// Module はIDに対応するモジュールを返す。
func (c *Catalog) Module(id string) (Module, bool) {
	m, ok := c.modules[id]
	if !ok {
		return Module{}, false
	}
	return *m, true
}

// CredentialKey はプロバイダーIDに対応する資格情報キー（Cookie名）を返す。
// 複数のプロバイダーが同じキーを共有する場合がある。
func (c *Catalog) CredentialKey(providerID string) (string, bool) {
	p, ok := c.byID[providerID]
	if !ok {
		return "", false
	}
	return p.CredentialKey, true
}

// CredentialKeys は重複を除いた全資格情報キーをソート済みで返す。
func (c *Catalog) CredentialKeys() []string {
	seen := make(map[string]struct{})
	for _, p := range c.providers {
		seen[p.CredentialKey] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProvidersByConnector はコネクターを共有するプロバイダーをカタログ順で返す。
func (c *Catalog) ProvidersByConnector(connector string) []Provider {
	var out []Provider
	for _, p := range c.providers {
		if p.Connector == connector {
			out = append(out, p)
		}
	}
	return out
}

// GroupModules は選択されたモジュールIDをプロバイダーごとに振り分ける。
// 未知のモジュールIDは無視する。
func (c *Catalog) GroupModules(moduleIDs []string) map[string]map[string]bool {
	grouped := make(map[string]map[string]bool)
	for _, id := range moduleIDs {
		m, ok := c.modules[id]
		if !ok {
			continue
		}
		if grouped[m.ProviderID] == nil {
			grouped[m.ProviderID] = make(map[string]bool)
		}
		grouped[m.ProviderID][id] = true
	}
	return grouped
}

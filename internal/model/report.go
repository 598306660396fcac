package model

import (
	"strconv"
	"strings"
)

// MaxNorthStars はUserConfigが保持するNorth Starの最大数。
const MaxNorthStars = 4

// KPI はセクション内の1指標を表す。
// 値は表示用に整形済みの文字列で、描画層は加工しない。
type KPI struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Color string `json:"color"`
	Delta string `json:"delta,omitempty"`
}

// Table はセクションに付随する表データ。
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Section は1回の集計における1プロバイダー分の出力。
// Errorが設定されている場合、KPIsとTableは空でなければならない。
type Section struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	KPIs   []KPI  `json:"kpis,omitempty"`
	Table  *Table `json:"table,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewErrorSection はエラーセクションを生成する。
func NewErrorSection(title, source, message string) Section {
	return Section{Title: title, Source: source, Error: message}
}

// IsError はエラーセクションかどうかを返す。
func (s Section) IsError() bool {
	return s.Error != ""
}

// NorthStar はユーザーが入力する目標値と実績値のペア。
type NorthStar struct {
	Label string `json:"label"`
	Goal  string `json:"goal"`
	Real  string `json:"real"`
}

// UserConfig はプロバイダーへの問い合わせ範囲とナラティブ用の文脈を保持する。
// ブラウザセッションの間だけクライアント側で保持され、サーバーには保存しない。
type UserConfig struct {
	ReportName          string      `json:"reportName"`
	Company             string      `json:"company"`
	Industry            string      `json:"industry"`
	Domain              string      `json:"domain"`
	GSCSiteURL          string      `json:"gscSiteUrl"`
	GA4PropertyID       string      `json:"ga4PropertyId"`
	GoogleAdsCustomerID string      `json:"googleAdsCustomerId"`
	LinkedInOrgID       string      `json:"linkedinOrgId"`
	CompetitorOrgIDs    string      `json:"competitorOrgIds"`
	MetaAdAccountID     string      `json:"metaAdAccountId"`
	NorthStars          []NorthStar `json:"northStars"`
}

// Trend はNorth Starの実績と目標の比較結果。
type Trend string

const (
	TrendUp   Trend = "up"
	TrendFlat Trend = "flat"
	TrendDown Trend = "down"
)

// NorthStarResult は評価済みのNorth Star。
type NorthStarResult struct {
	NorthStar
	Trend Trend `json:"trend"`
}

// EvaluateNorthStars はラベルが入力されたNorth Starを評価する。
// 先頭からMaxNorthStars件までを対象とする。
func EvaluateNorthStars(stars []NorthStar) []NorthStarResult {
	results := make([]NorthStarResult, 0, MaxNorthStars)
	for i, ns := range stars {
		if i >= MaxNorthStars {
			break
		}
		if strings.TrimSpace(ns.Label) == "" {
			continue
		}
		results = append(results, NorthStarResult{NorthStar: ns, Trend: trendOf(ns.Real, ns.Goal)})
	}
	return results
}

// trendOf は実績が目標の103%以上でup、95%以上でflat、それ未満でdownを返す。
// どちらかが数値として解釈できない場合はflat。
func trendOf(real, goal string) Trend {
	r, errR := parseLooseFloat(real)
	g, errG := parseLooseFloat(goal)
	if errR != nil || errG != nil {
		return TrendFlat
	}
	switch {
	case r >= g*1.03:
		return TrendUp
	case r >= g*0.95:
		return TrendFlat
	default:
		return TrendDown
	}
}

// parseLooseFloat は小数点にカンマを許容し、末尾の%等の記号を無視して数値を解釈する。
func parseLooseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	s = strings.TrimRight(s, "%xX$ ")
	s = strings.TrimLeft(s, "$ ")
	return strconv.ParseFloat(s, 64)
}

// Report は集計結果全体。
type Report struct {
	Sections   []Section         `json:"sections"`
	NorthStars []NorthStarResult `json:"northStars"`
}

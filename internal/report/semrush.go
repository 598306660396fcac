package report

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const (
	semrushDatabase       = "us"
	semrushOrganicLimit   = "20"
	semrushRankingRows    = 15
	semrushCompetitorRows = "10"
	// semrushNothingFound はデータが存在しない場合の応答。エラーではなく0件として扱う。
	semrushNothingFound = "ERROR 50 ::"
)

// SemrushFetcher はSemrushのAnalytics APIからオーガニック順位を取得する。
// レスポンスはセミコロン区切りのCSV。
type SemrushFetcher struct {
	api       *upstream
	baseURL   string
	sanitizer security.TextSanitizer
	hosts     security.SSRFGuardService
}

// semrushKeyword はexport_columns=Ph,Po,Pp,Pd,Nq,Trの1行。
type semrushKeyword struct {
	Phrase           string
	Position         float64
	PreviousPosition float64
	Volume           float64
	Traffic          float64
}

func (f *SemrushFetcher) ProviderID() string { return "semrush" }

func (f *SemrushFetcher) Describe() Meta {
	return Meta{Title: "Semrush", Source: "Semrush"}
}

// FetchSection はオーガニックキーワードとAI Overviewの出現数を集計する。
func (f *SemrushFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	if strings.TrimSpace(req.Config.Domain) == "" {
		return nil, model.NewConfigMissingError("Configurá el dominio en el paso anterior para consultar Semrush.")
	}
	domain, err := normalizeDomain(req.Config.Domain, f.hosts)
	if err != nil {
		return nil, model.NewConfigMissingError("El dominio configurado no es válido.")
	}

	records, err := f.query(ctx, req.Credential, url.Values{
		"type":           {"domain_organic"},
		"domain":         {domain},
		"database":       {semrushDatabase},
		"export_columns": {"Ph,Po,Pp,Pd,Nq,Tr"},
		"display_limit":  {semrushOrganicLimit},
		"display_sort":   {"tr_desc"},
	}, "/")
	if err != nil {
		return nil, err
	}
	keywords := parseKeywords(records)

	positions := make([]float64, 0, len(keywords))
	for _, k := range keywords {
		positions = append(positions, k.Position)
	}
	avgPos := Unavailable
	if len(positions) > 0 {
		avgPos = formatFixed(mean(positions), 1)
	}

	aiOverview := "— (requiere Guru+)"
	if req.Has("semrush_ai_overview") {
		if n, ok := f.aiOverviewCount(ctx, req.Credential, domain); ok {
			aiOverview = formatInt(int64(n))
		}
	}

	section := &model.Section{
		Title:  "AI Overview & Posicionamiento SEO",
		Source: "Semrush",
		KPIs: []model.KPI{
			{Label: "Keywords orgánicas", Value: formatInt(int64(len(keywords))), Color: "#ff642d"},
			{Label: "Posición promedio", Value: avgPos, Color: "#3b72f6"},
			{Label: "Aparic. AI Overview", Value: aiOverview, Color: "#18c16a"},
		},
	}

	switch {
	case req.Has("semrush_rankings") && len(keywords) > 0:
		section.Table = f.rankingTable(keywords)
	case req.Has("semrush_competitors"):
		table, err := f.competitorTable(ctx, req.Credential, domain)
		if err != nil {
			return nil, err
		}
		if len(table.Rows) > 0 {
			section.Table = table
		}
	}

	return section, nil
}

// query はSemrush APIを呼び出し、ヘッダー行を除いたCSVレコードを返す。
func (f *SemrushFetcher) query(ctx context.Context, key string, params url.Values, path string) ([][]string, error) {
	params.Set("key", key)
	body, err := f.api.getText(ctx, f.baseURL+path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, semrushNothingFound) {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "ERROR") {
		line, _, _ := strings.Cut(trimmed, "\n")
		return nil, model.NewUpstreamError("Semrush", 0, errors.New(line))
	}
	return parseCSV(trimmed)
}

// aiOverviewCount はAI Overviewに出現したキーワード数を返す。
// 上位プラン限定の機能のため、失敗してもセクション全体は失敗させない。
func (f *SemrushFetcher) aiOverviewCount(ctx context.Context, key, domain string) (int, bool) {
	records, err := f.query(ctx, key, url.Values{
		"type":          {"domain_ai_overview"},
		"domain":        {domain},
		"database":      {semrushDatabase},
		"display_limit": {semrushOrganicLimit},
	}, "/analytics/v1/")
	if err != nil {
		slog.Info("semrush ai overview unavailable", slog.String("kind", string(model.KindOf(err))))
		return 0, false
	}
	return len(records), true
}

func (f *SemrushFetcher) rankingTable(keywords []semrushKeyword) *model.Table {
	if len(keywords) > semrushRankingRows {
		keywords = keywords[:semrushRankingRows]
	}
	table := &model.Table{Headers: []string{"Keyword", "Posición", "Pos. ant.", "Volumen", "Tráfico est."}}
	for _, k := range keywords {
		table.Rows = append(table.Rows, []string{
			f.sanitizer.Sanitize(k.Phrase),
			formatRounded(k.Position),
			formatRounded(k.PreviousPosition),
			formatRounded(k.Volume),
			formatFixed(k.Traffic, 2) + "%",
		})
	}
	return table
}

// competitorTable はオーガニック検索の競合ドメインを取得する。
func (f *SemrushFetcher) competitorTable(ctx context.Context, key, domain string) (*model.Table, error) {
	records, err := f.query(ctx, key, url.Values{
		"type":           {"domain_organic_organic"},
		"domain":         {domain},
		"database":       {semrushDatabase},
		"export_columns": {"Dn,Cr,Np,Or"},
		"display_limit":  {semrushCompetitorRows},
	}, "/")
	if err != nil {
		return nil, err
	}
	table := &model.Table{Headers: []string{"Competidor", "Relevancia", "Keywords comunes", "Keywords orgánicas"}}
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		table.Rows = append(table.Rows, []string{
			f.sanitizer.Sanitize(rec[0]),
			formatFixed(parseNumber(rec[1]), 2),
			formatRounded(parseNumber(rec[2])),
			formatRounded(parseNumber(rec[3])),
		})
	}
	return table, nil
}

// parseCSV はセミコロン区切りのCSVを読み、先頭のヘッダー行を除いて返す。
// 列はexport_columnsの順に並ぶため、ヘッダー名には依存しない。
func parseCSV(body string) ([][]string, error) {
	if body == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(body))
	r.Comma = ';'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var records [][]string
	header := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, model.NewUpstreamError("Semrush", 0, err)
		}
		if header {
			header = false
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseKeywords(records [][]string) []semrushKeyword {
	keywords := make([]semrushKeyword, 0, len(records))
	for _, rec := range records {
		if len(rec) < 6 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		keywords = append(keywords, semrushKeyword{
			Phrase:           rec[0],
			Position:         parseNumber(strings.TrimSpace(rec[1])),
			PreviousPosition: parseNumber(strings.TrimSpace(rec[2])),
			Volume:           parseNumber(strings.TrimSpace(rec[4])),
			Traffic:          parseNumber(strings.TrimSpace(rec[5])),
		})
	}
	return keywords
}

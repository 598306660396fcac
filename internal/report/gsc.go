package report

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const (
	gscQueryLimit = 20
	gscTrendLimit = 25000
)

// SearchConsoleFetcher はGoogle Search Consoleの検索パフォーマンスを取得する。
type SearchConsoleFetcher struct {
	api       *upstream
	baseURL   string
	sanitizer security.TextSanitizer
	hosts     security.SSRFGuardService
}

type gscQueryRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
}

type gscRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

type gscResponse struct {
	Rows []gscRow `json:"rows"`
}

func (f *SearchConsoleFetcher) ProviderID() string { return "google_search_console" }

func (f *SearchConsoleFetcher) Describe() Meta {
	return Meta{Title: "Search Console", Source: "Google Search Console"}
}

// FetchSection は上位クエリを取得してKPIを集計する。
func (f *SearchConsoleFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	site, err := f.siteURL(req.Config)
	if err != nil {
		return nil, err
	}

	rows, err := f.query(ctx, req, site, "query", gscQueryLimit)
	if err != nil {
		return nil, err
	}

	var clicks, impressions float64
	ctrs := make([]float64, 0, len(rows))
	positions := make([]float64, 0, len(rows))
	for _, r := range rows {
		clicks += r.Clicks
		impressions += r.Impressions
		ctrs = append(ctrs, r.CTR)
		positions = append(positions, r.Position)
	}

	avgCTR, avgPos := "0%", "0"
	if len(rows) > 0 {
		avgCTR = formatPercent(mean(ctrs)*100, 1)
		avgPos = formatFixed(mean(positions), 1)
	}

	section := &model.Section{
		Title:  "Search Console · Performance SEO",
		Source: "Google Search Console",
		KPIs: []model.KPI{
			{Label: "Clicks", Value: formatRounded(clicks), Color: "#3b72f6"},
			{Label: "Impresiones", Value: formatThousands(impressions), Color: "#18c16a"},
			{Label: "CTR promedio", Value: avgCTR, Color: "#f04b20"},
			{Label: "Posición prom.", Value: avgPos, Color: "#d4a72c"},
		},
	}

	switch {
	case req.Has("gsc_queries"):
		section.Table = f.queryTable(rows)
	case req.Has("gsc_trend"):
		daily, err := f.query(ctx, req, site, "date", gscTrendLimit)
		if err != nil {
			return nil, err
		}
		section.Table = trendTable(daily)
	}

	return section, nil
}

// siteURL はプロパティのURLを決める。URLプレフィックス指定を優先し、なければドメインプロパティ。
func (f *SearchConsoleFetcher) siteURL(cfg model.UserConfig) (string, error) {
	if site := strings.TrimSpace(cfg.GSCSiteURL); site != "" {
		return site, nil
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		return "", model.NewConfigMissingError("Configurá el campo 'URL en GSC' o 'Dominio' en el paso anterior.")
	}
	domain, err := normalizeDomain(cfg.Domain, f.hosts)
	if err != nil {
		return "", model.NewConfigMissingError("El dominio configurado no es válido.")
	}
	return "sc-domain:" + domain, nil
}

func (f *SearchConsoleFetcher) query(ctx context.Context, req Request, site, dimension string, limit int) ([]gscRow, error) {
	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", f.baseURL, url.PathEscape(site))
	body := gscQueryRequest{
		StartDate:  req.Window.StartDate(),
		EndDate:    req.Window.EndDate(),
		Dimensions: []string{dimension},
		RowLimit:   limit,
	}
	var resp gscResponse
	if err := f.api.postJSON(ctx, endpoint, bearer(req.Credential), body, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (f *SearchConsoleFetcher) queryTable(rows []gscRow) *model.Table {
	sorted := make([]gscRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Clicks > sorted[j].Clicks })
	if len(sorted) > gscQueryLimit {
		sorted = sorted[:gscQueryLimit]
	}

	table := &model.Table{Headers: []string{"Query", "Clicks", "Impresiones", "CTR", "Posición"}}
	for _, r := range sorted {
		table.Rows = append(table.Rows, []string{
			f.sanitizer.Sanitize(firstKey(r.Keys)),
			formatRounded(r.Clicks),
			formatRounded(r.Impressions),
			formatPercent(r.CTR*100, 1),
			formatFixed(r.Position, 1),
		})
	}
	return table
}

func trendTable(rows []gscRow) *model.Table {
	sorted := make([]gscRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return firstKey(sorted[i].Keys) < firstKey(sorted[j].Keys) })

	table := &model.Table{Headers: []string{"Fecha", "Clicks", "Impresiones"}}
	for _, r := range sorted {
		table.Rows = append(table.Rows, []string{
			firstKey(r.Keys),
			formatRounded(r.Clicks),
			formatRounded(r.Impressions),
		})
	}
	return table
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

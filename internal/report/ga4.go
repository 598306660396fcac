package report

import (
	"context"
	"fmt"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const ga4PageLimit = 10

// AnalyticsFetcher はGA4のData APIからチャネル別のトラフィックを取得する。
type AnalyticsFetcher struct {
	api       *upstream
	baseURL   string
	sanitizer security.TextSanitizer
}

type ga4DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type ga4Name struct {
	Name string `json:"name"`
}

type ga4OrderBy struct {
	Metric ga4Name `json:"metric"`
	Desc   bool    `json:"desc"`
}

type ga4ReportRequest struct {
	DateRanges []ga4DateRange `json:"dateRanges"`
	Dimensions []ga4Name      `json:"dimensions"`
	Metrics    []ga4Name      `json:"metrics"`
	OrderBys   []ga4OrderBy   `json:"orderBys,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

type ga4Value struct {
	Value string `json:"value"`
}

type ga4MetricValue struct {
	Value number `json:"value"`
}

type ga4Row struct {
	DimensionValues []ga4Value       `json:"dimensionValues"`
	MetricValues    []ga4MetricValue `json:"metricValues"`
}

func (r ga4Row) dimension() string {
	if len(r.DimensionValues) == 0 {
		return ""
	}
	return r.DimensionValues[0].Value
}

func (r ga4Row) metric(i int) float64 {
	if i >= len(r.MetricValues) {
		return 0
	}
	return r.MetricValues[i].Value.float()
}

type ga4ReportResponse struct {
	Rows []ga4Row `json:"rows"`
}

func (f *AnalyticsFetcher) ProviderID() string { return "google_analytics" }

func (f *AnalyticsFetcher) Describe() Meta {
	return Meta{Title: "Google Analytics 4", Source: "GA4"}
}

// FetchSection はチャネル別のセッション・ユーザー・コンバージョンを集計する。
func (f *AnalyticsFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	if req.Config.GA4PropertyID == "" {
		return nil, model.NewConfigMissingError("Falta el Property ID de GA4. Completalo en el paso anterior.")
	}
	propertyID, ok := numericID(req.Config.GA4PropertyID, "properties/")
	if !ok {
		return nil, model.NewConfigMissingError("El Property ID de GA4 debe ser numérico.")
	}

	channels, err := f.runReport(ctx, req, propertyID, ga4ReportRequest{
		DateRanges: []ga4DateRange{{StartDate: req.Window.StartDate(), EndDate: req.Window.EndDate()}},
		Dimensions: []ga4Name{{Name: "sessionDefaultChannelGroup"}},
		Metrics:    []ga4Name{{Name: "sessions"}, {Name: "totalUsers"}, {Name: "conversions"}},
	})
	if err != nil {
		return nil, err
	}

	var sessions, users, conversions float64
	for _, r := range channels {
		sessions += r.metric(0)
		users += r.metric(1)
		conversions += r.metric(2)
	}

	section := &model.Section{
		Title:  "Tráfico · Google Analytics 4",
		Source: "GA4",
		KPIs: []model.KPI{
			{Label: "Sesiones", Value: formatRounded(sessions), Color: "#e37400"},
			{Label: "Usuarios", Value: formatRounded(users), Color: "#3b72f6"},
			{Label: "Conversiones", Value: formatRounded(conversions), Color: "#18c16a"},
			{Label: "Tasa de conv.", Value: formatRatioPercent(conversions, sessions), Color: "#d4a72c"},
		},
	}

	switch {
	case req.Has("ga4_traffic"):
		table := &model.Table{Headers: []string{"Canal", "Sesiones", "Usuarios", "Conversiones", "CR"}}
		for _, r := range channels {
			table.Rows = append(table.Rows, []string{
				f.sanitizer.Sanitize(r.dimension()),
				formatRounded(r.metric(0)),
				formatRounded(r.metric(1)),
				formatRounded(r.metric(2)),
				formatRatioPercent(r.metric(2), r.metric(0)),
			})
		}
		section.Table = table
	case req.Has("ga4_pages"):
		pages, err := f.runReport(ctx, req, propertyID, ga4ReportRequest{
			DateRanges: []ga4DateRange{{StartDate: req.Window.StartDate(), EndDate: req.Window.EndDate()}},
			Dimensions: []ga4Name{{Name: "pagePath"}},
			Metrics:    []ga4Name{{Name: "sessions"}, {Name: "totalUsers"}},
			OrderBys:   []ga4OrderBy{{Metric: ga4Name{Name: "sessions"}, Desc: true}},
			Limit:      ga4PageLimit,
		})
		if err != nil {
			return nil, err
		}
		table := &model.Table{Headers: []string{"Página", "Sesiones", "Usuarios"}}
		for _, r := range pages {
			table.Rows = append(table.Rows, []string{
				f.sanitizer.Sanitize(r.dimension()),
				formatRounded(r.metric(0)),
				formatRounded(r.metric(1)),
			})
		}
		section.Table = table
	}

	return section, nil
}

func (f *AnalyticsFetcher) runReport(ctx context.Context, req Request, propertyID string, body ga4ReportRequest) ([]ga4Row, error) {
	endpoint := fmt.Sprintf("%s/properties/%s:runReport", f.baseURL, propertyID)
	var resp ga4ReportResponse
	if err := f.api.postJSON(ctx, endpoint, bearer(req.Credential), body, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

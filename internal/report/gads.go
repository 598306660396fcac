package report

import (
	"context"
	"fmt"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const (
	gadsSummaryQuery = "SELECT metrics.cost_micros, metrics.clicks, metrics.impressions, metrics.conversions, metrics.conversions_value " +
		"FROM customer WHERE segments.date DURING LAST_30_DAYS"
	gadsKeywordQuery = "SELECT ad_group_criterion.keyword.text, metrics.clicks, metrics.cost_micros, metrics.conversions " +
		"FROM keyword_view WHERE segments.date DURING LAST_30_DAYS ORDER BY metrics.cost_micros DESC LIMIT 20"
	microsPerUnit = 1_000_000
)

// GoogleAdsFetcher はGoogle Ads APIのGAQLでアカウント実績を取得する。
type GoogleAdsFetcher struct {
	api            *upstream
	baseURL        string
	sanitizer      security.TextSanitizer
	developerToken string
}

type gadsSearchRequest struct {
	Query string `json:"query"`
}

type gadsMetrics struct {
	CostMicros       number `json:"costMicros"`
	Clicks           number `json:"clicks"`
	Impressions      number `json:"impressions"`
	Conversions      number `json:"conversions"`
	ConversionsValue number `json:"conversionsValue"`
}

type gadsRow struct {
	Metrics          gadsMetrics `json:"metrics"`
	AdGroupCriterion struct {
		Keyword struct {
			Text string `json:"text"`
		} `json:"keyword"`
	} `json:"adGroupCriterion"`
}

type gadsSearchResponse struct {
	Results []gadsRow `json:"results"`
}

func (f *GoogleAdsFetcher) ProviderID() string { return "google_ads" }

func (f *GoogleAdsFetcher) Describe() Meta {
	return Meta{Title: "Google Ads", Source: "Google Ads"}
}

// FetchSection は直近30日の費用・クリック・コンバージョンを集計する。
func (f *GoogleAdsFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	if f.developerToken == "" {
		return nil, model.NewNotConfiguredError("Google Ads")
	}
	if req.Config.GoogleAdsCustomerID == "" {
		return nil, model.NewConfigMissingError("Falta el Customer ID de Google Ads. Completalo en el paso anterior.")
	}
	customerID, ok := numericID(req.Config.GoogleAdsCustomerID)
	if !ok {
		return nil, model.NewConfigMissingError("El Customer ID de Google Ads debe tener el formato 123-456-7890.")
	}

	rows, err := f.search(ctx, req, customerID, gadsSummaryQuery)
	if err != nil {
		return nil, err
	}

	var total gadsMetrics
	for _, r := range rows {
		total.CostMicros += r.Metrics.CostMicros
		total.Clicks += r.Metrics.Clicks
		total.Impressions += r.Metrics.Impressions
		total.Conversions += r.Metrics.Conversions
		total.ConversionsValue += r.Metrics.ConversionsValue
	}
	cost := total.CostMicros.float() / microsPerUnit
	clicks := total.Clicks.float()

	cpc := Unavailable
	if clicks > 0 {
		cpc = formatMoneyFixed(cost / clicks)
	}

	section := &model.Section{
		Title:  "Google Ads · Campañas",
		Source: "Google Ads",
		KPIs: []model.KPI{
			{Label: "Inversión", Value: formatMoney(cost), Color: "#4285f4"},
			{Label: "Clicks", Value: formatRounded(clicks), Color: "#18c16a"},
			{Label: "CPC", Value: cpc, Color: "#f04b20"},
			{Label: "Conversiones", Value: formatRounded(total.Conversions.float()), Color: "#3b72f6"},
			{Label: "ROAS", Value: formatROAS(total.ConversionsValue.float(), cost), Color: "#d4a72c"},
		},
	}

	if req.Has("gads_keywords") {
		keywords, err := f.search(ctx, req, customerID, gadsKeywordQuery)
		if err != nil {
			return nil, err
		}
		table := &model.Table{Headers: []string{"Keyword", "Clicks", "Costo", "Conversiones"}}
		for _, r := range keywords {
			table.Rows = append(table.Rows, []string{
				f.sanitizer.Sanitize(r.AdGroupCriterion.Keyword.Text),
				formatRounded(r.Metrics.Clicks.float()),
				formatMoney(r.Metrics.CostMicros.float() / microsPerUnit),
				formatRounded(r.Metrics.Conversions.float()),
			})
		}
		section.Table = table
	}

	return section, nil
}

func (f *GoogleAdsFetcher) search(ctx context.Context, req Request, customerID, query string) ([]gadsRow, error) {
	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:search", f.baseURL, customerID)
	headers := bearer(req.Credential)
	headers["developer-token"] = f.developerToken
	var resp gadsSearchResponse
	if err := f.api.postJSON(ctx, endpoint, headers, gadsSearchRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

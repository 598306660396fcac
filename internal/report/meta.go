package report

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const (
	metaAccountPrefix = "act_"
	metaCampaignRows  = 10
	metaDatePreset    = "last_30d"
)

// MetaFetcher はMeta Marketing APIのInsightsから広告実績を取得する。
type MetaFetcher struct {
	api       *upstream
	baseURL   string
	sanitizer security.TextSanitizer
}

type metaAction struct {
	ActionType string `json:"action_type"`
	Value      number `json:"value"`
}

type metaInsight struct {
	CampaignName string       `json:"campaign_name"`
	Spend        number       `json:"spend"`
	Reach        number       `json:"reach"`
	Impressions  number       `json:"impressions"`
	Clicks       number       `json:"clicks"`
	CPC          number       `json:"cpc"`
	ActionValues []metaAction `json:"action_values"`
}

// purchaseValue は購入コンバージョンの売上額を返す。
func (m metaInsight) purchaseValue() float64 {
	var total float64
	for _, a := range m.ActionValues {
		if a.ActionType == "purchase" || a.ActionType == "omni_purchase" {
			total += a.Value.float()
		}
	}
	return total
}

type metaInsightsResponse struct {
	Data []metaInsight `json:"data"`
}

func (f *MetaFetcher) ProviderID() string { return "meta_ads" }

func (f *MetaFetcher) Describe() Meta {
	return Meta{Title: "Meta Ads", Source: "Meta Ads Manager"}
}

// FetchSection は広告アカウントの直近30日の実績を集計する。
func (f *MetaFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	if req.Config.MetaAdAccountID == "" {
		return nil, model.NewConfigMissingError("Falta el Ad Account ID de Meta. Completalo en el paso anterior.")
	}
	accountID, ok := numericID(req.Config.MetaAdAccountID, metaAccountPrefix)
	if !ok {
		return nil, model.NewConfigMissingError("El Ad Account ID de Meta debe tener el formato act_123456789.")
	}

	account, err := f.insights(ctx, req.Credential, accountID, url.Values{
		"fields": {"spend,reach,impressions,clicks,cpc,action_values"},
	})
	if err != nil {
		return nil, err
	}

	var total metaInsight
	for _, row := range account {
		total.Spend += row.Spend
		total.Reach += row.Reach
		total.Clicks += row.Clicks
		total.ActionValues = append(total.ActionValues, row.ActionValues...)
	}
	spend := total.Spend.float()

	cpc := Unavailable
	if total.Clicks > 0 {
		cpc = formatMoneyFixed(spend / total.Clicks.float())
	}

	section := &model.Section{
		Title:  "Meta Ads · Campañas",
		Source: "Meta Ads Manager",
		KPIs: []model.KPI{
			{Label: "Inversión", Value: formatMoney(spend), Color: "#1877f2"},
			{Label: "Alcance", Value: formatRounded(total.Reach.float()), Color: "#18c16a"},
			{Label: "CPC", Value: cpc, Color: "#f04b20"},
			{Label: "ROAS", Value: formatROAS(total.purchaseValue(), spend), Color: "#d4a72c"},
		},
	}

	if req.Has("meta_campaigns") {
		campaigns, err := f.insights(ctx, req.Credential, accountID, url.Values{
			"level":  {"campaign"},
			"fields": {"campaign_name,spend,impressions,clicks,action_values"},
			"limit":  {"100"},
		})
		if err != nil {
			return nil, err
		}
		section.Table = f.campaignTable(campaigns)
	}

	return section, nil
}

func (f *MetaFetcher) insights(ctx context.Context, credential, accountID string, params url.Values) ([]metaInsight, error) {
	params.Set("date_preset", metaDatePreset)
	endpoint := fmt.Sprintf("%s/%s%s/insights?%s", f.baseURL, metaAccountPrefix, accountID, params.Encode())
	var resp metaInsightsResponse
	if err := f.api.getJSON(ctx, endpoint, bearer(credential), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (f *MetaFetcher) campaignTable(campaigns []metaInsight) *model.Table {
	sorted := make([]metaInsight, len(campaigns))
	copy(sorted, campaigns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Spend > sorted[j].Spend })
	if len(sorted) > metaCampaignRows {
		sorted = sorted[:metaCampaignRows]
	}

	table := &model.Table{Headers: []string{"Campaña", "Inversión", "Impresiones", "Clicks", "ROAS"}}
	for _, c := range sorted {
		table.Rows = append(table.Rows, []string{
			f.sanitizer.Sanitize(c.CampaignName),
			formatMoney(c.Spend.float()),
			formatRounded(c.Impressions.float()),
			formatRounded(c.Clicks.float()),
			formatROAS(c.purchaseValue(), c.Spend.float()),
		})
	}
	return table
}

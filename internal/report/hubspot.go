package report

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/security"
)

const (
	hubSpotDealLimit = "100"
	hubSpotDealRows  = 10
)

// HubSpotFetcher はHubSpot CRMのコンタクト数と商談パイプラインを取得する。
type HubSpotFetcher struct {
	api       *upstream
	baseURL   string
	sanitizer security.TextSanitizer
}

type hubSpotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubSpotFilterGroup struct {
	Filters []hubSpotFilter `json:"filters"`
}

type hubSpotSearchRequest struct {
	FilterGroups []hubSpotFilterGroup `json:"filterGroups"`
	Limit        int                  `json:"limit"`
}

type hubSpotSearchResponse struct {
	Total number `json:"total"`
}

type hubSpotDeal struct {
	Properties struct {
		DealName  string `json:"dealname"`
		Amount    number `json:"amount"`
		DealStage string `json:"dealstage"`
	} `json:"properties"`
}

type hubSpotDealsResponse struct {
	Results []hubSpotDeal `json:"results"`
}

func (f *HubSpotFetcher) ProviderID() string { return "hubspot" }

func (f *HubSpotFetcher) Describe() Meta {
	return Meta{Title: "HubSpot", Source: "HubSpot"}
}

// FetchSection はコンタクト総数・期間内の新規コンタクト・商談を並行に取得する。
func (f *HubSpotFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	var (
		contacts, newContacts float64
		deals                 []hubSpotDeal
	)
	headers := func() map[string]string { return bearer(req.Credential) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var resp hubSpotSearchResponse
		err := f.api.postJSON(gctx, f.baseURL+"/crm/v3/objects/contacts/search", headers(),
			hubSpotSearchRequest{FilterGroups: []hubSpotFilterGroup{}, Limit: 1}, &resp)
		contacts = resp.Total.float()
		return err
	})
	g.Go(func() error {
		since := strconv.FormatInt(req.Window.Start.UnixMilli(), 10)
		var resp hubSpotSearchResponse
		err := f.api.postJSON(gctx, f.baseURL+"/crm/v3/objects/contacts/search", headers(),
			hubSpotSearchRequest{
				FilterGroups: []hubSpotFilterGroup{{Filters: []hubSpotFilter{
					{PropertyName: "createdate", Operator: "GTE", Value: since},
				}}},
				Limit: 1,
			}, &resp)
		newContacts = resp.Total.float()
		return err
	})
	g.Go(func() error {
		var resp hubSpotDealsResponse
		endpoint := f.baseURL + "/crm/v3/objects/deals?limit=" + hubSpotDealLimit +
			"&properties=dealname,amount,dealstage,pipeline,closedate"
		err := f.api.getJSON(gctx, endpoint, headers(), &resp)
		deals = resp.Results
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pipeline float64
	for _, d := range deals {
		pipeline += d.Properties.Amount.float()
	}

	section := &model.Section{
		Title:  "HubSpot · CRM & Pipeline",
		Source: "HubSpot",
		KPIs: []model.KPI{
			{Label: "Total contactos", Value: formatRounded(contacts), Color: "#ff7a59"},
			{Label: "Nuevos (30d)", Value: formatRounded(newContacts), Color: "#f04b20"},
			{Label: "Deals activos", Value: formatInt(int64(len(deals))), Color: "#3b72f6"},
			{Label: "Pipeline", Value: formatMoney(pipeline), Color: "#18c16a"},
		},
	}

	if req.Has("hubspot_leads") && len(deals) > 0 {
		table := &model.Table{Headers: []string{"Deal", "Etapa", "Monto"}}
		for i, d := range deals {
			if i == hubSpotDealRows {
				break
			}
			table.Rows = append(table.Rows, []string{
				orUnavailable(f.sanitizer.Sanitize(d.Properties.DealName)),
				orUnavailable(f.sanitizer.Sanitize(d.Properties.DealStage)),
				formatMoney(d.Properties.Amount.float()),
			})
		}
		section.Table = table
	}

	return section, nil
}

func orUnavailable(s string) string {
	if s == "" {
		return Unavailable
	}
	return s
}

package report

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/mbr/internal/model"
)

const (
	linkedInOrgURN         = "urn:li:organization:"
	maxLinkedInCompetitors = 5
)

// LinkedInFetcher はLinkedInの組織ページの統計とフォロワー数を取得する。
type LinkedInFetcher struct {
	api     *upstream
	baseURL string
}

type linkedInShareStats struct {
	Elements []struct {
		TotalShareStatistics struct {
			ImpressionCount number `json:"impressionCount"`
			ClickCount      number `json:"clickCount"`
			Engagement      number `json:"engagement"`
		} `json:"totalShareStatistics"`
	} `json:"elements"`
}

type linkedInNetworkSize struct {
	FirstDegreeSize number `json:"firstDegreeSize"`
}

func (f *LinkedInFetcher) ProviderID() string { return "linkedin" }

func (f *LinkedInFetcher) Describe() Meta {
	return Meta{Title: "LinkedIn Analytics", Source: "LinkedIn Analytics"}
}

// FetchSection は共有統計とフォロワー数を並行に取得して集計する。
func (f *LinkedInFetcher) FetchSection(ctx context.Context, req Request) (*model.Section, error) {
	if req.Config.LinkedInOrgID == "" {
		return nil, model.NewConfigMissingError("Falta el Organization ID de LinkedIn. Completalo en el paso anterior.")
	}
	orgID, ok := numericID(req.Config.LinkedInOrgID, linkedInOrgURN)
	if !ok {
		return nil, model.NewConfigMissingError("El Organization ID de LinkedIn debe ser numérico.")
	}

	var (
		stats     linkedInShareStats
		followers float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params := url.Values{
			"q":                                 {"organizationalEntity"},
			"organizationalEntity":              {linkedInOrgURN + orgID},
			"timeIntervals.timeGranularityType": {"MONTH"},
		}
		return f.api.getJSON(gctx, f.baseURL+"/organizationalEntityShareStatistics?"+params.Encode(), f.headers(req.Credential), &stats)
	})
	g.Go(func() error {
		n, err := f.followers(gctx, req.Credential, orgID)
		followers = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var impressions, clicks, engagement float64
	if len(stats.Elements) > 0 {
		s := stats.Elements[0].TotalShareStatistics
		impressions = s.ImpressionCount.float()
		clicks = s.ClickCount.float()
		engagement = s.Engagement.float()
	}

	section := &model.Section{
		Title:  "LinkedIn · Analytics & Benchmark",
		Source: "LinkedIn Analytics",
		KPIs: []model.KPI{
			{Label: "Seguidores", Value: formatRounded(followers), Color: "#0077b5"},
			{Label: "Impresiones", Value: formatThousands(impressions), Color: "#18c16a"},
			{Label: "Clicks", Value: formatRounded(clicks), Color: "#f04b20"},
			{Label: "Eng. rate", Value: formatPercent(engagement*100, 2), Color: "#d4a72c"},
		},
	}

	if req.Has("linkedin_benchmark") {
		competitors := competitorIDs(req.Config.CompetitorOrgIDs)
		if len(competitors) > 0 {
			section.Table = f.benchmark(ctx, req.Credential, followers, competitors)
		}
	}

	return section, nil
}

// benchmark は競合組織のフォロワー数を並行に取得する。
// 競合の取得失敗は表の該当セルだけを不明とする。
func (f *LinkedInFetcher) benchmark(ctx context.Context, credential string, own float64, competitors []string) *model.Table {
	counts := make([]string, len(competitors))
	var g errgroup.Group
	for i, id := range competitors {
		g.Go(func() error {
			n, err := f.followers(ctx, credential, id)
			if err != nil {
				counts[i] = Unavailable
				return nil
			}
			counts[i] = formatRounded(n)
			return nil
		})
	}
	_ = g.Wait()

	table := &model.Table{
		Headers: []string{"Organización", "Seguidores"},
		Rows:    [][]string{{"Tu organización", formatRounded(own)}},
	}
	for i, id := range competitors {
		table.Rows = append(table.Rows, []string{"Org " + id, counts[i]})
	}
	return table
}

func (f *LinkedInFetcher) followers(ctx context.Context, credential, orgID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/networkSizes/%s?edgeType=CompanyFollowedByMember", f.baseURL, url.PathEscape(linkedInOrgURN+orgID))
	var size linkedInNetworkSize
	if err := f.api.getJSON(ctx, endpoint, f.headers(credential), &size); err != nil {
		return 0, err
	}
	return size.FirstDegreeSize.float(), nil
}

func (f *LinkedInFetcher) headers(credential string) map[string]string {
	h := bearer(credential)
	h["X-Restli-Protocol-Version"] = "2.0.0"
	return h
}

// competitorIDs はカンマ区切りの競合組織IDを解釈する。数値でないものは無視する。
func competitorIDs(raw string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		id, ok := numericID(part, linkedInOrgURN)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == maxLinkedInCompetitors {
			break
		}
	}
	return ids
}

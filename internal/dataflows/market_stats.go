package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	"github.com/go-resty/resty/v2"
)

// marketActivityResponse is the payload of GET /v1/market/activity.
type marketActivityResponse struct {
	Date           string  `json:"date"`
	VolumeRatio    float64 `json:"volume_ratio"`
	LimitUpCount   int     `json:"limit_up_count"`
	ListedCount    int     `json:"listed_count"`
	TurnoverRate   float64 `json:"turnover_rate"`
	Advancing      int     `json:"advancing"`
	Declining      int     `json:"declining"`
	Unchanged      int     `json:"unchanged"`
	Amplitude      float64 `json:"amplitude"`
	NetInflow      float64 `json:"net_inflow"`
	TurnoverAmount float64 `json:"turnover_amount"`
}

// MarketStatsClient reads full-market activity statistics over HTTP.
type MarketStatsClient struct {
	http *resty.Client
}

func NewMarketStatsClient(baseURL, apiKey string, timeout time.Duration) *MarketStatsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &MarketStatsClient{http: client}
}

func (c *MarketStatsClient) MarketActivity(ctx context.Context, date time.Time) (*models.MarketSnapshot, error) {
	var out marketActivityResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("date", DateKey(date)).
		SetResult(&out).
		Get("/v1/market/activity")
	if err != nil {
		return nil, fmt.Errorf("market stats request: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNoData
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market stats: unexpected status %d", resp.StatusCode())
	}

	return out.toSnapshot(date)
}

func (r *marketActivityResponse) toSnapshot(date time.Time) (*models.MarketSnapshot, error) {
	counted := r.Advancing + r.Declining + r.Unchanged
	if r.ListedCount <= 0 || counted == 0 {
		return nil, ErrNoData
	}

	flow := 0.0
	if r.TurnoverAmount > 0 {
		flow = r.NetInflow / r.TurnoverAmount * 100
	}

	return &models.MarketSnapshot{
		VolumeRatio:   r.VolumeRatio,
		LimitUpRatio:  float64(r.LimitUpCount) / float64(r.ListedCount) * 100,
		TurnoverRate:  r.TurnoverRate,
		Breadth:       float64(r.Advancing) / float64(counted),
		Volatility:    r.Amplitude,
		MoneyFlow:     flow,
		AsOfDate:      date,
		SourceQuality: models.SourceLive,
	}, nil
}

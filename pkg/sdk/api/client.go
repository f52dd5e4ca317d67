package api

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/pkg/ratelimit"
	sdkhttp "github.com/betbot/copybot/pkg/sdk/http"
)

// DefaultDataURL is the production data API endpoint
const DefaultDataURL = "https://data-api.polymarket.com"

// DataClient talks to the public Polymarket data API. No authentication
// is required; every endpoint is keyed by wallet address.
type DataClient struct {
	http   *sdkhttp.Client
	limits *ratelimit.Manager
}

// NewDataClient creates a data API client
func NewDataClient(baseURL string) *DataClient {
	if baseURL == "" {
		baseURL = DefaultDataURL
	}
	return &DataClient{
		http:   sdkhttp.NewClient(baseURL),
		limits: ratelimit.NewManager(),
	}
}

// GetTrades returns the most recent trades of a wallet, newest first.
// Non-trade activity (redeems, splits, merges) is filtered out.
func (c *DataClient) GetTrades(ctx context.Context, user string, limit int) ([]DataTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointDataTrades); err != nil {
		return nil, err
	}
	params := map[string]string{
		"user":          user,
		"limit":         strconv.Itoa(limit),
		"takerOnly":     "false",
		"sortBy":        "TIMESTAMP",
		"sortDirection": "DESC",
	}

	var trades []DataTrade
	if err := c.http.Get(ctx, "/trades", params, nil, &trades); err != nil {
		return nil, errors.Wrap(err, "get trades")
	}

	filtered := trades[:0]
	for _, tr := range trades {
		if tr.Type == "" || tr.Type == "TRADE" {
			filtered = append(filtered, tr)
		}
	}
	return filtered, nil
}

// GetPositions returns the open positions of a wallet
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]OpenPosition, error) {
	if err := c.limits.Wait(ctx, ratelimit.EndpointDataGeneral); err != nil {
		return nil, err
	}
	params := map[string]string{
		"user":          user,
		"sizeThreshold": "0.01",
	}

	var positions []OpenPosition
	if err := c.http.Get(ctx, "/positions", params, nil, &positions); err != nil {
		return nil, errors.Wrap(err, "get positions")
	}
	return positions, nil
}

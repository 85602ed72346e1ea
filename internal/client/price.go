package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPriceAPI is the public CoinGecko endpoint
	DefaultPriceAPI = "https://api.coingecko.com/api/v3"

	priceAssetID = "ethereum"
)

// PriceClient reads the native asset's fiat rate from a CoinGecko-compatible API
type PriceClient struct {
	baseURL  string
	currency string
	client   *http.Client
}

// NewPriceClient creates a price client quoting in currency (e.g. "usd")
func NewPriceClient(baseURL, currency string) *PriceClient {
	return &PriceClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: strings.ToLower(currency),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Currency returns the quote currency
func (c *PriceClient) Currency() string {
	return c.currency
}

// EtherRate gets the ETH rate in the configured currency
func (c *PriceClient) EtherRate(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("ids", priceAssetID)
	q.Set("vs_currencies", c.currency)
	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build rate request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get rate: status %d", resp.StatusCode)
	}

	// {"ethereum":{"usd":3150.12}}
	var prices map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return "", fmt.Errorf("failed to decode rate: %w", err)
	}
	rate, ok := prices[priceAssetID][c.currency]
	if !ok {
		return "", fmt.Errorf("no %s rate for %s", c.currency, priceAssetID)
	}

	return strconv.FormatFloat(rate, 'f', 2, 64), nil
}

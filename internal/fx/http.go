package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPProvider fetches rates from an upstream JSON endpoint of the form
// GET {endpoint}?base=FROM&symbols=TO -> {"rates":{"TO":"1.2345"}}.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider constructs the provider. A nil client uses a 10s timeout.
func NewHTTPProvider(endpoint string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

type ratesResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Rate implements Provider.
func (p *HTTPProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	q := url.Values{}
	q.Set("base", from)
	q.Set("symbols", to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: fetch %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: upstream status %d for %s/%s", ErrRateUnavailable, resp.StatusCode, from, to)
	}
	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("fx: decode: %w", err)
	}
	rate, ok := body.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, from, to)
	}
	return rate, nil
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPFetcher pulls strategy valuations from a collector endpoint that
// returns a JSON array of observations, in the same wire shape the push
// path delivers over NATS.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

func NewHTTPFetcher(endpoint string) *HTTPFetcher {
	return &HTTPFetcher{endpoint: endpoint, client: &http.Client{}}
}

type httpValue struct {
	VaultID     string          `json:"vault_id"`
	StrategyID  string          `json:"strategy_id"`
	ValueUSD    decimal.Decimal `json:"value_usd"`
	SlippageBps int64           `json:"slippage_bps"`
	ObservedAt  int64           `json:"observed_at"`
}

func (f *HTTPFetcher) FetchValues(ctx context.Context) ([]StrategyValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: fetch valuations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: collector returned %s", resp.Status)
	}

	var wire []httpValue
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("oracle: decode valuations: %w", err)
	}

	out := make([]StrategyValue, 0, len(wire))
	for _, w := range wire {
		if w.VaultID == "" || w.StrategyID == "" {
			return nil, fmt.Errorf("oracle: valuation missing vault or strategy id")
		}
		if w.ObservedAt <= 0 {
			return nil, fmt.Errorf("oracle: valuation for %s/%s has no observation time", w.VaultID, w.StrategyID)
		}
		out = append(out, StrategyValue{
			VaultID:              w.VaultID,
			StrategyID:           w.StrategyID,
			ValueUSD:             w.ValueUSD,
			EstimatedSlippageBps: w.SlippageBps,
			ObservedAt:           time.Unix(w.ObservedAt, 0).UTC(),
		})
	}
	return out, nil
}

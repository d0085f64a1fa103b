package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"vault_id": "vault-1", "strategy_id": "aave", "value_usd": "500.25", "slippage_bps": 12, "observed_at": 1700000100},
			{"vault_id": "vault-1", "strategy_id": "compound", "value_usd": "120", "observed_at": 1700000100}
		]`))
	}))
	defer srv.Close()

	values, err := NewHTTPFetcher(srv.URL).FetchValues(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("values got %d, want 2", len(values))
	}
	v := values[0]
	if v.VaultID != "vault-1" || v.StrategyID != "aave" || v.EstimatedSlippageBps != 12 {
		t.Errorf("value got %+v", v)
	}
	if !v.ValueUSD.Equal(decimal.RequireFromString("500.25")) {
		t.Errorf("value usd got %s, want 500.25", v.ValueUSD)
	}
	if !v.ObservedAt.Equal(time.Unix(1_700_000_100, 0)) {
		t.Errorf("observed at got %s", v.ObservedAt)
	}
}

func TestHTTPFetcherRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"server error", "boom", http.StatusInternalServerError},
		{"not json", "boom", http.StatusOK},
		{"missing ids", `[{"value_usd": "1", "observed_at": 1700000100}]`, http.StatusOK},
		{"missing observation time", `[{"vault_id": "v", "strategy_id": "s", "value_usd": "1"}]`, http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.code)
				w.Write([]byte(c.body))
			}))
			defer srv.Close()
			if _, err := NewHTTPFetcher(srv.URL).FetchValues(context.Background()); err == nil {
				t.Error("bad response accepted")
			}
		})
	}
}

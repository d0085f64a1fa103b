package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vaultcore/internal/ledger"
)

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		usd      string
		decimals int32
		want     int64
		wantErr  bool
	}{
		{"1234.56", 6, 1_234_560_000, false},
		{"0.0000001", 6, 0, false}, // sub-unit dust truncates
		{"0", 6, 0, false},
		{"-1", 6, 0, true},
		{"99999999999999999999", 18, 0, true}, // overflows int64
	}
	for _, c := range cases {
		v := StrategyValue{VaultID: "v", StrategyID: "s", ValueUSD: decimal.RequireFromString(c.usd)}
		got, err := v.ToBaseUnits(c.decimals)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", c.usd, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("%s at %d decimals got %d, want %d", c.usd, c.decimals, got, c.want)
		}
	}
}

type fakeFetcher struct {
	values []StrategyValue
	fails  int
	calls  int
}

func (f *fakeFetcher) FetchValues(ctx context.Context) ([]StrategyValue, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("source unavailable")
	}
	return f.values, nil
}

type captureSink struct {
	got []ledger.Valuation
}

func (s *captureSink) Valuate(ctx context.Context, v ledger.Valuation) error {
	s.got = append(s.got, v)
	return nil
}

func TestPollerDispatches(t *testing.T) {
	observed := time.Unix(1_700_000_000, 0)
	fetcher := &fakeFetcher{values: []StrategyValue{
		{
			VaultID: "vault-1", StrategyID: "aave",
			ValueUSD:             decimal.RequireFromString("500.25"),
			EstimatedSlippageBps: 12,
			ObservedAt:           observed,
		},
	}}
	sink := &captureSink{}
	p := NewPoller(PollerConfig{AssetDecimals: map[string]int32{"vault-1": 6}}, fetcher, sink, nil, zerolog.Nop())

	p.poll(context.Background())

	if len(sink.got) != 1 {
		t.Fatalf("valuations got %d, want 1", len(sink.got))
	}
	v := sink.got[0]
	if v.VaultID != "vault-1" || v.StrategyID != "aave" || v.Value != 500_250_000 {
		t.Errorf("valuation got %+v, want vault-1/aave/500250000", v)
	}
	if !v.ObservedAt.Equal(observed) {
		t.Errorf("observed at got %s, want %s", v.ObservedAt, observed)
	}
	if got := p.Slippage("vault-1")["aave"]; got != 12 {
		t.Errorf("slippage got %d, want 12", got)
	}
}

func TestPollerRetriesWithBackoff(t *testing.T) {
	fetcher := &fakeFetcher{
		fails: 2,
		values: []StrategyValue{{
			VaultID: "vault-1", StrategyID: "aave",
			ValueUSD:   decimal.NewFromInt(100),
			ObservedAt: time.Unix(1_700_000_000, 0),
		}},
	}
	sink := &captureSink{}
	p := NewPoller(PollerConfig{
		AssetDecimals:  map[string]int32{"vault-1": 6},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
	}, fetcher, sink, nil, zerolog.Nop())

	p.poll(context.Background())

	if fetcher.calls != 3 {
		t.Errorf("fetch calls got %d, want 3", fetcher.calls)
	}
	if len(sink.got) != 1 {
		t.Errorf("valuations got %d, want 1", len(sink.got))
	}
}

// Package ingestion connects the service to its NATS streams: inbound block
// and valuation messages from the chain indexer, outbound finalized events,
// faults and plans.
package ingestion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"vaultcore/internal/event"
	"vaultcore/internal/ingestor"
	"vaultcore/internal/ledger"
	"vaultcore/internal/oracle"
)

// zeroAddress marks mint/burn legs of share transfers; those are covered by
// Deposit and Withdraw and dropped here.
const zeroAddress = "0x0000000000000000000000000000000000000000"

type rawLog struct {
	Vault    string          `json:"vault"`
	LogIndex uint32          `json:"log_index"`
	TxHash   string          `json:"tx_hash"`
	Event    string          `json:"event"`
	Args     json.RawMessage `json:"args"`
}

type rawBlock struct {
	ChainID    int64    `json:"chain_id"`
	Number     uint64   `json:"number"`
	Hash       string   `json:"hash"`
	ParentHash string   `json:"parent_hash"`
	Timestamp  int64    `json:"timestamp"`
	Logs       []rawLog `json:"logs"`
}

type depositArgs struct {
	User   string `json:"user"`
	Assets string `json:"assets"`
	Shares string `json:"shares"`
}

type transferArgs struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type allocationArgs struct {
	Targets []struct {
		Strategy  string `json:"strategy"`
		TargetBps int64  `json:"target_bps"`
	} `json:"targets"`
}

// ParseBlock decodes one indexer block message into the tracker's form.
// Unknown event names fail the whole block so a schema drift is noticed
// instead of silently dropping events.
func ParseBlock(data []byte) (int64, ingestor.Block, error) {
	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, ingestor.Block{}, fmt.Errorf("ingestion: decode block: %w", err)
	}
	if raw.Hash == "" || raw.ChainID == 0 {
		return 0, ingestor.Block{}, fmt.Errorf("ingestion: block %d missing hash or chain id", raw.Number)
	}

	block := ingestor.Block{
		Number:     raw.Number,
		Hash:       raw.Hash,
		ParentHash: raw.ParentHash,
	}
	ts := time.Unix(raw.Timestamp, 0).UTC()

	for _, l := range raw.Logs {
		meta := event.Meta{
			Vault:       l.Vault,
			ChainID:     raw.ChainID,
			BlockNumber: raw.Number,
			BlockHash:   raw.Hash,
			LogIndex:    l.LogIndex,
			TxHash:      l.TxHash,
			Timestamp:   ts,
		}
		evt, err := parseLog(meta, l)
		if err != nil {
			return 0, ingestor.Block{}, err
		}
		if evt != nil {
			block.Events = append(block.Events, evt)
		}
	}
	return raw.ChainID, block, nil
}

func parseLog(meta event.Meta, l rawLog) (event.ChainEvent, error) {
	kind := event.KindFromString(l.Event)
	switch kind {
	case event.KindDeposit, event.KindWithdraw:
		var args depositArgs
		if err := json.Unmarshal(l.Args, &args); err != nil {
			return nil, fmt.Errorf("ingestion: %s args: %w", l.Event, err)
		}
		assets, err := parseAmount(l, "assets", args.Assets)
		if err != nil {
			return nil, err
		}
		shares, err := parseAmount(l, "shares", args.Shares)
		if err != nil {
			return nil, err
		}
		if kind == event.KindDeposit {
			return &event.Deposit{Meta: meta, User: args.User, Assets: assets, Shares: shares}, nil
		}
		return &event.Withdraw{Meta: meta, User: args.User, Assets: assets, Shares: shares}, nil

	case event.KindShareTransfer:
		var args transferArgs
		if err := json.Unmarshal(l.Args, &args); err != nil {
			return nil, fmt.Errorf("ingestion: %s args: %w", l.Event, err)
		}
		if args.From == zeroAddress || args.To == zeroAddress {
			return nil, nil
		}
		shares, err := parseAmount(l, "shares", args.Shares)
		if err != nil {
			return nil, err
		}
		return &event.ShareTransfer{Meta: meta, From: args.From, To: args.To, Shares: shares}, nil

	case event.KindAllocationUpdated:
		var args allocationArgs
		if err := json.Unmarshal(l.Args, &args); err != nil {
			return nil, fmt.Errorf("ingestion: %s args: %w", l.Event, err)
		}
		targets := make([]event.TargetAllocation, 0, len(args.Targets))
		for _, t := range args.Targets {
			targets = append(targets, event.TargetAllocation{Strategy: t.Strategy, TargetBps: t.TargetBps})
		}
		return &event.AllocationUpdated{Meta: meta, Targets: targets}, nil

	default:
		return nil, fmt.Errorf("ingestion: unknown event %q at %s", l.Event, meta.IdempotencyKey())
	}
}

// parseAmount reads a base-unit amount. Amounts travel as strings to dodge
// JSON number precision loss.
func parseAmount(l rawLog, field, raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ingestion: %s %s %q: %w", l.Event, field, raw, err)
	}
	return v, nil
}

type rawValuation struct {
	VaultID     string `json:"vault_id"`
	StrategyID  string `json:"strategy_id"`
	ValueUSD    string `json:"value_usd"`
	SlippageBps int64  `json:"slippage_bps"`
	ObservedAt  int64  `json:"observed_at"`
}

// ParseValuation decodes a pushed valuation message, returning the ledger
// valuation in base units plus the slippage estimate for the planner.
func ParseValuation(data []byte, assetDecimals int32) (ledger.Valuation, int64, error) {
	var raw rawValuation
	if err := json.Unmarshal(data, &raw); err != nil {
		return ledger.Valuation{}, 0, fmt.Errorf("ingestion: decode valuation: %w", err)
	}
	usd, err := decimal.NewFromString(raw.ValueUSD)
	if err != nil {
		return ledger.Valuation{}, 0, fmt.Errorf("ingestion: valuation value %q: %w", raw.ValueUSD, err)
	}

	sv := oracle.StrategyValue{
		VaultID:    raw.VaultID,
		StrategyID: raw.StrategyID,
		ValueUSD:   usd,
	}
	base, err := sv.ToBaseUnits(assetDecimals)
	if err != nil {
		return ledger.Valuation{}, 0, err
	}
	return ledger.Valuation{
		VaultID:    raw.VaultID,
		StrategyID: raw.StrategyID,
		Value:      base,
		ObservedAt: time.Unix(raw.ObservedAt, 0).UTC(),
	}, raw.SlippageBps, nil
}

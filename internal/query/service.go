// Package query serves read traffic from the engines' published snapshots.
// Reads never touch the fold goroutines: they load an atomic snapshot
// pointer and derive the response from that immutable view.
package query

import (
	"fmt"
	"time"

	"vaultcore/internal/core"
	"vaultcore/internal/position"
)

// View selects which published state a read sees.
type View string

const (
	// ViewHead includes blocks that have not reached finality yet.
	ViewHead View = "head"

	// ViewFinalized only reflects finalized blocks and survives reorgs.
	ViewFinalized View = "finalized"
)

func ParseView(s string) (View, error) {
	switch s {
	case "", string(ViewFinalized):
		return ViewFinalized, nil
	case string(ViewHead):
		return ViewHead, nil
	default:
		return "", fmt.Errorf("query: unknown view %q", s)
	}
}

// Service answers read queries for all vaults.
type Service struct {
	sup *core.Supervisor

	// Snapshots older than this are flagged stale in responses.
	staleAfter time.Duration
}

func NewService(sup *core.Supervisor, staleAfter time.Duration) *Service {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Service{sup: sup, staleAfter: staleAfter}
}

// Vaults lists vault IDs.
func (s *Service) Vaults() []string {
	return s.sup.Vaults()
}

func (s *Service) snapshot(vaultID string, view View) (*core.Snapshot, error) {
	if view == ViewHead {
		return s.sup.Head(vaultID)
	}
	return s.sup.Finalized(vaultID)
}

// VaultState returns a vault's accounting state. While a vault is halted the
// snapshot is the last state before the fault, served with Halted set so
// callers know it is a last-known-good view.
func (s *Service) VaultState(vaultID string, view View) (*VaultStatus, error) {
	snap, err := s.snapshot(vaultID, view)
	if err != nil {
		return nil, err
	}
	return s.vaultStatus(snap, view), nil
}

func (s *Service) vaultStatus(snap *core.Snapshot, view View) *VaultStatus {
	led := snap.Ledger
	out := &VaultStatus{
		VaultID:     snap.VaultID,
		View:        view,
		TotalAssets: led.TotalAssets,
		TotalShares: led.TotalShares,
		SharePrice:  led.SharePrice(),
		IdleAssets:  led.Idle(),
		Block:       snap.Block,
		Sequence:    snap.Sequence,
		StateHash:   snap.StateHash.Hex(),
		Halted:      snap.Halted,
		UpdatedAt:   snap.UpdatedAt,
		Stale:       time.Since(snap.UpdatedAt) > s.staleAfter,
	}
	for _, st := range led.Strategies {
		out.Strategies = append(out.Strategies, StrategyStatus{
			ID:           st.ID,
			TargetBps:    st.TargetBps,
			CurrentBps:   led.CurrentBps(st.ID),
			CurrentValue: st.CurrentValue,
			LastValuedAt: st.LastValuedAt,
		})
	}
	return out
}

// Position returns one holder's position with PnL marked to the snapshot's
// share price.
func (s *Service) Position(vaultID, user string, view View) (*PositionStatus, error) {
	snap, err := s.snapshot(vaultID, view)
	if err != nil {
		return nil, err
	}
	p := snap.Book.Get(user)
	if p == nil {
		return nil, fmt.Errorf("%w: %s has no position in %s", ErrNoPosition, user, vaultID)
	}
	return positionStatus(p, snap.Ledger.SharePrice()), nil
}

// Positions returns every holder's position in deterministic order.
func (s *Service) Positions(vaultID string, view View) ([]*PositionStatus, error) {
	snap, err := s.snapshot(vaultID, view)
	if err != nil {
		return nil, err
	}
	price := snap.Ledger.SharePrice()
	users := snap.Book.Users()
	out := make([]*PositionStatus, 0, len(users))
	for _, user := range users {
		out = append(out, positionStatus(snap.Book.Get(user), price))
	}
	return out, nil
}

func positionStatus(p *position.Position, sharePrice int64) *PositionStatus {
	return &PositionStatus{
		User:           p.User,
		VaultID:        p.VaultID,
		Shares:         p.Shares,
		CostBasis:      p.CostBasis,
		MarketValue:    p.UnrealizedPnL(sharePrice) + p.CostBasis,
		UnrealizedPnL:  p.UnrealizedPnL(sharePrice),
		RealizedPnL:    p.RealizedPnL,
		TotalDeposited: p.TotalDeposited,
		TotalWithdrawn: p.TotalWithdrawn,
		FirstDepositAt: p.FirstDepositAt,
		LastActivityAt: p.LastActivityAt,
	}
}

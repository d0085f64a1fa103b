package position

import (
	"fmt"
	"sort"

	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/math"
)

// Book holds every open position for one vault. Apply validates an event
// fully before committing any mutation, so a rejected event leaves the book
// untouched.
type Book struct {
	VaultID   string
	Positions map[string]*Position
}

func NewBook(vaultID string) *Book {
	return &Book{
		VaultID:   vaultID,
		Positions: make(map[string]*Position),
	}
}

// Get returns the holder's position, or nil if they have never held shares.
func (b *Book) Get(user string) *Position {
	return b.Positions[user]
}

// Users returns all holders in sorted order.
func (b *Book) Users() []string {
	out := make([]string, 0, len(b.Positions))
	for u := range b.Positions {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of the book for checkpointing.
func (b *Book) Clone() *Book {
	out := NewBook(b.VaultID)
	for u, p := range b.Positions {
		out.Positions[u] = p.Clone()
	}
	return out
}

func (b *Book) position(user string) *Position {
	p, ok := b.Positions[user]
	if !ok {
		p = &Position{User: user, VaultID: b.VaultID}
		b.Positions[user] = p
	}
	return p
}

// checkOrder rejects events that do not strictly advance the holder's
// per-position ordering key. Duplicate or reordered delivery for a
// (user, vault) pair indicates an upstream ingestion defect.
func (b *Book) checkOrder(user string, evt event.ChainEvent) error {
	p, ok := b.Positions[user]
	if !ok {
		return nil
	}
	ord := evt.Ordinal()
	if !p.LastApplied.Less(ord) {
		return fault.New(b.VaultID, fault.KindOutOfOrder, evt.ID(),
			fmt.Sprintf("user %s ordinal %s not after %s", user, ord, p.LastApplied))
	}
	return nil
}

// Apply folds one chain event into the book. sharePrice is the vault's share
// price after the vault-level fold of the same event; it values transferred
// shares for basis accounting. Returns the realized PnL delta of the event.
func (b *Book) Apply(evt event.ChainEvent, sharePrice int64) (int64, error) {
	switch e := evt.(type) {
	case *event.Deposit:
		if err := b.checkOrder(e.User, evt); err != nil {
			return 0, err
		}
		p := b.position(e.User)
		p.acquire(e.Shares, e.Assets, e.Time(), e.Ordinal())
		p.TotalDeposited += e.Assets
		return 0, nil

	case *event.Withdraw:
		if err := b.checkOrder(e.User, evt); err != nil {
			return 0, err
		}
		p := b.Positions[e.User]
		if p == nil || p.Shares < e.Shares {
			var held int64
			if p != nil {
				held = p.Shares
			}
			return 0, fault.New(b.VaultID, fault.KindInsufficientShares, evt.ID(),
				fmt.Sprintf("user %s withdraws %d shares, holds %d", e.User, e.Shares, held))
		}
		realized := p.release(e.Shares, e.Assets, e.Time(), e.Ordinal())
		p.TotalWithdrawn += e.Assets
		return realized, nil

	case *event.ShareTransfer:
		if err := b.checkOrder(e.From, evt); err != nil {
			return 0, err
		}
		if err := b.checkOrder(e.To, evt); err != nil {
			return 0, err
		}
		from := b.Positions[e.From]
		if from == nil || from.Shares < e.Shares {
			var held int64
			if from != nil {
				held = from.Shares
			}
			return 0, fault.New(b.VaultID, fault.KindInsufficientShares, evt.ID(),
				fmt.Sprintf("user %s transfers %d shares, holds %d", e.From, e.Shares, held))
		}
		// The sender realizes PnL as if selling at the current share price;
		// the receiver starts a basis at the same value. Lifetime deposit
		// and withdrawal totals are flow metrics and stay untouched.
		value := math.SharesToAssets(e.Shares, sharePrice)
		realized := from.release(e.Shares, value, e.Time(), e.Ordinal())
		b.position(e.To).acquire(e.Shares, value, e.Time(), e.Ordinal())
		return realized, nil

	case *event.AllocationUpdated:
		// Allocation changes have no per-holder effect.
		return 0, nil

	default:
		return 0, fault.New(b.VaultID, fault.KindUnknownEvent, evt.ID(),
			fmt.Sprintf("unhandled event kind %s", evt.Kind()))
	}
}

package event

// Deposit mirrors the vault contract's Deposit event. Shares are trusted as
// already reflecting the share price at execution time; the ledger never
// recomputes pricing for a deposit.
type Deposit struct {
	Meta
	User   string // depositor address
	Assets int64  // base units at the token's native decimals
	Shares int64  // shares minted
}

func (d *Deposit) Kind() Kind {
	return KindDeposit
}

// Withdraw mirrors the vault contract's Withdraw event.
type Withdraw struct {
	Meta
	User   string
	Assets int64 // base units paid out
	Shares int64 // shares burned
}

func (w *Withdraw) Kind() Kind {
	return KindWithdraw
}

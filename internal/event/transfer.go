package event

// ShareTransfer mirrors an ERC-20 style transfer of vault shares between
// holders. Mint/burn transfers (zero address on either side) are emitted by
// the contract alongside Deposit/Withdraw and are filtered out upstream.
type ShareTransfer struct {
	Meta
	From   string
	To     string
	Shares int64
}

func (t *ShareTransfer) Kind() Kind {
	return KindShareTransfer
}

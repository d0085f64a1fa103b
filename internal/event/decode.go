package event

import (
	"encoding/json"
	"fmt"
)

// DecodePayload unmarshals a stored event payload back into its typed form.
// The kind discriminator is persisted alongside the payload, so recovery can
// rebuild the exact fold input.
func DecodePayload(kind Kind, payload []byte) (ChainEvent, error) {
	var evt ChainEvent
	switch kind {
	case KindDeposit:
		evt = &Deposit{}
	case KindWithdraw:
		evt = &Withdraw{}
	case KindShareTransfer:
		evt = &ShareTransfer{}
	case KindAllocationUpdated:
		evt = &AllocationUpdated{}
	default:
		return nil, fmt.Errorf("event: cannot decode payload of kind %s", kind)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("event: decode %s payload: %w", kind, err)
	}
	return evt, nil
}

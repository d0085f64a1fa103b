package ingestion

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/planner"
)

const (
	finalizedSubjectPrefix = "vault.finalized."
	faultSubjectPrefix     = "vault.faults."
	planSubjectPrefix      = "vault.plans."
)

// Publisher emits the service's outbound messages: finalized envelopes for
// downstream consumers, faults for alerting, plans for the executor.
type Publisher struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
}

func NewPublisher(js nats.JetStreamContext, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:     js,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

type finalizedMessage struct {
	Sequence    int64       `json:"sequence"`
	Vault       string      `json:"vault"`
	Kind        string      `json:"kind"`
	ChainID     int64       `json:"chain_id"`
	BlockNumber uint64      `json:"block_number"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint32      `json:"log_index"`
	Timestamp   int64       `json:"timestamp"`
	Event       interface{} `json:"event"`
}

// PublishFinalized emits one finalized envelope. The per-envelope message ID
// makes JetStream drop duplicates on redelivery.
func (p *Publisher) PublishFinalized(env event.Envelope) {
	msg := finalizedMessage{
		Sequence:    env.Sequence,
		Vault:       env.Vault,
		Kind:        env.Kind.String(),
		ChainID:     env.ChainID,
		BlockNumber: env.BlockNumber,
		TxHash:      env.TxHash,
		LogIndex:    env.LogIndex,
		Timestamp:   env.Timestamp.Unix(),
		Event:       env.Event,
	}
	p.publish(finalizedSubjectPrefix+env.Vault, msg, env.IdempotencyKey)
}

type faultMessage struct {
	FaultID string `json:"fault_id"`
	Vault   string `json:"vault"`
	Kind    string `json:"kind"`
	Event   string `json:"event"`
	Detail  string `json:"detail"`
}

// PublishFault emits a fault notification.
func (p *Publisher) PublishFault(f *fault.Fault) {
	msg := faultMessage{
		FaultID: f.FaultID.String(),
		Vault:   f.Vault,
		Kind:    f.Kind.String(),
		Event:   f.EventID.Key(),
		Detail:  f.Detail,
	}
	p.publish(faultSubjectPrefix+f.Vault, msg, f.FaultID.String())
}

// PublishPlan emits a generated rebalance plan.
func (p *Publisher) PublishPlan(plan *planner.Plan) {
	p.publish(planSubjectPrefix+plan.VaultID, plan, plan.PlanID.String())
}

func (p *Publisher) publish(subject string, v interface{}, msgID string) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("marshal outbound message")
		return
	}
	if _, err := p.js.Publish(subject, data, nats.MsgId(msgID)); err != nil {
		// Outbound publishing is best effort; the event log in Postgres
		// is the durable record.
		p.logger.Error().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

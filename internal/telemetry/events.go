// Package telemetry provides the structured event stream for the engine.
// Producers publish typed events; consumers subscribe by kind. Publishing
// never blocks: when a consumer lags, its oldest buffered events are
// dropped and counted.
package telemetry

import (
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
)

// Kind identifies the schema of an event payload.
type Kind string

const (
	KindOrderSubmitted      Kind = "order_submitted"
	KindOrderFilled         Kind = "order_filled"
	KindOrderRejected       Kind = "order_rejected"
	KindSignalEmitted       Kind = "signal_emitted"
	KindComplianceViolation Kind = "compliance_violation"
	KindParameterAdjustment Kind = "parameter_adjustment"
	KindBotStateChange      Kind = "bot_state_change"
)

// AllKinds lists every event kind, for subscribers that want the firehose.
func AllKinds() []Kind {
	return []Kind{
		KindOrderSubmitted,
		KindOrderFilled,
		KindOrderRejected,
		KindSignalEmitted,
		KindComplianceViolation,
		KindParameterAdjustment,
		KindBotStateChange,
	}
}

// Event is one entry in the stream.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	BotID     string    `json:"botId,omitempty"`
	Payload   any       `json:"payload"`
}

// OrderPayload accompanies the order lifecycle kinds.
type OrderPayload struct {
	Order types.Order `json:"order"`
}

// SignalPayload accompanies SignalEmitted.
type SignalPayload struct {
	Signal types.Signal `json:"signal"`
}

// ViolationPayload accompanies ComplianceViolation.
type ViolationPayload struct {
	AccountID string                    `json:"accountId"`
	Violation types.ComplianceViolation `json:"violation"`
}

// AdjustmentPayload accompanies ParameterAdjustment.
type AdjustmentPayload struct {
	Adjustment types.ParameterAdjustment `json:"adjustment"`
}

// BotStatePayload accompanies BotStateChange.
type BotStatePayload struct {
	From   types.BotState `json:"from"`
	To     types.BotState `json:"to"`
	Reason string         `json:"reason,omitempty"`
}

func newEvent(kind Kind, botID string, payload any, at time.Time) Event {
	return Event{
		ID:        utils.GenerateID("evt"),
		Kind:      kind,
		Timestamp: at,
		BotID:     botID,
		Payload:   payload,
	}
}

// NewOrderEvent builds an order lifecycle event; kind selects
// submitted/filled/rejected.
func NewOrderEvent(kind Kind, order types.Order, at time.Time) Event {
	return newEvent(kind, order.BotID, OrderPayload{Order: order}, at)
}

// NewSignalEvent builds a SignalEmitted event.
func NewSignalEvent(botID string, signal types.Signal, at time.Time) Event {
	return newEvent(KindSignalEmitted, botID, SignalPayload{Signal: signal}, at)
}

// NewViolationEvent builds a ComplianceViolation event.
func NewViolationEvent(accountID string, v types.ComplianceViolation, at time.Time) Event {
	return newEvent(KindComplianceViolation, "", ViolationPayload{AccountID: accountID, Violation: v}, at)
}

// NewAdjustmentEvent builds a ParameterAdjustment event.
func NewAdjustmentEvent(botID string, adj types.ParameterAdjustment, at time.Time) Event {
	return newEvent(KindParameterAdjustment, botID, AdjustmentPayload{Adjustment: adj}, at)
}

// NewBotStateEvent builds a BotStateChange event.
func NewBotStateEvent(botID string, from, to types.BotState, reason string, at time.Time) Event {
	return newEvent(KindBotStateChange, botID, BotStatePayload{From: from, To: to, Reason: reason}, at)
}

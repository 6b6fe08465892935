package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionEventKind tags the billing provider lifecycle events the sync consumes.
type SubscriptionEventKind string

const (
	SubscriptionCreated  SubscriptionEventKind = "subscription.created"
	SubscriptionUpdated  SubscriptionEventKind = "subscription.updated"
	SubscriptionActive   SubscriptionEventKind = "subscription.active"
	SubscriptionCanceled SubscriptionEventKind = "subscription.canceled"
	SubscriptionRevoked  SubscriptionEventKind = "subscription.revoked"
)

// SubscriptionEventKinds lists every kind handled by the sync state machine.
var SubscriptionEventKinds = []SubscriptionEventKind{
	SubscriptionCreated,
	SubscriptionUpdated,
	SubscriptionActive,
	SubscriptionCanceled,
	SubscriptionRevoked,
}

// SubscriptionPayload is the provider's subscription object as delivered in webhooks.
type SubscriptionPayload struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	ProductID          string     `json:"product_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	Customer           struct {
		ExternalID string `json:"external_id"`
	} `json:"customer"`
}

// SubscriptionEvent is one decoded, verified webhook delivery.
type SubscriptionEvent struct {
	EventID string
	Kind    SubscriptionEventKind
	Payload SubscriptionPayload
}

// State converts the payload into the fields persisted on the subscription row.
func (p SubscriptionPayload) State() SubscriptionState {
	state := SubscriptionState{
		ExternalSubscriptionID: p.ID,
		ExternalCustomerID:     p.CustomerID,
		ExternalProductID:      p.ProductID,
		Status:                 p.Status,
		CurrentPeriodStart:     p.CurrentPeriodStart,
		CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
	}
	if p.CurrentPeriodEnd != nil {
		state.CurrentPeriodEnd = *p.CurrentPeriodEnd
	} else {
		state.CurrentPeriodEnd = p.CurrentPeriodStart.AddDate(0, 1, 0)
	}
	return state
}

// OverageCharge records usage beyond a Pro subscriber's monthly allotment.
type OverageCharge struct {
	ID                     uuid.UUID       `json:"id"`
	UserID                 uuid.UUID       `json:"userId"`
	ExternalSubscriptionID string          `json:"externalSubscriptionId"`
	Quantity               int             `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unitPrice"`
	Amount                 decimal.Decimal `json:"amount"`
	PeriodStart            time.Time       `json:"periodStart"`
	PeriodEnd              time.Time       `json:"periodEnd"`
	Reported               bool            `json:"reported"`
	CreatedAt              time.Time       `json:"createdAt"`
}

// OverageSummary is the current billing period's overage position.
type OverageSummary struct {
	CreditsUsed    int             `json:"creditsUsed"`
	MonthlyCredits int             `json:"monthlyCredits"`
	OverageCredits int             `json:"overageCredits"`
	Rate           decimal.Decimal `json:"rate"`
	Amount         decimal.Decimal `json:"amount"`
	PeriodEnd      *time.Time      `json:"periodEnd,omitempty"`
}

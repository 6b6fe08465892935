package types

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatusActive is the only status that grants Pro entitlements.
const SubscriptionStatusActive = "active"

// Subscription mirrors the billing provider's view of a user's plan. At most one per user.
type Subscription struct {
	ID                     uuid.UUID `json:"id"`
	UserID                 uuid.UUID `json:"userId"`
	ExternalSubscriptionID string    `json:"externalSubscriptionId"`
	ExternalCustomerID     string    `json:"externalCustomerId"`
	ExternalProductID      string    `json:"externalProductId"`
	Status                 string    `json:"status"` // provider-defined: active, canceled, past_due, ...
	CurrentPeriodStart     time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time `json:"currentPeriodEnd"`
	MonthlyCredits         int       `json:"monthlyCredits"`
	CreditsUsed            int       `json:"creditsUsed"`
	CancelAtPeriodEnd      bool      `json:"cancelAtPeriodEnd"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// IsActive reports whether the subscription grants Pro entitlements.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}

// Entitlement is the snapshot the generation gate decides on.
type Entitlement struct {
	UserID          uuid.UUID     `json:"userId"`
	EmailVerified   bool          `json:"emailVerified"`
	Credits         int           `json:"credits"`
	LifetimeCredits int           `json:"lifetimeCredits"`
	Subscription    *Subscription `json:"subscription,omitempty"`
}

// IsPro reports whether the user currently holds an active subscription.
func (e *Entitlement) IsPro() bool {
	return e != nil && e.Subscription.IsActive()
}

// DebitResult is the post-debit state returned by the atomic conditional decrement.
type DebitResult struct {
	Credits         int  `json:"credits"`
	LifetimeCredits int  `json:"lifetimeCredits"`
	HasSubscription bool `json:"hasSubscription"`
	CreditsUsed     int  `json:"creditsUsed"`
	MonthlyCredits  int  `json:"monthlyCredits"`
	Overage         bool `json:"overage"`
}

// CreditsSummary is the GET /credits response.
type CreditsSummary struct {
	Credits            int        `json:"credits"`
	HasSubscription    bool       `json:"hasSubscription"`
	SubscriptionStatus *string    `json:"subscriptionStatus,omitempty"`
	MonthlyCredits     *int       `json:"monthlyCredits,omitempty"`
	CreditsUsed        *int       `json:"creditsUsed,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  *bool      `json:"cancelAtPeriodEnd,omitempty"`
}

// SubscriptionState carries the provider fields written on create/update events.
type SubscriptionState struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	ExternalProductID      string
	Status                 string
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
}

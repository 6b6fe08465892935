// Package entitlementtest provides an in-memory entitlement.Repository for service tests.
package entitlementtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/types"
)

var _ entitlement.Repository = (*Store)(nil)

type account struct {
	verified        bool
	credits         int
	lifetimeCredits int
	resetAt         *time.Time
}

// Store mirrors the Postgres repository's semantics, including the conditional debit.
type Store struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*account
	subscriptions map[uuid.UUID]*types.Subscription // keyed by user id

	DebitCalls int
	// DebitErr, when set, is returned by Debit before any state change.
	DebitErr error
	// GetErr, when set, is returned by GetEntitlement.
	GetErr error
}

func NewStore() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]*account),
		subscriptions: make(map[uuid.UUID]*types.Subscription),
	}
}

// AddUser seeds a user with the given balance and returns its id.
func (s *Store) AddUser(credits int, verified bool) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.accounts[id] = &account{verified: verified, credits: credits}
	return id
}

// SetSubscription attaches a subscription to an existing user.
func (s *Store) SetSubscription(userID uuid.UUID, sub types.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.UserID = userID
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subscriptions[userID] = &sub
}

// Credits returns the current balance of a user.
func (s *Store) Credits(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		return a.credits
	}
	return 0
}

// Subscription returns a copy of the user's subscription, or nil.
func (s *Store) Subscription(userID uuid.UUID) *types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil
	}
	c := *sub
	return &c
}

func (s *Store) GetEntitlement(_ context.Context, userID uuid.UUID) (*types.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("entitlement lookup: %w", types.ErrUserNotFound)
	}
	ent := &types.Entitlement{
		UserID:          userID,
		EmailVerified:   a.verified,
		Credits:         a.credits,
		LifetimeCredits: a.lifetimeCredits,
	}
	if sub, ok := s.subscriptions[userID]; ok {
		c := *sub
		ent.Subscription = &c
	}
	return ent, nil
}

func (s *Store) Debit(_ context.Context, userID uuid.UUID, amount int) (*types.DebitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DebitCalls++
	if s.DebitErr != nil {
		return nil, s.DebitErr
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("debit: %w", types.ErrUserNotFound)
	}
	sub := s.subscriptions[userID]
	isPro := sub.IsActive()
	if a.credits < amount && !isPro {
		return nil, fmt.Errorf("debit: %w", types.ErrNoCredits)
	}

	before := a.credits
	a.credits -= amount
	a.lifetimeCredits += amount

	result := &types.DebitResult{
		Credits:         a.credits,
		LifetimeCredits: a.lifetimeCredits,
		Overage:         isPro && before <= 0,
	}
	if sub != nil {
		sub.CreditsUsed += amount
		result.HasSubscription = true
		result.CreditsUsed = sub.CreditsUsed
		result.MonthlyCredits = sub.MonthlyCredits
	}
	return result, nil
}

func (s *Store) ResetForNewPeriod(_ context.Context, userID uuid.UUID, monthlyCredits int, periodStart, periodEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("reset for new period: %w", types.ErrUserNotFound)
	}
	now := time.Now()
	a.credits = monthlyCredits
	a.resetAt = &now
	if sub, ok := s.subscriptions[userID]; ok {
		sub.CreditsUsed = 0
		sub.MonthlyCredits = monthlyCredits
		sub.CurrentPeriodStart = periodStart
		sub.CurrentPeriodEnd = periodEnd
	}
	return nil
}

func (s *Store) ResetToFreeTier(_ context.Context, userID uuid.UUID, freeCredits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("reset to free tier: %w", types.ErrUserNotFound)
	}
	delete(s.subscriptions, userID)
	a.credits = freeCredits
	return nil
}

func (s *Store) GrantCredits(_ context.Context, userID uuid.UUID, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("grant credits: %w", types.ErrUserNotFound)
	}
	a.credits = credits
	return nil
}

func (s *Store) GetSubscriptionByExternalID(_ context.Context, externalID string) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID == externalID {
			c := *sub
			return &c, nil
		}
	}
	return nil, fmt.Errorf("subscription %s: %w", externalID, types.ErrSubscriptionNotFound)
}

func (s *Store) UpsertSubscription(_ context.Context, userID uuid.UUID, state types.SubscriptionState, monthlyCredits int) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; !ok {
		return nil, fmt.Errorf("upsert subscription: %w", types.ErrUserNotFound)
	}
	now := time.Now()
	sub := &types.Subscription{
		ID:                     uuid.New(),
		UserID:                 userID,
		ExternalSubscriptionID: state.ExternalSubscriptionID,
		ExternalCustomerID:     state.ExternalCustomerID,
		ExternalProductID:      state.ExternalProductID,
		Status:                 state.Status,
		CurrentPeriodStart:     state.CurrentPeriodStart,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		MonthlyCredits:         monthlyCredits,
		CancelAtPeriodEnd:      state.CancelAtPeriodEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	s.subscriptions[userID] = sub
	c := *sub
	return &c, nil
}

func (s *Store) UpdateSubscriptionState(_ context.Context, state types.SubscriptionState) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID != state.ExternalSubscriptionID {
			continue
		}
		sub.Status = state.Status
		sub.CurrentPeriodStart = state.CurrentPeriodStart
		sub.CurrentPeriodEnd = state.CurrentPeriodEnd
		sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
		sub.UpdatedAt = time.Now()
		c := *sub
		return &c, nil
	}
	return nil, fmt.Errorf("subscription %s: %w", state.ExternalSubscriptionID, types.ErrSubscriptionNotFound)
}

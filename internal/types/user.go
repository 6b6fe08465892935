package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity principal together with its credit balance.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	Name            *string    `json:"name,omitempty"`
	Image           *string    `json:"image,omitempty"`
	EmailVerified   bool       `json:"emailVerified"`
	Credits         int        `json:"credits"`
	LifetimeCredits int        `json:"lifetimeCredits"`
	CreditsResetAt  *time.Time `json:"creditsResetAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Session is the resolved caller identity handed to services explicitly.
type Session struct {
	UserID        uuid.UUID `json:"userId"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
}

// AccountResponse is returned by GET /me.
type AccountResponse struct {
	User    *User           `json:"user"`
	Credits *CreditsSummary `json:"credits"`
}

// UpdateAccountParams is the PATCH /me body; nil fields are left untouched.
type UpdateAccountParams struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
}

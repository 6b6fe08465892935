package types

import "errors"

// Domain specific errors shared across services and mapped to HTTP responses in pkg/api.
var (
	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrBadRequest      = errors.New("bad request")

	ErrUserNotFound         = errors.New("user not found")
	ErrEmailNotVerified     = errors.New("email address not verified")
	ErrNoCredits            = errors.New("no credits available")
	ErrInvalidImageType     = errors.New("image is not a floor plan")
	ErrGenerationFailed     = errors.New("image generation failed")
	ErrGenerationTimeout    = errors.New("image generation timed out")
	ErrPersistenceFailed    = errors.New("failed to save floor plan")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)

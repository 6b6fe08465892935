package common

import (
	"fmt"

	"github.com/maytees/homifyai-sub000/internal/types"
)

var (
	ErrUserAlreadyExists  = fmt.Errorf("user already exists: %w", types.ErrConflict)
	ErrUserNotFound       = types.ErrUserNotFound
	ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", types.ErrUnauthenticated)
	ErrSessionNotFound    = fmt.Errorf("session not found: %w", types.ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("invalid or expired token: %w", types.ErrBadRequest)
	ErrWeakPassword       = fmt.Errorf("password must be at least 8 characters: %w", types.ErrBadRequest)
	ErrInvalidEmail       = fmt.Errorf("invalid email address: %w", types.ErrBadRequest)
	ErrPasswordNotSet     = fmt.Errorf("account uses social sign-in: %w", types.ErrBadRequest)
)

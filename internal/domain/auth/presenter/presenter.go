package presenter

import (
	"time"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/service"
	"github.com/maytees/homifyai-sub000/internal/types"
)

type AuthResponse struct {
	Message      string      `json:"message"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         *types.User `json:"user"`
	// EmailVerificationRequired tells the client to show the code entry step.
	EmailVerificationRequired bool `json:"emailVerificationRequired"`
}

type TokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type VerifyEmailResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

func authResponse(msg string, result *service.AuthResult) *AuthResponse {
	if result == nil {
		return &AuthResponse{Message: msg}
	}
	resp := &AuthResponse{Message: msg, User: result.User}
	if result.Tokens != nil {
		resp.AccessToken = result.Tokens.AccessToken
		resp.RefreshToken = result.Tokens.RefreshToken
		resp.TokenType = result.Tokens.TokenType
		resp.ExpiresAt = result.Tokens.ExpiresAt
	}
	if result.User != nil {
		resp.EmailVerificationRequired = !result.User.EmailVerified
	}
	return resp
}

func RegisterResponse(result *service.AuthResult) *AuthResponse {
	return authResponse("Registration successful. Please verify your email.", result)
}

func LoginResponse(result *service.AuthResult) *AuthResponse {
	return authResponse("Login successful", result)
}

func RefreshTokenResponse(tokens *service.TokenPair) *TokenResponse {
	if tokens == nil {
		return &TokenResponse{}
	}
	return &TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    tokens.ExpiresAt,
	}
}

func ResendResponse(result *service.ResendResult) *MessageResponse {
	if result != nil && result.AlreadyVerified {
		return &MessageResponse{Success: true, Message: "Email is already verified"}
	}
	return &MessageResponse{Success: true, Message: "If the account exists, a new code has been sent"}
}

func Message(msg string) *MessageResponse {
	return &MessageResponse{Success: true, Message: msg}
}

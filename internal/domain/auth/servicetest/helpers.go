package servicetest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/common"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/repository"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/service"
)

// MockTokenManager implements TokenManager for tests.
type MockTokenManager struct {
	GenerateFunc func(userID, email string) (*service.TokenPair, error)
	AccessFunc   func(token string) (*service.Claims, error)
	RefreshFunc  func(token string) (*service.Claims, error)
}

func (m *MockTokenManager) GenerateTokenPair(userID, email string) (*service.TokenPair, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(userID, email)
	}
	return &service.TokenPair{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
		TokenType:    "Bearer",
	}, nil
}

func (m *MockTokenManager) ValidateAccessToken(tokenString string) (*service.Claims, error) {
	if m.AccessFunc != nil {
		return m.AccessFunc(tokenString)
	}
	return &service.Claims{UserID: "user"}, nil
}

func (m *MockTokenManager) ValidateRefreshToken(tokenString string) (*service.Claims, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(tokenString)
	}
	return &service.Claims{UserID: "user"}, nil
}

// MockEmailSender captures sent emails for assertions. Emails are sent from goroutines, so reads go through methods.
type MockEmailSender struct {
	mu               sync.Mutex
	verificationSent bool
	resetSent        bool
	welcomeSent      bool
	lastCode         string
	lastResetURL     string
}

func (m *MockEmailSender) SendVerificationEmail(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationSent = true
	m.lastCode = code
	return nil
}

func (m *MockEmailSender) SendPasswordResetEmail(_ context.Context, _, _, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetSent = true
	m.lastResetURL = resetURL
	return nil
}

func (m *MockEmailSender) SendWelcomeEmail(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomeSent = true
	return nil
}

func (m *MockEmailSender) VerificationSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verificationSent
}

func (m *MockEmailSender) ResetSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetSent
}

func (m *MockEmailSender) WelcomeSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.welcomeSent
}

// LastCode is the most recently emailed verification code.
func (m *MockEmailSender) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode
}

func (m *MockEmailSender) LastResetURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResetURL
}

type oauthKey struct {
	provider string
	id       string
}

// MockAuthRepo is an in-memory AuthRepository.
type MockAuthRepo struct {
	Users      map[string]*repository.User
	Sessions   map[string]*repository.UserSession
	Tokens     map[string]*repository.UserToken
	Identities map[oauthKey]uuid.UUID

	// GetUserByIDCalls counts lookups, for asserting session caching.
	GetUserByIDCalls int
}

func NewMockAuthRepo() *MockAuthRepo {
	return &MockAuthRepo{
		Users:      make(map[string]*repository.User),
		Sessions:   make(map[string]*repository.UserSession),
		Tokens:     make(map[string]*repository.UserToken),
		Identities: make(map[oauthKey]uuid.UUID),
	}
}

func (m *MockAuthRepo) CreateUser(_ context.Context, params repository.NewUser) (*repository.User, error) {
	if _, exists := m.Users[params.Email]; exists {
		return nil, common.ErrUserAlreadyExists
	}
	now := time.Now()
	user := &repository.User{
		ID:             uuid.New(),
		Email:          params.Email,
		Name:           params.Name,
		Image:          params.Image,
		HashedPassword: params.HashedPassword,
		Credits:        params.Credits,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if params.EmailVerified {
		user.EmailVerifiedAt = &now
	}
	m.Users[params.Email] = user
	return CloneUser(user), nil
}

func (m *MockAuthRepo) GetUserByEmail(_ context.Context, email string) (*repository.User, error) {
	user, ok := m.Users[email]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return CloneUser(user), nil
}

func (m *MockAuthRepo) findByID(userID uuid.UUID) *repository.User {
	for _, user := range m.Users {
		if user.ID == userID {
			return user
		}
	}
	return nil
}

func (m *MockAuthRepo) GetUserByID(_ context.Context, userID uuid.UUID) (*repository.User, error) {
	m.GetUserByIDCalls++
	if user := m.findByID(userID); user != nil {
		return CloneUser(user), nil
	}
	return nil, common.ErrUserNotFound
}

func (m *MockAuthRepo) UpdateLastLogin(_ context.Context, userID uuid.UUID) error {
	if user := m.findByID(userID); user != nil {
		now := time.Now()
		user.LastLoginAt = &now
		return nil
	}
	return common.ErrUserNotFound
}

func (m *MockAuthRepo) CreateUserSession(_ context.Context, userID uuid.UUID, hashedRefreshToken, userAgent, clientIP string, expiresAt time.Time) (*repository.UserSession, error) {
	session := &repository.UserSession{
		ID:                 uuid.New(),
		UserID:             userID,
		HashedRefreshToken: hashedRefreshToken,
		UserAgent:          &userAgent,
		ClientIP:           &clientIP,
		ExpiresAt:          expiresAt,
		CreatedAt:          time.Now(),
	}
	m.Sessions[hashedRefreshToken] = session
	return session, nil
}

func (m *MockAuthRepo) GetUserSessionByToken(_ context.Context, hashedToken string) (*repository.UserSession, error) {
	session, ok := m.Sessions[hashedToken]
	if !ok || session.ExpiresAt.Before(time.Now()) {
		return nil, common.ErrSessionNotFound
	}
	return session, nil
}

func (m *MockAuthRepo) DeleteUserSession(_ context.Context, hashedToken string) error {
	delete(m.Sessions, hashedToken)
	return nil
}

func (m *MockAuthRepo) DeleteAllUserSessions(_ context.Context, userID uuid.UUID) error {
	for token, session := range m.Sessions {
		if session.UserID == userID {
			delete(m.Sessions, token)
		}
	}
	return nil
}

func (m *MockAuthRepo) CreateUserToken(_ context.Context, userID uuid.UUID, tokenHash, tokenType string, expiresAt time.Time) error {
	m.Tokens[tokenHash] = &repository.UserToken{
		TokenHash: tokenHash,
		UserID:    userID,
		Type:      tokenType,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *MockAuthRepo) GetUserTokenByHash(_ context.Context, tokenHash, tokenType string) (*repository.UserToken, error) {
	token, ok := m.Tokens[tokenHash]
	if !ok || token.Type != tokenType || token.ExpiresAt.Before(time.Now()) {
		return nil, common.ErrInvalidToken
	}
	return token, nil
}

func (m *MockAuthRepo) DeleteUserToken(_ context.Context, tokenHash string) error {
	delete(m.Tokens, tokenHash)
	return nil
}

func (m *MockAuthRepo) DeleteUserTokens(_ context.Context, userID uuid.UUID, tokenType string) error {
	for hash, token := range m.Tokens {
		if token.UserID == userID && token.Type == tokenType {
			delete(m.Tokens, hash)
		}
	}
	return nil
}

func (m *MockAuthRepo) VerifyEmail(_ context.Context, userID uuid.UUID) error {
	if user := m.findByID(userID); user != nil {
		if user.EmailVerifiedAt == nil {
			now := time.Now()
			user.EmailVerifiedAt = &now
		}
		return nil
	}
	return common.ErrUserNotFound
}

func (m *MockAuthRepo) UpdatePassword(_ context.Context, userID uuid.UUID, hashedPassword string) error {
	if user := m.findByID(userID); user != nil {
		user.HashedPassword = &hashedPassword
		return nil
	}
	return common.ErrUserNotFound
}

func (m *MockAuthRepo) CreateOrUpdateOAuthIdentity(_ context.Context, provider, providerUserID string, userID uuid.UUID, _, _ *string) error {
	m.Identities[oauthKey{provider, providerUserID}] = userID
	return nil
}

func (m *MockAuthRepo) GetUserByOAuthIdentity(_ context.Context, provider, providerUserID string) (*repository.User, error) {
	userID, ok := m.Identities[oauthKey{provider, providerUserID}]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	if user := m.findByID(userID); user != nil {
		return CloneUser(user), nil
	}
	return nil, common.ErrUserNotFound
}

// NewTestAuthService bundles the mocks with a configured AuthService.
func NewTestAuthService() (*service.AuthService, *MockAuthRepo, *MockTokenManager, *MockEmailSender) {
	repo := NewMockAuthRepo()
	tokenManager := &MockTokenManager{}
	emailSender := &MockEmailSender{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	authService := service.NewAuthService(repo, tokenManager, emailSender, logger, service.Options{
		RefreshTTL:  time.Hour,
		FreeCredits: 5,
		ResetURL:    "https://app.spacemint.test/reset-password",
	})
	return authService, repo, tokenManager, emailSender
}

// CloneUser returns a deep copy of the provided user.
func CloneUser(u *repository.User) *repository.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// WaitFor waits for a condition or times out.
func WaitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

// MustHash hashes a password for tests.
func MustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := service.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return hash
}

// AddUser inserts a user into the mock repo. An empty hashedPassword models a social-only account.
func AddUser(repo *MockAuthRepo, t *testing.T, email string, verified bool, hashedPassword string) *repository.User {
	t.Helper()
	now := time.Now()
	name := "Test User"
	user := &repository.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      &name,
		Credits:   5,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if hashedPassword != "" {
		user.HashedPassword = &hashedPassword
	}
	if verified {
		user.EmailVerifiedAt = &now
	}
	repo.Users[email] = user
	return user
}

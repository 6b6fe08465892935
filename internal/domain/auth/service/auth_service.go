package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/common"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/repository"
	"github.com/maytees/homifyai-sub000/internal/types"
)

const (
	minPasswordLength = 8
	unknownClient     = "unknown"
	emailSendTimeout  = 30 * time.Second
)

type Options struct {
	RefreshTTL       time.Duration
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
	// FreeCredits is the balance a new account starts with.
	FreeCredits int
	// ResetURL is the frontend page that receives ?token= for password resets.
	ResetURL string
	// SessionCacheTTL bounds how long a resolved session is served without a database read.
	SessionCacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = 30 * 24 * time.Hour
	}
	if o.VerificationTTL <= 0 {
		o.VerificationTTL = 15 * time.Minute
	}
	if o.PasswordResetTTL <= 0 {
		o.PasswordResetTTL = time.Hour
	}
	if o.SessionCacheTTL <= 0 {
		o.SessionCacheTTL = 30 * time.Second
	}
	return o
}

type RegisterParams struct {
	Email     string
	Password  string
	Name      string
	UserAgent string
	ClientIP  string
}

type LoginParams struct {
	Email     string
	Password  string
	UserAgent string
	ClientIP  string
}

type RefreshTokenParams struct {
	RefreshToken string
	UserAgent    string
	ClientIP     string
}

// OAuthParams is the provider profile after a completed OAuth exchange.
type OAuthParams struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	AccessToken    string
	RefreshToken   string
	UserAgent      string
	ClientIP       string
}

type AuthResult struct {
	User   *types.User
	Tokens *TokenPair
}

type ResendResult struct {
	AlreadyVerified bool
}

type AuthService struct {
	repo     repository.AuthRepository
	tokens   TokenManager
	emails   EmailSender
	logger   *slog.Logger
	opts     Options
	sessions *cache.Cache
	now      func() time.Time
}

func NewAuthService(repo repository.AuthRepository, tokens TokenManager, emails EmailSender, logger *slog.Logger, opts Options) *AuthService {
	opts = opts.withDefaults()
	return &AuthService{
		repo:     repo,
		tokens:   tokens,
		emails:   emails,
		logger:   logger,
		opts:     opts,
		sessions: cache.New(opts.SessionCacheTTL, 2*opts.SessionCacheTTL),
		now:      time.Now,
	}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(user *repository.User, password string) error {
	if user.HashedPassword == nil {
		return common.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.HashedPassword), []byte(password)); err != nil {
		return common.ErrInvalidCredentials
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// verificationCodeHash scopes the short numeric code to its owner, so equal codes of two users don't collide.
func verificationCodeHash(userID uuid.UUID, code string) string {
	return hashToken(userID.String() + ":" + code)
}

func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", common.ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return common.ErrWeakPassword
	}
	return nil
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknownClient
	}
	return v
}

func nameOf(u *repository.User) string {
	if u.Name == nil {
		return ""
	}
	return *u.Name
}

func optional(v string) *string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}

// sendAsync delivers an email off the request path. Failures are logged only.
func (s *AuthService) sendAsync(ctx context.Context, kind string, send func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, emailSendTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send email", slog.String("kind", kind), slog.Any("error", err))
		}
	}()
}

// startSession issues a token pair and stores the hashed refresh token.
func (s *AuthService) startSession(ctx context.Context, user *repository.User, userAgent, clientIP string) (*TokenPair, error) {
	pair, err := s.tokens.GenerateTokenPair(user.ID.String(), user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}
	expiresAt := s.now().Add(s.opts.RefreshTTL)
	if _, err := s.repo.CreateUserSession(ctx, user.ID, hashToken(pair.RefreshToken), orUnknown(userAgent), orUnknown(clientIP), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "Failed to update last login", slog.String("user_id", user.ID.String()), slog.Any("error", err))
	}
	return pair, nil
}

// issueVerificationCode replaces any outstanding code and emails the new one.
func (s *AuthService) issueVerificationCode(ctx context.Context, user *repository.User) error {
	code, err := generateVerificationCode()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}
	if err := s.repo.DeleteUserTokens(ctx, user.ID, repository.TokenTypeEmailVerification); err != nil {
		return err
	}
	expiresAt := s.now().Add(s.opts.VerificationTTL)
	if err := s.repo.CreateUserToken(ctx, user.ID, verificationCodeHash(user.ID, code), repository.TokenTypeEmailVerification, expiresAt); err != nil {
		return err
	}
	email, name := user.Email, nameOf(user)
	s.sendAsync(ctx, "verification", func(ctx context.Context) error {
		return s.emails.SendVerificationEmail(ctx, email, name, code)
	})
	return nil
}

func (s *AuthService) RegisterUser(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "RegisterUser")
	defer span.End()
	l := s.logger.With(slog.String("method", "RegisterUser"))

	email, err := normalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, err
	}
	hashed, err := HashPassword(params.Password)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, repository.NewUser{
		Email:          email,
		Name:           optional(params.Name),
		HashedPassword: &hashed,
		Credits:        s.opts.FreeCredits,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create user failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	if err := s.issueVerificationCode(ctx, user); err != nil {
		// The account exists; the user can request a new code.
		l.ErrorContext(ctx, "Failed to issue verification code", slog.String("user_id", user.ID.String()), slog.Any("error", err))
	}

	pair, err := s.startSession(ctx, user, params.UserAgent, params.ClientIP)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	l.InfoContext(ctx, "User registered", slog.String("user_id", user.ID.String()))
	span.SetStatus(codes.Ok, "user registered")
	return &AuthResult{User: user.ToDomain(), Tokens: pair}, nil
}

func (s *AuthService) Login(ctx context.Context, params LoginParams) (*AuthResult, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(params.Email))
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, common.ErrUserNotFound) {
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkPassword(user, params.Password); err != nil {
		return nil, err
	}

	pair, err := s.startSession(ctx, user, params.UserAgent, params.ClientIP)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "logged in")
	return &AuthResult{User: user.ToDomain(), Tokens: pair}, nil
}

// RefreshTokens rotates the refresh token: the presented session is deleted and a new one stored.
func (s *AuthService) RefreshTokens(ctx context.Context, params RefreshTokenParams) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(params.RefreshToken)
	if err != nil {
		return nil, common.ErrSessionNotFound
	}
	hashed := hashToken(params.RefreshToken)
	session, err := s.repo.GetUserSessionByToken(ctx, hashed)
	if err != nil {
		return nil, err
	}
	if session.UserID.String() != claims.UserID {
		return nil, common.ErrSessionNotFound
	}
	if err := s.repo.DeleteUserSession(ctx, hashed); err != nil {
		return nil, err
	}
	user, err := s.repo.GetUserByID(ctx, session.UserID)
	if errors.Is(err, common.ErrUserNotFound) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user, params.UserAgent, params.ClientIP)
}

// Logout deletes the refresh session. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.repo.DeleteUserSession(ctx, hashToken(refreshToken))
}

// ResendVerificationEmail issues a fresh code. Unknown emails report success so accounts can't be probed.
func (s *AuthService) ResendVerificationEmail(ctx context.Context, email string) (*ResendResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, common.ErrUserNotFound) {
		return &ResendResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	if user.EmailVerifiedAt != nil {
		return &ResendResult{AlreadyVerified: true}, nil
	}
	if err := s.issueVerificationCode(ctx, user); err != nil {
		return nil, err
	}
	return &ResendResult{}, nil
}

// VerifyEmail consumes a verification code and marks the address verified.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (uuid.UUID, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "VerifyEmail")
	defer span.End()

	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, common.ErrUserNotFound) {
		return uuid.Nil, common.ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, err
	}
	if user.EmailVerifiedAt != nil {
		return user.ID, nil
	}

	if _, err := s.repo.GetUserTokenByHash(ctx, verificationCodeHash(user.ID, strings.TrimSpace(code)), repository.TokenTypeEmailVerification); err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.VerifyEmail(ctx, user.ID); err != nil {
		span.RecordError(err)
		return uuid.Nil, err
	}
	if err := s.repo.DeleteUserTokens(ctx, user.ID, repository.TokenTypeEmailVerification); err != nil {
		s.logger.WarnContext(ctx, "Failed to clear verification codes", slog.Any("error", err))
	}
	s.ForgetSession(user.ID)

	email, name := user.Email, nameOf(user)
	s.sendAsync(ctx, "welcome", func(ctx context.Context) error {
		return s.emails.SendWelcomeEmail(ctx, email, name)
	})
	span.SetStatus(codes.Ok, "email verified")
	return user.ID, nil
}

// RequestPasswordReset emails a reset link. Unknown emails are silently accepted.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, common.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := generateResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	if err := s.repo.CreateUserToken(ctx, user.ID, hashToken(token), repository.TokenTypePasswordReset, s.now().Add(s.opts.PasswordResetTTL)); err != nil {
		return err
	}

	resetURL := s.opts.ResetURL + "?token=" + url.QueryEscape(token)
	to, name := user.Email, nameOf(user)
	s.sendAsync(ctx, "password_reset", func(ctx context.Context) error {
		return s.emails.SendPasswordResetEmail(ctx, to, name, resetURL)
	})
	return nil
}

// ResetPassword consumes a reset token and revokes every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed := hashToken(token)
	stored, err := s.repo.GetUserTokenByHash(ctx, hashed, repository.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, stored.UserID, newHash); err != nil {
		return err
	}
	if err := s.repo.DeleteUserToken(ctx, hashed); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete reset token", slog.Any("error", err))
	}
	if err := s.repo.DeleteAllUserSessions(ctx, stored.UserID); err != nil {
		s.logger.WarnContext(ctx, "Failed to revoke sessions", slog.Any("error", err))
	}
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.HashedPassword == nil {
		return common.ErrPasswordNotSet
	}
	if err := checkPassword(user, currentPassword); err != nil {
		return err
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}
	if err := s.repo.DeleteAllUserSessions(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "Failed to revoke sessions", slog.Any("error", err))
	}
	return nil
}

// ResolveSession validates an access token and returns the caller's identity.
// Resolved sessions are cached briefly per user; VerifyEmail and ForgetSession evict them.
func (s *AuthService) ResolveSession(ctx context.Context, accessToken string) (*types.Session, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthenticated, err)
	}
	if cached, ok := s.sessions.Get(claims.UserID); ok {
		session := *cached.(*types.Session)
		return &session, nil
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", types.ErrUnauthenticated)
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, common.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", types.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	session := &types.Session{UserID: user.ID, Email: user.Email, EmailVerified: user.EmailVerifiedAt != nil}
	s.sessions.Set(claims.UserID, session, cache.DefaultExpiration)
	out := *session
	return &out, nil
}

// ForgetSession drops the cached session of a user.
func (s *AuthService) ForgetSession(userID uuid.UUID) {
	s.sessions.Delete(userID.String())
}

// LoginWithOAuth signs in a provider identity, linking it to an existing account with the same
// email or creating a new one. Provider-asserted emails count as verified.
func (s *AuthService) LoginWithOAuth(ctx context.Context, params OAuthParams) (*AuthResult, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "LoginWithOAuth")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.provider", params.Provider))
	l := s.logger.With(slog.String("method", "LoginWithOAuth"), slog.String("provider", params.Provider))

	if params.Provider == "" || params.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: incomplete provider profile", types.ErrBadRequest)
	}

	user, err := s.repo.GetUserByOAuthIdentity(ctx, params.Provider, params.ProviderUserID)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrUserNotFound):
		user, err = s.userForOAuthEmail(ctx, params)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	default:
		span.RecordError(err)
		return nil, err
	}

	if err := s.repo.CreateOrUpdateOAuthIdentity(ctx, params.Provider, params.ProviderUserID, user.ID,
		optional(params.AccessToken), optional(params.RefreshToken)); err != nil {
		span.RecordError(err)
		return nil, err
	}

	pair, err := s.startSession(ctx, user, params.UserAgent, params.ClientIP)
	if err != nil {
		return nil, err
	}
	l.InfoContext(ctx, "OAuth sign-in", slog.String("user_id", user.ID.String()))
	span.SetStatus(codes.Ok, "oauth sign-in")
	return &AuthResult{User: user.ToDomain(), Tokens: pair}, nil
}

func (s *AuthService) userForOAuthEmail(ctx context.Context, params OAuthParams) (*repository.User, error) {
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, common.ErrUserNotFound) {
		return s.repo.CreateUser(ctx, repository.NewUser{
			Email:         email,
			Name:          optional(params.Name),
			Image:         optional(params.AvatarURL),
			Credits:       s.opts.FreeCredits,
			EmailVerified: true,
		})
	}
	if err != nil {
		return nil, err
	}

	if user.EmailVerifiedAt == nil {
		if err := s.repo.VerifyEmail(ctx, user.ID); err != nil {
			return nil, err
		}
		now := s.now()
		user.EmailVerifiedAt = &now
		s.ForgetSession(user.ID)
	}
	return user, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/common"
	"github.com/maytees/homifyai-sub000/internal/types"
)

const (
	TokenTypeEmailVerification = "email_verification"
	TokenTypePasswordReset     = "password_reset"

	uniqueViolation = "23505"
)

// User is the auth view of a users row.
type User struct {
	ID              uuid.UUID
	Email           string
	Name            *string
	Image           *string
	HashedPassword  *string
	EmailVerifiedAt *time.Time
	Credits         int
	LifetimeCredits int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     *time.Time
}

// ToDomain drops the credential fields.
func (u *User) ToDomain() *types.User {
	return &types.User{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Image:           u.Image,
		EmailVerified:   u.EmailVerifiedAt != nil,
		Credits:         u.Credits,
		LifetimeCredits: u.LifetimeCredits,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// NewUser carries the fields set at sign-up. HashedPassword is nil for social sign-in.
type NewUser struct {
	Email          string
	Name           *string
	Image          *string
	HashedPassword *string
	Credits        int
	EmailVerified  bool
}

type UserSession struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	HashedRefreshToken string
	UserAgent          *string
	ClientIP           *string
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

type UserToken struct {
	TokenHash string
	UserID    uuid.UUID
	Type      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuthRepository persists users, refresh sessions, one-time tokens and OAuth identities.
type AuthRepository interface {
	CreateUser(ctx context.Context, params NewUser) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error

	CreateUserSession(ctx context.Context, userID uuid.UUID, hashedRefreshToken, userAgent, clientIP string, expiresAt time.Time) (*UserSession, error)
	GetUserSessionByToken(ctx context.Context, hashedToken string) (*UserSession, error)
	DeleteUserSession(ctx context.Context, hashedToken string) error
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error

	CreateUserToken(ctx context.Context, userID uuid.UUID, tokenHash, tokenType string, expiresAt time.Time) error
	GetUserTokenByHash(ctx context.Context, tokenHash, tokenType string) (*UserToken, error)
	DeleteUserToken(ctx context.Context, tokenHash string) error
	// DeleteUserTokens drops every outstanding token of one type, so a resent code supersedes the old one.
	DeleteUserTokens(ctx context.Context, userID uuid.UUID, tokenType string) error

	VerifyEmail(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	CreateOrUpdateOAuthIdentity(ctx context.Context, provider, providerUserID string, userID uuid.UUID, accessToken, refreshToken *string) error
	GetUserByOAuthIdentity(ctx context.Context, provider, providerUserID string) (*User, error)
}

var _ AuthRepository = (*PostgresAuthRepository)(nil)

type PostgresAuthRepository struct {
	db *sql.DB
}

func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{db: db}
}

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	return otel.Tracer("AuthRepository").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", table),
	))
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

const userColumns = `id, email, name, image, hashed_password, email_verified_at,
       credits, lifetime_credits, created_at, updated_at, last_login_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.HashedPassword, &u.EmailVerifiedAt,
		&u.Credits, &u.LifetimeCredits, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresAuthRepository) CreateUser(ctx context.Context, params NewUser) (*User, error) {
	ctx, span := startSpan(ctx, "CreateUser", "users")
	defer span.End()

	var verifiedAt *time.Time
	if params.EmailVerified {
		now := time.Now().UTC()
		verifiedAt = &now
	}

	user := &User{
		Email:           params.Email,
		Name:            params.Name,
		Image:           params.Image,
		HashedPassword:  params.HashedPassword,
		EmailVerifiedAt: verifiedAt,
		Credits:         params.Credits,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, image, hashed_password, email_verified_at, credits)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		params.Email, params.Name, params.Image, params.HashedPassword, verifiedAt, params.Credits,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrUserAlreadyExists
		}
		fail(span, err, "insert failed")
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	span.SetStatus(codes.Ok, "user created")
	return user, nil
}

func (r *PostgresAuthRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, span := startSpan(ctx, "GetUserByEmail", "users")
	defer span.End()

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		fail(span, err, "query failed")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepository) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	ctx, span := startSpan(ctx, "GetUserByID", "users")
	defer span.End()

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		fail(span, err, "query failed")
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresAuthRepository) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	ctx, span := startSpan(ctx, "UpdateLastLogin", "users")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), userID); err != nil {
		fail(span, err, "update failed")
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepository) CreateUserSession(ctx context.Context, userID uuid.UUID, hashedRefreshToken, userAgent, clientIP string, expiresAt time.Time) (*UserSession, error) {
	ctx, span := startSpan(ctx, "CreateUserSession", "user_sessions")
	defer span.End()

	session := &UserSession{
		UserID:             userID,
		HashedRefreshToken: hashedRefreshToken,
		UserAgent:          &userAgent,
		ClientIP:           &clientIP,
		ExpiresAt:          expiresAt,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_sessions (user_id, hashed_refresh_token, user_agent, client_ip, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		userID, hashedRefreshToken, userAgent, clientIP, expiresAt,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		fail(span, err, "insert failed")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (r *PostgresAuthRepository) GetUserSessionByToken(ctx context.Context, hashedToken string) (*UserSession, error) {
	ctx, span := startSpan(ctx, "GetUserSessionByToken", "user_sessions")
	defer span.End()

	var s UserSession
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, hashed_refresh_token, user_agent, client_ip, expires_at, created_at
		FROM user_sessions
		WHERE hashed_refresh_token = $1 AND expires_at > $2`,
		hashedToken, time.Now().UTC(),
	).Scan(&s.ID, &s.UserID, &s.HashedRefreshToken, &s.UserAgent, &s.ClientIP, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		fail(span, err, "query failed")
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *PostgresAuthRepository) DeleteUserSession(ctx context.Context, hashedToken string) error {
	ctx, span := startSpan(ctx, "DeleteUserSession", "user_sessions")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE hashed_refresh_token = $1`, hashedToken); err != nil {
		fail(span, err, "delete failed")
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepository) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	ctx, span := startSpan(ctx, "DeleteAllUserSessions", "user_sessions")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		fail(span, err, "delete failed")
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepository) CreateUserToken(ctx context.Context, userID uuid.UUID, tokenHash, tokenType string, expiresAt time.Time) error {
	ctx, span := startSpan(ctx, "CreateUserToken", "user_tokens")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_tokens (token_hash, user_id, type, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		tokenHash, userID, tokenType, expiresAt)
	if err != nil {
		fail(span, err, "insert failed")
		return fmt.Errorf("failed to create %s token: %w", tokenType, err)
	}
	return nil
}

func (r *PostgresAuthRepository) GetUserTokenByHash(ctx context.Context, tokenHash, tokenType string) (*UserToken, error) {
	ctx, span := startSpan(ctx, "GetUserTokenByHash", "user_tokens")
	defer span.End()

	var t UserToken
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, user_id, type, expires_at, created_at
		FROM user_tokens
		WHERE token_hash = $1 AND type = $2 AND expires_at > $3`,
		tokenHash, tokenType, time.Now().UTC(),
	).Scan(&t.TokenHash, &t.UserID, &t.Type, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrInvalidToken
	}
	if err != nil {
		fail(span, err, "query failed")
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (r *PostgresAuthRepository) DeleteUserToken(ctx context.Context, tokenHash string) error {
	ctx, span := startSpan(ctx, "DeleteUserToken", "user_tokens")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		fail(span, err, "delete failed")
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepository) DeleteUserTokens(ctx context.Context, userID uuid.UUID, tokenType string) error {
	ctx, span := startSpan(ctx, "DeleteUserTokens", "user_tokens")
	defer span.End()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = $1 AND type = $2`, userID, tokenType); err != nil {
		fail(span, err, "delete failed")
		return fmt.Errorf("failed to delete %s tokens: %w", tokenType, err)
	}
	return nil
}

func (r *PostgresAuthRepository) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	ctx, span := startSpan(ctx, "VerifyEmail", "users")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified_at = COALESCE(email_verified_at, $1), updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), userID)
	if err != nil {
		fail(span, err, "update failed")
		return fmt.Errorf("failed to verify email: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

func (r *PostgresAuthRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	ctx, span := startSpan(ctx, "UpdatePassword", "users")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET hashed_password = $1, updated_at = $2 WHERE id = $3`,
		hashedPassword, time.Now().UTC(), userID)
	if err != nil {
		fail(span, err, "update failed")
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

func (r *PostgresAuthRepository) CreateOrUpdateOAuthIdentity(ctx context.Context, provider, providerUserID string, userID uuid.UUID, accessToken, refreshToken *string) error {
	ctx, span := startSpan(ctx, "CreateOrUpdateOAuthIdentity", "user_oauth_identities")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.provider", provider))

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_oauth_identities (provider_name, provider_user_id, user_id, access_token, refresh_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_name, provider_user_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = COALESCE(EXCLUDED.refresh_token, user_oauth_identities.refresh_token),
		    updated_at = NOW()`,
		provider, providerUserID, userID, accessToken, refreshToken)
	if err != nil {
		fail(span, err, "upsert failed")
		return fmt.Errorf("failed to save oauth identity: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepository) GetUserByOAuthIdentity(ctx context.Context, provider, providerUserID string) (*User, error) {
	ctx, span := startSpan(ctx, "GetUserByOAuthIdentity", "user_oauth_identities")
	defer span.End()

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.image, u.hashed_password, u.email_verified_at,
		       u.credits, u.lifetime_credits, u.created_at, u.updated_at, u.last_login_at
		FROM users u
		INNER JOIN user_oauth_identities o ON u.id = o.user_id
		WHERE o.provider_name = $1 AND o.provider_user_id = $2`,
		provider, providerUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		fail(span, err, "query failed")
		return nil, fmt.Errorf("failed to get user by oauth identity: %w", err)
	}
	return user, nil
}

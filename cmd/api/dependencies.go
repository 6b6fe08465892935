package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	authhandler "github.com/maytees/homifyai-sub000/internal/domain/auth/handler"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/repository"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/service"
	"github.com/maytees/homifyai-sub000/internal/domain/billing"
	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/domain/generation"
	"github.com/maytees/homifyai-sub000/internal/domain/library"
	"github.com/maytees/homifyai-sub000/internal/domain/statistics"
	"github.com/maytees/homifyai-sub000/internal/domain/user"
	"github.com/maytees/homifyai-sub000/internal/llm"
	"github.com/maytees/homifyai-sub000/pkg/config"
	"github.com/maytees/homifyai-sub000/pkg/db"
	"github.com/maytees/homifyai-sub000/pkg/mailer"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	sqlDB           *sql.DB
	webhooksEnabled bool

	// Infrastructure
	Store  storage.ObjectStore
	Mailer mailer.Sender
	Images llm.ImageClient

	// Repositories
	AuthRepo        repository.AuthRepository
	EntitlementRepo entitlement.Repository
	BillingRepo     billing.Repository
	LibraryRepo     library.Repository
	UserRepo        user.UserRepo
	StatsRepo       statistics.Repository

	// Services
	TokenManager   service.TokenManager
	AuthService    *service.AuthService
	EntitlementSvc entitlement.Service
	BillingSvc     billing.Service
	GenerationSvc  generation.Service
	LibrarySvc     library.Service
	UserSvc        user.UserService
	StatsSvc       statistics.Service

	// Handlers
	AuthHandler        *authhandler.AuthHandler
	OAuthHandler       *authhandler.OAuthHandler
	EntitlementHandler *entitlement.Handler
	BillingHandler     *billing.Handler
	GenerationHandler  *generation.Handler
	LibraryHandler     *library.Handler
	UserHandler        *user.HandlerImpl
	StatsHandler       *statistics.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Storage, mail and the image model
	if err := deps.initInfrastructure(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initInfrastructure(ctx context.Context) error {
	sc := d.Config.Storage
	switch strings.ToLower(sc.Driver) {
	case "memory":
		d.Store = storage.NewMemoryStore(strings.TrimRight(d.Config.Server.PublicURL, "/") + "/objects")
		d.Logger.Warn("using in-memory object storage; stored images are lost on restart")
	case "s3":
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			UsePathStyle:    sc.UsePathStyle,
			PresignTTL:      sc.PresignTTL,
		}, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to init s3 storage: %w", err)
		}
		d.Store = store
	default:
		return fmt.Errorf("unknown storage driver %q", sc.Driver)
	}

	mc := d.Config.Mail
	if mc.Host == "" {
		d.Mailer = mailer.NewLogSender(d.Logger)
		d.Logger.Warn("SMTP_HOST not set; emails are logged instead of sent")
	} else {
		sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     mc.Host,
			Port:     mc.Port,
			Username: mc.Username,
			Password: mc.Password,
			From:     mc.From,
		}, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to init mailer: %w", err)
		}
		d.Mailer = sender
	}

	if d.Config.AI.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	images, err := llm.NewGeminiImageClient(ctx, d.Config.AI.GeminiAPIKey, d.Config.AI.ImageModel, d.Logger)
	if err != nil {
		return err
	}
	d.Images = images

	d.Logger.Info("infrastructure initialized", slog.String("storage", sc.Driver), slog.String("image_model", images.Model()))
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	sqlDB, err := sql.Open("pgx", d.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open sql DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping sql DB: %w", err)
	}

	d.sqlDB = sqlDB
	d.AuthRepo = repository.NewPostgresAuthRepository(sqlDB)
	d.EntitlementRepo = entitlement.NewRepository(d.DB.Pool, d.Logger)
	d.BillingRepo = billing.NewRepository(d.DB.Pool, d.Logger)
	d.LibraryRepo = library.NewRepository(d.DB.Pool, d.Logger)
	d.UserRepo = user.NewPostgresUserRepo(d.DB.Pool, d.Logger)
	d.StatsRepo = statistics.NewRepository(d.Logger, d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	ac := d.Config.Auth
	if ac.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	d.TokenManager = service.NewTokenManager(ac.JWTSecret, ac.AccessTokenTTL, ac.RefreshTokenTTL)
	d.AuthService = service.NewAuthService(
		d.AuthRepo,
		d.TokenManager,
		service.NewEmailService(d.Mailer),
		d.Logger,
		service.Options{
			RefreshTTL:      ac.RefreshTokenTTL,
			VerificationTTL: ac.VerificationTTL,
			FreeCredits:     d.Config.Billing.FreeCredits,
			ResetURL:        strings.TrimRight(d.Config.Server.AppURL, "/") + "/reset-password",
		},
	)

	bc := d.Config.Billing
	plan, err := billing.ParsePlan(bc.FreeCredits, bc.ProMonthlyCredits, bc.OverageRate)
	if err != nil {
		return err
	}
	var reporter billing.UsageReporter
	if bc.UsageIngestURL != "" {
		reporter = billing.NewHTTPUsageReporter(bc.UsageIngestURL, bc.AccessToken, bc.UsageEventName, d.Logger)
	} else {
		reporter = billing.NewLogUsageReporter(d.Logger)
	}

	d.EntitlementSvc = entitlement.NewService(d.EntitlementRepo, d.Logger)
	d.BillingSvc = billing.NewService(d.BillingRepo, d.EntitlementRepo, reporter, plan, d.Logger)
	d.GenerationSvc = generation.NewService(
		d.EntitlementSvc,
		d.BillingSvc,
		d.Images,
		generation.NewReferenceLoader(d.Store, nil, d.Config.AI.MaxReferenceBytes, d.Logger),
		d.Config.AI.GenerationTimeout,
		d.Logger,
	)
	d.LibrarySvc = library.NewService(d.LibraryRepo, d.Store, d.Config.Storage.MaxUploadBytes, d.Logger)
	d.UserSvc = user.NewUserService(d.UserRepo, d.EntitlementSvc, d.Store, d.AuthService, d.Logger)
	d.StatsSvc = statistics.NewService(d.StatsRepo, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	var verifier *billing.Verifier
	if d.Config.Billing.WebhookSecret != "" {
		v, err := billing.NewVerifier(d.Config.Billing.WebhookSecret, d.Config.Billing.WebhookTolerance)
		if err != nil {
			return fmt.Errorf("failed to init webhook verifier: %w", err)
		}
		verifier = v
	} else {
		d.Logger.Warn("BILLING_WEBHOOK_SECRET not set; billing webhooks are disabled")
	}

	oc := d.Config.OAuth
	if oc.Enabled() {
		sessionKey := d.Config.Auth.SessionCookieKey
		if sessionKey == "" {
			sessionKey = d.Config.Auth.JWTSecret
		}
		authhandler.ConfigureProviders(authhandler.OAuthConfig{
			GoogleClientID:     oc.GoogleClientID,
			GoogleClientSecret: oc.GoogleClientSecret,
			CallbackBaseURL:    oc.CallbackBaseURL,
			SuccessRedirectURL: oc.SuccessRedirectURL,
			SessionKey:         sessionKey,
			SecureCookies:      strings.HasPrefix(oc.CallbackBaseURL, "https://"),
		})
		d.OAuthHandler = authhandler.NewOAuthHandler(d.AuthService, oc.SuccessRedirectURL, d.Logger)
	}

	d.AuthHandler = authhandler.NewAuthHandler(d.AuthService)
	d.EntitlementHandler = entitlement.NewHandler(d.EntitlementSvc, d.Logger)
	d.BillingHandler = billing.NewHandler(d.BillingSvc, verifier, d.Logger)
	d.GenerationHandler = generation.NewHandler(d.GenerationSvc, d.Logger)
	d.LibraryHandler = library.NewHandler(d.LibrarySvc, d.Config.Storage.MaxUploadBytes, d.Logger)
	d.UserHandler = user.NewUserHandler(d.UserSvc, d.Logger)
	d.StatsHandler = statistics.NewHandler(d.StatsSvc)
	d.webhooksEnabled = verifier != nil
	d.Logger.Info("handlers initialized",
		slog.Bool("oauth", d.OAuthHandler != nil),
		slog.Bool("webhooks", d.webhooksEnabled))
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.sqlDB != nil {
		if err := d.sqlDB.Close(); err != nil {
			d.Logger.Warn("failed to close sql DB", slog.Any("error", err))
		}
	}
	d.Logger.Info("cleanup completed")
}

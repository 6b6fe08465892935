package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/maytees/homifyai-sub000/internal/domain/generation"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
	"github.com/maytees/homifyai-sub000/pkg/observability"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	tracer := otel.GetTracerProvider().Tracer("spacemint/api")

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	// Setup interceptor chain
	r.Use(
		middleware.RealIP,
		interceptors.NewRequestIDInterceptor("X-Request-ID"),
		interceptors.NewTracingInterceptor(tracer),
		interceptors.NewRecoveryInterceptor(deps.Logger),
		interceptors.NewLoggingInterceptor(deps.Logger),
		interceptors.NewRateLimitInterceptor(limiter),
		observability.NewMetricsInterceptor(),
	)

	// Register health and metrics routes
	registerUtilityRoutes(r, deps)

	// Register API routes
	registerRoutes(r, deps)

	// Enable CORS for the web frontend
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			generation.HeaderCreditsRemaining,
			generation.HeaderWatermarked,
			generation.HeaderOverage,
			"X-Request-ID",
		},
		AllowCredentials: true,
	})

	return corsHandler.Handler(r)
}

// registerRoutes registers the public and authenticated API routes
func registerRoutes(r chi.Router, deps *Dependencies) {
	requireAuth := interceptors.NewAuthInterceptor(deps.AuthService)
	optionalAuth := interceptors.NewOptionalAuthInterceptor(deps.AuthService)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", deps.AuthHandler.Register)
		r.Post("/login", deps.AuthHandler.Login)
		r.Post("/refresh", deps.AuthHandler.RefreshToken)
		r.Post("/logout", deps.AuthHandler.Logout)
		r.Post("/verify-email", deps.AuthHandler.VerifyEmail)
		r.Post("/resend-verification", deps.AuthHandler.ResendVerification)
		r.Post("/forgot-password", deps.AuthHandler.ForgotPassword)
		r.Post("/reset-password", deps.AuthHandler.ResetPassword)
		r.With(requireAuth).Post("/change-password", deps.AuthHandler.ChangePassword)

		if deps.OAuthHandler != nil {
			r.Get("/oauth/{provider}", deps.OAuthHandler.Begin)
			r.Get("/oauth/{provider}/callback", deps.OAuthHandler.Callback)
		}
	})

	// The generation gate reports unauthenticated callers itself.
	r.With(optionalAuth).Post("/generate", deps.GenerationHandler.Generate)

	if deps.webhooksEnabled {
		r.Post("/webhooks/billing", deps.BillingHandler.HandleWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/credits", deps.EntitlementHandler.GetCredits)
		r.Get("/billing/overage", deps.BillingHandler.GetOverage)
		r.Get("/stats", deps.StatsHandler.GetStats)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", deps.UserHandler.GetMe)
			r.Patch("/", deps.UserHandler.UpdateMe)
			r.Delete("/", deps.UserHandler.DeleteMe)
		})

		deps.LibraryHandler.Routes(r)
	})

	deps.Logger.Info("API routes configured")
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(r chi.Router, deps *Dependencies) {
	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	deps.Logger.Info("registered health check", "path", "/health")

	// Readiness check endpoint
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	deps.Logger.Info("registered readiness check", "path", "/ready")

	// Local object serving for the in-memory store
	if store, ok := deps.Store.(*storage.MemoryStore); ok {
		r.Get("/objects/*", func(w http.ResponseWriter, r *http.Request) {
			data, contentType, err := store.Get(r.Context(), chi.URLParam(r, "*"))
			if err != nil {
				api.WriteError(w, r, err)
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.Write(data)
		})
		deps.Logger.Info("registered object endpoint", "path", "/objects/*")
	}

	// Metrics endpoint (Prometheus)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}

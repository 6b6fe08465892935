package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/service"
)

const oauthStateMaxAge = 10 * 60

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	// CallbackBaseURL is the public origin of this API, used to build provider callback URLs.
	CallbackBaseURL string
	// SuccessRedirectURL receives the token pair in its URL fragment.
	SuccessRedirectURL string
	SessionKey         string
	SecureCookies      bool
}

// ConfigureProviders registers the OAuth providers and the cookie store gothic keeps its state in.
func ConfigureProviders(cfg OAuthConfig) {
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(oauthStateMaxAge)
	gothic.Store = store

	base := strings.TrimRight(cfg.CallbackBaseURL, "/")
	goth.UseProviders(
		google.New(cfg.GoogleClientID, cfg.GoogleClientSecret, base+"/auth/oauth/google/callback", "email", "profile"),
	)
}

// OAuthHandler runs the browser redirect flow and hands the resulting identity to the auth service.
type OAuthHandler struct {
	svc             Service
	successRedirect string
	logger          *slog.Logger

	begin    func(http.ResponseWriter, *http.Request)
	complete func(http.ResponseWriter, *http.Request) (goth.User, error)
}

func NewOAuthHandler(svc Service, successRedirect string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		svc:             svc,
		successRedirect: successRedirect,
		logger:          logger,
		begin:           gothic.BeginAuthHandler,
		complete:        gothic.CompleteUserAuth,
	}
}

// withProvider exposes the chi route parameter where gothic looks for it.
func withProvider(r *http.Request) *http.Request {
	q := r.URL.Query()
	q.Set("provider", chi.URLParam(r, "provider"))
	r.URL.RawQuery = q.Encode()
	return r
}

// Begin handles GET /auth/oauth/{provider}.
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	_, span := startSpan(r, "OAuthBegin", "/auth/oauth/{provider}")
	defer span.End()

	h.begin(w, withProvider(r))
}

// Callback handles GET /auth/oauth/{provider}/callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "OAuthCallback", "/auth/oauth/{provider}/callback")
	defer span.End()

	r = withProvider(r)
	user, err := h.complete(w, r)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "OAuth exchange failed", slog.String("provider", chi.URLParam(r, "provider")), slog.Any("error", err))
		h.redirectError(w, r, "oauth_failed")
		return
	}

	result, err := h.svc.LoginWithOAuth(ctx, service.OAuthParams{
		Provider:       user.Provider,
		ProviderUserID: user.UserID,
		Email:          user.Email,
		Name:           user.Name,
		AvatarURL:      user.AvatarURL,
		AccessToken:    user.AccessToken,
		RefreshToken:   user.RefreshToken,
		UserAgent:      r.UserAgent(),
		ClientIP:       clientIP(r),
	})
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "OAuth sign-in failed", slog.String("provider", user.Provider), slog.Any("error", err))
		h.redirectError(w, r, "signin_failed")
		return
	}

	// Tokens travel in the fragment so they never reach server logs.
	fragment := url.Values{}
	fragment.Set("access_token", result.Tokens.AccessToken)
	fragment.Set("refresh_token", result.Tokens.RefreshToken)
	fragment.Set("expires_at", strconv.FormatInt(result.Tokens.ExpiresAt.Unix(), 10))
	http.Redirect(w, r, h.successRedirect+"#"+fragment.Encode(), http.StatusFound)
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	target, err := url.Parse(h.successRedirect)
	if err != nil {
		http.Error(w, "sign-in failed", http.StatusBadGateway)
		return
	}
	q := target.Query()
	q.Set("error", code)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

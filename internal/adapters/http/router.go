package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

// AuthService is the slice of the application core the HTTP adapter drives.
// *application.Service satisfies it.
type AuthService interface {
	RegisterSchool(ctx context.Context, req application.RegisterSchoolRequest) (application.RegisterSchoolResult, error)
	VerifyEmail(ctx context.Context, req application.VerifyEmailRequest) (application.VerifyEmailResult, error)
	ResendVerification(ctx context.Context, email string) (application.ResendResult, error)
	CheckSchoolCode(ctx context.Context, code string) (application.CodeAvailability, error)
	GetSchoolProfile(ctx context.Context, principal application.Principal) (application.SchoolProfile, error)
	UpdateSchoolProfile(ctx context.Context, principal application.Principal, req application.UpdateSchoolProfileRequest) (application.SchoolProfile, error)

	Login(ctx context.Context, req application.LoginRequest) (application.LoginResult, error)
	RefreshAccessToken(ctx context.Context, rawToken string, device domain.DeviceInfo) (application.RefreshResult, error)
	Logout(ctx context.Context, rawToken string)
	LogoutAllDevices(ctx context.Context, userID uuid.UUID) (int64, error)
	GetCurrentUser(ctx context.Context, userID uuid.UUID) (application.CurrentUser, error)
	AuthenticateAccessToken(ctx context.Context, rawToken string) (application.Principal, error)

	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req application.ResetPasswordRequest) error
	ChangePassword(ctx context.Context, userID uuid.UUID, req application.ChangePasswordRequest) error
}

// HTTPMetrics records finished requests by route pattern.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// RateLimiter counts requests per key in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitOptions bounds /api requests per client IP. A nil Limiter or a
// non-positive Limit disables it.
type RateLimitOptions struct {
	Limiter RateLimiter
	Limit   int
	Window  time.Duration
}

type Options struct {
	Cookie CookieConfig
	// Metrics and MetricsHandler are optional; /metrics is only mounted when
	// a handler is given.
	Metrics        HTTPMetrics
	MetricsHandler http.Handler
	// Ready backs /readyz. Nil means always ready.
	Ready     func(ctx context.Context) error
	RateLimit RateLimitOptions
}

type Handler struct {
	service AuthService
	cookies CookieConfig
	opts    Options
}

func NewHandler(service AuthService, opts Options) *Handler {
	return &Handler{service: service, cookies: opts.Cookie.withDefaults(), opts: opts}
}

// NewRouter mounts the school onboarding and session routes.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	if handler.opts.Metrics != nil {
		r.Use(metricsMiddleware(handler.opts.Metrics))
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.opts.MetricsHandler != nil {
		r.Handle("/metrics", handler.opts.MetricsHandler)
	}

	apiLimit := rateLimitMiddleware(handler.opts.RateLimit)

	r.Route("/api/schools", func(r chi.Router) {
		r.Use(apiLimit)
		r.Post("/register", handler.registerSchool)
		r.Post("/verify-email", handler.verifyEmail)
		r.Post("/resend-verification", handler.resendVerification)
		r.Get("/check-code", handler.checkSchoolCode)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/profile", handler.schoolProfile)
			r.Patch("/profile", handler.updateSchoolProfile)
		})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(apiLimit)
		r.Post("/login", handler.login)
		r.Post("/refresh", handler.refresh)
		r.Post("/logout", handler.logout)
		r.Post("/password/forgot", handler.forgotPassword)
		r.Post("/password/reset", handler.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/logout-all", handler.logoutAll)
			r.Get("/me", handler.me)
			r.Post("/password/change", handler.changePassword)
		})
	})

	return r
}

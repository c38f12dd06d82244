package application

import (
	"sync"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// Service is the session and school-onboarding core. Every collaborator is
// injected through Dependencies; the only state it keeps is the decoy hash
// used to even out login timing.
type Service struct {
	cfg      Config
	users    ports.UserRepository
	schools  ports.SchoolRepository
	outbox   ports.OutboxRepository
	lockouts ports.LockoutStore
	limiter  ports.RateLimiter
	hasher   ports.PasswordHasher
	tokens   ports.TokenIssuer
	notifier ports.Notifier
	metrics  ports.AuthMetrics
	registry *RefreshRegistry
	codes    *VerificationCodes
	nowFn    func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

type Dependencies struct {
	Config        Config
	Users         ports.UserRepository
	Schools       ports.SchoolRepository
	RefreshTokens ports.RefreshTokenRepository
	Codes         ports.VerificationCodeRepository
	Outbox        ports.OutboxRepository
	Lockouts      ports.LockoutStore
	RateLimiter   ports.RateLimiter
	Hasher        ports.PasswordHasher
	Tokens        ports.TokenIssuer
	Notifier      ports.Notifier
	Metrics       ports.AuthMetrics
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

func NewService(deps Dependencies) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	cfg := deps.Config.withDefaults()
	return &Service{
		cfg:      cfg,
		users:    deps.Users,
		schools:  deps.Schools,
		outbox:   deps.Outbox,
		lockouts: deps.Lockouts,
		limiter:  deps.RateLimiter,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		registry: NewRefreshRegistry(deps.RefreshTokens, cfg.StoreTimeout, clock),
		codes:    NewVerificationCodes(deps.Codes, cfg.StoreTimeout, clock).WithAttemptLimit(deps.Lockouts, cfg.MaxCodeAttempts),
		nowFn:    clock,
	}
}

// Registry exposes the refresh token registry to adapters that need it
// directly, such as the housekeeping worker.
func (s *Service) Registry() *RefreshRegistry {
	return s.registry
}

// Codes exposes the verification code service.
func (s *Service) Codes() *VerificationCodes {
	return s.codes
}

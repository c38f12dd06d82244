package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	cacheadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/cache"
	emailadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/email"
	eventadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/events"
	grpcadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/grpc"
	httpadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/http"
	"github.com/rollboy-tz/mult-schools-management-system/internal/adapters/metrics"
	"github.com/rollboy-tz/mult-schools-management-system/internal/adapters/postgres"
	"github.com/rollboy-tz/mult-schools-management-system/internal/adapters/security"
	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

type closablePublisher interface {
	ports.EventPublisher
	Close() error
}

// Runtime owns every long-lived resource. Both binaries build the same graph
// and run different parts of it.
type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	db        *gorm.DB
	redis     *redis.Client
	service   *application.Service
	metrics   *metrics.Registry
	notifier  *emailadapter.AsyncNotifier
	publisher closablePublisher

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string

	outbox *eventadapter.OutboxWorker
	sweep  *eventadapter.SweepWorker
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceID)
	logger.Info("bootstrapping school auth service",
		"operation", "bootstrap",
		"outcome", "start",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics.NewRegistry()}
	if err := rt.build(ctx); err != nil {
		rt.cleanup(context.Background())
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: cfg.MaxDBConns, MaxIdleConns: cfg.MaxIdleConns})
	if err != nil {
		return err
	}
	r.db = db
	if cfg.MigrateOnStart {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	r.redis = redisClient

	tokens, err := security.NewTokenIssuer(security.TokenIssuerConfig{
		AccessKeyID:         cfg.JWTKeyID,
		AccessPrivateKeyPEM: cfg.JWTPrivateKeyPEM,
		AccessPublicKeyPEM:  cfg.JWTPublicKeyPEM,
		RefreshSecret:       cfg.RefreshSecret,
		AllowEphemeral:      cfg.AllowEphemeralJWT,
		Leeway:              cfg.JWTLeeway,
	})
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}
	if cfg.JWTPrivateKeyPEM == "" || cfg.RefreshSecret == "" {
		r.logger.Warn("using ephemeral token keys; tokens will not survive a restart",
			"operation", "bootstrap",
			"outcome", "warning",
		)
	}

	hasher, err := security.NewPasswordHasher(cfg.PasswordAlgorithm, cfg.BcryptCost, security.DefaultArgon2Params())
	if err != nil {
		return fmt.Errorf("init password hasher: %w", err)
	}

	notifier, err := r.newNotifier()
	if err != nil {
		return err
	}
	r.notifier = notifier

	publisher, err := r.newPublisher()
	if err != nil {
		return err
	}
	r.publisher = publisher

	repos := postgres.NewRepositories(db)
	limiter := cacheadapter.NewRedisRateLimiter(redisClient)
	r.service = application.NewService(application.Dependencies{
		Config: application.Config{
			AccessTokenTTL:             cfg.AccessTokenTTL,
			RefreshTokenTTL:            cfg.RefreshTokenTTL,
			SessionTTL:                 cfg.SessionTTL,
			RememberMeTTL:              cfg.RememberMeTTL,
			FailedLoginThreshold:       cfg.FailedLoginThreshold,
			LockoutDuration:            cfg.LockoutDuration,
			MaxCodeAttempts:            cfg.MaxCodeAttempts,
			RegisterRateLimitThreshold: cfg.RegisterRateLimitThreshold,
			RegisterRateLimitWindow:    cfg.RegisterRateLimitWindow,
			StoreTimeout:               cfg.StoreTimeout,
			RotateRefreshTokens:        cfg.RotateRefreshTokens,
			SweepRetention:             cfg.SweepRetention,
			FrontendURL:                cfg.FrontendURL,
		},
		Users:         repos.Users,
		Schools:       repos.Schools,
		RefreshTokens: repos.RefreshTokens,
		Codes:         repos.Codes,
		Outbox:        repos.Outbox,
		Lockouts:      cacheadapter.NewRedisLockoutStore(redisClient),
		RateLimiter:   limiter,
		Hasher:        hasher,
		Tokens:        tokens,
		Notifier:      notifier,
		Metrics:       r.metrics,
	})

	handler := httpadapter.NewHandler(r.service, httpadapter.Options{
		Cookie: httpadapter.CookieConfig{
			Path:     cfg.CookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cfg.CookieSecure,
			SameSite: httpadapter.ParseSameSite(cfg.CookieSameSite),
		},
		Metrics:        r.metrics,
		MetricsHandler: r.metrics.Handler(),
		Ready:          r.ready,
		RateLimit: httpadapter.RateLimitOptions{
			Limiter: limiter,
			Limit:   cfg.APIRateLimit,
			Window:  cfg.APIRateWindow,
		},
	})
	r.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	r.grpcServer, _ = grpcadapter.NewServer(grpcadapter.NewAuthInternalServer(r.service, tokens), r.logger)
	r.grpcAddr = fmt.Sprintf(":%d", cfg.GRPCPort)

	r.outbox = eventadapter.NewOutboxWorker(r.logger, repos.Outbox, publisher, r.metrics, eventadapter.OutboxConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})
	r.sweep = eventadapter.NewSweepWorker(r.logger, r.service, cfg.SweepInterval)
	return nil
}

func (r *Runtime) newNotifier() (*emailadapter.AsyncNotifier, error) {
	templates, err := emailadapter.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	var sender emailadapter.Sender
	if r.cfg.SMTPHost == "" {
		r.logger.Warn("smtp host not configured; emails are logged instead of sent",
			"operation", "bootstrap",
			"outcome", "warning",
		)
		sender = emailadapter.NewLoggingSender(r.logger)
	} else {
		smtp, err := emailadapter.NewSMTPSender(emailadapter.SMTPConfig{
			Host:     r.cfg.SMTPHost,
			Port:     r.cfg.SMTPPort,
			Username: r.cfg.SMTPUsername,
			Password: r.cfg.SMTPPassword,
			From:     r.cfg.SMTPFrom,
			FromName: r.cfg.SMTPFromName,
		})
		if err != nil {
			return nil, fmt.Errorf("init smtp sender: %w", err)
		}
		sender = smtp
	}
	return emailadapter.NewAsyncNotifier(r.logger, templates, sender, emailadapter.NotifierConfig{
		QueueSize:   r.cfg.EmailQueueSize,
		Workers:     r.cfg.EmailWorkers,
		SendTimeout: r.cfg.EmailTimeout,
	}), nil
}

func (r *Runtime) newPublisher() (closablePublisher, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		r.logger.Info("kafka brokers not configured; outbox events are logged",
			"operation", "bootstrap",
			"outcome", "success",
		)
		return eventadapter.NewLoggingPublisher(r.logger), nil
	}
	topics := make(map[string]string, len(application.EventTypes()))
	for _, eventType := range application.EventTypes() {
		topics[eventType] = eventType
	}
	for eventType, topic := range r.cfg.KafkaTopics {
		topics[eventType] = topic
	}
	publisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, topics, r.cfg.KafkaWriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, nil
}

func (r *Runtime) ready(ctx context.Context) error {
	if err := postgres.Ping(ctx, r.db); err != nil {
		return err
	}
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// RunAPI serves HTTP and gRPC until a signal or a server failure, then
// drains both and flushes queued email.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", r.grpcAddr)
	if err != nil {
		r.cleanup(context.Background())
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "operation", "serve_http", "outcome", "start", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "operation", "serve_grpc", "outcome", "start", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received", "operation", "shutdown", "outcome", "start")
	case runErr = <-errCh:
		r.logger.Error("server failure", "operation", "shutdown", "outcome", "failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown incomplete", "operation", "shutdown", "outcome", "warning", "error", err)
	}
	stopped := make(chan struct{})
	go func() {
		r.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		r.grpcServer.Stop()
	}
	r.cleanup(shutdownCtx)
	return runErr
}

// RunWorker relays the outbox and sweeps expired rows until a signal.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, run := range []func(context.Context) error{r.outbox.Run, r.sweep.Run} {
		wg.Add(1)
		go func(i int, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = err
				stop()
			}
		}(i, run)
	}
	r.logger.Info("worker started", "operation", "run_worker", "outcome", "start")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.cleanup(shutdownCtx)
	return errors.Join(errs...)
}

func (r *Runtime) cleanup(ctx context.Context) {
	if r.notifier != nil {
		if err := r.notifier.Close(ctx); err != nil {
			r.logger.Warn("email queue not drained", "operation", "shutdown", "outcome", "warning", "error", err)
		}
	}
	if r.publisher != nil {
		_ = r.publisher.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.db != nil {
		_ = postgres.Close(r.db)
	}
	r.logger.Info("runtime stopped", "operation", "shutdown", "outcome", "success")
}

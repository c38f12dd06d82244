package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration shared by the api and worker
// binaries.
type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	DatabaseURL    string
	RedisURL       string
	MaxDBConns     int
	MaxIdleConns   int
	MigrateOnStart bool

	KafkaBrokers      []string
	KafkaTopics       map[string]string
	KafkaWriteTimeout time.Duration

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool
	RefreshSecret     string
	JWTLeeway         time.Duration

	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	SessionTTL          time.Duration
	RememberMeTTL       time.Duration
	RotateRefreshTokens bool

	PasswordAlgorithm string
	BcryptCost        int

	FailedLoginThreshold       int
	LockoutDuration            time.Duration
	RegisterRateLimitThreshold int
	RegisterRateLimitWindow    time.Duration
	MaxCodeAttempts            int
	APIRateLimit               int
	APIRateWindow              time.Duration

	StoreTimeout   time.Duration
	EmailTimeout   time.Duration
	EmailQueueSize int
	EmailWorkers   int

	CookieSecure   bool
	CookieSameSite string
	CookiePath     string
	CookieDomain   string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	FrontendURL  string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	SweepInterval  time.Duration
	SweepRetention time.Duration
}

// configFile mirrors configs/default.yaml. Durations are strings such as
// "15m" so the file stays readable.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL    string `yaml:"postgres_url"`
		RedisURL       string `yaml:"redis_url"`
		MaxDBConns     int    `yaml:"max_db_conns"`
		MaxIdleConns   int    `yaml:"max_idle_conns"`
		MigrateOnStart *bool  `yaml:"migrate_on_start"`
	} `yaml:"dependencies"`
	Kafka struct {
		Brokers      []string          `yaml:"brokers"`
		Topics       map[string]string `yaml:"topics"`
		WriteTimeout string            `yaml:"write_timeout"`
	} `yaml:"kafka"`
	JWT struct {
		KeyID          string `yaml:"key_id"`
		AllowEphemeral *bool  `yaml:"allow_ephemeral"`
		Leeway         string `yaml:"leeway"`
	} `yaml:"jwt"`
	Auth struct {
		AccessTokenTTL      string `yaml:"access_token_ttl"`
		RefreshTokenTTL     string `yaml:"refresh_token_ttl"`
		SessionTTL          string `yaml:"session_ttl"`
		RememberMeTTL       string `yaml:"remember_me_ttl"`
		RotateRefreshTokens *bool  `yaml:"rotate_refresh_tokens"`
		PasswordAlgorithm   string `yaml:"password_algorithm"`
		BcryptCost          int    `yaml:"bcrypt_cost"`
		FailedLoginLimit    int    `yaml:"failed_login_threshold"`
		LockoutDuration     string `yaml:"lockout_duration"`
		RegisterRateLimit   int    `yaml:"register_rate_limit"`
		RegisterRateWindow  string `yaml:"register_rate_window"`
		MaxCodeAttempts     int    `yaml:"max_code_attempts"`
		APIRateLimit        int    `yaml:"api_rate_limit"`
		APIRateWindow       string `yaml:"api_rate_window"`
		StoreTimeout        string `yaml:"store_timeout"`
	} `yaml:"auth"`
	Cookie struct {
		Secure   *bool  `yaml:"secure"`
		SameSite string `yaml:"same_site"`
		Path     string `yaml:"path"`
		Domain   string `yaml:"domain"`
	} `yaml:"cookie"`
	Email struct {
		Host        string `yaml:"smtp_host"`
		Port        int    `yaml:"smtp_port"`
		From        string `yaml:"from"`
		FromName    string `yaml:"from_name"`
		Timeout     string `yaml:"timeout"`
		QueueSize   int    `yaml:"queue_size"`
		Workers     int    `yaml:"workers"`
		FrontendURL string `yaml:"frontend_url"`
	} `yaml:"email"`
	Worker struct {
		OutboxPollInterval string `yaml:"outbox_poll_interval"`
		OutboxBatchSize    int    `yaml:"outbox_batch_size"`
		OutboxClaimTTL     string `yaml:"outbox_claim_ttl"`
		OutboxMaxRetries   int    `yaml:"outbox_max_retries"`
		SweepInterval      string `yaml:"sweep_interval"`
		SweepRetention     string `yaml:"sweep_retention"`
	} `yaml:"worker"`
}

func defaultConfig() Config {
	return Config{
		ServiceID:         "school-auth",
		LogLevel:          "info",
		HTTPPort:          8080,
		GRPCPort:          9090,
		MaxDBConns:        20,
		MigrateOnStart:    true,
		KafkaTopics:       map[string]string{},
		KafkaWriteTimeout: 10 * time.Second,

		JWTKeyID:          "schoolauth-access-1",
		AllowEphemeralJWT: false,
		JWTLeeway:         30 * time.Second,

		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     7 * 24 * time.Hour,
		SessionTTL:          24 * time.Hour,
		RememberMeTTL:       7 * 24 * time.Hour,
		RotateRefreshTokens: true,

		PasswordAlgorithm: "bcrypt",
		BcryptCost:        12,

		FailedLoginThreshold:       5,
		LockoutDuration:            30 * time.Minute,
		RegisterRateLimitThreshold: 20,
		RegisterRateLimitWindow:    time.Hour,
		MaxCodeAttempts:            5,
		APIRateLimit:               200,
		APIRateWindow:              15 * time.Minute,

		StoreTimeout:   5 * time.Second,
		EmailTimeout:   10 * time.Second,
		EmailQueueSize: 256,
		EmailWorkers:   2,

		CookieSecure:   true,
		CookieSameSite: "strict",
		CookiePath:     "/api/auth",

		SMTPPort:     587,
		SMTPFromName: "School Management System",
		FrontendURL:  "http://localhost:3000",

		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxRetries:   5,

		SweepInterval:  time.Hour,
		SweepRetention: 7 * 24 * time.Hour,
	}
}

// LoadConfig resolves configuration in priority order: defaults, then the
// YAML file (a missing file is fine), then environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if err := cfg.applyFile(f); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(f configFile) error {
	setString(&c.ServiceID, f.Service.ID)
	setString(&c.LogLevel, f.Service.LogLevel)
	setInt(&c.HTTPPort, f.Service.HTTPPort)
	setInt(&c.GRPCPort, f.Service.GRPCPort)

	setString(&c.DatabaseURL, f.Dependencies.PostgresURL)
	setString(&c.RedisURL, f.Dependencies.RedisURL)
	setInt(&c.MaxDBConns, f.Dependencies.MaxDBConns)
	setInt(&c.MaxIdleConns, f.Dependencies.MaxIdleConns)
	setBool(&c.MigrateOnStart, f.Dependencies.MigrateOnStart)

	if len(f.Kafka.Brokers) > 0 {
		c.KafkaBrokers = f.Kafka.Brokers
	}
	for event, topic := range f.Kafka.Topics {
		c.KafkaTopics[event] = topic
	}

	setString(&c.JWTKeyID, f.JWT.KeyID)
	setBool(&c.AllowEphemeralJWT, f.JWT.AllowEphemeral)

	setBool(&c.RotateRefreshTokens, f.Auth.RotateRefreshTokens)
	setString(&c.PasswordAlgorithm, f.Auth.PasswordAlgorithm)
	setInt(&c.BcryptCost, f.Auth.BcryptCost)
	setInt(&c.FailedLoginThreshold, f.Auth.FailedLoginLimit)
	setInt(&c.RegisterRateLimitThreshold, f.Auth.RegisterRateLimit)
	setInt(&c.MaxCodeAttempts, f.Auth.MaxCodeAttempts)
	setInt(&c.APIRateLimit, f.Auth.APIRateLimit)

	setBool(&c.CookieSecure, f.Cookie.Secure)
	setString(&c.CookieSameSite, f.Cookie.SameSite)
	setString(&c.CookiePath, f.Cookie.Path)
	setString(&c.CookieDomain, f.Cookie.Domain)

	setString(&c.SMTPHost, f.Email.Host)
	setInt(&c.SMTPPort, f.Email.Port)
	setString(&c.SMTPFrom, f.Email.From)
	setString(&c.SMTPFromName, f.Email.FromName)
	setInt(&c.EmailQueueSize, f.Email.QueueSize)
	setInt(&c.EmailWorkers, f.Email.Workers)
	setString(&c.FrontendURL, f.Email.FrontendURL)

	setInt(&c.OutboxBatchSize, f.Worker.OutboxBatchSize)
	setInt(&c.OutboxMaxRetries, f.Worker.OutboxMaxRetries)

	durations := []struct {
		dst *time.Duration
		key string
		raw string
	}{
		{&c.KafkaWriteTimeout, "kafka.write_timeout", f.Kafka.WriteTimeout},
		{&c.JWTLeeway, "jwt.leeway", f.JWT.Leeway},
		{&c.AccessTokenTTL, "auth.access_token_ttl", f.Auth.AccessTokenTTL},
		{&c.RefreshTokenTTL, "auth.refresh_token_ttl", f.Auth.RefreshTokenTTL},
		{&c.SessionTTL, "auth.session_ttl", f.Auth.SessionTTL},
		{&c.RememberMeTTL, "auth.remember_me_ttl", f.Auth.RememberMeTTL},
		{&c.LockoutDuration, "auth.lockout_duration", f.Auth.LockoutDuration},
		{&c.RegisterRateLimitWindow, "auth.register_rate_window", f.Auth.RegisterRateWindow},
		{&c.APIRateWindow, "auth.api_rate_window", f.Auth.APIRateWindow},
		{&c.StoreTimeout, "auth.store_timeout", f.Auth.StoreTimeout},
		{&c.EmailTimeout, "email.timeout", f.Email.Timeout},
		{&c.OutboxPollInterval, "worker.outbox_poll_interval", f.Worker.OutboxPollInterval},
		{&c.OutboxClaimTTL, "worker.outbox_claim_ttl", f.Worker.OutboxClaimTTL},
		{&c.SweepInterval, "worker.sweep_interval", f.Worker.SweepInterval},
		{&c.SweepRetention, "worker.sweep_retention", f.Worker.SweepRetention},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServiceID = envOrDefault("SERVICE_ID", c.ServiceID)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.HTTPPort = envInt("HTTP_PORT", envInt("PORT", c.HTTPPort))
	c.GRPCPort = envInt("GRPC_PORT", c.GRPCPort)

	c.DatabaseURL = envOrDefault("DB_URL", envOrDefault("DATABASE_URL", c.DatabaseURL))
	c.RedisURL = envOrDefault("REDIS_URL", c.RedisURL)
	c.MaxDBConns = envInt("DB_MAX_CONNS", c.MaxDBConns)
	c.MigrateOnStart = envBool("DB_MIGRATE_ON_START", c.MigrateOnStart)

	c.KafkaBrokers = envCSV("KAFKA_BROKERS", c.KafkaBrokers)

	c.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", c.JWTPrivateKeyPEM)
	c.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", c.JWTPublicKeyPEM)
	c.JWTKeyID = envOrDefault("JWT_KEY_ID", c.JWTKeyID)
	c.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", c.AllowEphemeralJWT)
	c.RefreshSecret = envOrDefault("JWT_REFRESH_SECRET", c.RefreshSecret)

	c.AccessTokenTTL = envDuration("ACCESS_TOKEN_TTL", c.AccessTokenTTL)
	c.RefreshTokenTTL = envDuration("REFRESH_TOKEN_TTL", c.RefreshTokenTTL)
	c.SessionTTL = envDuration("SESSION_TTL", c.SessionTTL)
	c.RememberMeTTL = envDuration("REMEMBER_ME_TTL", c.RememberMeTTL)
	c.RotateRefreshTokens = envBool("ROTATE_REFRESH_TOKENS", c.RotateRefreshTokens)

	c.PasswordAlgorithm = strings.ToLower(strings.TrimSpace(envOrDefault("PASSWORD_ALGORITHM", c.PasswordAlgorithm)))
	c.BcryptCost = envInt("BCRYPT_ROUNDS", c.BcryptCost)
	c.FailedLoginThreshold = envInt("FAILED_LOGIN_THRESHOLD", c.FailedLoginThreshold)
	c.LockoutDuration = envDuration("ACCOUNT_LOCKOUT_DURATION", c.LockoutDuration)
	c.RegisterRateLimitThreshold = envInt("REGISTER_RATE_LIMIT", c.RegisterRateLimitThreshold)
	c.RegisterRateLimitWindow = envDuration("REGISTER_RATE_WINDOW", c.RegisterRateLimitWindow)
	c.MaxCodeAttempts = envInt("MAX_CODE_ATTEMPTS", c.MaxCodeAttempts)
	c.APIRateLimit = envInt("API_RATE_LIMIT", c.APIRateLimit)
	c.APIRateWindow = envDuration("API_RATE_WINDOW", c.APIRateWindow)
	c.StoreTimeout = envDuration("STORE_TIMEOUT", c.StoreTimeout)

	c.CookieSecure = envBool("COOKIE_SECURE", c.CookieSecure)
	c.CookieSameSite = strings.ToLower(strings.TrimSpace(envOrDefault("COOKIE_SAMESITE", c.CookieSameSite)))
	c.CookieDomain = envOrDefault("COOKIE_DOMAIN", c.CookieDomain)

	c.SMTPHost = envOrDefault("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = envInt("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = envOrDefault("SMTP_USER", c.SMTPUsername)
	c.SMTPPassword = envOrDefault("SMTP_PASSWORD", c.SMTPPassword)
	c.SMTPFrom = envOrDefault("SMTP_FROM", c.SMTPFrom)
	c.SMTPFromName = envOrDefault("SMTP_FROM_NAME", c.SMTPFromName)
	c.EmailTimeout = envDuration("EMAIL_TIMEOUT", c.EmailTimeout)
	c.FrontendURL = envOrDefault("FRONTEND_URL", c.FrontendURL)

	c.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", c.OutboxPollInterval)
	c.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", c.OutboxBatchSize)
	c.OutboxClaimTTL = envDuration("OUTBOX_CLAIM_TTL", c.OutboxClaimTTL)
	c.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", c.OutboxMaxRetries)
	c.SweepInterval = envDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.SweepRetention = envDuration("SWEEP_RETENTION", c.SweepRetention)
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "missing DB_URL/DATABASE_URL")
	}
	if c.RedisURL == "" {
		problems = append(problems, "missing REDIS_URL")
	}
	if !c.AllowEphemeralJWT {
		if c.JWTPrivateKeyPEM == "" || c.JWTPublicKeyPEM == "" {
			problems = append(problems, "missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
		}
		if c.RefreshSecret == "" {
			problems = append(problems, "missing JWT_REFRESH_SECRET")
		}
	}
	switch c.CookieSameSite {
	case "strict", "lax", "none":
	default:
		problems = append(problems, fmt.Sprintf("cookie same_site must be strict, lax or none, got %q", c.CookieSameSite))
	}
	switch c.PasswordAlgorithm {
	case "bcrypt", "argon2id":
	default:
		problems = append(problems, fmt.Sprintf("unsupported password algorithm %q", c.PasswordAlgorithm))
	}
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		problems = append(problems, "http and grpc ports must be positive")
	}
	if c.AccessTokenTTL <= 0 || c.SessionTTL <= 0 || c.RememberMeTTL <= 0 {
		problems = append(problems, "token and session ttls must be positive")
	}
	if c.APIRateLimit > 0 && c.APIRateWindow <= 0 {
		problems = append(problems, "api rate window must be positive when the api rate limit is set")
	}
	if c.RememberMeTTL < c.SessionTTL {
		problems = append(problems, "remember-me ttl must not be shorter than the session ttl")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return fallback
	}
	return v
}

// envDuration accepts Go duration strings ("15m", "168h").
func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}

package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// SessionTTL bounds a refresh session without remember-me.
	SessionTTL time.Duration
	// RememberMeTTL bounds a refresh session with remember-me.
	RememberMeTTL time.Duration

	FailedLoginThreshold int
	LockoutDuration      time.Duration
	// MaxCodeAttempts wrong codes per (email, type) spend the outstanding codes.
	MaxCodeAttempts int

	RegisterRateLimitThreshold int
	RegisterRateLimitWindow    time.Duration

	StoreTimeout        time.Duration
	RotateRefreshTokens bool
	// SweepRetention keeps expired and revoked rows around this long for audit.
	SweepRetention time.Duration
	FrontendURL    string
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.RememberMeTTL <= 0 {
		c.RememberMeTTL = 7 * 24 * time.Hour
	}
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 30 * time.Minute
	}
	if c.MaxCodeAttempts <= 0 {
		c.MaxCodeAttempts = domain.CodeMaxAttempts
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.SweepRetention < 0 {
		c.SweepRetention = 0
	}
	return c
}

type RegisterSchoolRequest struct {
	SchoolName         string `json:"school_name"`
	SchoolEmail        string `json:"school_email"`
	SchoolPhone        string `json:"school_phone"`
	Address            string `json:"address"`
	District           string `json:"district"`
	Region             string `json:"region"`
	Country            string `json:"country"`
	TIN                string `json:"tin"`
	RegistrationNumber string `json:"registration_number"`
	FounderName        string `json:"founder_name"`
	FounderEmail       string `json:"founder_email"`
	FounderPhone       string `json:"founder_phone"`
	FounderPassword    string `json:"founder_password"`
	AgreeTerms         bool   `json:"agree_terms"`
	AgreeAdmin         bool   `json:"agree_admin"`
	IPAddress          string `json:"-"`
}

type FounderSummary struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

type RegisterSchoolResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	School    SchoolSummary  `json:"school"`
	Founder   FounderSummary `json:"founder"`
	NextSteps []string       `json:"next_steps"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type SubscriptionSummary struct {
	PlanName     string     `json:"plan_name"`
	Status       string     `json:"status"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	TrialEndDate *time.Time `json:"trial_end_date,omitempty"`
	MaxStudents  int        `json:"max_students"`
	MaxTeachers  int        `json:"max_teachers"`
}

type VerifyEmailResult struct {
	Message      string              `json:"message"`
	School       SchoolSummary       `json:"school"`
	Subscription SubscriptionSummary `json:"subscription"`
	NextSteps    []string            `json:"next_steps"`
}

type ResendResult struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

type UserSummary struct {
	UserID        uuid.UUID   `json:"user_id"`
	Email         string      `json:"email"`
	FullName      string      `json:"full_name"`
	Phone         string      `json:"phone,omitempty"`
	Role          domain.Role `json:"role"`
	EmailVerified bool        `json:"email_verified"`
	LastLogin     *time.Time  `json:"last_login,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type SchoolSummary struct {
	SchoolID       uuid.UUID           `json:"school_id"`
	Code           string              `json:"code"`
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	Phone          string              `json:"phone,omitempty"`
	Status         domain.SchoolStatus `json:"status"`
	MembershipRole string              `json:"membership_role,omitempty"`
	VerifiedAt     *time.Time          `json:"verified_at,omitempty"`
}

// LoginResult carries the refresh token for the transport layer only; it is
// never serialized into the body.
type LoginResult struct {
	AccessToken   string         `json:"access_token"`
	TokenType     string         `json:"token_type"`
	ExpiresIn     int64          `json:"expires_in"`
	User          UserSummary    `json:"user"`
	School        *SchoolSummary `json:"school,omitempty"`
	RefreshToken  string         `json:"-"`
	RefreshMaxAge time.Duration  `json:"-"`
}

type RefreshResult struct {
	AccessToken   string        `json:"access_token"`
	TokenType     string        `json:"token_type"`
	ExpiresIn     int64         `json:"expires_in"`
	RefreshToken  string        `json:"-"`
	RefreshMaxAge time.Duration `json:"-"`
}

type CurrentUser struct {
	User   UserSummary    `json:"user"`
	School *SchoolSummary `json:"school,omitempty"`
}

// Principal is the authenticated caller behind a bearer access token.
type Principal struct {
	UserID       uuid.UUID
	Email        string
	Role         domain.Role
	SchoolID     *uuid.UUID
	SchoolCode   string
	TokenVersion int
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type SchoolProfile struct {
	School        SchoolSummary        `json:"school"`
	Address       string               `json:"address,omitempty"`
	District      string               `json:"district,omitempty"`
	Region        string               `json:"region,omitempty"`
	Country       string               `json:"country,omitempty"`
	TIN           string               `json:"tin,omitempty"`
	Registration  string               `json:"registration_number,omitempty"`
	Subscription  *SubscriptionSummary `json:"subscription,omitempty"`
	SettingsCount int64                `json:"settings_count"`
	CreatedAt     time.Time            `json:"created_at"`
}

type UpdateSchoolProfileRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	District *string `json:"district"`
	Region   *string `json:"region"`
	Country  *string `json:"country"`
}

type CodeAvailability struct {
	Code       string              `json:"code"`
	Available  bool                `json:"available"`
	SchoolName string              `json:"school_name,omitempty"`
	Status     domain.SchoolStatus `json:"status,omitempty"`
}

type SweepResult struct {
	RefreshTokens     int64 `json:"refresh_tokens"`
	VerificationCodes int64 `json:"verification_codes"`
}

package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

// FounderParams is the founder account created together with a school.
type FounderParams struct {
	Email        string
	Phone        string
	PasswordHash string
	FullName     string
}

// SchoolParams is the tenant row created in pending status.
type SchoolParams struct {
	Code               string
	Name               string
	Email              string
	Phone              string
	Address            string
	District           string
	Region             string
	Country            string
	TIN                string
	RegistrationNumber string
}

// CreateSchoolTxParams captures atomic founder+school creation inputs.
type CreateSchoolTxParams struct {
	Founder      FounderParams
	School       SchoolParams
	RegisteredAt time.Time
}

// SchoolRegistration is the committed result of a founder registration.
type SchoolRegistration struct {
	Founder domain.User
	School  domain.School
}

// ActivateSchoolParams drives the verification transaction.
type ActivateSchoolParams struct {
	FounderEmail string
	// CodeHash, when set, is consumed inside the same transaction as a
	// founder_registration code. No usable match yields domain.ErrInvalidCode
	// and a failed activation leaves the code unspent.
	CodeHash    string
	ActivatedAt time.Time
	Event       OutboxEvent
}

// SchoolActivation is what the activation transaction committed.
type SchoolActivation struct {
	School       domain.School
	Founder      domain.User
	Membership   domain.SchoolMembership
	Subscription domain.SchoolSubscription
}

// SchoolPatch carries the mutable school profile fields; nil means unchanged.
type SchoolPatch struct {
	Name     *string
	Phone    *string
	Address  *string
	District *string
	Region   *string
	Country  *string
}

// Empty reports whether the patch changes nothing.
func (p SchoolPatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.Address == nil &&
		p.District == nil && p.Region == nil && p.Country == nil
}

// UserRepository defines persistence operations for user identities.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error)
	TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	// UpdatePassword stores a new hash and bumps token_version in one statement.
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, at time.Time, event OutboxEvent) (int, error)
	BumpTokenVersion(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
}

// SchoolRepository owns tenant rows and the multi-row registration and
// activation transactions.
type SchoolRepository interface {
	CreateWithFounderTx(ctx context.Context, params CreateSchoolTxParams, event OutboxEvent) (SchoolRegistration, error)
	ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error)
	GetByCode(ctx context.Context, code string) (domain.School, error)
	GetByID(ctx context.Context, schoolID uuid.UUID) (domain.School, error)
	FindPendingByFounderEmail(ctx context.Context, email string) (domain.School, error)
	// FindForUser resolves the school a user authenticates against, either as
	// founder or through a non-removed membership.
	FindForUser(ctx context.Context, userID uuid.UUID) (domain.School, *domain.SchoolMembership, error)
	ActivateTx(ctx context.Context, params ActivateSchoolParams) (SchoolActivation, error)
	UpdateProfile(ctx context.Context, schoolID uuid.UUID, patch SchoolPatch, at time.Time) (domain.School, error)
	CurrentSubscription(ctx context.Context, schoolID uuid.UUID) (*domain.SchoolSubscription, error)
	CountSettings(ctx context.Context, schoolID uuid.UUID) (int64, error)
}

// RefreshTokenCreateParams captures a new refresh session.
type RefreshTokenCreateParams struct {
	UserID     uuid.UUID
	TokenHash  string
	ExpiresAt  time.Time
	RememberMe bool
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
}

// RefreshTokenRepository is the durable side of the refresh token registry.
type RefreshTokenRepository interface {
	Create(ctx context.Context, params RefreshTokenCreateParams) (domain.RefreshToken, error)
	// GetActiveByHash only returns unrevoked, unexpired rows.
	GetActiveByHash(ctx context.Context, tokenHash string, now time.Time) (domain.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error)
	RevokeByHash(ctx context.Context, tokenHash string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	Touch(ctx context.Context, tokenID uuid.UUID, at time.Time) error
	// RotateTx revokes currentID only if it is still unrevoked and inserts the
	// successor in the same transaction.
	RotateTx(ctx context.Context, currentID uuid.UUID, next RefreshTokenCreateParams) (domain.RefreshToken, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// VerificationCodeCreateParams captures one issued code.
type VerificationCodeCreateParams struct {
	Email     string
	CodeHash  string
	Type      domain.CodeType
	UserID    *uuid.UUID
	SchoolID  *uuid.UUID
	Metadata  map[string]string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerificationCodeRepository persists one-time codes.
type VerificationCodeRepository interface {
	// Create inserts the code and marks earlier unused codes of the same
	// (email, type) as used, atomically.
	Create(ctx context.Context, params VerificationCodeCreateParams) (domain.VerificationCode, error)
	// Consume flips used=true on the newest matching unused, unexpired row with
	// a single conditional update. No match returns domain.ErrNotFound.
	Consume(ctx context.Context, email, codeHash string, codeType domain.CodeType, at time.Time) (domain.VerificationCode, error)
	CountCreatedSince(ctx context.Context, email string, codeType domain.CodeType, since time.Time) (int64, error)
	// Invalidate marks every unused code of (email, type) used without
	// consuming any of them.
	Invalidate(ctx context.Context, email string, codeType domain.CodeType, at time.Time) (int64, error)
	Latest(ctx context.Context, email string, codeType domain.CodeType) (domain.VerificationCode, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for domain events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

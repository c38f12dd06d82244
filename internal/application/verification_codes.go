package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const alphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// VerificationCodes issues and consumes one-time email codes.
type VerificationCodes struct {
	repo    ports.VerificationCodeRepository
	timeout time.Duration
	nowFn   func() time.Time

	attempts    ports.LockoutStore
	maxAttempts int
}

func NewVerificationCodes(repo ports.VerificationCodeRepository, timeout time.Duration, clock func() time.Time) *VerificationCodes {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &VerificationCodes{repo: repo, timeout: timeout, nowFn: clock}
}

// WithAttemptLimit counts wrong guesses per (email, type) in store. After max
// misses the pair's codes are invalidated and further guesses are refused
// until a new code is issued.
func (v *VerificationCodes) WithAttemptLimit(store ports.LockoutStore, max int) *VerificationCodes {
	v.attempts = store
	v.maxAttempts = max
	return v
}

// CodeAttempt is a normalized guess whose consume may run elsewhere, such as
// inside the activation transaction.
type CodeAttempt struct {
	Email string
	Type  domain.CodeType
	Hash  string
}

type IssueCodeParams struct {
	Email    string
	Type     domain.CodeType
	UserID   *uuid.UUID
	SchoolID *uuid.UUID
	Metadata map[string]string
	// TTL overrides the per-type default when positive.
	TTL time.Duration
}

// IssuedCode holds the plain code for delivery. Only its hash is stored.
type IssuedCode struct {
	Code   string
	Record domain.VerificationCode
}

// Generate draws a code from crypto/rand. Numeric codes are zero-padded.
func (v *VerificationCodes) Generate(kind domain.CodeKind, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: code length must be positive", domain.ErrInvalidInput)
	}
	switch kind {
	case domain.CodeNumeric:
		limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate numeric code: %w", err)
		}
		return fmt.Sprintf("%0*s", length, n.String()), nil
	case domain.CodeAlphanumeric:
		var b strings.Builder
		b.Grow(length)
		size := big.NewInt(int64(len(alphanumericAlphabet)))
		for i := 0; i < length; i++ {
			n, err := rand.Int(rand.Reader, size)
			if err != nil {
				return "", fmt.Errorf("generate alphanumeric code: %w", err)
			}
			b.WriteByte(alphanumericAlphabet[n.Int64()])
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: unknown code kind %d", domain.ErrInvalidInput, kind)
	}
}

// Issue persists a fresh code. Earlier unused codes of the same (email, type)
// stop validating once it commits.
func (v *VerificationCodes) Issue(ctx context.Context, params IssueCodeParams) (IssuedCode, error) {
	policy, ok := domain.PolicyFor(params.Type)
	if !ok {
		return IssuedCode{}, domain.InvalidField("type", "unknown verification code type")
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return IssuedCode{}, domain.InvalidField("email", "email is required")
	}
	ttl := policy.TTL
	if params.TTL > 0 {
		ttl = params.TTL
	}

	code, err := v.Generate(policy.Kind, policy.Length)
	if err != nil {
		return IssuedCode{}, err
	}

	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	now := v.nowFn()
	record, err := v.repo.Create(callCtx, ports.VerificationCodeCreateParams{
		Email:     email,
		CodeHash:  hashCode(params.Type, code),
		Type:      params.Type,
		UserID:    params.UserID,
		SchoolID:  params.SchoolID,
		Metadata:  cloneMetadata(params.Metadata),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return IssuedCode{}, dependencyError("verification.issue", err)
	}
	v.clearMisses(ctx, email, params.Type)
	return IssuedCode{Code: code, Record: record}, nil
}

// Validate consumes the newest unused, unexpired code matching all three
// inputs. Unknown, expired and spent codes all return domain.ErrInvalidCode.
func (v *VerificationCodes) Validate(ctx context.Context, email, code string, codeType domain.CodeType) (domain.VerificationCode, error) {
	attempt, err := v.Begin(ctx, email, code, codeType)
	if err != nil {
		return domain.VerificationCode{}, err
	}

	callCtx, cancel := withTimeout(ctx, v.timeout)
	record, err := v.repo.Consume(callCtx, attempt.Email, attempt.Hash, codeType, v.nowFn())
	cancel()
	if errors.Is(err, domain.ErrNotFound) {
		err = domain.ErrInvalidCode
	} else if err != nil {
		err = dependencyError("verification.validate", err)
	}
	v.Finish(ctx, attempt, err)
	if err != nil {
		return domain.VerificationCode{}, err
	}
	return record, nil
}

// Begin normalizes a guess and refuses it outright once the pair has used up
// its attempts. Every Begin that returns nil must be paired with Finish.
func (v *VerificationCodes) Begin(ctx context.Context, email, code string, codeType domain.CodeType) (CodeAttempt, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.ToUpper(strings.TrimSpace(code))
	if email == "" || code == "" {
		return CodeAttempt{}, domain.ErrInvalidCode
	}
	attempt := CodeAttempt{Email: email, Type: codeType, Hash: hashCode(codeType, code)}
	if v.exhausted(ctx, attempt) {
		return CodeAttempt{}, domain.ErrInvalidCode
	}
	return attempt, nil
}

// Finish records the outcome of a guess: a wrong code counts as a miss, a
// consumed one resets the counter. Store failures count as neither.
func (v *VerificationCodes) Finish(ctx context.Context, attempt CodeAttempt, err error) {
	if v.attempts == nil || v.maxAttempts <= 0 {
		return
	}
	switch {
	case err == nil:
		v.clearMisses(ctx, attempt.Email, attempt.Type)
	case errors.Is(err, domain.ErrInvalidCode):
		v.recordMiss(ctx, attempt)
	}
}

func attemptKey(email string, codeType domain.CodeType) string {
	return "code:" + string(codeType) + ":" + email
}

func (v *VerificationCodes) exhausted(ctx context.Context, attempt CodeAttempt) bool {
	if v.attempts == nil || v.maxAttempts <= 0 {
		return false
	}
	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()
	state, err := v.attempts.Get(callCtx, attemptKey(attempt.Email, attempt.Type))
	if err != nil {
		logger().WarnContext(ctx, "code attempt state unavailable",
			"operation", "verification.validate",
			"outcome", "warning",
			"code_type", string(attempt.Type),
			"error", err,
		)
		return false
	}
	return state.LockedUntil != nil && state.LockedUntil.After(v.nowFn())
}

func (v *VerificationCodes) recordMiss(ctx context.Context, attempt CodeAttempt) {
	policy, ok := domain.PolicyFor(attempt.Type)
	if !ok {
		return
	}
	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	now := v.nowFn()
	state, err := v.attempts.RecordFailure(callCtx, attemptKey(attempt.Email, attempt.Type), now, v.maxAttempts, policy.TTL)
	if err != nil {
		logger().WarnContext(ctx, "code attempt not recorded",
			"operation", "verification.validate",
			"outcome", "warning",
			"code_type", string(attempt.Type),
			"error", err,
		)
		return
	}
	if state.LockedUntil == nil || !state.LockedUntil.After(now) {
		return
	}
	n, err := v.repo.Invalidate(callCtx, attempt.Email, attempt.Type, now)
	if err != nil {
		logger().ErrorContext(ctx, "codes not invalidated after repeated misses",
			"operation", "verification.validate",
			"outcome", "failure",
			"code_type", string(attempt.Type),
			"error", err,
		)
		return
	}
	logger().WarnContext(ctx, "verification codes invalidated after repeated misses",
		"operation", "verification.validate",
		"outcome", "blocked",
		"code_type", string(attempt.Type),
		"invalidated", n,
	)
}

func (v *VerificationCodes) clearMisses(ctx context.Context, email string, codeType domain.CodeType) {
	if v.attempts == nil || v.maxAttempts <= 0 {
		return
	}
	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()
	_ = v.attempts.Clear(callCtx, attemptKey(email, codeType))
}

// Throttled reports whether (email, type) already has ResendLimit codes in
// the trailing ResendWindow.
func (v *VerificationCodes) Throttled(ctx context.Context, email string, codeType domain.CodeType) (bool, error) {
	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	since := v.nowFn().Add(-domain.ResendWindow)
	count, err := v.repo.CountCreatedSince(callCtx, strings.ToLower(strings.TrimSpace(email)), codeType, since)
	if err != nil {
		return false, dependencyError("verification.count_recent", err)
	}
	return count >= domain.ResendLimit, nil
}

// Resend issues a new code carrying the newest prior code's context.
func (v *VerificationCodes) Resend(ctx context.Context, email string, codeType domain.CodeType) (IssuedCode, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	throttled, err := v.Throttled(ctx, email, codeType)
	if err != nil {
		return IssuedCode{}, err
	}
	if throttled {
		return IssuedCode{}, domain.ErrRateLimited
	}

	callCtx, cancel := withTimeout(ctx, v.timeout)
	previous, err := v.repo.Latest(callCtx, email, codeType)
	cancel()
	if err != nil {
		return IssuedCode{}, dependencyError("verification.latest", err)
	}

	return v.Issue(ctx, IssueCodeParams{
		Email:    email,
		Type:     codeType,
		UserID:   previous.UserID,
		SchoolID: previous.SchoolID,
		Metadata: previous.Metadata,
	})
}

// Sweep deletes codes that expired before cutoff.
func (v *VerificationCodes) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	n, err := v.repo.DeleteExpired(callCtx, cutoff)
	if err != nil {
		return 0, dependencyError("verification.sweep", err)
	}
	return n, nil
}

// hashCode binds the code to its type so a code for one flow never matches
// another flow's row.
func hashCode(codeType domain.CodeType, code string) string {
	return hashToken(string(codeType) + ":" + strings.ToUpper(code))
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package application

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const schoolCodeAttempts = 10

// RegisterSchool creates a pending school and its founder in one transaction,
// then issues the founder verification code. Code issuance and email delivery
// are best effort; the committed registration stands either way.
func (s *Service) RegisterSchool(ctx context.Context, req RegisterSchoolRequest) (res RegisterSchoolResult, err error) {
	defer func() { s.observe("register_school", err) }()

	params, err := validateRegistration(req)
	if err != nil {
		return RegisterSchoolResult{}, err
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.enforceRateLimit(ctx, "register:ip:"+ip, s.cfg.RegisterRateLimitThreshold, s.cfg.RegisterRateLimitWindow); err != nil {
			return RegisterSchoolResult{}, err
		}
	}

	if err := s.ensureRegistrationUnique(ctx, params); err != nil {
		return RegisterSchoolResult{}, err
	}

	passwordHash, err := s.hasher.Hash(req.FounderPassword)
	if err != nil {
		return RegisterSchoolResult{}, fmt.Errorf("hash password: %w", err)
	}
	params.Founder.PasswordHash = passwordHash

	code, err := s.generateSchoolCode(ctx)
	if err != nil {
		return RegisterSchoolResult{}, err
	}
	params.School.Code = code
	params.RegisteredAt = s.nowFn()

	payload, _ := json.Marshal(map[string]any{
		"school_code":   params.School.Code,
		"school_email":  params.School.Email,
		"founder_email": params.Founder.Email,
		"registered_at": params.RegisteredAt,
	})
	event := ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventTypeSchoolRegistered,
		PartitionKey: params.School.Code,
		Payload:      payload,
		OccurredAt:   params.RegisteredAt,
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	created, err := s.schools.CreateWithFounderTx(callCtx, params, event)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return RegisterSchoolResult{}, fmt.Errorf("%w: email or phone already registered", domain.ErrConflict)
		}
		return RegisterSchoolResult{}, dependencyError("register_school", err)
	}

	s.sendFounderCode(ctx, created)

	logger().InfoContext(ctx, "school registered",
		"operation", "register_school",
		"outcome", "success",
		"school_id", created.School.SchoolID,
		"school_code", created.School.Code,
	)

	return RegisterSchoolResult{
		Status:  "pending_verification",
		Message: "registration received, check the founder email for a verification code",
		School:  summarizeSchool(created.School, nil),
		Founder: FounderSummary{
			UserID:   created.Founder.UserID,
			Email:    created.Founder.Email,
			FullName: created.Founder.FullName,
		},
		NextSteps: []string{
			"enter the verification code sent to " + created.Founder.Email,
			"log in once the school is activated",
		},
	}, nil
}

func (s *Service) sendFounderCode(ctx context.Context, created ports.SchoolRegistration) {
	founderID := created.Founder.UserID
	schoolID := created.School.SchoolID
	issued, err := s.codes.Issue(ctx, IssueCodeParams{
		Email:    created.Founder.Email,
		Type:     domain.CodeFounderRegistration,
		UserID:   &founderID,
		SchoolID: &schoolID,
		Metadata: map[string]string{
			"founder_name": created.Founder.FullName,
			"school_name":  created.School.Name,
			"school_code":  created.School.Code,
			"school_id":    created.School.SchoolID.String(),
		},
	})
	if err != nil {
		logger().WarnContext(ctx, "founder verification code not issued",
			"operation", "register_school",
			"outcome", "warning",
			"school_id", schoolID,
			"error", err,
		)
		return
	}
	s.notify(ctx, "register_school", s.founderCodeEmail(created.Founder.Email, issued))
}

func (s *Service) founderCodeEmail(recipient string, issued IssuedCode) ports.EmailMessage {
	data := cloneMetadata(issued.Record.Metadata)
	data["code"] = issued.Code
	data["expires_minutes"] = strconv.Itoa(int(issued.Record.ExpiresAt.Sub(issued.Record.CreatedAt).Minutes()))
	data["frontend_url"] = s.cfg.FrontendURL
	return ports.EmailMessage{Kind: ports.EmailFounderVerification, Recipient: recipient, Data: data}
}

// VerifyEmail consumes the founder code and activates the school with its
// membership, trial subscription and default settings in one transaction. A
// failed activation leaves the code usable.
func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) (res VerifyEmailResult, err error) {
	defer func() { s.observe("verify_email", err) }()

	email, err := domain.NormalizeEmail("email", req.Email)
	if err != nil {
		return VerifyEmailResult{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return VerifyEmailResult{}, domain.InvalidField("code", "verification code is required")
	}

	attempt, err := s.codes.Begin(ctx, email, req.Code, domain.CodeFounderRegistration)
	if err != nil {
		return VerifyEmailResult{}, err
	}

	now := s.nowFn()
	payload, _ := json.Marshal(map[string]any{
		"founder_email": email,
		"activated_at":  now,
	})

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	activation, err := s.schools.ActivateTx(callCtx, ports.ActivateSchoolParams{
		FounderEmail: email,
		CodeHash:     attempt.Hash,
		ActivatedAt:  now,
		Event: ports.OutboxEvent{
			EventID:      uuid.New(),
			EventType:    eventTypeSchoolActivated,
			PartitionKey: email,
			Payload:      payload,
			OccurredAt:   now,
		},
	})
	cancel()
	s.codes.Finish(ctx, attempt, err)
	if err != nil {
		return VerifyEmailResult{}, dependencyError("verify_email", err)
	}

	s.notify(ctx, "verify_email", ports.EmailMessage{
		Kind:      ports.EmailSchoolActivated,
		Recipient: activation.Founder.Email,
		Data: map[string]string{
			"founder_name": activation.Founder.FullName,
			"school_name":  activation.School.Name,
			"school_code":  activation.School.Code,
			"trial_ends":   activation.Subscription.EndDate.Format("2006-01-02"),
			"frontend_url": s.cfg.FrontendURL,
		},
	})

	logger().InfoContext(ctx, "school activated",
		"operation", "verify_email",
		"outcome", "success",
		"school_id", activation.School.SchoolID,
	)

	return VerifyEmailResult{
		Message:      "email verified, the school is now active",
		School:       summarizeSchool(activation.School, &activation.Membership),
		Subscription: summarizeSubscription(activation.Subscription),
		NextSteps: []string{
			"log in with the founder email and password",
			"complete the school profile",
		},
	}, nil
}

// ResendVerification issues a fresh founder code for a still-pending school.
// Here the email is the whole deliverable, so a failed hand-off is an error.
func (s *Service) ResendVerification(ctx context.Context, email string) (res ResendResult, err error) {
	defer func() { s.observe("resend_verification", err) }()

	normalized, err := domain.NormalizeEmail("email", email)
	if err != nil {
		return ResendResult{}, err
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	_, err = s.schools.FindPendingByFounderEmail(callCtx, normalized)
	cancel()
	if err != nil {
		return ResendResult{}, dependencyError("resend_verification", err)
	}

	issued, err := s.codes.Resend(ctx, normalized, domain.CodeFounderRegistration)
	if err != nil {
		return ResendResult{}, err
	}
	if err := s.send(ctx, s.founderCodeEmail(normalized, issued)); err != nil {
		return ResendResult{}, fmt.Errorf("%w: send verification email: %v", domain.ErrDependency, err)
	}

	return ResendResult{
		Message:   "a new verification code has been sent",
		ExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

// CheckSchoolCode reports whether a school code is free.
func (s *Service) CheckSchoolCode(ctx context.Context, code string) (CodeAvailability, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return CodeAvailability{}, domain.InvalidField("code", "code is required")
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	school, err := s.schools.GetByCode(callCtx, normalized)
	if errors.Is(err, domain.ErrNotFound) {
		return CodeAvailability{Code: normalized, Available: true}, nil
	}
	if err != nil {
		return CodeAvailability{}, dependencyError("check_school_code", err)
	}
	return CodeAvailability{
		Code:       normalized,
		Available:  false,
		SchoolName: school.Name,
		Status:     school.Status,
	}, nil
}

func (s *Service) ensureRegistrationUnique(ctx context.Context, params ports.CreateSchoolTxParams) error {
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	_, err := s.users.GetByEmail(callCtx, params.Founder.Email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: founder email already registered", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return dependencyError("register_school.check_user", err)
	}

	exists, err := s.schools.ExistsByEmailOrPhone(callCtx, params.School.Email, params.School.Phone)
	if err != nil {
		return dependencyError("register_school.check_school", err)
	}
	if exists {
		return fmt.Errorf("%w: school email or phone already registered", domain.ErrConflict)
	}
	return nil
}

// generateSchoolCode picks a free SCH-NNNN code, falling back to a
// time-derived SCH-T code after repeated collisions.
func (s *Service) generateSchoolCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < schoolCodeAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", fmt.Errorf("generate school code: %w", err)
		}
		code := fmt.Sprintf("SCH-%04d", n.Int64())

		callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
		_, err = s.schools.GetByCode(callCtx, code)
		cancel()
		if errors.Is(err, domain.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", dependencyError("register_school.code", err)
		}
	}
	return fmt.Sprintf("SCH-T%08d", s.nowFn().UnixMilli()%100000000), nil
}

func validateRegistration(req RegisterSchoolRequest) (ports.CreateSchoolTxParams, error) {
	var params ports.CreateSchoolTxParams
	var err error

	if params.School.Name, err = requireText("school_name", req.SchoolName); err != nil {
		return params, err
	}
	if params.School.Email, err = domain.NormalizeEmail("school_email", req.SchoolEmail); err != nil {
		return params, err
	}
	if params.School.Phone, err = domain.NormalizePhone("school_phone", req.SchoolPhone); err != nil {
		return params, err
	}
	if params.Founder.FullName, err = requireText("founder_name", req.FounderName); err != nil {
		return params, err
	}
	if params.Founder.Email, err = domain.NormalizeEmail("founder_email", req.FounderEmail); err != nil {
		return params, err
	}
	if params.Founder.Phone, err = domain.NormalizePhone("founder_phone", req.FounderPhone); err != nil {
		return params, err
	}
	if req.FounderPassword == "" {
		return params, domain.InvalidField("founder_password", "founder_password is required")
	}
	if err := domain.ValidatePassword(req.FounderPassword); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return params, domain.InvalidField("founder_password", verr.Message)
		}
		return params, err
	}
	if !req.AgreeTerms {
		return params, domain.InvalidField("agree_terms", "terms must be accepted")
	}
	if !req.AgreeAdmin {
		return params, domain.InvalidField("agree_admin", "administrator responsibilities must be accepted")
	}

	params.School.Address = strings.TrimSpace(req.Address)
	params.School.District = strings.TrimSpace(req.District)
	params.School.Region = strings.TrimSpace(req.Region)
	params.School.Country = strings.TrimSpace(req.Country)
	if params.School.Country == "" {
		params.School.Country = domain.DefaultCountry
	}
	params.School.TIN = strings.TrimSpace(req.TIN)
	params.School.RegistrationNumber = strings.TrimSpace(req.RegistrationNumber)
	return params, nil
}

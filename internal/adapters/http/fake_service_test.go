package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

type fakeAccount struct {
	user     application.UserSummary
	password string
	code     string
	school   application.SchoolSummary
}

// fakeService is a small stateful stand-in for the application core, enough
// to drive the transport through the founder flow.
type fakeService struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
	access   map[string]string
	refresh  map[string]string
	seq      int
	failWith error
}

func newFakeService() *fakeService {
	return &fakeService{
		accounts: map[string]*fakeAccount{},
		access:   map[string]string{},
		refresh:  map[string]string{},
	}
}

func (f *fakeService) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeService) RegisterSchool(_ context.Context, req application.RegisterSchoolRequest) (application.RegisterSchoolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.FounderEmail == "" {
		return application.RegisterSchoolResult{}, domain.InvalidField("founder_email", "founder email is required")
	}
	if _, ok := f.accounts[req.FounderEmail]; ok {
		return application.RegisterSchoolResult{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	acct := &fakeAccount{
		user:     application.UserSummary{UserID: uuid.New(), Email: req.FounderEmail, FullName: req.FounderName, Role: domain.RolePendingAdmin},
		password: req.FounderPassword,
		code:     "123456",
		school:   application.SchoolSummary{SchoolID: uuid.New(), Code: "SCH-0001", Name: req.SchoolName, Status: domain.SchoolPending},
	}
	f.accounts[req.FounderEmail] = acct
	return application.RegisterSchoolResult{
		Status:  "pending_verification",
		Message: "Registration received",
		School:  acct.school,
		Founder: application.FounderSummary{UserID: acct.user.UserID, Email: acct.user.Email, FullName: acct.user.FullName},
	}, nil
}

func (f *fakeService) VerifyEmail(_ context.Context, req application.VerifyEmailRequest) (application.VerifyEmailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[req.Email]
	if !ok || acct.code == "" || acct.code != req.Code {
		return application.VerifyEmailResult{}, domain.ErrInvalidCode
	}
	acct.code = ""
	acct.user.EmailVerified = true
	acct.user.Role = domain.RoleSuperAdmin
	acct.school.Status = domain.SchoolActive
	return application.VerifyEmailResult{Message: "Email verified", School: acct.school}, nil
}

func (f *fakeService) ResendVerification(context.Context, string) (application.ResendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return application.ResendResult{}, f.failWith
	}
	return application.ResendResult{Message: "Verification code resent"}, nil
}

func (f *fakeService) CheckSchoolCode(_ context.Context, code string) (application.CodeAvailability, error) {
	return application.CodeAvailability{Code: code, Available: true}, nil
}

func (f *fakeService) GetSchoolProfile(_ context.Context, principal application.Principal) (application.SchoolProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[principal.Email]
	if !ok {
		return application.SchoolProfile{}, domain.ErrNotFound
	}
	return application.SchoolProfile{School: acct.school}, nil
}

func (f *fakeService) UpdateSchoolProfile(_ context.Context, principal application.Principal, req application.UpdateSchoolProfileRequest) (application.SchoolProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if principal.Role != domain.RoleSuperAdmin && principal.Role != domain.RoleSchoolAdmin {
		return application.SchoolProfile{}, domain.ErrForbidden
	}
	acct := f.accounts[principal.Email]
	if req.Name != nil {
		acct.school.Name = *req.Name
	}
	return application.SchoolProfile{School: acct.school}, nil
}

func (f *fakeService) Login(_ context.Context, req application.LoginRequest) (application.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[req.Email]
	if !ok || acct.password != req.Password {
		return application.LoginResult{}, domain.ErrInvalidCredentials
	}
	if !acct.user.EmailVerified {
		return application.LoginResult{}, domain.ErrEmailNotVerified
	}
	access, refresh := f.next("access"), f.next("refresh")
	f.access[access] = req.Email
	f.refresh[refresh] = req.Email
	maxAge := 24 * time.Hour
	if req.RememberMe {
		maxAge = 7 * 24 * time.Hour
	}
	school := acct.school
	return application.LoginResult{
		AccessToken:   access,
		TokenType:     "Bearer",
		ExpiresIn:     900,
		User:          acct.user,
		School:        &school,
		RefreshToken:  refresh,
		RefreshMaxAge: maxAge,
	}, nil
}

func (f *fakeService) RefreshAccessToken(_ context.Context, rawToken string, _ domain.DeviceInfo) (application.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.refresh[rawToken]
	if !ok {
		return application.RefreshResult{}, domain.ErrUnauthorized
	}
	delete(f.refresh, rawToken)
	access, refresh := f.next("access"), f.next("refresh")
	f.access[access] = email
	f.refresh[refresh] = email
	return application.RefreshResult{AccessToken: access, TokenType: "Bearer", ExpiresIn: 900, RefreshToken: refresh, RefreshMaxAge: 24 * time.Hour}, nil
}

func (f *fakeService) Logout(_ context.Context, rawToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, rawToken)
}

func (f *fakeService) LogoutAllDevices(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for raw, email := range f.refresh {
		if f.accounts[email].user.UserID == userID {
			delete(f.refresh, raw)
			n++
		}
	}
	return n, nil
}

func (f *fakeService) GetCurrentUser(_ context.Context, userID uuid.UUID) (application.CurrentUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.user.UserID == userID {
			school := acct.school
			return application.CurrentUser{User: acct.user, School: &school}, nil
		}
	}
	return application.CurrentUser{}, domain.ErrNotFound
}

func (f *fakeService) AuthenticateAccessToken(_ context.Context, rawToken string) (application.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.access[rawToken]
	if !ok {
		return application.Principal{}, domain.ErrUnauthorized
	}
	acct := f.accounts[email]
	return application.Principal{UserID: acct.user.UserID, Email: email, Role: acct.user.Role}, nil
}

func (f *fakeService) RequestPasswordReset(context.Context, string) error { return nil }

func (f *fakeService) ResetPassword(context.Context, application.ResetPasswordRequest) error {
	return domain.ErrInvalidCode
}

func (f *fakeService) ChangePassword(_ context.Context, userID uuid.UUID, req application.ChangePasswordRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.user.UserID == userID {
			if acct.password != req.CurrentPassword {
				return domain.ErrInvalidCredentials
			}
			acct.password = req.NewPassword
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeHTTPMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *fakeHTTPMetrics) ObserveHTTP(method, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	keys   []string
	err    error
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

package application_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is one in-memory database shared by every repository fake so that
// transactions spanning users and schools behave like the postgres adapter.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]domain.User
	schools       map[uuid.UUID]domain.School
	memberships   []domain.SchoolMembership
	subscriptions map[uuid.UUID]domain.SchoolSubscription
	settings      map[uuid.UUID][]domain.SchoolSetting
	refresh       []domain.RefreshToken
	codes         []domain.VerificationCode
	outbox        []ports.OutboxEvent
	failWith      error
	// failActivation is returned by the next ActivateTx only.
	failActivation error
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[uuid.UUID]domain.User{},
		schools:       map[uuid.UUID]domain.School{},
		subscriptions: map[uuid.UUID]domain.SchoolSubscription{},
		settings:      map[uuid.UUID][]domain.SchoolSetting{},
	}
}

func (m *memStore) userByEmail(email string) (domain.User, bool) {
	for _, u := range m.users {
		if u.Email == email {
			return u, true
		}
	}
	return domain.User{}, false
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.outbox))
	for _, ev := range m.outbox {
		out = append(out, ev.EventType)
	}
	return out
}

type fakeUsers struct{ st *memStore }

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.User{}, f.st.failWith
	}
	u, ok := f.st.userByEmail(email)
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, userID uuid.UUID) (domain.User, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.User{}, f.st.failWith
	}
	u, ok := f.st.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, userID uuid.UUID, at time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.LastLogin = &at
	f.st.users[userID] = u
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string, at time.Time, event ports.OutboxEvent) (int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.TokenVersion++
	u.UpdatedAt = at
	f.st.users[userID] = u
	f.st.outbox = append(f.st.outbox, event)
	return u.TokenVersion, nil
}

func (f *fakeUsers) BumpTokenVersion(_ context.Context, userID uuid.UUID, at time.Time) (int, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	u, ok := f.st.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.TokenVersion++
	u.UpdatedAt = at
	f.st.users[userID] = u
	return u.TokenVersion, nil
}

type fakeSchools struct{ st *memStore }

func (f *fakeSchools) CreateWithFounderTx(_ context.Context, params ports.CreateSchoolTxParams, event ports.OutboxEvent) (ports.SchoolRegistration, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return ports.SchoolRegistration{}, f.st.failWith
	}
	if _, ok := f.st.userByEmail(params.Founder.Email); ok {
		return ports.SchoolRegistration{}, domain.ErrConflict
	}
	for _, s := range f.st.schools {
		if s.Email == params.School.Email || s.Phone == params.School.Phone || s.Code == params.School.Code {
			return ports.SchoolRegistration{}, domain.ErrConflict
		}
	}
	founder := domain.User{
		UserID:       uuid.New(),
		Email:        params.Founder.Email,
		PasswordHash: params.Founder.PasswordHash,
		FullName:     params.Founder.FullName,
		Phone:        params.Founder.Phone,
		Role:         domain.RolePendingAdmin,
		IsActive:     true,
		TokenVersion: domain.InitialTokenVersion,
		CreatedAt:    params.RegisteredAt,
		UpdatedAt:    params.RegisteredAt,
	}
	founderID := founder.UserID
	school := domain.School{
		SchoolID:           uuid.New(),
		Code:               params.School.Code,
		Name:               params.School.Name,
		Email:              params.School.Email,
		Phone:              params.School.Phone,
		Address:            params.School.Address,
		District:           params.School.District,
		Region:             params.School.Region,
		Country:            params.School.Country,
		Status:             domain.SchoolPending,
		FounderUserID:      &founderID,
		TIN:                params.School.TIN,
		RegistrationNumber: params.School.RegistrationNumber,
		CreatedAt:          params.RegisteredAt,
		UpdatedAt:          params.RegisteredAt,
	}
	f.st.users[founder.UserID] = founder
	f.st.schools[school.SchoolID] = school
	f.st.outbox = append(f.st.outbox, event)
	return ports.SchoolRegistration{Founder: founder, School: school}, nil
}

func (f *fakeSchools) ExistsByEmailOrPhone(_ context.Context, email, phone string) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, s := range f.st.schools {
		if s.Email == email || s.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSchools) GetByCode(_ context.Context, code string) (domain.School, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, s := range f.st.schools {
		if s.Code == code {
			return s, nil
		}
	}
	return domain.School{}, domain.ErrNotFound
}

func (f *fakeSchools) GetByID(_ context.Context, schoolID uuid.UUID) (domain.School, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.schools[schoolID]
	if !ok {
		return domain.School{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSchools) pendingByFounder(email string) (domain.School, domain.User, bool) {
	founder, ok := f.st.userByEmail(email)
	if !ok {
		return domain.School{}, domain.User{}, false
	}
	for _, s := range f.st.schools {
		if s.FounderUserID != nil && *s.FounderUserID == founder.UserID && s.Status == domain.SchoolPending {
			return s, founder, true
		}
	}
	return domain.School{}, domain.User{}, false
}

func (f *fakeSchools) FindPendingByFounderEmail(_ context.Context, email string) (domain.School, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, _, ok := f.pendingByFounder(email)
	if !ok {
		return domain.School{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSchools) FindForUser(_ context.Context, userID uuid.UUID) (domain.School, *domain.SchoolMembership, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for i := range f.st.memberships {
		m := f.st.memberships[i]
		if m.UserID == userID && m.RemovedAt == nil {
			return f.st.schools[m.SchoolID], &m, nil
		}
	}
	for _, s := range f.st.schools {
		if s.FounderUserID != nil && *s.FounderUserID == userID {
			return s, nil, nil
		}
	}
	return domain.School{}, nil, domain.ErrNotFound
}

func (f *fakeSchools) ActivateTx(_ context.Context, params ports.ActivateSchoolParams) (ports.SchoolActivation, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return ports.SchoolActivation{}, f.st.failWith
	}
	codeIdx := -1
	if params.CodeHash != "" {
		codeIdx = newestUsableCode(f.st.codes, params.FounderEmail, params.CodeHash, domain.CodeFounderRegistration, params.ActivatedAt)
		if codeIdx < 0 {
			return ports.SchoolActivation{}, domain.ErrInvalidCode
		}
	}
	if err := f.st.failActivation; err != nil {
		f.st.failActivation = nil
		return ports.SchoolActivation{}, err
	}
	school, founder, ok := f.pendingByFounder(params.FounderEmail)
	if !ok {
		return ports.SchoolActivation{}, domain.ErrNotFound
	}
	at := params.ActivatedAt
	if codeIdx >= 0 {
		f.st.codes[codeIdx].Used = true
		f.st.codes[codeIdx].UsedAt = &at
	}
	school.Status = domain.SchoolActive
	school.VerifiedAt = &at
	founder.Role = domain.RoleSuperAdmin
	founder.EmailVerified = true
	membership := domain.SchoolMembership{
		MembershipID:     uuid.New(),
		SchoolID:         school.SchoolID,
		UserID:           founder.UserID,
		Role:             domain.MembershipSuperAdmin,
		Permissions:      append([]string(nil), domain.FounderPermissions...),
		IsPrimaryContact: true,
		CreatedAt:        at,
	}
	sub := domain.NewTrialSubscription(school.SchoolID, at)
	sub.SubscriptionID = uuid.New()

	f.st.schools[school.SchoolID] = school
	f.st.users[founder.UserID] = founder
	f.st.memberships = append(f.st.memberships, membership)
	f.st.subscriptions[school.SchoolID] = sub
	f.st.settings[school.SchoolID] = domain.DefaultSchoolSettings(school.SchoolID)
	f.st.outbox = append(f.st.outbox, params.Event)
	return ports.SchoolActivation{School: school, Founder: founder, Membership: membership, Subscription: sub}, nil
}

func (f *fakeSchools) UpdateProfile(_ context.Context, schoolID uuid.UUID, patch ports.SchoolPatch, at time.Time) (domain.School, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.schools[schoolID]
	if !ok {
		return domain.School{}, domain.ErrNotFound
	}
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Phone != nil {
		s.Phone = *patch.Phone
	}
	if patch.Address != nil {
		s.Address = *patch.Address
	}
	if patch.District != nil {
		s.District = *patch.District
	}
	if patch.Region != nil {
		s.Region = *patch.Region
	}
	if patch.Country != nil {
		s.Country = *patch.Country
	}
	s.UpdatedAt = at
	f.st.schools[schoolID] = s
	return s, nil
}

func (f *fakeSchools) CurrentSubscription(_ context.Context, schoolID uuid.UUID) (*domain.SchoolSubscription, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	sub, ok := f.st.subscriptions[schoolID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (f *fakeSchools) CountSettings(_ context.Context, schoolID uuid.UUID) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return int64(len(f.st.settings[schoolID])), nil
}

type fakeRefreshTokens struct{ st *memStore }

func (f *fakeRefreshTokens) Create(_ context.Context, params ports.RefreshTokenCreateParams) (domain.RefreshToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.RefreshToken{}, f.st.failWith
	}
	return f.insert(params)
}

func (f *fakeRefreshTokens) insert(params ports.RefreshTokenCreateParams) (domain.RefreshToken, error) {
	for _, t := range f.st.refresh {
		if t.TokenHash == params.TokenHash {
			return domain.RefreshToken{}, domain.ErrConflict
		}
	}
	rec := domain.RefreshToken{
		ID:         uuid.New(),
		UserID:     params.UserID,
		TokenHash:  params.TokenHash,
		ExpiresAt:  params.ExpiresAt,
		RememberMe: params.RememberMe,
		UserAgent:  params.UserAgent,
		IPAddress:  params.IPAddress,
		CreatedAt:  params.CreatedAt,
	}
	f.st.refresh = append(f.st.refresh, rec)
	return rec, nil
}

func (f *fakeRefreshTokens) GetActiveByHash(_ context.Context, tokenHash string, now time.Time) (domain.RefreshToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.RefreshToken{}, f.st.failWith
	}
	for _, t := range f.st.refresh {
		if t.TokenHash == tokenHash && t.Usable(now) {
			return t, nil
		}
	}
	return domain.RefreshToken{}, domain.ErrNotFound
}

func (f *fakeRefreshTokens) GetByHash(_ context.Context, tokenHash string) (domain.RefreshToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, t := range f.st.refresh {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return domain.RefreshToken{}, domain.ErrNotFound
}

func (f *fakeRefreshTokens) RevokeByHash(_ context.Context, tokenHash string, at time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for i := range f.st.refresh {
		if f.st.refresh[i].TokenHash == tokenHash && !f.st.refresh[i].Revoked {
			f.st.refresh[i].Revoked = true
			f.st.refresh[i].RevokedAt = &at
		}
	}
	return nil
}

func (f *fakeRefreshTokens) RevokeAllByUser(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var n int64
	for i := range f.st.refresh {
		if f.st.refresh[i].UserID == userID && !f.st.refresh[i].Revoked {
			f.st.refresh[i].Revoked = true
			f.st.refresh[i].RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshTokens) Touch(_ context.Context, tokenID uuid.UUID, at time.Time) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for i := range f.st.refresh {
		if f.st.refresh[i].ID == tokenID {
			f.st.refresh[i].LastUsedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeRefreshTokens) RotateTx(_ context.Context, currentID uuid.UUID, next ports.RefreshTokenCreateParams) (domain.RefreshToken, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	idx := -1
	for i := range f.st.refresh {
		if f.st.refresh[i].ID == currentID && !f.st.refresh[i].Revoked {
			idx = i
		}
	}
	if idx < 0 {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	rec, err := f.insert(next)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	at := next.CreatedAt
	f.st.refresh[idx].Revoked = true
	f.st.refresh[idx].RevokedAt = &at
	f.st.refresh[idx].ReplacedBy = &rec.ID
	return rec, nil
}

func (f *fakeRefreshTokens) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	kept := f.st.refresh[:0]
	var n int64
	for _, t := range f.st.refresh {
		if t.ExpiresAt.Before(before) || (t.RevokedAt != nil && t.RevokedAt.Before(before)) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	f.st.refresh = kept
	return n, nil
}

func (f *fakeRefreshTokens) forUser(userID uuid.UUID) []domain.RefreshToken {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range f.st.refresh {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

type fakeCodes struct{ st *memStore }

func (f *fakeCodes) Create(_ context.Context, params ports.VerificationCodeCreateParams) (domain.VerificationCode, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.VerificationCode{}, f.st.failWith
	}
	for i := range f.st.codes {
		c := &f.st.codes[i]
		if c.Email == params.Email && c.Type == params.Type && !c.Used {
			at := params.CreatedAt
			c.Used = true
			c.UsedAt = &at
		}
	}
	rec := domain.VerificationCode{
		ID:        uuid.New(),
		Email:     params.Email,
		CodeHash:  params.CodeHash,
		Type:      params.Type,
		UserID:    params.UserID,
		SchoolID:  params.SchoolID,
		Metadata:  params.Metadata,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: params.CreatedAt,
	}
	f.st.codes = append(f.st.codes, rec)
	return rec, nil
}

func (f *fakeCodes) Consume(_ context.Context, email, codeHash string, codeType domain.CodeType, at time.Time) (domain.VerificationCode, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return domain.VerificationCode{}, f.st.failWith
	}
	idx := newestUsableCode(f.st.codes, email, codeHash, codeType, at)
	if idx < 0 {
		return domain.VerificationCode{}, domain.ErrNotFound
	}
	f.st.codes[idx].Used = true
	f.st.codes[idx].UsedAt = &at
	return f.st.codes[idx], nil
}

func newestUsableCode(codes []domain.VerificationCode, email, codeHash string, codeType domain.CodeType, at time.Time) int {
	idx := -1
	for i, c := range codes {
		if c.Email == email && c.CodeHash == codeHash && c.Type == codeType && !c.Used && c.ExpiresAt.After(at) {
			if idx < 0 || c.CreatedAt.After(codes[idx].CreatedAt) {
				idx = i
			}
		}
	}
	return idx
}

func (f *fakeCodes) Invalidate(_ context.Context, email string, codeType domain.CodeType, at time.Time) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if f.st.failWith != nil {
		return 0, f.st.failWith
	}
	var n int64
	for i := range f.st.codes {
		c := &f.st.codes[i]
		if c.Email == email && c.Type == codeType && !c.Used {
			c.Used = true
			c.UsedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeCodes) CountCreatedSince(_ context.Context, email string, codeType domain.CodeType, since time.Time) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var n int64
	for _, c := range f.st.codes {
		if c.Email == email && c.Type == codeType && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCodes) Latest(_ context.Context, email string, codeType domain.CodeType) (domain.VerificationCode, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var matches []domain.VerificationCode
	for _, c := range f.st.codes {
		if c.Email == email && c.Type == codeType {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return domain.VerificationCode{}, domain.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches[0], nil
}

func (f *fakeCodes) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	kept := f.st.codes[:0]
	var n int64
	for _, c := range f.st.codes {
		if c.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	f.st.codes = kept
	return n, nil
}

type fakeOutbox struct{ st *memStore }

func (f *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.outbox = append(f.st.outbox, event)
	return nil
}

func (f *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.OutboxRecord, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (f *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

type fakeLockouts struct {
	mu    sync.Mutex
	state map[string]ports.LockoutState
}

func (f *fakeLockouts) Get(_ context.Context, key string) (ports.LockoutState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key], nil
}

func (f *fakeLockouts) RecordFailure(_ context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state[key]
	st.FailedCount++
	if st.FailedCount >= threshold {
		lockUntil := now.Add(lockoutWindow)
		st.LockedUntil = &lockUntil
	}
	f.state[key] = st
	return st, nil
}

func (f *fakeLockouts) Clear(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.state, key)
	return nil
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

type fakeHasher struct{}

// countingHasher counts Verify calls so tests can compare the work done on
// each login branch.
type countingHasher struct {
	fakeHasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(password, hash string) (bool, error) {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.fakeHasher.Verify(password, hash)
}

func (h *countingHasher) verifyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

func (fakeHasher) Hash(password string) (string, error) { return "hash:" + password, nil }

func (fakeHasher) Verify(password, hash string) (bool, error) {
	if len(hash) < 5 || hash[:5] != "hash:" {
		return false, errors.New("malformed hash")
	}
	return hash == "hash:"+password, nil
}

// fakeTokens keeps issued claims in memory; the raw token is an opaque id.
type fakeTokens struct {
	mu     sync.Mutex
	clock  *fakeClock
	tokens map[string]ports.TokenClaims
}

func (f *fakeTokens) issue(kind ports.TokenKind, claims ports.TokenClaims, ttl time.Duration) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	claims.Kind = kind
	claims.TokenID = uuid.NewString()
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)
	raw := string(kind) + "." + claims.TokenID
	f.tokens[raw] = claims
	return raw
}

func (f *fakeTokens) IssueAccessToken(claims ports.TokenClaims, ttl time.Duration) (string, error) {
	return f.issue(ports.AccessToken, claims, ttl), nil
}

func (f *fakeTokens) IssueRefreshToken(claims ports.TokenClaims, ttl time.Duration) (string, error) {
	return f.issue(ports.RefreshToken, claims, ttl), nil
}

func (f *fakeTokens) Verify(raw string, kind ports.TokenKind) (ports.TokenClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.tokens[raw]
	if !ok {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenMalformed}
	}
	if claims.Kind != kind {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenSignatureInvalid}
	}
	if !claims.ExpiresAt.After(f.clock.Now()) {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenExpired}
	}
	return claims, nil
}

func (f *fakeTokens) PublicJWKs() ([]map[string]any, error) { return nil, nil }

type fakeNotifier struct {
	mu       sync.Mutex
	messages []ports.EmailMessage
	err      error
}

func (f *fakeNotifier) Send(_ context.Context, msg ports.EmailMessage) (ports.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ports.SendResult{}, f.err
	}
	f.messages = append(f.messages, msg)
	return ports.SendResult{MessageID: uuid.NewString()}, nil
}

// lastCode returns the code in the newest email of kind sent to recipient.
func (f *fakeNotifier) lastCode(kind ports.EmailKind, recipient string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].Kind == kind && f.messages[i].Recipient == recipient {
			return f.messages[i].Data["code"]
		}
	}
	return ""
}

func (f *fakeNotifier) count(kind ports.EmailKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

type fakeMetrics struct {
	mu     sync.Mutex
	events map[string]int
}

func (f *fakeMetrics) AuthEvent(operation, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[operation+":"+outcome]++
}

type fixture struct {
	service  *application.Service
	store    *memStore
	refresh  *fakeRefreshTokens
	codes    *fakeCodes
	notifier *fakeNotifier
	lockouts *fakeLockouts
	hasher   *countingHasher
	metrics  *fakeMetrics
	clock    *fakeClock
}

func defaultTestConfig() application.Config {
	return application.Config{
		AccessTokenTTL:             15 * time.Minute,
		RefreshTokenTTL:            7 * 24 * time.Hour,
		SessionTTL:                 24 * time.Hour,
		RememberMeTTL:              7 * 24 * time.Hour,
		FailedLoginThreshold:       5,
		LockoutDuration:            30 * time.Minute,
		RegisterRateLimitThreshold: 20,
		RegisterRateLimitWindow:    time.Hour,
		StoreTimeout:               time.Second,
		RotateRefreshTokens:        true,
		SweepRetention:             24 * time.Hour,
		FrontendURL:                "https://app.example.test",
	}
}

func newFixture() *fixture {
	return newFixtureWithConfig(defaultTestConfig())
}

func newFixtureWithConfig(cfg application.Config) *fixture {
	st := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:    st,
		refresh:  &fakeRefreshTokens{st: st},
		codes:    &fakeCodes{st: st},
		notifier: &fakeNotifier{},
		lockouts: &fakeLockouts{state: map[string]ports.LockoutState{}},
		hasher:   &countingHasher{},
		metrics:  &fakeMetrics{events: map[string]int{}},
		clock:    clock,
	}
	f.service = application.NewService(application.Dependencies{
		Config:        cfg,
		Users:         &fakeUsers{st: st},
		Schools:       &fakeSchools{st: st},
		RefreshTokens: f.refresh,
		Codes:         f.codes,
		Outbox:        &fakeOutbox{st: st},
		Lockouts:      f.lockouts,
		RateLimiter:   &fakeLimiter{counts: map[string]int{}},
		Hasher:        f.hasher,
		Tokens:        &fakeTokens{clock: clock, tokens: map[string]ports.TokenClaims{}},
		Notifier:      f.notifier,
		Metrics:       f.metrics,
		Clock:         clock.Now,
	})
	return f
}

func alphaRegistration() application.RegisterSchoolRequest {
	return application.RegisterSchoolRequest{
		SchoolName:      "Alpha",
		SchoolEmail:     "a@alpha.sc",
		SchoolPhone:     "0712345678",
		Region:          "Arusha",
		FounderName:     "Fatma Juma",
		FounderEmail:    "f@alpha.sc",
		FounderPhone:    "+255 754 000 111",
		FounderPassword: "Passw0rd1",
		AgreeTerms:      true,
		AgreeAdmin:      true,
		IPAddress:       "10.0.0.1",
	}
}

// activeFounder registers and verifies the alpha school.
func (f *fixture) activeFounder(ctx context.Context) (application.RegisterSchoolResult, error) {
	reg, err := f.service.RegisterSchool(ctx, alphaRegistration())
	if err != nil {
		return reg, err
	}
	code := f.notifier.lastCode(ports.EmailFounderVerification, "f@alpha.sc")
	_, err = f.service.VerifyEmail(ctx, application.VerifyEmailRequest{Email: "f@alpha.sc", Code: code})
	return reg, err
}

func (f *fixture) login(ctx context.Context, rememberMe bool) (application.LoginResult, error) {
	return f.service.Login(ctx, application.LoginRequest{
		Email:      "f@alpha.sc",
		Password:   "Passw0rd1",
		RememberMe: rememberMe,
		IPAddress:  "10.0.0.1",
		UserAgent:  "unit-test",
	})
}

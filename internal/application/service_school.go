package application

import (
	"context"
	"errors"
	"strings"

	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// GetSchoolProfile returns the caller's school with its current subscription.
func (s *Service) GetSchoolProfile(ctx context.Context, principal Principal) (SchoolProfile, error) {
	if principal.SchoolID == nil {
		return SchoolProfile{}, domain.ErrNotFound
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	school, err := s.schools.GetByID(callCtx, *principal.SchoolID)
	if err != nil {
		return SchoolProfile{}, dependencyError("school_profile", err)
	}
	if school.Status != domain.SchoolActive {
		return SchoolProfile{}, &domain.SchoolInactiveError{Status: school.Status}
	}

	profile := schoolProfile(school)
	sub, err := s.schools.CurrentSubscription(callCtx, school.SchoolID)
	switch {
	case err == nil && sub != nil:
		summary := summarizeSubscription(*sub)
		profile.Subscription = &summary
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return SchoolProfile{}, dependencyError("school_profile.subscription", err)
	}

	count, err := s.schools.CountSettings(callCtx, school.SchoolID)
	if err != nil {
		return SchoolProfile{}, dependencyError("school_profile.settings", err)
	}
	profile.SettingsCount = count
	return profile, nil
}

// UpdateSchoolProfile applies a partial update. Only school administrators
// may change the profile and the code, email and status stay untouched.
func (s *Service) UpdateSchoolProfile(ctx context.Context, principal Principal, req UpdateSchoolProfileRequest) (SchoolProfile, error) {
	if principal.Role != domain.RoleSuperAdmin && principal.Role != domain.RoleSchoolAdmin {
		return SchoolProfile{}, domain.ErrForbidden
	}
	if principal.SchoolID == nil {
		return SchoolProfile{}, domain.ErrNotFound
	}

	patch, err := validateSchoolPatch(req)
	if err != nil {
		return SchoolProfile{}, err
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	school, err := s.schools.UpdateProfile(callCtx, *principal.SchoolID, patch, s.nowFn())
	if err != nil {
		return SchoolProfile{}, dependencyError("school_profile.update", err)
	}
	logger().InfoContext(ctx, "school profile updated",
		"operation", "school_profile.update",
		"outcome", "success",
		"school_id", school.SchoolID,
		"user_id", principal.UserID,
	)
	return schoolProfile(school), nil
}

func validateSchoolPatch(req UpdateSchoolProfileRequest) (ports.SchoolPatch, error) {
	var patch ports.SchoolPatch
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return patch, err
		}
		patch.Name = &name
	}
	if req.Phone != nil {
		phone, err := domain.NormalizePhone("phone", *req.Phone)
		if err != nil {
			return patch, err
		}
		patch.Phone = &phone
	}
	patch.Address = trimmedPtr(req.Address)
	patch.District = trimmedPtr(req.District)
	patch.Region = trimmedPtr(req.Region)
	patch.Country = trimmedPtr(req.Country)
	if patch.Empty() {
		return patch, domain.InvalidField("", "no updatable fields provided")
	}
	return patch, nil
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func schoolProfile(school domain.School) SchoolProfile {
	return SchoolProfile{
		School:       summarizeSchool(school, nil),
		Address:      school.Address,
		District:     school.District,
		Region:       school.Region,
		Country:      school.Country,
		TIN:          school.TIN,
		Registration: school.RegistrationNumber,
		CreatedAt:    school.CreatedAt,
	}
}

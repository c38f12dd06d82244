package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type schoolRepository struct {
	db *gorm.DB
}

func (r *schoolRepository) CreateWithFounderTx(ctx context.Context, params ports.CreateSchoolTxParams, event ports.OutboxEvent) (ports.SchoolRegistration, error) {
	var result ports.SchoolRegistration
	at := params.RegisteredAt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		founder := userModel{
			UserID:       uuid.New(),
			Email:        params.Founder.Email,
			PasswordHash: params.Founder.PasswordHash,
			FullName:     params.Founder.FullName,
			Phone:        nullableString(params.Founder.Phone),
			Role:         string(domain.RolePendingAdmin),
			IsActive:     true,
			TokenVersion: domain.InitialTokenVersion,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		if err := tx.Create(&founder).Error; err != nil {
			return err
		}

		school := schoolModel{
			SchoolID:           uuid.New(),
			Code:               params.School.Code,
			Name:               params.School.Name,
			Email:              params.School.Email,
			Phone:              params.School.Phone,
			Address:            params.School.Address,
			District:           params.School.District,
			Region:             params.School.Region,
			Country:            params.School.Country,
			Status:             string(domain.SchoolPending),
			FounderUserID:      &founder.UserID,
			TIN:                params.School.TIN,
			RegistrationNumber: params.School.RegistrationNumber,
			CreatedAt:          at,
			UpdatedAt:          at,
		}
		if err := tx.Create(&school).Error; err != nil {
			return err
		}

		event.Payload = withIDs(event.Payload, map[string]string{
			"school_id":       school.SchoolID.String(),
			"founder_user_id": founder.UserID.String(),
		})
		event.PartitionKey = school.SchoolID.String()
		row := outboxRow(event)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		result = ports.SchoolRegistration{Founder: toDomainUser(founder), School: toDomainSchool(school)}
		return nil
	})
	if err != nil {
		return ports.SchoolRegistration{}, translate(err)
	}
	return result, nil
}

func (r *schoolRepository) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&schoolModel{}).
		Where("lower(email) = lower(?) OR phone = ?", email, phone).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *schoolRepository) GetByCode(ctx context.Context, code string) (domain.School, error) {
	var rec schoolModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&rec).Error; err != nil {
		return domain.School{}, translate(err)
	}
	return toDomainSchool(rec), nil
}

func (r *schoolRepository) GetByID(ctx context.Context, schoolID uuid.UUID) (domain.School, error) {
	var rec schoolModel
	if err := r.db.WithContext(ctx).Where("school_id = ?", schoolID).Take(&rec).Error; err != nil {
		return domain.School{}, translate(err)
	}
	return toDomainSchool(rec), nil
}

func (r *schoolRepository) FindPendingByFounderEmail(ctx context.Context, email string) (domain.School, error) {
	var rec schoolModel
	err := pendingByFounder(r.db.WithContext(ctx), email).Take(&rec).Error
	if err != nil {
		return domain.School{}, translate(err)
	}
	return toDomainSchool(rec), nil
}

func pendingByFounder(tx *gorm.DB, email string) *gorm.DB {
	return tx.Model(&schoolModel{}).
		Joins("JOIN users ON users.user_id = schools.founder_user_id").
		Where("lower(users.email) = lower(?)", email).
		Where("schools.status = ?", string(domain.SchoolPending)).
		Order("schools.created_at DESC")
}

func (r *schoolRepository) FindForUser(ctx context.Context, userID uuid.UUID) (domain.School, *domain.SchoolMembership, error) {
	db := r.db.WithContext(ctx)

	var membership membershipModel
	err := db.Where("user_id = ? AND removed_at IS NULL", userID).
		Order("is_primary_contact DESC, created_at ASC").
		Take(&membership).Error
	switch {
	case err == nil:
		school, err := r.GetByID(ctx, membership.SchoolID)
		if err != nil {
			return domain.School{}, nil, err
		}
		m := toDomainMembership(membership)
		return school, &m, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return domain.School{}, nil, err
	}

	var rec schoolModel
	if err := db.Where("founder_user_id = ?", userID).Order("created_at DESC").Take(&rec).Error; err != nil {
		return domain.School{}, nil, translate(err)
	}
	return toDomainSchool(rec), nil, nil
}

// ActivateTx consumes the founder code and flips a pending school and its
// founder to active in one transaction. The school row is locked so
// concurrent verifications serialize.
func (r *schoolRepository) ActivateTx(ctx context.Context, params ports.ActivateSchoolParams) (ports.SchoolActivation, error) {
	var result ports.SchoolActivation
	at := params.ActivatedAt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if params.CodeHash != "" {
			if _, err := consumeCode(tx, params.FounderEmail, params.CodeHash, domain.CodeFounderRegistration, at); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrInvalidCode
				}
				return err
			}
		}

		var school schoolModel
		if err := pendingByFounder(tx, params.FounderEmail).
			Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "schools"}}).
			Select("schools.*").
			Take(&school).Error; err != nil {
			return err
		}
		if school.FounderUserID == nil {
			return domain.ErrNotFound
		}
		founderID := *school.FounderUserID

		var leading int64
		if err := tx.Model(&membershipModel{}).
			Where("user_id = ? AND removed_at IS NULL", founderID).
			Where("role IN ?", []string{string(domain.MembershipOwner), string(domain.MembershipPrincipal), string(domain.MembershipSuperAdmin)}).
			Count(&leading).Error; err != nil {
			return err
		}
		if leading > 0 {
			return fmt.Errorf("%w: founder already leads a school", domain.ErrConflict)
		}

		if err := tx.Model(&schoolModel{}).
			Where("school_id = ?", school.SchoolID).
			Updates(map[string]any{
				"status":      string(domain.SchoolActive),
				"verified_at": at,
				"updated_at":  at,
			}).Error; err != nil {
			return err
		}
		school.Status = string(domain.SchoolActive)
		school.VerifiedAt = &at
		school.UpdatedAt = at

		var founder userModel
		if err := tx.Model(&founder).
			Clauses(clause.Returning{}).
			Where("user_id = ?", founderID).
			Updates(map[string]any{
				"role":           string(domain.RoleSuperAdmin),
				"email_verified": true,
				"updated_at":     at,
			}).Error; err != nil {
			return err
		}

		membership := membershipModel{
			MembershipID:     uuid.New(),
			SchoolID:         school.SchoolID,
			UserID:           founderID,
			Role:             string(domain.MembershipSuperAdmin),
			Permissions:      append(datatypes.JSONSlice[string]{}, domain.FounderPermissions...),
			IsPrimaryContact: true,
			CreatedAt:        at,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		trial := domain.NewTrialSubscription(school.SchoolID, at)
		sub := subscriptionModel{
			SubscriptionID: uuid.New(),
			SchoolID:       trial.SchoolID,
			PlanName:       trial.PlanName,
			Status:         trial.Status,
			StartDate:      trial.StartDate,
			EndDate:        trial.EndDate,
			TrialEndDate:   trial.TrialEndDate,
			MaxStudents:    trial.MaxStudents,
			MaxTeachers:    trial.MaxTeachers,
			CreatedAt:      at,
		}
		if err := tx.Create(&sub).Error; err != nil {
			return err
		}

		defaults := domain.DefaultSchoolSettings(school.SchoolID)
		settings := make([]settingModel, 0, len(defaults))
		for _, s := range defaults {
			settings = append(settings, settingModel{
				SchoolID:  s.SchoolID,
				Category:  s.Category,
				Key:       s.Key,
				Value:     s.Value,
				ValueType: s.ValueType,
				UpdatedAt: at,
			})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; err != nil {
			return err
		}

		event := params.Event
		event.Payload = withIDs(event.Payload, map[string]string{
			"school_id":   school.SchoolID.String(),
			"school_code": school.Code,
			"user_id":     founderID.String(),
		})
		event.PartitionKey = school.SchoolID.String()
		row := outboxRow(event)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		result = ports.SchoolActivation{
			School:       toDomainSchool(school),
			Founder:      toDomainUser(founder),
			Membership:   toDomainMembership(membership),
			Subscription: toDomainSubscription(sub),
		}
		return nil
	})
	if err != nil {
		return ports.SchoolActivation{}, translate(err)
	}
	return result, nil
}

func (r *schoolRepository) UpdateProfile(ctx context.Context, schoolID uuid.UUID, patch ports.SchoolPatch, at time.Time) (domain.School, error) {
	updates := map[string]any{"updated_at": at}
	set := func(column string, v *string) {
		if v != nil {
			updates[column] = *v
		}
	}
	set("name", patch.Name)
	set("phone", patch.Phone)
	set("address", patch.Address)
	set("district", patch.District)
	set("region", patch.Region)
	set("country", patch.Country)

	var rows []schoolModel
	res := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("school_id = ?", schoolID).
		Updates(updates)
	if res.Error != nil {
		return domain.School{}, translate(res.Error)
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return domain.School{}, domain.ErrNotFound
	}
	return toDomainSchool(rows[0]), nil
}

func (r *schoolRepository) CurrentSubscription(ctx context.Context, schoolID uuid.UUID) (*domain.SchoolSubscription, error) {
	var rec subscriptionModel
	err := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("start_date DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub := toDomainSubscription(rec)
	return &sub, nil
}

func (r *schoolRepository) CountSettings(ctx context.Context, schoolID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&settingModel{}).Where("school_id = ?", schoolID).Count(&count).Error
	return count, err
}

// withIDs merges generated identifiers into a JSON object payload.
func withIDs(payload []byte, ids map[string]string) []byte {
	obj := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return payload
		}
	}
	for k, v := range ids {
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}

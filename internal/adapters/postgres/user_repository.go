package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where("lower(email) = lower(?)", email).Take(&rec).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return toDomainUser(rec), nil
}

func (r *userRepository) GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return toDomainUser(rec), nil
}

func (r *userRepository) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&userModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"last_login": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, at time.Time, event ports.OutboxEvent) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := bumpVersion(tx, userID, map[string]any{
			"password_hash": passwordHash,
			"updated_at":    at,
		})
		if err != nil {
			return err
		}
		version = v
		if event.PartitionKey == "" {
			event.PartitionKey = userID.String()
		}
		row := outboxRow(event)
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, translate(err)
	}
	return version, nil
}

func (r *userRepository) BumpTokenVersion(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	version, err := bumpVersion(r.db.WithContext(ctx), userID, map[string]any{"updated_at": at})
	if err != nil {
		return 0, translate(err)
	}
	return version, nil
}

// bumpVersion increments token_version alongside updates and returns the new value.
func bumpVersion(tx *gorm.DB, userID uuid.UUID, updates map[string]any) (int, error) {
	updates["token_version"] = gorm.Expr("token_version + 1")
	var rows []userModel
	res := tx.Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "token_version"}}}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return 0, domain.ErrNotFound
	}
	return rows[0].TokenVersion, nil
}

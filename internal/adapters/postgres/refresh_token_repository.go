package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/gorm"
)

type refreshTokenRepository struct {
	db *gorm.DB
}

func newRefreshTokenRow(params ports.RefreshTokenCreateParams) refreshTokenModel {
	return refreshTokenModel{
		ID:         uuid.New(),
		UserID:     params.UserID,
		TokenHash:  params.TokenHash,
		ExpiresAt:  params.ExpiresAt,
		RememberMe: params.RememberMe,
		UserAgent:  params.UserAgent,
		IPAddress:  params.IPAddress,
		CreatedAt:  params.CreatedAt,
	}
}

func (r *refreshTokenRepository) Create(ctx context.Context, params ports.RefreshTokenCreateParams) (domain.RefreshToken, error) {
	rec := newRefreshTokenRow(params)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.RefreshToken{}, translate(err)
	}
	return toDomainRefreshToken(rec), nil
}

func (r *refreshTokenRepository) GetActiveByHash(ctx context.Context, tokenHash string, now time.Time) (domain.RefreshToken, error) {
	var rec refreshTokenModel
	err := r.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Where("revoked = FALSE").
		Where("expires_at > ?", now).
		Take(&rec).Error
	if err != nil {
		return domain.RefreshToken{}, translate(err)
	}
	return toDomainRefreshToken(rec), nil
}

func (r *refreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	var rec refreshTokenModel
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&rec).Error; err != nil {
		return domain.RefreshToken{}, translate(err)
	}
	return toDomainRefreshToken(rec), nil
}

// RevokeByHash is idempotent: unknown or already revoked hashes are not errors.
func (r *refreshTokenRepository) RevokeByHash(ctx context.Context, tokenHash string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where("token_hash = ? AND revoked = FALSE", tokenHash).
		Updates(map[string]any{"revoked": true, "revoked_at": at}).Error
}

func (r *refreshTokenRepository) RevokeAllByUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where("user_id = ? AND revoked = FALSE", userID).
		Updates(map[string]any{"revoked": true, "revoked_at": at})
	return res.RowsAffected, res.Error
}

func (r *refreshTokenRepository) Touch(ctx context.Context, tokenID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where("id = ?", tokenID).
		Update("last_used_at", at).Error
}

// RotateTx inserts the successor and retires currentID in one transaction.
// Losing a concurrent rotation rolls back with domain.ErrNotFound.
func (r *refreshTokenRepository) RotateTx(ctx context.Context, currentID uuid.UUID, next ports.RefreshTokenCreateParams) (domain.RefreshToken, error) {
	rec := newRefreshTokenRow(next)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		res := tx.Model(&refreshTokenModel{}).
			Where("id = ? AND revoked = FALSE", currentID).
			Updates(map[string]any{
				"revoked":     true,
				"revoked_at":  next.CreatedAt,
				"replaced_by": rec.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return domain.RefreshToken{}, translate(err)
	}
	return toDomainRefreshToken(rec), nil
}

func (r *refreshTokenRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked = TRUE AND revoked_at < ?)", before, before).
		Delete(&refreshTokenModel{})
	return res.RowsAffected, res.Error
}

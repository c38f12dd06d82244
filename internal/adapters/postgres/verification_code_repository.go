package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type verificationCodeRepository struct {
	db *gorm.DB
}

// Create supersedes every unused code of the same (email, type) so only the
// newest one can be consumed.
func (r *verificationCodeRepository) Create(ctx context.Context, params ports.VerificationCodeCreateParams) (domain.VerificationCode, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	rec := verificationCodeModel{
		ID:        uuid.New(),
		Email:     params.Email,
		CodeHash:  params.CodeHash,
		Type:      string(params.Type),
		UserID:    params.UserID,
		SchoolID:  params.SchoolID,
		Metadata:  datatypes.NewJSONType(metadata),
		ExpiresAt: params.ExpiresAt,
		CreatedAt: params.CreatedAt,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&verificationCodeModel{}).
			Where("email = ? AND type = ? AND used = FALSE", params.Email, string(params.Type)).
			Updates(map[string]any{"used": true, "used_at": params.CreatedAt}).Error; err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return domain.VerificationCode{}, translate(err)
	}
	return toDomainVerificationCode(rec), nil
}

// Consume is a single conditional UPDATE. Two racing callers may pick the same
// row in the subquery, but only one sees used = FALSE once the row lock clears.
func (r *verificationCodeRepository) Consume(ctx context.Context, email, codeHash string, codeType domain.CodeType, at time.Time) (domain.VerificationCode, error) {
	return consumeCode(r.db.WithContext(ctx), email, codeHash, codeType, at)
}

// consumeCode runs on whatever db it is given, so a caller's transaction can
// take the code together with the writes it guards.
func consumeCode(db *gorm.DB, email, codeHash string, codeType domain.CodeType, at time.Time) (domain.VerificationCode, error) {
	newest := db.Model(&verificationCodeModel{}).
		Select("id").
		Where("email = ? AND type = ? AND code_hash = ?", email, string(codeType), codeHash).
		Where("used = FALSE AND expires_at > ?", at).
		Order("created_at DESC").
		Limit(1)

	var rows []verificationCodeModel
	res := db.Model(&rows).
		Clauses(clause.Returning{}).
		Where("id = (?)", newest).
		Where("used = FALSE").
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		return domain.VerificationCode{}, res.Error
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return domain.VerificationCode{}, domain.ErrNotFound
	}
	return toDomainVerificationCode(rows[0]), nil
}

func (r *verificationCodeRepository) Invalidate(ctx context.Context, email string, codeType domain.CodeType, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&verificationCodeModel{}).
		Where("email = ? AND type = ? AND used = FALSE", email, string(codeType)).
		Updates(map[string]any{"used": true, "used_at": at})
	return res.RowsAffected, res.Error
}

func (r *verificationCodeRepository) CountCreatedSince(ctx context.Context, email string, codeType domain.CodeType, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&verificationCodeModel{}).
		Where("email = ? AND type = ? AND created_at >= ?", email, string(codeType), since).
		Count(&count).Error
	return count, err
}

func (r *verificationCodeRepository) Latest(ctx context.Context, email string, codeType domain.CodeType) (domain.VerificationCode, error) {
	var rec verificationCodeModel
	err := r.db.WithContext(ctx).
		Where("email = ? AND type = ?", email, string(codeType)).
		Order("created_at DESC").
		Take(&rec).Error
	if err != nil {
		return domain.VerificationCode{}, translate(err)
	}
	return toDomainVerificationCode(rec), nil
}

func (r *verificationCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&verificationCodeModel{})
	return res.RowsAffected, res.Error
}

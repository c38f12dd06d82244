package postgres

import (
	"errors"
	"strings"

	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/gorm"
)

func toDomainUser(row userModel) domain.User {
	phone := ""
	if row.Phone != nil {
		phone = *row.Phone
	}
	return domain.User{
		UserID:        row.UserID,
		Email:         row.Email,
		PasswordHash:  row.PasswordHash,
		FullName:      row.FullName,
		Phone:         phone,
		Role:          domain.Role(row.Role),
		IsActive:      row.IsActive,
		EmailVerified: row.EmailVerified,
		PhoneVerified: row.PhoneVerified,
		TokenVersion:  row.TokenVersion,
		LastLogin:     row.LastLogin,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func toDomainSchool(row schoolModel) domain.School {
	return domain.School{
		SchoolID:           row.SchoolID,
		Code:               row.Code,
		Name:               row.Name,
		Email:              row.Email,
		Phone:              row.Phone,
		Address:            row.Address,
		District:           row.District,
		Region:             row.Region,
		Country:            row.Country,
		Status:             domain.SchoolStatus(row.Status),
		FounderUserID:      row.FounderUserID,
		TIN:                row.TIN,
		RegistrationNumber: row.RegistrationNumber,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		VerifiedAt:         row.VerifiedAt,
	}
}

func toDomainMembership(row membershipModel) domain.SchoolMembership {
	return domain.SchoolMembership{
		MembershipID:     row.MembershipID,
		SchoolID:         row.SchoolID,
		UserID:           row.UserID,
		Role:             domain.MembershipRole(row.Role),
		Permissions:      append([]string(nil), row.Permissions...),
		IsPrimaryContact: row.IsPrimaryContact,
		AddedBy:          row.AddedBy,
		CreatedAt:        row.CreatedAt,
		RemovedAt:        row.RemovedAt,
	}
}

func toDomainSubscription(row subscriptionModel) domain.SchoolSubscription {
	return domain.SchoolSubscription{
		SubscriptionID: row.SubscriptionID,
		SchoolID:       row.SchoolID,
		PlanName:       row.PlanName,
		Status:         row.Status,
		StartDate:      row.StartDate,
		EndDate:        row.EndDate,
		TrialEndDate:   row.TrialEndDate,
		MaxStudents:    row.MaxStudents,
		MaxTeachers:    row.MaxTeachers,
	}
}

func toDomainRefreshToken(row refreshTokenModel) domain.RefreshToken {
	return domain.RefreshToken{
		ID:         row.ID,
		UserID:     row.UserID,
		TokenHash:  row.TokenHash,
		ExpiresAt:  row.ExpiresAt,
		Revoked:    row.Revoked,
		RevokedAt:  row.RevokedAt,
		ReplacedBy: row.ReplacedBy,
		RememberMe: row.RememberMe,
		UserAgent:  row.UserAgent,
		IPAddress:  row.IPAddress,
		CreatedAt:  row.CreatedAt,
		LastUsedAt: row.LastUsedAt,
	}
}

func toDomainVerificationCode(row verificationCodeModel) domain.VerificationCode {
	var metadata map[string]string
	if data := row.Metadata.Data(); len(data) > 0 {
		metadata = make(map[string]string, len(data))
		for k, v := range data {
			metadata[k] = v
		}
	}
	return domain.VerificationCode{
		ID:        row.ID,
		Email:     row.Email,
		CodeHash:  row.CodeHash,
		Type:      domain.CodeType(row.Type),
		UserID:    row.UserID,
		SchoolID:  row.SchoolID,
		Metadata:  metadata,
		Used:      row.Used,
		UsedAt:    row.UsedAt,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}
}

func toOutboxRecord(row authOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func outboxRow(event ports.OutboxEvent) authOutboxModel {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return authOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      payload,
		CreatedAt:    event.OccurredAt,
		FirstSeenAt:  event.OccurredAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// translate maps gorm sentinels onto domain errors; anything else passes through.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrConflict
	default:
		return err
	}
}

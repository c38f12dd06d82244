package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type userModel struct {
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string     `gorm:"column:email"`
	PasswordHash  string     `gorm:"column:password_hash"`
	FullName      string     `gorm:"column:full_name"`
	Phone         *string    `gorm:"column:phone"`
	Role          string     `gorm:"column:role"`
	IsActive      bool       `gorm:"column:is_active"`
	EmailVerified bool       `gorm:"column:email_verified"`
	PhoneVerified bool       `gorm:"column:phone_verified"`
	TokenVersion  int        `gorm:"column:token_version"`
	LastLogin     *time.Time `gorm:"column:last_login"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

type schoolModel struct {
	SchoolID           uuid.UUID  `gorm:"column:school_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code               string     `gorm:"column:code"`
	Name               string     `gorm:"column:name"`
	Email              string     `gorm:"column:email"`
	Phone              string     `gorm:"column:phone"`
	Address            string     `gorm:"column:address"`
	District           string     `gorm:"column:district"`
	Region             string     `gorm:"column:region"`
	Country            string     `gorm:"column:country"`
	Status             string     `gorm:"column:status"`
	FounderUserID      *uuid.UUID `gorm:"column:founder_user_id;type:uuid"`
	TIN                string     `gorm:"column:tin"`
	RegistrationNumber string     `gorm:"column:registration_number"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
	VerifiedAt         *time.Time `gorm:"column:verified_at"`
}

func (schoolModel) TableName() string { return "schools" }

type membershipModel struct {
	MembershipID     uuid.UUID                   `gorm:"column:membership_id;type:uuid;default:gen_random_uuid();primaryKey"`
	SchoolID         uuid.UUID                   `gorm:"column:school_id;type:uuid"`
	UserID           uuid.UUID                   `gorm:"column:user_id;type:uuid"`
	Role             string                      `gorm:"column:role"`
	Permissions      datatypes.JSONSlice[string] `gorm:"column:permissions;type:jsonb"`
	IsPrimaryContact bool                        `gorm:"column:is_primary_contact"`
	AddedBy          *uuid.UUID                  `gorm:"column:added_by;type:uuid"`
	CreatedAt        time.Time                   `gorm:"column:created_at"`
	RemovedAt        *time.Time                  `gorm:"column:removed_at"`
}

func (membershipModel) TableName() string { return "school_memberships" }

type subscriptionModel struct {
	SubscriptionID uuid.UUID  `gorm:"column:subscription_id;type:uuid;default:gen_random_uuid();primaryKey"`
	SchoolID       uuid.UUID  `gorm:"column:school_id;type:uuid"`
	PlanName       string     `gorm:"column:plan_name"`
	Status         string     `gorm:"column:status"`
	StartDate      time.Time  `gorm:"column:start_date"`
	EndDate        time.Time  `gorm:"column:end_date"`
	TrialEndDate   *time.Time `gorm:"column:trial_end_date"`
	MaxStudents    int        `gorm:"column:max_students"`
	MaxTeachers    int        `gorm:"column:max_teachers"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (subscriptionModel) TableName() string { return "school_subscriptions" }

type settingModel struct {
	SchoolID  uuid.UUID `gorm:"column:school_id;type:uuid;primaryKey"`
	Category  string    `gorm:"column:category;primaryKey"`
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value"`
	ValueType string    `gorm:"column:value_type"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (settingModel) TableName() string { return "school_settings" }

type refreshTokenModel struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid"`
	TokenHash  string     `gorm:"column:token_hash"`
	ExpiresAt  time.Time  `gorm:"column:expires_at"`
	Revoked    bool       `gorm:"column:revoked"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	ReplacedBy *uuid.UUID `gorm:"column:replaced_by;type:uuid"`
	RememberMe bool       `gorm:"column:remember_me"`
	UserAgent  string     `gorm:"column:user_agent"`
	IPAddress  string     `gorm:"column:ip_address"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

type verificationCodeModel struct {
	ID        uuid.UUID                             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string                                `gorm:"column:email"`
	CodeHash  string                                `gorm:"column:code_hash"`
	Type      string                                `gorm:"column:type"`
	UserID    *uuid.UUID                            `gorm:"column:user_id;type:uuid"`
	SchoolID  *uuid.UUID                            `gorm:"column:school_id;type:uuid"`
	Metadata  datatypes.JSONType[map[string]string] `gorm:"column:metadata;type:jsonb"`
	Used      bool                                  `gorm:"column:used"`
	UsedAt    *time.Time                            `gorm:"column:used_at"`
	ExpiresAt time.Time                             `gorm:"column:expires_at"`
	CreatedAt time.Time                             `gorm:"column:created_at"`
}

func (verificationCodeModel) TableName() string { return "verification_codes" }

type authOutboxModel struct {
	OutboxID       uuid.UUID      `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string         `gorm:"column:event_type"`
	PartitionKey   string         `gorm:"column:partition_key"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	FirstSeenAt    time.Time      `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time     `gorm:"column:published_at"`
	RetryCount     int            `gorm:"column:retry_count"`
	LastError      *string        `gorm:"column:last_error"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at"`
	ClaimToken     *string        `gorm:"column:claim_token"`
	ClaimUntil     *time.Time     `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time     `gorm:"column:dead_lettered_at"`
}

func (authOutboxModel) TableName() string { return "auth_outbox" }

package domain

import (
	"time"

	"github.com/google/uuid"
)

type SchoolStatus string

const (
	SchoolPending   SchoolStatus = "pending"
	SchoolActive    SchoolStatus = "active"
	SchoolSuspended SchoolStatus = "suspended"
)

// DefaultCountry is used when registration omits a country.
const DefaultCountry = "Tanzania"

// School is the tenant record. Code is immutable once assigned.
type School struct {
	SchoolID           uuid.UUID
	Code               string
	Name               string
	Email              string
	Phone              string
	Address            string
	District           string
	Region             string
	Country            string
	Status             SchoolStatus
	FounderUserID      *uuid.UUID
	TIN                string
	RegistrationNumber string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	VerifiedAt         *time.Time
}

// MembershipRole is the role a user holds inside one school.
type MembershipRole string

const (
	MembershipOwner      MembershipRole = "owner"
	MembershipPrincipal  MembershipRole = "principal"
	MembershipTeacher    MembershipRole = "teacher"
	MembershipAccountant MembershipRole = "accountant"
	MembershipParent     MembershipRole = "parent"
	MembershipViewer     MembershipRole = "viewer"
	MembershipSuperAdmin MembershipRole = "super_admin"
)

// Leading reports whether the role counts toward the one-school-per-owner rule.
func (r MembershipRole) Leading() bool {
	return r == MembershipOwner || r == MembershipPrincipal || r == MembershipSuperAdmin
}

// FounderPermissions are granted to the founder's membership on activation.
var FounderPermissions = []string{
	"manage_school",
	"manage_users",
	"manage_finance",
	"manage_academics",
	"manage_settings",
}

type SchoolMembership struct {
	MembershipID     uuid.UUID
	SchoolID         uuid.UUID
	UserID           uuid.UUID
	Role             MembershipRole
	Permissions      []string
	IsPrimaryContact bool
	AddedBy          *uuid.UUID
	CreatedAt        time.Time
	RemovedAt        *time.Time
}

type SchoolSubscription struct {
	SubscriptionID uuid.UUID
	SchoolID       uuid.UUID
	PlanName       string
	Status         string
	StartDate      time.Time
	EndDate        time.Time
	TrialEndDate   *time.Time
	MaxStudents    int
	MaxTeachers    int
}

const (
	TrialPlanName    = "trial"
	TrialDuration    = 30 * 24 * time.Hour
	TrialMaxStudents = 100
	TrialMaxTeachers = 20
)

// NewTrialSubscription builds the subscription every activated school starts on.
func NewTrialSubscription(schoolID uuid.UUID, start time.Time) SchoolSubscription {
	end := start.Add(TrialDuration)
	return SchoolSubscription{
		SchoolID:     schoolID,
		PlanName:     TrialPlanName,
		Status:       TrialPlanName,
		StartDate:    start,
		EndDate:      end,
		TrialEndDate: &end,
		MaxStudents:  TrialMaxStudents,
		MaxTeachers:  TrialMaxTeachers,
	}
}

type SchoolSetting struct {
	SchoolID  uuid.UUID
	Category  string
	Key       string
	Value     string
	ValueType string
}

// DefaultSchoolSettings returns the settings seeded on activation.
func DefaultSchoolSettings(schoolID uuid.UUID) []SchoolSetting {
	rows := [][4]string{
		{"academic", "language", "sw", "string"},
		{"academic", "grading_scale", "A-F", "string"},
		{"financial", "currency", "TZS", "string"},
		{"financial", "payment_methods", `["mpesa","bank","cash"]`, "json"},
		{"communication", "sms_enabled", "true", "boolean"},
		{"communication", "email_enabled", "true", "boolean"},
		{"system", "timezone", "Africa/Dar_es_Salaam", "string"},
		{"system", "date_format", "DD/MM/YYYY", "string"},
	}
	out := make([]SchoolSetting, 0, len(rows))
	for _, row := range rows {
		out = append(out, SchoolSetting{
			SchoolID:  schoolID,
			Category:  row[0],
			Key:       row[1],
			Value:     row[2],
			ValueType: row[3],
		})
	}
	return out
}

package postgres

import (
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
	"gorm.io/gorm"
)

// Repositories bundles every gorm-backed port so bootstrap wires one value.
type Repositories struct {
	Users         ports.UserRepository
	Schools       ports.SchoolRepository
	RefreshTokens ports.RefreshTokenRepository
	Codes         ports.VerificationCodeRepository
	Outbox        ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:         &userRepository{db: db},
		Schools:       &schoolRepository{db: db},
		RefreshTokens: &refreshTokenRepository{db: db},
		Codes:         &verificationCodeRepository{db: db},
		Outbox:        &outboxRepository{db: db, nowFn: time.Now},
	}
}

package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// DeviceIdentity is the opaque token identifying this installation to the push
// gateway. A single row; replaced whenever the platform issues a new token.
type DeviceIdentity struct {
	gorm.Model
	Token            string `gorm:"uniqueIndex"`
	LastRegisteredAt time.Time
}

// PlatformToken is the most recent raw token reported by the client, staged
// until DeviceIdentityManager registers it with the backend.
type PlatformToken struct {
	gorm.Model
	Token string
}

// ActivityRecord tracks the last qualifying user action (scan completed).
// A single row, written only through Service.OnQualifyingAction.
type ActivityRecord struct {
	gorm.Model
	LastQualifyingActionAt sql.NullTime
}

// CelebrationRecord marks one entity's celebration within one period.
// The row is created when the policy first plans the celebration (caching the
// chosen day so re-evaluation never reshuffles it); FiredAt is set only when
// the user opens the notification. "Already shown" means FiredAt is valid.
type CelebrationRecord struct {
	ID        uint `gorm:"primarykey"`
	EntityID  uint `gorm:"index:idx_entity_period,unique"`
	PeriodID  int  `gorm:"index:idx_entity_period,unique"`
	ChosenDay int
	FiredAt   sql.NullTime
}

// ReminderDispatch logs a reminder fire time so the "no notification since the
// last qualifying action" suppression survives a process restart.
type ReminderDispatch struct {
	gorm.Model
	Tier    ReminderTier `gorm:"index"`
	FiredAt time.Time
}

// Pet is the entity source's backing row. Only ID and the month of BirthDate
// participate in scheduling decisions.
type Pet struct {
	gorm.Model
	Name      string
	BirthDate time.Time
}

type Pets []Pet

// Session holds the authenticated session token required by remote dispatch.
type Session struct {
	gorm.Model
	Token string
}

package models

import (
	"fmt"
	"time"
)

// ScheduledNotificationHandle points at one pending notification on one
// channel. Handles are transient; they are rebuilt on process start by
// re-running policy evaluation.
type ScheduledNotificationHandle struct {
	Channel    Channel
	Identifier string
	FiresAt    time.Time
}

// Logical reminder keys. Each key tracks one instance of the scheduling state
// machine; notification identifiers are derived from the key so that the tap
// callback can be routed by prefix.
const (
	KeyReminderShort     = "reminder-short"
	KeyReminderLong      = "reminder-long"
	keyCelebrationFormat = "celebration-%d"
)

func ReminderKey(tier ReminderTier) string {
	if tier == TierLong {
		return KeyReminderLong
	}
	return KeyReminderShort
}

func CelebrationKey(entityID uint) string {
	return fmt.Sprintf(keyCelebrationFormat, entityID)
}

package models

// AuthorizationState is the platform notification permission, as last reported
// by the client. Only the platform prompt result may move it out of undetermined.
type AuthorizationState string

const (
	AuthorizationUndetermined AuthorizationState = "undetermined"
	AuthorizationDenied       AuthorizationState = "denied"
	AuthorizationAuthorized   AuthorizationState = "authorized"
)

// ReminderTier identifies one of the fixed re-engagement reminder offsets.
type ReminderTier string

const (
	TierShort ReminderTier = "short"
	TierLong  ReminderTier = "long"
)

// Channel names a delivery channel for a scheduled notification.
type Channel string

const (
	ChannelLocal  Channel = "local"
	ChannelRemote Channel = "remote"
)

// IntentKind is the closed set of in-app destinations a tapped notification
// can resolve to.
type IntentKind string

const (
	IntentOpenCapture      IntentKind = "open_capture"
	IntentOpenEntityDetail IntentKind = "open_entity_detail"
	IntentOpenCelebration  IntentKind = "open_celebration"
)

type NavigationIntent struct {
	Kind     IntentKind `json:"kind"`
	EntityID uint       `json:"entityId,omitempty"`
}

// Notification payload types carried on the wire.
const (
	PayloadTypeReminder    = "reminder"
	PayloadTypeCelebration = "celebration"
	PayloadTypeEntity      = "entity"
)

// NotificationPayload is the template-substituted content attached to a
// scheduled notification on either channel.
type NotificationPayload struct {
	Type     string `json:"type"`
	EntityID uint   `json:"entityId,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

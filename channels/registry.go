package channels

import (
	"context"
	"errors"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrQuotaExceeded is returned by the local channel when the platform's
// pending-notification quota is full. Not retried; the next evaluation pass
// retries naturally.
var ErrQuotaExceeded = errors.New("local pending-notification quota exceeded")

// ErrInvalidToken means the push gateway rejected the device identity. The
// caller must refresh the identity before dispatching again.
var ErrInvalidToken = errors.New("device identity rejected by push gateway")

// ErrUnauthenticated means the backend rejected the session. Precondition
// failure, not retriable.
var ErrUnauthenticated = errors.New("push dispatch unauthenticated")

// ErrRateLimited wraps a 4xx rate_limited response. Transient.
var ErrRateLimited = errors.New("push dispatch rate limited")

// A Channel schedules fire-at-time notifications and cancels them by handle
// identifier. At most one pending notification per identifier.
type Channel interface {
	Schedule(ctx context.Context, handle models.ScheduledNotificationHandle, payload models.NotificationPayload) error
	Cancel(ctx context.Context, identifier string) error
}

type Registry map[models.Channel]Channel

func NewRegistry(lc fx.Lifecycle, log *zap.Logger, local *LocalQueue, remote *RemoteGateway) Registry {
	return Registry{
		models.ChannelLocal:  local,
		models.ChannelRemote: remote,
	}
}

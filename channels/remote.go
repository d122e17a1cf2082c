package channels

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// IdentityReader exposes the current device identity to the remote channel.
// The identity is owned elsewhere; this channel only reads it.
type IdentityReader interface {
	Current() (*models.DeviceIdentity, error)
}

// DispatchRequest is the wire contract with the backend push dispatcher.
type DispatchRequest struct {
	DeviceIdentity string                     `json:"deviceIdentity"`
	TemplateID     string                     `json:"templateId"`
	ScheduledFor   *time.Time                 `json:"scheduledFor,omitempty"`
	Payload        models.NotificationPayload `json:"payload"`
}

type dispatchResponse struct {
	DispatchID string `json:"dispatchId"`
}

type apiError struct {
	Reason string `json:"reason"`
}

// RemoteGateway dispatches notifications through the backend push API. The
// backend enqueues the message with a third-party gateway, so delivery
// survives app termination.
type RemoteGateway struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
	identity  IdentityReader

	mu         sync.Mutex
	dispatches map[string]string // handle identifier -> backend dispatch id
}

func NewRemoteGateway(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper, identity IdentityReader) *RemoteGateway {
	return &RemoteGateway{
		log:        log,
		cfg:        cfg,
		transport:  transport,
		identity:   identity,
		dispatches: make(map[string]string),
	}
}

func (r *RemoteGateway) Schedule(ctx context.Context, handle models.ScheduledNotificationHandle, payload models.NotificationPayload) error {
	ident, err := r.identity.Current()
	if err != nil {
		return err
	}
	if ident == nil {
		return ErrInvalidToken
	}

	firesAt := handle.FiresAt
	req := DispatchRequest{
		DeviceIdentity: ident.Token,
		TemplateID:     templateFor(handle.Identifier),
		ScheduledFor:   &firesAt,
		Payload:        payload,
	}

	timeout := time.Duration(r.cfg.Push.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resp dispatchResponse
	var apiErr apiError
	err = requests.URL(r.cfg.Push.BaseURL).
		Path("/v1/dispatches").
		Bearer(r.cfg.Push.APIKey).
		Transport(r.transport).
		BodyJSON(&req).
		CheckStatus(http.StatusAccepted).
		ErrorJSON(&apiErr).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		switch apiErr.Reason {
		case "invalid_token":
			return ErrInvalidToken
		case "unauthenticated":
			return ErrUnauthenticated
		case "rate_limited":
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("dispatch %s: %w", handle.Identifier, err)
	}

	r.mu.Lock()
	r.dispatches[handle.Identifier] = resp.DispatchID
	r.mu.Unlock()

	r.log.Sugar().Infow("Dispatched remote notification",
		"identifier", handle.Identifier, "dispatch_id", resp.DispatchID, "fires_at", handle.FiresAt)
	return nil
}

func (r *RemoteGateway) Cancel(ctx context.Context, identifier string) error {
	r.mu.Lock()
	dispatchID, ok := r.dispatches[identifier]
	delete(r.dispatches, identifier)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	timeout := time.Duration(r.cfg.Push.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := requests.URL(r.cfg.Push.BaseURL).
		Pathf("/v1/dispatches/%s", dispatchID).
		Bearer(r.cfg.Push.APIKey).
		Transport(r.transport).
		Method(http.MethodDelete).
		Fetch(ctx)
	if err != nil {
		// Best effort; a stale remote schedule degrades to a spurious push.
		r.log.Sugar().Warnw("Failed to cancel remote dispatch", "identifier", identifier, "err", err)
		return err
	}
	return nil
}

// HasPending reports whether an undelivered dispatch is tracked for this
// identifier.
func (r *RemoteGateway) HasPending(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dispatches[identifier]
	return ok
}

func templateFor(identifier string) string {
	switch {
	case strings.HasPrefix(identifier, models.KeyReminderLong):
		return "reminder_long"
	case strings.HasPrefix(identifier, models.KeyReminderShort):
		return "reminder_short"
	case strings.HasPrefix(identifier, "celebration-"):
		return "celebration_birthday"
	default:
		return "generic"
	}
}

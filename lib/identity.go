package lib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenSource yields the platform-issued device token to register.
type TokenSource interface {
	DeviceToken(ctx context.Context) (string, error)
}

// SessionProvider exposes the authenticated session token. Absence is a
// precondition failure, not retried.
type SessionProvider interface {
	CurrentSessionToken(ctx context.Context) (string, bool)
}

// DeviceIdentityManager owns the device identity used by the remote channel:
// registration, persistence, and staleness-triggered refresh. Everything else
// only reads the identity.
type DeviceIdentityManager struct {
	log       *zap.Logger
	cfg       *config.Config
	db        *gorm.DB
	transport http.RoundTripper
	tokens    TokenSource
	session   SessionProvider
}

func NewDeviceIdentityManager(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, db *gorm.DB, transport http.RoundTripper, tokens TokenSource, session SessionProvider) *DeviceIdentityManager {
	return &DeviceIdentityManager{log, cfg, db, transport, tokens, session}
}

// Current returns the registered identity, or nil if none exists yet.
func (m *DeviceIdentityManager) Current() (*models.DeviceIdentity, error) {
	ident := &models.DeviceIdentity{}
	tx := m.db.Order("id desc").First(ident)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return ident, nil
}

// Stale reports whether the identity is missing or its registration is older
// than the configured window (30 days by default).
func (m *DeviceIdentityManager) Stale(now time.Time) bool {
	ident, err := m.Current()
	if err != nil || ident == nil {
		return true
	}
	return now.Sub(ident.LastRegisteredAt) >= m.cfg.Engine.IdentityTTL
}

// Invalidate marks the identity for re-registration, on a staleness signal
// from the remote channel (delivery failure indicating an invalid token).
func (m *DeviceIdentityManager) Invalidate() error {
	tx := m.db.
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&models.DeviceIdentity{}).
		Update("last_registered_at", time.Time{})
	return tx.Error
}

// RegisterOrRefresh fetches the platform token, associates it with the
// current user account on the backend, and persists the new identity.
// A single attempt; network backoff is supplied by the caller.
func (m *DeviceIdentityManager) RegisterOrRefresh(ctx context.Context) (*models.DeviceIdentity, error) {
	sessionToken, ok := m.session.CurrentSessionToken(ctx)
	if !ok {
		return nil, ErrNoSession
	}

	token, err := m.tokens.DeviceToken(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.associate(ctx, token, sessionToken); err != nil {
		return nil, fmt.Errorf("associate device identity: %w", err)
	}

	ident := &models.DeviceIdentity{Token: token, LastRegisteredAt: time.Now().UTC()}
	tx := m.db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_registered_at"}),
		}).
		Create(ident)
	if err := tx.Error; err != nil {
		return nil, err
	}

	m.log.Sugar().Infow("Device identity registered", "registered_at", ident.LastRegisteredAt)
	return ident, nil
}

func (m *DeviceIdentityManager) associate(ctx context.Context, deviceToken, sessionToken string) error {
	timeout := time.Duration(m.cfg.Push.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := map[string]string{"token": deviceToken}
	return requests.URL(m.cfg.Push.BaseURL).
		Path("/v1/devices").
		Bearer(sessionToken).
		Transport(m.transport).
		BodyJSON(&body).
		Fetch(ctx)
}

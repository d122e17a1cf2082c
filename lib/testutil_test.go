package lib

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Steven-matos/petscan-engage/channels"
	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.DeviceIdentity{},
		&models.PlatformToken{},
		&models.ActivityRecord{},
		&models.CelebrationRecord{},
		&models.ReminderDispatch{},
		&models.Pet{},
		&models.Session{},
	))
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engine.ShortReminderAfter = 7 * 24 * time.Hour
	cfg.Engine.LongReminderAfter = 30 * 24 * time.Hour
	cfg.Engine.ReminderHour = 18
	cfg.Engine.CelebrationHour = 9
	cfg.Engine.IdentityTTL = 30 * 24 * time.Hour
	cfg.Engine.WakeupInterval = time.Hour
	cfg.Engine.LocalPendingQuota = 64
	cfg.Push.TimeoutSecs = 2
	cfg.Push.MaxRetries = 0
	return cfg
}

type stubPrompter struct {
	mu     sync.Mutex
	result models.AuthorizationState
	err    error
	calls  int
}

func (p *stubPrompter) PromptAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result, p.err
}

func (p *stubPrompter) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func authorizedGate() *PermissionGate {
	g := NewPermissionGate(zap.NewNop(), &stubPrompter{result: models.AuthorizationAuthorized})
	g.Refresh(models.AuthorizationAuthorized)
	return g
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) DeviceToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

type staticSession struct {
	token string
	ok    bool
}

func (s staticSession) CurrentSessionToken(ctx context.Context) (string, bool) {
	return s.token, s.ok
}

// fakeChannel implements channels.Channel, recording schedules and cancels.
type fakeChannel struct {
	mu        sync.Mutex
	scheduled map[string]models.ScheduledNotificationHandle
	cancelled []string
	calls     int
	failWith  error
	failTimes int // fail only the first N calls; 0 means fail every call
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{scheduled: make(map[string]models.ScheduledNotificationHandle)}
}

func (f *fakeChannel) Schedule(ctx context.Context, handle models.ScheduledNotificationHandle, payload models.NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil && (f.failTimes == 0 || f.calls <= f.failTimes) {
		return f.failWith
	}
	f.scheduled[handle.Identifier] = handle
	return nil
}

func (f *fakeChannel) Cancel(ctx context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, identifier)
	f.cancelled = append(f.cancelled, identifier)
	return nil
}

func (f *fakeChannel) scheduleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChannel) pendingWithPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id := range f.scheduled {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeChannel) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func fakeRegistry(local, remote *fakeChannel) channels.Registry {
	return channels.Registry{
		models.ChannelLocal:  local,
		models.ChannelRemote: remote,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

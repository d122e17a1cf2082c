package lib

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serviceFixture struct {
	svc      *Service
	db       *gorm.DB
	gate     *PermissionGate
	prompter *stubPrompter
	local    *fakeChannel
	remote   *fakeChannel
	session  *SessionStore
	tokens   *StoredTokenSource
	identity *DeviceIdentityManager
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testDB(t)
	cfg := testConfig()
	log := zap.NewNop()

	prompter := &stubPrompter{result: models.AuthorizationAuthorized}
	gate := NewPermissionGate(log, prompter)
	gate.Refresh(models.AuthorizationAuthorized)

	session := NewSessionStore(nil, db)
	tokens := NewStoredTokenSource(nil, db)
	identity := NewDeviceIdentityManager(nil, log, cfg, db, http.DefaultTransport, tokens, session)

	local, remote := newFakeChannel(), newFakeChannel()
	scheduler := newScheduler(cfg, log, db, gate, identity, fakeRegistry(local, remote))
	router := NewEventRouter(nil, log, db)

	return &serviceFixture{
		svc:      NewService(nil, cfg, log, db, gate, identity, scheduler, router, session, tokens),
		db:       db,
		gate:     gate,
		prompter: prompter,
		local:    local,
		remote:   remote,
		session:  session,
		tokens:   tokens,
		identity: identity,
	}
}

func TestService_QualifyingActionRecordsAndReschedules(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := time.Now().UTC().Add(-2 * time.Hour)
	second := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.svc.OnQualifyingAction(ctx, first))
	require.NoError(t, f.svc.OnQualifyingAction(ctx, second))

	// A single row, always the latest action.
	var recs []models.ActivityRecord
	require.NoError(t, f.db.Find(&recs).Error)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].LastQualifyingActionAt.Time.Equal(second))

	// The short reminder is armed ahead for the next quiet window.
	assert.Equal(t, 1, f.local.pendingWithPrefix(models.KeyReminderShort))
}

func TestService_ForegroundPromptsWhenUndetermined(t *testing.T) {
	f := newServiceFixture(t)
	f.gate = NewPermissionGate(zap.NewNop(), f.prompter)
	f.svc.gate = f.gate
	f.svc.scheduler.gate = f.gate

	f.svc.OnForeground(context.Background(), models.AuthorizationUndetermined)

	require.Eventually(t, func() bool {
		return f.gate.CurrentState() == models.AuthorizationAuthorized
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.prompter.promptCount())

	// Foregrounding again does not re-prompt.
	f.svc.OnForeground(context.Background(), models.AuthorizationUndetermined)
	assert.Equal(t, 1, f.prompter.promptCount())
}

func TestService_NotificationOpenRoutesAndReevaluates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	intent, err := f.svc.OnNotificationOpened(ctx, "reminder-short-"+fakeUUID, models.NotificationPayload{
		Type: models.PayloadTypeReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentOpenCapture, intent.Kind)
}

func TestService_PendingIntentsDrainOnPoll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.OnNotificationOpened(ctx, "reminder-short-"+fakeUUID, models.NotificationPayload{
			Type: models.PayloadTypeReminder,
		})
		require.NoError(t, err)
	}

	intents := f.svc.PendingIntents()
	require.Len(t, intents, 3)
	assert.Equal(t, models.IntentOpenCapture, intents[0].Kind)

	// Drained; stream capacity is free again for the next opens.
	assert.Empty(t, f.svc.PendingIntents())
}

func TestService_SessionTokenRoundTrip(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, ok := f.session.CurrentSessionToken(ctx)
	require.False(t, ok)

	require.NoError(t, f.svc.SetSessionToken(ctx, "sess-1"))

	token, ok := f.session.CurrentSessionToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "sess-1", token)

	assert.Error(t, f.svc.SetSessionToken(ctx, ""))
}

func TestService_DeviceTokenRotationInvalidatesIdentity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&models.DeviceIdentity{Token: "old-token", LastRegisteredAt: now}).Error)
	require.False(t, f.identity.Stale(now))

	require.NoError(t, f.svc.UpdateDeviceToken(ctx, "new-token"))

	staged, err := f.tokens.DeviceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-token", staged)
	assert.True(t, f.identity.Stale(now))
}

func TestService_AddPetValidatesAndLists(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddPet(ctx, "", time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	pet, err := f.svc.AddPet(ctx, "Biscuit", time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotZero(t, pet.ID)

	pets, err := f.svc.ListPets(ctx)
	require.NoError(t, err)
	require.Len(t, pets, 1)
	assert.Equal(t, "Biscuit", pets[0].Name)
}

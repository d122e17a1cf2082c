package lib

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Steven-matos/petscan-engage/channels"
	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// logicalReminder tracks one instance of the scheduling state machine: one
// reminder tier or one entity celebration. At most one local and one remote
// handle are pending at any moment.
type logicalReminder struct {
	key        string
	tier       models.ReminderTier // empty for celebrations
	firesAt    time.Time
	local      *models.ScheduledNotificationHandle
	remote     *models.ScheduledNotificationHandle
	cancel     context.CancelFunc
	generation uint64
}

// Scheduler coordinates the permission gate, the two policies and the two
// delivery channels. All handle mutations are serialized through its mutex;
// remote dispatch runs in per-reminder goroutines that are superseded (not
// interrupted) when a newer signal arrives.
type Scheduler struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	gate     *PermissionGate
	identity *DeviceIdentityManager
	channels channels.Registry

	reminderRule    ReminderRule
	celebrationRule CelebrationRule

	mu      sync.Mutex
	pending map[string]*logicalReminder
	seq     uint64
	rng     *rand.Rand
	alarm   *alarmClock
}

func NewScheduler(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB, gate *PermissionGate, identity *DeviceIdentityManager, registry channels.Registry) *Scheduler {
	s := newScheduler(cfg, log, db, gate, identity, registry)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop scheduler")
			s.Stop()
			return nil
		},
	})

	return s
}

func newScheduler(cfg *config.Config, log *zap.Logger, db *gorm.DB, gate *PermissionGate, identity *DeviceIdentityManager, registry channels.Registry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		db:       db,
		gate:     gate,
		identity: identity,
		channels: registry,
		reminderRule: ReminderRule{
			ShortAfter: cfg.Engine.ShortReminderAfter,
			LongAfter:  cfg.Engine.LongReminderAfter,
			FireHour:   cfg.Engine.ReminderHour,
		},
		celebrationRule: CelebrationRule{FireHour: cfg.Engine.CelebrationHour},
		pending:         make(map[string]*logicalReminder),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		alarm:           newAlarmClock(cfg.Engine.WakeupInterval),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	c := s.alarm.Start(ctx)

	go func() {
		for evt := range c {
			s.handleEvent(evt)
		}
	}()
}

func (s *Scheduler) Stop() {
	s.alarm.Stop()
	s.log.Sugar().Info("Scheduler stopped")
}

// Wake requests an immediate evaluation pass, called on activity and
// foreground signals.
func (s *Scheduler) Wake(t time.Time) {
	s.alarm.Signal(t)
}

func (s *Scheduler) handleEvent(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Evaluate(ctx, evt.Timestamp().UTC())
}

// Evaluate runs one full policy evaluation pass: reap fired notifications,
// check the permission gate, then reconcile reminder and celebration
// schedules against the policies. Passes are serialized; the engine has a
// single logical owner per device.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapFiredLocked(now)

	if state := s.gate.CurrentState(); state != models.AuthorizationAuthorized {
		s.log.Sugar().Debugw("Skipping evaluation, notifications not authorized", "state", state)
		return
	}

	s.evaluateRemindersLocked(ctx, now)
	s.evaluateCelebrationsLocked(ctx, now)
}

// reapFiredLocked retires logical reminders whose fire time has passed. The
// local channel gives no fired-confirmation callback; expiry is implicit.
// Reminder tiers are logged durably so the fired-since-last-action
// suppression survives restarts. Celebrations are not logged here: an
// unopened celebration may legitimately refire later in the same period.
func (s *Scheduler) reapFiredLocked(now time.Time) {
	for key, lr := range s.pending {
		if lr.firesAt.After(now) {
			continue
		}
		if lr.tier != "" {
			tx := s.db.Create(&models.ReminderDispatch{Tier: lr.tier, FiredAt: lr.firesAt})
			if tx.Error != nil {
				s.log.Sugar().Errorw("Failed to log reminder dispatch", "tier", lr.tier, "err", tx.Error)
			}
		}
		if lr.cancel != nil {
			lr.cancel()
		}
		delete(s.pending, key)
		s.log.Sugar().Infow("Notification fired", "key", key, "fired_at", lr.firesAt)
	}
}

func (s *Scheduler) evaluateRemindersLocked(ctx context.Context, now time.Time) {
	in, err := s.reminderInput(now)
	if err != nil {
		s.log.Sugar().Errorw("Failed to load reminder input", "err", err)
		return
	}

	tier, firesAt, ok := s.reminderRule.Next(in)
	if !ok {
		// Nothing should be pending: either fresh activity superseded the
		// schedule, or every tier already fired since the last action.
		s.cancelLocked(ctx, models.KeyReminderShort)
		s.cancelLocked(ctx, models.KeyReminderLong)
		return
	}

	key := models.ReminderKey(tier)
	if tier == models.TierLong {
		s.cancelLocked(ctx, models.KeyReminderShort)
	} else {
		s.cancelLocked(ctx, models.KeyReminderLong)
	}

	s.scheduleLocked(ctx, key, tier, firesAt, reminderPayload(tier))
}

func (s *Scheduler) evaluateCelebrationsLocked(ctx context.Context, now time.Time) {
	var pets models.Pets
	if tx := s.db.Find(&pets); tx.Error != nil {
		s.log.Sugar().Errorw("Failed to list entities", "err", tx.Error)
		return
	}

	period := now.Year()
	for _, pet := range pets {
		key := models.CelebrationKey(pet.ID)

		rec, err := s.celebrationRecord(pet.ID, period)
		if err != nil {
			s.log.Sugar().Errorw("Failed to load celebration record", "entity_id", pet.ID, "err", err)
			continue
		}

		plan, fire := s.celebrationRule.Evaluate(CelebrationInput{
			EntityID:  pet.ID,
			Recurring: pet.BirthDate,
			Record:    rec,
			Now:       now,
		}, s.rng.Intn)
		if !fire {
			s.cancelLocked(ctx, key)
			continue
		}

		if rec == nil {
			// Cache the chosen day alongside the record key. Insert-if-absent
			// keeps the day stable even if two signals race in.
			tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CelebrationRecord{
				EntityID:  plan.EntityID,
				PeriodID:  plan.PeriodID,
				ChosenDay: plan.Day,
			})
			if tx.Error != nil {
				s.log.Sugar().Errorw("Failed to persist celebration plan", "entity_id", pet.ID, "err", tx.Error)
				continue
			}
		}

		s.scheduleLocked(ctx, key, "", plan.FiresAt, celebrationPayload(&pet))
	}
}

// scheduleLocked commits a schedule for one logical reminder: local first,
// then the remote channel as a reliability fallback in its own goroutine.
// Rescheduling cancels the prior handles, keeping at most one pending handle
// per channel per key.
func (s *Scheduler) scheduleLocked(ctx context.Context, key string, tier models.ReminderTier, firesAt time.Time, payload models.NotificationPayload) {
	if prev := s.pending[key]; prev != nil && prev.firesAt.Equal(firesAt) {
		return
	}
	s.cancelLocked(ctx, key)

	identifier := fmt.Sprintf("%s-%s", key, uuid.NewString())
	localHandle := models.ScheduledNotificationHandle{
		Channel:    models.ChannelLocal,
		Identifier: identifier,
		FiresAt:    firesAt,
	}

	if err := s.channels[models.ChannelLocal].Schedule(ctx, localHandle, payload); err != nil {
		if errors.Is(err, channels.ErrQuotaExceeded) {
			s.log.Sugar().Warnw("Local notification quota exceeded, deferring to next evaluation", "key", key)
		} else {
			s.log.Sugar().Errorw("Failed to schedule local notification", "key", key, "err", err)
		}
		// Not scheduled. No retry; the next activity re-evaluation retries
		// naturally.
		return
	}

	rctx, cancel := context.WithCancel(context.Background())
	s.seq++
	lr := &logicalReminder{
		key:        key,
		tier:       tier,
		firesAt:    firesAt,
		local:      &localHandle,
		cancel:     cancel,
		generation: s.seq,
	}
	s.pending[key] = lr

	s.log.Sugar().Infow("Scheduled local notification", "key", key, "identifier", identifier, "fires_at", firesAt)

	go s.dispatchRemote(rctx, key, lr.generation, identifier, firesAt, payload)
}

// cancelLocked tears down a pending logical reminder: the local handle is
// cancelled by identifier immediately; an in-flight remote dispatch is left
// to complete and its result discarded (the gateway does not support
// mid-flight cancellation), with a best-effort backend cancel afterwards.
func (s *Scheduler) cancelLocked(ctx context.Context, key string) {
	lr := s.pending[key]
	if lr == nil {
		return
	}
	delete(s.pending, key)

	if lr.cancel != nil {
		lr.cancel()
	}
	if lr.local != nil {
		if err := s.channels[models.ChannelLocal].Cancel(ctx, lr.local.Identifier); err != nil {
			s.log.Sugar().Warnw("Failed to cancel local notification", "identifier", lr.local.Identifier, "err", err)
		}
	}
	if lr.remote != nil {
		remote := s.channels[models.ChannelRemote]
		identifier := lr.remote.Identifier
		go remote.Cancel(context.Background(), identifier)
	}

	s.log.Sugar().Infow("Cancelled pending notification", "key", key)
}

// dispatchRemote attempts the remote channel for one committed schedule.
// Failures here never roll back the local schedule; after retry exhaustion
// the reminder stays local-only, degraded but not broken.
func (s *Scheduler) dispatchRemote(ctx context.Context, key string, generation uint64, identifier string, firesAt time.Time, payload models.NotificationPayload) {
	if s.identity.Stale(time.Now().UTC()) {
		if err := s.registerIdentity(ctx); err != nil {
			if errors.Is(err, ErrNoSession) || errors.Is(err, ErrNoPlatformToken) {
				s.log.Sugar().Infow("Remote channel skipped, precondition missing", "key", key, "err", err)
			} else {
				s.log.Sugar().Warnw("Identity registration failed, staying local-only", "key", key, "err", err)
			}
			return
		}
	}

	remote := s.channels[models.ChannelRemote]
	handle := models.ScheduledNotificationHandle{
		Channel:    models.ChannelRemote,
		Identifier: identifier,
		FiresAt:    firesAt,
	}

	backoff := retry.WithMaxRetries(s.cfg.Push.MaxRetries, retry.NewFibonacci(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := remote.Schedule(ctx, handle, payload)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, channels.ErrInvalidToken), errors.Is(err, channels.ErrUnauthenticated):
			return err
		default:
			return retry.RetryableError(err)
		}
	})

	if errors.Is(err, channels.ErrInvalidToken) {
		// Stale token: refresh the identity and re-dispatch exactly once.
		if rerr := s.registerIdentity(ctx); rerr != nil {
			s.log.Sugar().Warnw("Identity refresh after invalid token failed", "key", key, "err", rerr)
			return
		}
		err = remote.Schedule(ctx, handle, payload)
	}
	if err != nil {
		s.log.Sugar().Warnw("Remote dispatch exhausted, staying local-only", "key", key, "err", err)
		return
	}

	s.mu.Lock()
	lr := s.pending[key]
	superseded := lr == nil || lr.generation != generation
	if !superseded {
		lr.remote = &handle
	}
	s.mu.Unlock()

	if superseded {
		// A newer signal replaced this schedule while the call was in
		// flight. Discard the result and undo the backend schedule.
		remote.Cancel(context.Background(), identifier)
	}
}

func (s *Scheduler) registerIdentity(ctx context.Context) error {
	backoff := retry.WithMaxRetries(s.cfg.Push.MaxRetries, retry.NewFibonacci(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.identity.RegisterOrRefresh(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNoSession), errors.Is(err, ErrNoPlatformToken):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
}

func (s *Scheduler) reminderInput(now time.Time) (ReminderInput, error) {
	in := ReminderInput{Now: now}

	activity := &models.ActivityRecord{}
	tx := s.db.Order("id desc").First(activity)
	if tx.Error == nil && activity.LastQualifyingActionAt.Valid {
		t := activity.LastQualifyingActionAt.Time
		in.LastQualifyingActionAt = &t
	} else if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return in, tx.Error
	}

	var err error
	if in.LastShortFiredAt, err = s.lastDispatch(models.TierShort); err != nil {
		return in, err
	}
	if in.LastLongFiredAt, err = s.lastDispatch(models.TierLong); err != nil {
		return in, err
	}
	return in, nil
}

func (s *Scheduler) lastDispatch(tier models.ReminderTier) (*time.Time, error) {
	d := &models.ReminderDispatch{}
	tx := s.db.Where("tier = ?", tier).Order("fired_at desc").First(d)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, tx.Error
	}
	return &d.FiredAt, nil
}

func (s *Scheduler) celebrationRecord(entityID uint, period int) (*models.CelebrationRecord, error) {
	rec := &models.CelebrationRecord{}
	tx := s.db.Where("entity_id = ? AND period_id = ?", entityID, period).First(rec)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if tx.Error != nil {
		return nil, tx.Error
	}
	return rec, nil
}

func reminderPayload(tier models.ReminderTier) models.NotificationPayload {
	switch tier {
	case models.TierLong:
		return models.NotificationPayload{
			Type:  models.PayloadTypeReminder,
			Title: "We miss you and your pet!",
			Body:  "It's been a while since your last scan. Check a label before your next shop.",
		}
	default:
		return models.NotificationPayload{
			Type:  models.PayloadTypeReminder,
			Title: "Time for a label check?",
			Body:  "Give your pet's next meal a quick scan.",
		}
	}
}

func celebrationPayload(pet *models.Pet) models.NotificationPayload {
	return models.NotificationPayload{
		Type:     models.PayloadTypeCelebration,
		EntityID: pet.ID,
		Title:    fmt.Sprintf("It's %s's birthday month!", pet.Name),
		Body:     fmt.Sprintf("Celebrate %s with a special treat. Scan it first to keep it safe.", pet.Name),
	}
}

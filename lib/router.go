package lib

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRouter is the single registered target for "notification was tapped"
// callbacks. It maps identifiers to navigation intents and is the one commit
// point that marks a celebration as shown: the record exists only once the
// user has actually seen the celebration, so an unopened celebration may
// refire later in the same period.
type EventRouter struct {
	log     *zap.Logger
	db      *gorm.DB
	intents chan models.NavigationIntent
}

func NewEventRouter(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB) *EventRouter {
	return &EventRouter{
		log:     log,
		db:      db,
		intents: make(chan models.NavigationIntent, 16),
	}
}

// Intents is the navigation intent stream, drained on each client poll.
func (r *EventRouter) Intents() <-chan models.NavigationIntent {
	return r.intents
}

// OnNotificationOpened resolves a tapped notification to a navigation intent.
func (r *EventRouter) OnNotificationOpened(ctx context.Context, identifier string, payload models.NotificationPayload) (models.NavigationIntent, error) {
	intent := r.resolve(identifier, payload)

	if intent.Kind == models.IntentOpenCelebration && intent.EntityID != 0 {
		if err := r.commitCelebration(ctx, intent.EntityID, time.Now().UTC()); err != nil {
			r.log.Sugar().Errorw("Failed to commit celebration record", "entity_id", intent.EntityID, "err", err)
			return intent, err
		}
	}

	select {
	case r.intents <- intent:
	default:
		r.log.Sugar().Warnw("Intent stream full, dropping", "kind", intent.Kind)
	}

	r.log.Sugar().Infow("Notification opened", "identifier", identifier, "intent", intent.Kind)
	return intent, nil
}

func (r *EventRouter) resolve(identifier string, payload models.NotificationPayload) models.NavigationIntent {
	switch {
	case strings.HasPrefix(identifier, "celebration-"):
		return models.NavigationIntent{
			Kind:     models.IntentOpenCelebration,
			EntityID: celebrationEntityID(identifier, payload),
		}

	case strings.HasPrefix(identifier, "reminder-"):
		return models.NavigationIntent{Kind: models.IntentOpenCapture}

	case payload.Type == models.PayloadTypeEntity && payload.EntityID != 0:
		return models.NavigationIntent{Kind: models.IntentOpenEntityDetail, EntityID: payload.EntityID}

	default:
		return models.NavigationIntent{Kind: models.IntentOpenCapture}
	}
}

// commitCelebration inserts the {entity, period} key, at most once per
// period. Insert-if-absent plus a guarded update keeps the commit atomic per
// key even if two open callbacks race.
func (r *EventRouter) commitCelebration(ctx context.Context, entityID uint, now time.Time) error {
	period := now.Year()

	tx := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CelebrationRecord{
			EntityID:  entityID,
			PeriodID:  period,
			ChosenDay: now.Day(),
			FiredAt:   sql.NullTime{Time: now, Valid: true},
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	// The plan row already existed; stamp it if still unfired.
	tx = r.db.WithContext(ctx).
		Model(&models.CelebrationRecord{}).
		Where("entity_id = ? AND period_id = ? AND fired_at IS NULL", entityID, period).
		Update("fired_at", now)
	return tx.Error
}

func celebrationEntityID(identifier string, payload models.NotificationPayload) uint {
	if payload.EntityID != 0 {
		return payload.EntityID
	}
	// Identifier shape: celebration-<entityID>-<uuid>.
	parts := strings.SplitN(identifier, "-", 3)
	if len(parts) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

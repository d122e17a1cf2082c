package lib

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the engine's entry point for collaborator signals. Every
// mutation of engine state funnels through here and into one serialized
// scheduler evaluation.
type Service struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	gate      *PermissionGate
	identity  *DeviceIdentityManager
	scheduler *Scheduler
	router    *EventRouter
	session   *SessionStore
	tokens    *StoredTokenSource
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB, gate *PermissionGate, identity *DeviceIdentityManager, scheduler *Scheduler, router *EventRouter, session *SessionStore, tokens *StoredTokenSource) *Service {
	return &Service{cfg, log, db, gate, identity, scheduler, router, session, tokens}
}

// OnQualifyingAction records a qualifying user action (scan completed) and
// re-evaluates all schedules. Fire-and-forget for the caller.
func (svc *Service) OnQualifyingAction(ctx context.Context, ts time.Time) error {
	ts = ts.UTC()

	rec := models.ActivityRecord{}
	rec.ID = 1
	rec.LastQualifyingActionAt = sql.NullTime{Time: ts, Valid: true}
	if tx := svc.db.WithContext(ctx).Save(&rec); tx.Error != nil {
		return tx.Error
	}

	svc.log.Sugar().Infow("Qualifying action recorded", "at", ts)
	svc.scheduler.Evaluate(ctx, time.Now().UTC())
	return nil
}

// OnForeground applies the client-reported authorization state and
// re-evaluates. If the permission is still undetermined, the one-shot prompt
// is kicked off in the background; evaluation is never blocked on the user.
func (svc *Service) OnForeground(ctx context.Context, reported models.AuthorizationState) {
	svc.gate.Refresh(reported)

	if svc.gate.CurrentState() == models.AuthorizationUndetermined {
		go func() {
			promptCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			state, _ := svc.gate.RequestAuthorization(promptCtx)
			if state == models.AuthorizationAuthorized {
				svc.scheduler.Wake(time.Now().UTC())
			}
		}()
	}

	svc.scheduler.Evaluate(ctx, time.Now().UTC())
}

// OnNotificationOpened routes a tap callback to a navigation intent and
// re-evaluates, so a just-committed celebration stops refiring.
func (svc *Service) OnNotificationOpened(ctx context.Context, identifier string, payload models.NotificationPayload) (models.NavigationIntent, error) {
	intent, err := svc.router.OnNotificationOpened(ctx, identifier, payload)
	if err != nil {
		return intent, err
	}

	svc.scheduler.Evaluate(ctx, time.Now().UTC())
	return intent, nil
}

// PendingIntents drains navigation intents queued since the last client poll.
func (svc *Service) PendingIntents() []models.NavigationIntent {
	var out []models.NavigationIntent
	for {
		select {
		case intent := <-svc.router.Intents():
			out = append(out, intent)
		default:
			return out
		}
	}
}

// SetSessionToken stores the authenticated session; remote channel
// preconditions may have just cleared, so schedules are re-evaluated.
func (svc *Service) SetSessionToken(ctx context.Context, token string) error {
	if err := svc.session.Set(ctx, token); err != nil {
		return err
	}
	svc.scheduler.Wake(time.Now().UTC())
	return nil
}

// UpdateDeviceToken stages a rotated platform token and marks the identity
// stale so the next remote dispatch re-registers.
func (svc *Service) UpdateDeviceToken(ctx context.Context, token string) error {
	if err := svc.tokens.Put(ctx, token); err != nil {
		return err
	}
	if err := svc.identity.Invalidate(); err != nil {
		return err
	}
	svc.scheduler.Wake(time.Now().UTC())
	return nil
}

// AddPet registers an entity with a recurring date, making it a celebration
// candidate.
func (svc *Service) AddPet(ctx context.Context, name string, birthDate time.Time) (*models.Pet, error) {
	if name == "" {
		return nil, errors.New("pet name is required")
	}
	pet := &models.Pet{Name: name, BirthDate: birthDate.UTC()}
	if tx := svc.db.WithContext(ctx).Create(pet); tx.Error != nil {
		return nil, tx.Error
	}

	svc.scheduler.Evaluate(ctx, time.Now().UTC())
	return pet, nil
}

// ListPets returns a read-only snapshot of entities with recurring dates.
func (svc *Service) ListPets(ctx context.Context) (models.Pets, error) {
	var pets models.Pets
	tx := svc.db.WithContext(ctx).Find(&pets)
	return pets, tx.Error
}

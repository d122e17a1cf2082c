package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DirectiveAction string

const (
	DirectiveSchedule DirectiveAction = "schedule"
	DirectiveCancel   DirectiveAction = "cancel"
	DirectivePrompt   DirectiveAction = "prompt_authorization"
)

// Directive is one instruction for the client to mirror into the platform
// notification center. The client drains these on each poll and applies them
// in order.
type Directive struct {
	Action     DirectiveAction             `json:"action"`
	Identifier string                      `json:"identifier,omitempty"`
	FiresAt    *time.Time                  `json:"firesAt,omitempty"`
	Payload    *models.NotificationPayload `json:"payload,omitempty"`
}

// LocalQueue is the local channel: a queue of schedule/cancel directives
// handed back to the mobile client, which owns the actual platform primitive.
// The pending set models the platform's per-app notification quota.
type LocalQueue struct {
	log   *zap.Logger
	quota int

	mu         sync.Mutex
	pending    map[string]models.ScheduledNotificationHandle
	directives []Directive
}

func NewLocalQueue(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) *LocalQueue {
	return &LocalQueue{
		log:     log,
		quota:   cfg.Engine.LocalPendingQuota,
		pending: make(map[string]models.ScheduledNotificationHandle),
	}
}

func (q *LocalQueue) Schedule(ctx context.Context, handle models.ScheduledNotificationHandle, payload models.NotificationPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked(time.Now().UTC())

	if _, exists := q.pending[handle.Identifier]; !exists && len(q.pending) >= q.quota {
		return fmt.Errorf("%w (%d pending)", ErrQuotaExceeded, len(q.pending))
	}

	firesAt := handle.FiresAt
	p := payload
	q.pending[handle.Identifier] = handle
	q.directives = append(q.directives, Directive{
		Action:     DirectiveSchedule,
		Identifier: handle.Identifier,
		FiresAt:    &firesAt,
		Payload:    &p,
	})
	return nil
}

func (q *LocalQueue) Cancel(ctx context.Context, identifier string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[identifier]; !ok {
		return nil
	}
	delete(q.pending, identifier)
	q.directives = append(q.directives, Directive{
		Action:     DirectiveCancel,
		Identifier: identifier,
	})
	return nil
}

// PromptAuthorization queues a directive asking the client to show the
// platform permission dialog.
func (q *LocalQueue) PromptAuthorization() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.directives = append(q.directives, Directive{Action: DirectivePrompt})
}

// Drain returns all queued directives and clears the queue. Called by the API
// layer when the client polls.
func (q *LocalQueue) Drain() []Directive {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.directives
	q.directives = nil
	return out
}

// Prune drops pending handles whose fire time has passed; the platform has
// already delivered them on-device.
func (q *LocalQueue) Prune(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked(now)
}

func (q *LocalQueue) pruneLocked(now time.Time) {
	for id, handle := range q.pending {
		if handle.FiresAt.Before(now) {
			delete(q.pending, id)
		}
	}
}

func (q *LocalQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *LocalQueue) HasPending(identifier string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[identifier]
	return ok
}

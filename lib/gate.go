package lib

import (
	"context"
	"sync"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/zap"
)

// Prompter shows the platform permission dialog and blocks until the user
// decides or the prompt lifecycle ends.
type Prompter interface {
	PromptAuthorization(ctx context.Context) (models.AuthorizationState, error)
}

// PermissionGate caches the notification authorization state and owns the
// one-shot permission prompt. The platform shows the dialog at most once
// meaningfully per install; after the first terminal result every call
// returns the cached decision without re-prompting.
type PermissionGate struct {
	log      *zap.Logger
	prompter Prompter

	mu       sync.Mutex
	state    models.AuthorizationState
	prompted bool
}

func NewPermissionGate(log *zap.Logger, prompter Prompter) *PermissionGate {
	return &PermissionGate{
		log:      log,
		prompter: prompter,
		state:    models.AuthorizationUndetermined,
	}
}

// CurrentState returns the cached authorization state without blocking.
func (g *PermissionGate) CurrentState() models.AuthorizationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Refresh applies the client-reported platform state, called on app
// foreground. A terminal platform state always wins over the cache; an
// undetermined report never downgrades a terminal decision.
func (g *PermissionGate) Refresh(state models.AuthorizationState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state == models.AuthorizationUndetermined {
		return
	}
	if g.state != state {
		g.log.Sugar().Infow("Authorization state changed", "from", g.state, "to", state)
	}
	g.state = state
	g.prompted = true
}

// RequestAuthorization triggers the platform prompt once and caches the
// terminal result. If the prompt lifecycle ends without a decision, the
// result is denied. This is a one-shot state transition, not a retriable
// operation.
func (g *PermissionGate) RequestAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	g.mu.Lock()
	if g.prompted || g.state != models.AuthorizationUndetermined {
		state := g.state
		g.mu.Unlock()
		return state, nil
	}
	g.prompted = true
	g.mu.Unlock()

	state, err := g.prompter.PromptAuthorization(ctx)
	if err != nil || state == models.AuthorizationUndetermined {
		state = models.AuthorizationDenied
	}

	g.mu.Lock()
	// Refresh may have raced us with the platform's own report; keep it.
	if g.state == models.AuthorizationUndetermined {
		g.state = state
	}
	state = g.state
	g.mu.Unlock()

	g.log.Sugar().Infow("Authorization prompt resolved", "state", state)
	return state, nil
}

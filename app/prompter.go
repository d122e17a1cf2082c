package app

import (
	"context"

	"github.com/Steven-matos/petscan-engage/channels"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ClientPrompter relays the one-shot permission prompt through the client: a
// prompt directive is queued for the device, and the decision comes back via
// the permission report endpoint. If the prompt lifecycle ends without a
// decision, the gate treats it as denied.
type ClientPrompter struct {
	log      *zap.Logger
	local    *channels.LocalQueue
	resolved chan models.AuthorizationState
}

func NewClientPrompter(lc fx.Lifecycle, log *zap.Logger, local *channels.LocalQueue) *ClientPrompter {
	return &ClientPrompter{
		log:      log,
		local:    local,
		resolved: make(chan models.AuthorizationState, 1),
	}
}

func (p *ClientPrompter) PromptAuthorization(ctx context.Context) (models.AuthorizationState, error) {
	p.local.PromptAuthorization()
	p.log.Sugar().Info("Queued authorization prompt for client")

	select {
	case state := <-p.resolved:
		return state, nil
	case <-ctx.Done():
		return models.AuthorizationDenied, nil
	}
}

// Resolve delivers the client-reported prompt decision.
func (p *ClientPrompter) Resolve(state models.AuthorizationState) {
	select {
	case p.resolved <- state:
	default:
	}
}

package main

import (
	"net/http"
	"os"
	"time"

	"github.com/Steven-matos/petscan-engage/app"
	"github.com/Steven-matos/petscan-engage/channels"
	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),

		fx.Provide(channels.NewLocalQueue),
		fx.Provide(channels.NewRemoteGateway),
		fx.Provide(channels.NewRegistry),

		fx.Provide(app.NewClientPrompter),
		fx.Provide(func(p *app.ClientPrompter) lib.Prompter { return p }),
		fx.Provide(lib.NewPermissionGate),

		fx.Provide(lib.NewSessionStore),
		fx.Provide(func(s *lib.SessionStore) lib.SessionProvider { return s }),
		fx.Provide(lib.NewStoredTokenSource),
		fx.Provide(func(t *lib.StoredTokenSource) lib.TokenSource { return t }),
		fx.Provide(lib.NewDeviceIdentityManager),
		fx.Provide(func(m *lib.DeviceIdentityManager) channels.IdentityReader { return m }),

		fx.Provide(lib.NewEventRouter),
		fx.Provide(lib.NewScheduler),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}

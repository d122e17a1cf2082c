package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Steven-matos/petscan-engage/channels"
	"github.com/Steven-matos/petscan-engage/config"
	"github.com/Steven-matos/petscan-engage/lib"
	"github.com/Steven-matos/petscan-engage/lib/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, local *channels.LocalQueue, prompter *ClientPrompter) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, local, prompter)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, local *channels.LocalQueue, prompter *ClientPrompter) http.Handler {
	ctrl := &controller{log, svc, local, prompter}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("petscan-engage", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/signals", func(r chi.Router) {
			r.Post("/activity", ctrl.activity)
			r.Post("/foreground", ctrl.foreground)
		})
		r.Post("/notifications/opened", ctrl.notificationOpened)
		r.Put("/permission", ctrl.reportPermission)
		r.Put("/session", ctrl.setSession)
		r.Put("/device-token", ctrl.updateDeviceToken)
		r.Get("/schedule", ctrl.drainSchedule)

		r.Route("/pets", func(r chi.Router) {
			r.Post("/", ctrl.addPet)
			r.Get("/", ctrl.listPets)
		})
	})

	return r
}

type controller struct {
	log      *zap.Logger
	svc      *lib.Service
	local    *channels.LocalQueue
	prompter *ClientPrompter
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Error("Request failed", "error", err)
		return
	} else {
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) activity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Timestamp *time.Time `json:"timestamp"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	ts := time.Now().UTC()
	if body.Timestamp != nil {
		ts = body.Timestamp.UTC()
	}

	if err := ctrl.svc.OnQualifyingAction(ctx, ts); err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, map[string]any{"recorded": ts})
}

func (ctrl *controller) foreground(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Authorization models.AuthorizationState `json:"authorization"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Authorization == "" {
		body.Authorization = models.AuthorizationUndetermined
	}

	ctrl.svc.OnForeground(ctx, body.Authorization)
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

func (ctrl *controller) notificationOpened(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Identifier string                     `json:"identifier"`
		Payload    models.NotificationPayload `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	if body.Identifier == "" {
		ctrl.reject(w, 400, errors.New("identifier is required"))
		return
	}

	intent, err := ctrl.svc.OnNotificationOpened(ctx, body.Identifier, body.Payload)
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, intent)
}

func (ctrl *controller) reportPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		State models.AuthorizationState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, 400, err)
		return
	}

	ctrl.prompter.Resolve(body.State)
	ctrl.svc.OnForeground(ctx, body.State)
	ctrl.resolve(w, http.StatusOK, map[string]any{"state": body.State})
}

func (ctrl *controller) setSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, 400, err)
		return
	}

	if err := ctrl.svc.SetSessionToken(ctx, body.Token); err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

func (ctrl *controller) updateDeviceToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, 400, err)
		return
	}

	if err := ctrl.svc.UpdateDeviceToken(ctx, body.Token); err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ok": true})
}

func (ctrl *controller) drainSchedule(w http.ResponseWriter, r *http.Request) {
	directives := ctrl.local.Drain()
	if directives == nil {
		directives = []channels.Directive{}
	}
	intents := ctrl.svc.PendingIntents()
	if intents == nil {
		intents = []models.NavigationIntent{}
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"directives": directives, "intents": intents})
}

func (ctrl *controller) addPet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name      string    `json:"name"`
		BirthDate time.Time `json:"birthDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctrl.reject(w, 400, err)
		return
	}

	pet, err := ctrl.svc.AddPet(ctx, body.Name, body.BirthDate)
	if err != nil {
		ctrl.reject(w, 400, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, pet)
}

func (ctrl *controller) listPets(w http.ResponseWriter, r *http.Request) {
	pets, err := ctrl.svc.ListPets(r.Context())
	if err != nil {
		ctrl.reject(w, 500, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, pets)
}

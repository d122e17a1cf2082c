package lib

import (
	"context"
	"errors"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// SessionStore is the authenticated-session provider, backed by the durable
// store so the session survives process restarts.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(lc fx.Lifecycle, db *gorm.DB) *SessionStore {
	return &SessionStore{db}
}

func (s *SessionStore) CurrentSessionToken(ctx context.Context) (string, bool) {
	sess := &models.Session{}
	tx := s.db.WithContext(ctx).Order("id desc").First(sess)
	if tx.Error != nil || sess.Token == "" {
		return "", false
	}
	return sess.Token, true
}

func (s *SessionStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("session token must not be empty")
	}
	tx := s.db.WithContext(ctx).Create(&models.Session{Token: token})
	return tx.Error
}

package lib

import (
	"context"
	"errors"

	"github.com/Steven-matos/petscan-engage/lib/models"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// StoredTokenSource yields the most recent platform token reported by the
// client. The platform pushes token rotations to the app, which forwards them
// here; registration then picks up whatever is staged.
type StoredTokenSource struct {
	db *gorm.DB
}

func NewStoredTokenSource(lc fx.Lifecycle, db *gorm.DB) *StoredTokenSource {
	return &StoredTokenSource{db}
}

func (t *StoredTokenSource) DeviceToken(ctx context.Context) (string, error) {
	row := &models.PlatformToken{}
	tx := t.db.WithContext(ctx).Order("id desc").First(row)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoPlatformToken
	} else if err != nil {
		return "", err
	}
	return row.Token, nil
}

func (t *StoredTokenSource) Put(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("platform token must not be empty")
	}
	tx := t.db.WithContext(ctx).Create(&models.PlatformToken{Token: token})
	return tx.Error
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/vmforge/engine/internal/models"
	appErr "github.com/vmforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type AccountRepository interface {
	BaseRepository[models.ProviderAccount]
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.ProviderAccount, error)
	// ReplaceCredentials swaps the stored ciphertext; re-encryption produces
	// a new record value, never an in-place mutation of the old one.
	ReplaceCredentials(ctx context.Context, accountID uuid.UUID, ciphertext string) error
}

type accountRepository struct {
	BaseRepository[models.ProviderAccount]
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{BaseRepository: NewBaseRepository[models.ProviderAccount](db), db: db}
}

func (r *accountRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.ProviderAccount, error) {
	var out []models.ProviderAccount
	if err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list provider accounts failed")
	}
	return out, nil
}

func (r *accountRepository) ReplaceCredentials(ctx context.Context, accountID uuid.UUID, ciphertext string) error {
	res := r.db.WithContext(ctx).Model(&models.ProviderAccount{}).Where("id = ?", accountID).Update("credentials", ciphertext)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "replace credentials failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "provider account not found")
	}
	return nil
}

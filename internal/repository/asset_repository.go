package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/vmforge/engine/internal/models"
	appErr "github.com/vmforge/engine/pkg/errors"
	"gorm.io/gorm"
)

// SSHKeyRepository, FirewallRepository, and BootstrapRepository back the
// variable-building phase of create deployments.

type SSHKeyRepository interface {
	BaseRepository[models.SSHKey]
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.SSHKey, error)
}

type sshKeyRepository struct {
	BaseRepository[models.SSHKey]
	db *gorm.DB
}

func NewSSHKeyRepository(db *gorm.DB) SSHKeyRepository {
	return &sshKeyRepository{BaseRepository: NewBaseRepository[models.SSHKey](db), db: db}
}

func (r *sshKeyRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.SSHKey, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.SSHKey
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "get ssh keys failed")
	}
	return out, nil
}

type FirewallRepository interface {
	BaseRepository[models.FirewallProfile]
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.FirewallProfile, error)
}

type firewallRepository struct {
	BaseRepository[models.FirewallProfile]
	db *gorm.DB
}

func NewFirewallRepository(db *gorm.DB) FirewallRepository {
	return &firewallRepository{BaseRepository: NewBaseRepository[models.FirewallProfile](db), db: db}
}

func (r *firewallRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.FirewallProfile, error) {
	var out []models.FirewallProfile
	if err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list firewall profiles failed")
	}
	return out, nil
}

type BootstrapRepository interface {
	BaseRepository[models.BootstrapTemplate]
}

func NewBootstrapRepository(db *gorm.DB) BootstrapRepository {
	return NewBaseRepository[models.BootstrapTemplate](db)
}

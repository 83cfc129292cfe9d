package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/vmforge/engine/internal/models"
	appErr "github.com/vmforge/engine/pkg/errors"
	"gorm.io/gorm"
)

// MachineObservation is the reconciler's and orchestrator's write set for a
// machine: observed status, network fields, and state-trust flag.
type MachineObservation struct {
	ActualStatus  models.MachineStatus
	PublicIP      *string
	PrivateIP     *string
	TFStateStatus models.TFStateStatus
	// ProviderResourceID is set on successful create; empty means unchanged.
	ProviderResourceID string
}

type MachineRepository interface {
	BaseRepository[models.Machine]
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Machine, error)
	// ListNonTerminal returns every machine whose actual status is not terminal.
	ListNonTerminal(ctx context.Context) ([]models.Machine, error)
	// RecordObservation writes the fields only the orchestrator and
	// reconciler are allowed to mutate.
	RecordObservation(ctx context.Context, machineID uuid.UUID, obs MachineObservation) error
}

type machineRepository struct {
	BaseRepository[models.Machine]
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) MachineRepository {
	return &machineRepository{BaseRepository: NewBaseRepository[models.Machine](db), db: db}
}

func (r *machineRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Machine, error) {
	var out []models.Machine
	if err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list machines failed")
	}
	return out, nil
}

func (r *machineRepository) ListNonTerminal(ctx context.Context) ([]models.Machine, error) {
	var out []models.Machine
	if err := r.db.WithContext(ctx).Where("actual_status <> ?", models.MachineTerminated).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list non-terminal machines failed")
	}
	return out, nil
}

func (r *machineRepository) RecordObservation(ctx context.Context, machineID uuid.UUID, obs MachineObservation) error {
	updates := map[string]any{
		"actual_status":   obs.ActualStatus,
		"public_ip":       obs.PublicIP,
		"private_ip":      obs.PrivateIP,
		"tf_state_status": obs.TFStateStatus,
	}
	if obs.ProviderResourceID != "" {
		updates["provider_resource_id"] = obs.ProviderResourceID
	}
	res := r.db.WithContext(ctx).Model(&models.Machine{}).Where("id = ?", machineID).Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "record machine observation failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "machine not found")
	}
	return nil
}

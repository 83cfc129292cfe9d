package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vmforge/engine/internal/models"
	appErr "github.com/vmforge/engine/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	ListByMachine(ctx context.Context, machineID uuid.UUID) ([]models.Deployment, error)
	// HasActiveForMachine reports whether the machine already owns a
	// non-terminal deployment.
	HasActiveForMachine(ctx context.Context, machineID uuid.UUID) (bool, error)
	// TransitionState atomically moves a deployment from one state to
	// another, optionally stamping started/finished times. It reports
	// conflict if the deployment is no longer in the expected state (for
	// example a concurrent cancellation won).
	TransitionState(ctx context.Context, deploymentID uuid.UUID, from, to models.DeploymentState, startedAt, finishedAt *time.Time) error
	// CancelIfPending atomically moves a queued or planning deployment to
	// cancelled; it reports conflict if the deployment already progressed.
	CancelIfPending(ctx context.Context, deploymentID uuid.UUID) error
	SetPlanSummary(ctx context.Context, deploymentID uuid.UUID, summary models.PlanSummary) error
	SetError(ctx context.Context, deploymentID uuid.UUID, message string) error
	AppendLog(ctx context.Context, deploymentID uuid.UUID, line models.DeploymentLog) error
	GetLogs(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentLog, error)
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) ListByMachine(ctx context.Context, machineID uuid.UUID) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).Where("machine_id = ?", machineID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) HasActiveForMachine(ctx context.Context, machineID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("machine_id = ? AND state NOT IN ?", machineID, []models.DeploymentState{
			models.StateSucceeded, models.StateFailed, models.StateCancelled,
		}).
		Count(&count).Error
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "count active deployments failed")
	}
	return count > 0, nil
}

func (r *deploymentRepository) TransitionState(ctx context.Context, deploymentID uuid.UUID, from, to models.DeploymentState, startedAt, finishedAt *time.Time) error {
	updates := map[string]any{"state": to}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if finishedAt != nil {
		updates["finished_at"] = finishedAt
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND state = ?", deploymentID, from).
		Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update deployment state failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "deployment state changed concurrently")
	}
	return nil
}

func (r *deploymentRepository) CancelIfPending(ctx context.Context, deploymentID uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND state IN ?", deploymentID, []models.DeploymentState{models.StateQueued, models.StatePlanning}).
		Updates(map[string]any{"state": models.StateCancelled, "finished_at": &now})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "cancel deployment failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "deployment is not cancellable in its current state")
	}
	return nil
}

func (r *deploymentRepository) SetPlanSummary(ctx context.Context, deploymentID uuid.UUID, summary models.PlanSummary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal plan summary failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Update("plan_summary", datatypes.JSON(b))
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update plan summary failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}

func (r *deploymentRepository) SetError(ctx context.Context, deploymentID uuid.UUID, message string) error {
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Update("error_message", message)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update error message failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}

func (r *deploymentRepository) AppendLog(ctx context.Context, deploymentID uuid.UUID, line models.DeploymentLog) error {
	var d models.Deployment
	if err := r.GetByID(ctx, deploymentID, &d); err != nil {
		return err
	}

	var logs []models.DeploymentLog
	if len(d.Logs) > 0 {
		if err := json.Unmarshal(d.Logs, &logs); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "unmarshal deployment logs failed")
		}
	}
	logs = append(logs, line)

	b, err := json.Marshal(logs)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal deployment logs failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Update("logs", datatypes.JSON(b))
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "append deployment log failed")
	}
	return nil
}

func (r *deploymentRepository) GetLogs(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentLog, error) {
	var d models.Deployment
	if err := r.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	var logs []models.DeploymentLog
	if len(d.Logs) > 0 {
		if err := json.Unmarshal(d.Logs, &logs); err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal deployment logs failed")
		}
	}
	return logs, nil
}

package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/queue/tasks"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
	"github.com/vmforge/engine/pkg/logger"
)

// DeploymentService admits, lists, and cancels deployments. Execution lives
// in the worker; this layer only decides whether a deployment may be queued
// and hands it to the queue.
type DeploymentService interface {
	RequestDeployment(ctx context.Context, machineID, teamID uuid.UUID, deployType models.DeploymentType) (*models.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID, teamID uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, machineID, teamID uuid.UUID) ([]models.Deployment, error)
	GetDeploymentLogs(ctx context.Context, deploymentID, teamID uuid.UUID) ([]models.DeploymentLog, error)
	// CancelDeployment cancels a deployment that has not started applying.
	CancelDeployment(ctx context.Context, deploymentID, teamID uuid.UUID) error
}

type deploymentService struct {
	machineRepo repository.MachineRepository
	deployRepo  repository.DeploymentRepository
	asynqClient *asynq.Client
}

func NewDeploymentService(machineRepo repository.MachineRepository, deployRepo repository.DeploymentRepository, client *asynq.Client) DeploymentService {
	return &deploymentService{machineRepo: machineRepo, deployRepo: deployRepo, asynqClient: client}
}

var _ DeploymentService = (*deploymentService)(nil)

func (s *deploymentService) RequestDeployment(ctx context.Context, machineID, teamID uuid.UUID, deployType models.DeploymentType) (*models.Deployment, error) {
	if !deployType.Valid() {
		return nil, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown deployment type %q", deployType))
	}

	var m models.Machine
	if err := s.machineRepo.GetByID(ctx, machineID, &m); err != nil {
		return nil, err
	}
	if m.TeamID != teamID {
		return nil, appErr.New(appErr.CodeForbidden, "machine does not belong to team")
	}
	if m.ActualStatus == models.MachineTerminated {
		return nil, appErr.New(appErr.CodeInvalid, "machine is terminated")
	}

	// one deployment at a time per machine
	active, err := s.deployRepo.HasActiveForMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, appErr.New(appErr.CodeConflict, "another active deployment exists for machine")
	}

	d := &models.Deployment{
		MachineID: machineID,
		Type:      deployType,
		State:     models.StateQueued,
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, d); err != nil {
		_ = s.deployRepo.SetError(ctx, d.ID, "enqueue failed: "+err.Error())
		_ = s.deployRepo.TransitionState(ctx, d.ID, models.StateQueued, models.StateFailed, nil, nil)
		return nil, appErr.Wrap(err, appErr.CodeInternal, "enqueue deployment task failed")
	}

	logger.L().Info("deployment queued",
		zap.String("deployment_id", d.ID.String()),
		zap.String("machine_id", machineID.String()),
		zap.String("type", string(deployType)))
	return d, nil
}

func (s *deploymentService) enqueue(ctx context.Context, d *models.Deployment) error {
	if s.asynqClient == nil {
		logger.L().Warn("asynq client not configured, skipping enqueue", zap.String("deployment_id", d.ID.String()))
		return nil
	}
	task, err := tasks.NewDeploymentRunTask(d.ID)
	if err != nil {
		return err
	}
	_, err = s.asynqClient.EnqueueContext(ctx, task)
	return err
}

func (s *deploymentService) GetDeployment(ctx context.Context, deploymentID, teamID uuid.UUID) (*models.Deployment, error) {
	d, err := s.ownedDeployment(ctx, deploymentID, teamID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *deploymentService) ListDeployments(ctx context.Context, machineID, teamID uuid.UUID) ([]models.Deployment, error) {
	var m models.Machine
	if err := s.machineRepo.GetByID(ctx, machineID, &m); err != nil {
		return nil, err
	}
	if m.TeamID != teamID {
		return nil, appErr.New(appErr.CodeForbidden, "machine does not belong to team")
	}
	return s.deployRepo.ListByMachine(ctx, machineID)
}

func (s *deploymentService) GetDeploymentLogs(ctx context.Context, deploymentID, teamID uuid.UUID) ([]models.DeploymentLog, error) {
	if _, err := s.ownedDeployment(ctx, deploymentID, teamID); err != nil {
		return nil, err
	}
	return s.deployRepo.GetLogs(ctx, deploymentID)
}

func (s *deploymentService) CancelDeployment(ctx context.Context, deploymentID, teamID uuid.UUID) error {
	if _, err := s.ownedDeployment(ctx, deploymentID, teamID); err != nil {
		return err
	}
	if err := s.deployRepo.CancelIfPending(ctx, deploymentID); err != nil {
		return err
	}
	logger.L().Info("deployment cancelled", zap.String("deployment_id", deploymentID.String()))
	return nil
}

// ownedDeployment loads a deployment and verifies the machine it belongs to
// is owned by the caller's team.
func (s *deploymentService) ownedDeployment(ctx context.Context, deploymentID, teamID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	var m models.Machine
	if err := s.machineRepo.GetByID(ctx, d.MachineID, &m); err != nil {
		return nil, err
	}
	if m.TeamID != teamID {
		return nil, appErr.New(appErr.CodeForbidden, "deployment does not belong to team")
	}
	return &d, nil
}

package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
	"github.com/vmforge/engine/pkg/logger"
)

type CreateMachineInput struct {
	Name                string      `json:"name" validate:"required"`
	Provider            string      `json:"provider" validate:"required,oneof=digitalocean aws gcp azure"`
	ProviderAccountID   uuid.UUID   `json:"provider_account_id" validate:"required"`
	Region              string      `json:"region" validate:"required"`
	Size                string      `json:"size" validate:"required"`
	Image               string      `json:"image" validate:"required"`
	FirewallProfileID   *uuid.UUID  `json:"firewall_profile_id"`
	BootstrapTemplateID *uuid.UUID  `json:"bootstrap_template_id"`
	SSHKeyIDs           []uuid.UUID `json:"ssh_key_ids"`
}

// MachineService owns the machine catalog. Creating a machine also queues
// its create deployment; lifecycle actions after that go through
// DeploymentService.
type MachineService interface {
	CreateMachine(ctx context.Context, teamID uuid.UUID, input *CreateMachineInput) (*models.Machine, *models.Deployment, error)
	GetMachine(ctx context.Context, machineID, teamID uuid.UUID) (*models.Machine, error)
	ListMachines(ctx context.Context, teamID uuid.UUID) ([]models.Machine, error)
}

type machineService struct {
	machineRepo repository.MachineRepository
	accountRepo repository.AccountRepository
	deployments DeploymentService
}

func NewMachineService(machineRepo repository.MachineRepository, accountRepo repository.AccountRepository, deployments DeploymentService) MachineService {
	return &machineService{machineRepo: machineRepo, accountRepo: accountRepo, deployments: deployments}
}

func (s *machineService) CreateMachine(ctx context.Context, teamID uuid.UUID, input *CreateMachineInput) (*models.Machine, *models.Deployment, error) {
	var account models.ProviderAccount
	if err := s.accountRepo.GetByID(ctx, input.ProviderAccountID, &account); err != nil {
		return nil, nil, err
	}
	if account.TeamID != teamID {
		return nil, nil, appErr.New(appErr.CodeForbidden, "provider account does not belong to team")
	}
	if account.Provider != input.Provider {
		return nil, nil, appErr.New(appErr.CodeInvalid, "provider account is for a different provider")
	}

	var keyIDs datatypes.JSON
	if len(input.SSHKeyIDs) > 0 {
		b, err := json.Marshal(input.SSHKeyIDs)
		if err != nil {
			return nil, nil, appErr.Wrap(err, appErr.CodeInternal, "marshal ssh key ids failed")
		}
		keyIDs = datatypes.JSON(b)
	}

	m := &models.Machine{
		TeamID:              teamID,
		Provider:            input.Provider,
		ProviderAccountID:   input.ProviderAccountID,
		Name:                input.Name,
		Region:              input.Region,
		Size:                input.Size,
		Image:               input.Image,
		DesiredStatus:       models.MachineRunning,
		ActualStatus:        models.MachinePending,
		TFStateStatus:       models.TFStateUnknown,
		WorkspaceID:         "ws-" + uuid.NewString(),
		FirewallProfileID:   input.FirewallProfileID,
		BootstrapTemplateID: input.BootstrapTemplateID,
		SSHKeyIDs:           keyIDs,
	}
	if err := s.machineRepo.Create(ctx, m); err != nil {
		return nil, nil, err
	}

	d, err := s.deployments.RequestDeployment(ctx, m.ID, teamID, models.DeployCreate)
	if err != nil {
		// the machine record stays; the create can be re-requested
		logger.L().Error("queue create deployment failed",
			zap.String("machine_id", m.ID.String()), zap.Error(err))
		return m, nil, err
	}

	logger.L().Info("machine created",
		zap.String("machine_id", m.ID.String()),
		zap.String("team_id", teamID.String()),
		zap.String("provider", m.Provider))
	return m, d, nil
}

func (s *machineService) GetMachine(ctx context.Context, machineID, teamID uuid.UUID) (*models.Machine, error) {
	var m models.Machine
	if err := s.machineRepo.GetByID(ctx, machineID, &m); err != nil {
		return nil, err
	}
	if m.TeamID != teamID {
		return nil, appErr.New(appErr.CodeForbidden, "machine does not belong to team")
	}
	return &m, nil
}

func (s *machineService) ListMachines(ctx context.Context, teamID uuid.UUID) ([]models.Machine, error) {
	return s.machineRepo.ListByTeam(ctx, teamID)
}

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/provider"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
)

type mockMachineRepo struct{ mock.Mock }

func (m *mockMachineRepo) Create(ctx context.Context, obj *models.Machine) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockMachineRepo) GetByID(ctx context.Context, id any, dest *models.Machine) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(1).(*models.Machine); ok && args.Error(0) == nil {
		*dest = *v
	}
	return args.Error(0)
}

func (m *mockMachineRepo) Update(ctx context.Context, obj *models.Machine) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockMachineRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockMachineRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Machine, error) {
	args := m.Called(ctx, teamID)
	out, _ := args.Get(0).([]models.Machine)
	return out, args.Error(1)
}

func (m *mockMachineRepo) ListNonTerminal(ctx context.Context) ([]models.Machine, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]models.Machine)
	return out, args.Error(1)
}

func (m *mockMachineRepo) RecordObservation(ctx context.Context, machineID uuid.UUID, obs repository.MachineObservation) error {
	return m.Called(ctx, machineID, obs).Error(0)
}

type mockDeploymentRepo struct{ mock.Mock }

func (m *mockDeploymentRepo) Create(ctx context.Context, obj *models.Deployment) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockDeploymentRepo) GetByID(ctx context.Context, id any, dest *models.Deployment) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(1).(*models.Deployment); ok && args.Error(0) == nil {
		*dest = *v
	}
	return args.Error(0)
}

func (m *mockDeploymentRepo) Update(ctx context.Context, obj *models.Deployment) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockDeploymentRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDeploymentRepo) ListByMachine(ctx context.Context, machineID uuid.UUID) ([]models.Deployment, error) {
	args := m.Called(ctx, machineID)
	out, _ := args.Get(0).([]models.Deployment)
	return out, args.Error(1)
}

func (m *mockDeploymentRepo) HasActiveForMachine(ctx context.Context, machineID uuid.UUID) (bool, error) {
	args := m.Called(ctx, machineID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeploymentRepo) TransitionState(ctx context.Context, deploymentID uuid.UUID, from, to models.DeploymentState, startedAt, finishedAt *time.Time) error {
	return m.Called(ctx, deploymentID, from, to, startedAt, finishedAt).Error(0)
}

func (m *mockDeploymentRepo) CancelIfPending(ctx context.Context, deploymentID uuid.UUID) error {
	return m.Called(ctx, deploymentID).Error(0)
}

func (m *mockDeploymentRepo) SetPlanSummary(ctx context.Context, deploymentID uuid.UUID, summary models.PlanSummary) error {
	return m.Called(ctx, deploymentID, summary).Error(0)
}

func (m *mockDeploymentRepo) SetError(ctx context.Context, deploymentID uuid.UUID, message string) error {
	return m.Called(ctx, deploymentID, message).Error(0)
}

func (m *mockDeploymentRepo) AppendLog(ctx context.Context, deploymentID uuid.UUID, line models.DeploymentLog) error {
	return m.Called(ctx, deploymentID, line).Error(0)
}

func (m *mockDeploymentRepo) GetLogs(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentLog, error) {
	args := m.Called(ctx, deploymentID)
	out, _ := args.Get(0).([]models.DeploymentLog)
	return out, args.Error(1)
}

type mockAccountRepo struct{ mock.Mock }

func (m *mockAccountRepo) Create(ctx context.Context, obj *models.ProviderAccount) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id any, dest *models.ProviderAccount) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(1).(*models.ProviderAccount); ok && args.Error(0) == nil {
		*dest = *v
	}
	return args.Error(0)
}

func (m *mockAccountRepo) Update(ctx context.Context, obj *models.ProviderAccount) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockAccountRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAccountRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.ProviderAccount, error) {
	args := m.Called(ctx, teamID)
	out, _ := args.Get(0).([]models.ProviderAccount)
	return out, args.Error(1)
}

func (m *mockAccountRepo) ReplaceCredentials(ctx context.Context, accountID uuid.UUID, ciphertext string) error {
	return m.Called(ctx, accountID, ciphertext).Error(0)
}

type mockSSHKeyRepo struct{ mock.Mock }

func (m *mockSSHKeyRepo) Create(ctx context.Context, obj *models.SSHKey) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockSSHKeyRepo) GetByID(ctx context.Context, id any, dest *models.SSHKey) error {
	return m.Called(ctx, id, dest).Error(0)
}

func (m *mockSSHKeyRepo) Update(ctx context.Context, obj *models.SSHKey) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockSSHKeyRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSSHKeyRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.SSHKey, error) {
	args := m.Called(ctx, ids)
	out, _ := args.Get(0).([]models.SSHKey)
	return out, args.Error(1)
}

type mockFirewallRepo struct{ mock.Mock }

func (m *mockFirewallRepo) Create(ctx context.Context, obj *models.FirewallProfile) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockFirewallRepo) GetByID(ctx context.Context, id any, dest *models.FirewallProfile) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(1).(*models.FirewallProfile); ok && args.Error(0) == nil {
		*dest = *v
	}
	return args.Error(0)
}

func (m *mockFirewallRepo) Update(ctx context.Context, obj *models.FirewallProfile) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockFirewallRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockFirewallRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]models.FirewallProfile, error) {
	args := m.Called(ctx, teamID)
	out, _ := args.Get(0).([]models.FirewallProfile)
	return out, args.Error(1)
}

type mockBootstrapRepo struct{ mock.Mock }

func (m *mockBootstrapRepo) Create(ctx context.Context, obj *models.BootstrapTemplate) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockBootstrapRepo) GetByID(ctx context.Context, id any, dest *models.BootstrapTemplate) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(1).(*models.BootstrapTemplate); ok && args.Error(0) == nil {
		*dest = *v
	}
	return args.Error(0)
}

func (m *mockBootstrapRepo) Update(ctx context.Context, obj *models.BootstrapTemplate) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockBootstrapRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Init(ctx context.Context, modulePath string) error {
	return m.Called(ctx, modulePath).Error(0)
}

func (m *mockRunner) Plan(ctx context.Context, vars map[string]any) (*terraform.PlanResult, error) {
	args := m.Called(ctx, vars)
	res, _ := args.Get(0).(*terraform.PlanResult)
	return res, args.Error(1)
}

func (m *mockRunner) Apply(ctx context.Context, planFile string) (*terraform.ApplyResult, error) {
	args := m.Called(ctx, planFile)
	res, _ := args.Get(0).(*terraform.ApplyResult)
	return res, args.Error(1)
}

func (m *mockRunner) Destroy(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRunner) Cleanup() error {
	return m.Called().Error(0)
}

type mockProviderClient struct{ mock.Mock }

func (m *mockProviderClient) ListInstances(ctx context.Context) ([]provider.Instance, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]provider.Instance)
	return out, args.Error(1)
}

func (m *mockProviderClient) GetInstance(ctx context.Context, id string) (*provider.Instance, error) {
	args := m.Called(ctx, id)
	inst, _ := args.Get(0).(*provider.Instance)
	return inst, args.Error(1)
}

func (m *mockProviderClient) RebootInstance(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

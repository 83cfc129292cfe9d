package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/provider"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/internal/vault"
	appErr "github.com/vmforge/engine/pkg/errors"
	"github.com/vmforge/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fixture struct {
	machines    *mockMachineRepo
	deployments *mockDeploymentRepo
	accounts    *mockAccountRepo
	sshKeys     *mockSSHKeyRepo
	firewalls   *mockFirewallRepo
	bootstraps  *mockBootstrapRepo
	runner      *mockRunner
	client      *mockProviderClient

	orc        *Orchestrator
	machine    models.Machine
	deployment models.Deployment
	account    models.ProviderAccount
}

func newFixture(t *testing.T, deployType models.DeploymentType) *fixture {
	t.Helper()

	v, err := vault.New(bytes.Repeat([]byte{0x2a}, 32))
	require.NoError(t, err)

	f := &fixture{
		machines:    &mockMachineRepo{},
		deployments: &mockDeploymentRepo{},
		accounts:    &mockAccountRepo{},
		sshKeys:     &mockSSHKeyRepo{},
		firewalls:   &mockFirewallRepo{},
		bootstraps:  &mockBootstrapRepo{},
		runner:      &mockRunner{},
		client:      &mockProviderClient{},
	}

	teamID := uuid.New()
	f.account = models.ProviderAccount{ID: uuid.New(), TeamID: teamID, Provider: "digitalocean", Name: "primary"}
	ciphertext, err := v.Encrypt(teamID.String(), f.account.ID.String(), map[string]string{"token": "do-token"})
	require.NoError(t, err)
	f.account.Credentials = ciphertext

	f.machine = models.Machine{
		ID:                uuid.New(),
		TeamID:            teamID,
		Provider:          "digitalocean",
		ProviderAccountID: f.account.ID,
		Name:              "web-1",
		Region:            "fra1",
		Size:              "s-1vcpu-1gb",
		Image:             "ubuntu-24-04-x64",
		DesiredStatus:     models.MachineRunning,
		ActualStatus:      models.MachinePending,
		TFStateStatus:     models.TFStateUnknown,
		WorkspaceID:       "ws-web-1",
	}
	f.deployment = models.Deployment{
		ID:        uuid.New(),
		MachineID: f.machine.ID,
		Type:      deployType,
		State:     models.StateQueued,
	}

	f.orc = New(Config{
		Machines:           f.machines,
		Deployments:        f.deployments,
		Accounts:           f.accounts,
		SSHKeys:            f.sshKeys,
		Firewalls:          f.firewalls,
		Bootstraps:         f.bootstraps,
		Vault:              v,
		NewRunner:          func(string, terraform.LogFunc) Runner { return f.runner },
		NewClient:          func(string) provider.Client { return f.client },
		ModuleDir:          "/modules/machine",
		RebootPollInterval: 1,
		RebootPollAttempts: 3,
	})

	f.deployments.On("AppendLog", mock.Anything, f.deployment.ID, mock.Anything).Return(nil)
	return f
}

func (f *fixture) expectLoad() {
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &f.deployment)
	f.machines.On("GetByID", mock.Anything, f.machine.ID, mock.Anything).Return(nil, &f.machine)
	f.accounts.On("GetByID", mock.Anything, f.account.ID, mock.Anything).Return(nil, &f.account)
}

func TestRunCreateSucceeds(t *testing.T) {
	f := newFixture(t, models.DeployCreate)
	f.expectLoad()

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StatePlanning, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StatePlanning, models.StateApplying, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateApplying, models.StateSucceeded, mock.Anything, mock.Anything).Return(nil)

	f.sshKeys.On("GetByIDs", mock.Anything, mock.Anything).Return(nil, nil)
	f.runner.On("Init", mock.Anything, "/modules/machine").Return(nil)
	f.runner.On("Plan", mock.Anything, mock.MatchedBy(func(vars map[string]any) bool {
		rules, _ := vars["inbound_rules"].([]map[string]any)
		return vars["api_token"] == "do-token" &&
			vars["name"] == "web-1" &&
			len(rules) == 1 && rules[0]["port_range"] == "22"
	})).Return(&terraform.PlanResult{HasChanges: true, PlanFile: "tfplan"}, nil)
	f.deployments.On("SetPlanSummary", mock.Anything, f.deployment.ID, mock.MatchedBy(func(s models.PlanSummary) bool {
		return s.Add == 2 && s.Change == 0 && s.Destroy == 0
	})).Return(nil)
	f.runner.On("Apply", mock.Anything, "tfplan").Return(&terraform.ApplyResult{Outputs: map[string]any{
		"public_ip":   "203.0.113.5",
		"private_ip":  "10.10.0.5",
		"instance_id": "d-42",
	}}, nil)
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineRunning &&
			obs.PublicIP != nil && *obs.PublicIP == "203.0.113.5" &&
			obs.PrivateIP != nil && *obs.PrivateIP == "10.10.0.5" &&
			obs.ProviderResourceID == "d-42" &&
			obs.TFStateStatus == models.TFStateInSync
	})).Return(nil)

	require.NoError(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.deployments.AssertExpectations(t)
	f.machines.AssertExpectations(t)
	f.runner.AssertExpectations(t)
}

func TestRunSkipsDeploymentNotQueued(t *testing.T) {
	f := newFixture(t, models.DeployCreate)
	f.deployment.State = models.StateSucceeded
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &f.deployment)

	require.NoError(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.machines.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
	f.runner.AssertNotCalled(t, "Init", mock.Anything, mock.Anything)
}

func TestRunPlanFailureMarksDeploymentFailed(t *testing.T) {
	f := newFixture(t, models.DeployCreate)
	f.expectLoad()

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StatePlanning, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StatePlanning, models.StateFailed, mock.Anything, mock.Anything).Return(nil)

	f.sshKeys.On("GetByIDs", mock.Anything, mock.Anything).Return(nil, nil)
	f.runner.On("Init", mock.Anything, mock.Anything).Return(nil)
	f.runner.On("Plan", mock.Anything, mock.Anything).Return(nil, errors.New("syntax error in main.tf"))
	f.deployments.On("SetError", mock.Anything, f.deployment.ID, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineError && obs.TFStateStatus == models.TFStateUnknown
	})).Return(nil)

	require.Error(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.deployments.AssertExpectations(t)
	f.machines.AssertExpectations(t)
	f.runner.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestRunStopsWhenCancellationWinsRace(t *testing.T) {
	f := newFixture(t, models.DeployCreate)
	f.machines.On("GetByID", mock.Anything, f.machine.ID, mock.Anything).Return(nil, &f.machine)
	f.accounts.On("GetByID", mock.Anything, f.account.ID, mock.Anything).Return(nil, &f.account)

	queued := f.deployment
	cancelled := f.deployment
	cancelled.State = models.StateCancelled
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &queued).Once()
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &cancelled).Once()

	f.sshKeys.On("GetByIDs", mock.Anything, mock.Anything).Return(nil, nil)
	f.runner.On("Init", mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StatePlanning, mock.Anything, mock.Anything).
		Return(appErr.New(appErr.CodeConflict, "deployment state changed concurrently"))

	require.NoError(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.runner.AssertNotCalled(t, "Plan", mock.Anything, mock.Anything)
	f.deployments.AssertNotCalled(t, "SetError", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDestroySucceeds(t *testing.T) {
	f := newFixture(t, models.DeployDestroy)
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &f.deployment)
	f.machines.On("GetByID", mock.Anything, f.machine.ID, mock.Anything).Return(nil, &f.machine)

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StateApplying, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateApplying, models.StateSucceeded, mock.Anything, mock.Anything).Return(nil)

	f.runner.On("Destroy", mock.Anything).Return(nil)
	f.runner.On("Cleanup").Return(nil)
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineTerminated && obs.TFStateStatus == models.TFStateInSync
	})).Return(nil)

	require.NoError(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.runner.AssertExpectations(t)
	f.machines.AssertExpectations(t)
}

func TestRunRebootSucceedsAfterPolling(t *testing.T) {
	f := newFixture(t, models.DeployReboot)
	f.machine.ProviderResourceID = "d-42"
	f.expectLoad()

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StateApplying, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateApplying, models.StateSucceeded, mock.Anything, mock.Anything).Return(nil)

	f.client.On("RebootInstance", mock.Anything, "d-42").Return(nil)
	f.client.On("GetInstance", mock.Anything, "d-42").Return(&provider.Instance{ID: "d-42", Status: "off"}, nil).Once()
	f.client.On("GetInstance", mock.Anything, "d-42").Return(&provider.Instance{ID: "d-42", Status: "active"}, nil).Once()
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.Anything).Return(nil)

	require.NoError(t, f.orc.Run(context.Background(), f.deployment.ID))

	f.machines.AssertCalled(t, "RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineRebooting
	}))
	f.machines.AssertCalled(t, "RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineRunning
	}))
}

func TestRunRebootTimesOut(t *testing.T) {
	f := newFixture(t, models.DeployReboot)
	f.machine.ProviderResourceID = "d-42"
	f.expectLoad()

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StateApplying, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateApplying, models.StateFailed, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("SetError", mock.Anything, f.deployment.ID, mock.Anything).Return(nil)

	f.client.On("RebootInstance", mock.Anything, "d-42").Return(nil)
	f.client.On("GetInstance", mock.Anything, "d-42").Return(&provider.Instance{ID: "d-42", Status: "off"}, nil)
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.Anything).Return(nil)

	err := f.orc.Run(context.Background(), f.deployment.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeDeadline))

	f.client.AssertNumberOfCalls(t, "GetInstance", 3)
	f.machines.AssertCalled(t, "RecordObservation", mock.Anything, f.machine.ID, mock.MatchedBy(func(obs repository.MachineObservation) bool {
		return obs.ActualStatus == models.MachineError && obs.TFStateStatus == models.TFStateUnknown
	}))
}

func TestRunRebootPollAPIErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, models.DeployReboot)
	f.machine.ProviderResourceID = "d-42"
	f.expectLoad()

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StateApplying, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateApplying, models.StateFailed, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("SetError", mock.Anything, f.deployment.ID, mock.Anything).Return(nil)

	f.client.On("RebootInstance", mock.Anything, "d-42").Return(nil)
	f.client.On("GetInstance", mock.Anything, "d-42").Return(nil, errors.New("provider api: status 500"))
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.Anything).Return(nil)

	require.Error(t, f.orc.Run(context.Background(), f.deployment.ID))
	f.client.AssertNumberOfCalls(t, "GetInstance", 1)
}

func TestRunRebootWithoutResourceIDFails(t *testing.T) {
	f := newFixture(t, models.DeployReboot)
	f.deployments.On("GetByID", mock.Anything, f.deployment.ID, mock.Anything).Return(nil, &f.deployment)
	f.machines.On("GetByID", mock.Anything, f.machine.ID, mock.Anything).Return(nil, &f.machine)

	f.deployments.On("TransitionState", mock.Anything, f.deployment.ID, models.StateQueued, models.StateFailed, mock.Anything, mock.Anything).Return(nil)
	f.deployments.On("SetError", mock.Anything, f.deployment.ID, mock.Anything).Return(nil)
	f.machines.On("RecordObservation", mock.Anything, f.machine.ID, mock.Anything).Return(nil)

	err := f.orc.Run(context.Background(), f.deployment.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	f.client.AssertNotCalled(t, "RebootInstance", mock.Anything, mock.Anything)
}

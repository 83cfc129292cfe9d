package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/observability"
	"github.com/vmforge/engine/internal/provider"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/internal/vault"
	appErr "github.com/vmforge/engine/pkg/errors"
	"github.com/vmforge/engine/pkg/logger"
)

// Runner is the process-orchestration surface of one Terraform workspace.
type Runner interface {
	Init(ctx context.Context, modulePath string) error
	Plan(ctx context.Context, vars map[string]any) (*terraform.PlanResult, error)
	Apply(ctx context.Context, planFile string) (*terraform.ApplyResult, error)
	Destroy(ctx context.Context) error
	Cleanup() error
}

// RunnerFactory builds a Runner bound to a machine's workspace. Each machine
// owns a distinct workspace, so concurrent deployments against different
// machines never contend on shared files.
type RunnerFactory func(workspaceID string, logf terraform.LogFunc) Runner

// Config wires the orchestrator's collaborators.
type Config struct {
	Machines    repository.MachineRepository
	Deployments repository.DeploymentRepository
	Accounts    repository.AccountRepository
	SSHKeys     repository.SSHKeyRepository
	Firewalls   repository.FirewallRepository
	Bootstraps  repository.BootstrapRepository

	Vault     *vault.Vault
	NewRunner RunnerFactory
	NewClient provider.Factory
	Broadcast *BroadcastRegistry

	// ModuleDir holds the machine Terraform module fed to Runner.Init.
	ModuleDir string

	// Reboot polling knobs; zero values take the defaults below.
	RebootPollInterval time.Duration
	RebootPollAttempts int
}

const (
	defaultRebootPollInterval = 5 * time.Second
	defaultRebootPollAttempts = 30
)

// Orchestrator owns the deployment state machine. For each deployment it
// selects a provisioning strategy, drives the Runner or a direct provider
// action, persists every transition and log line, and fans lines out to
// live subscribers.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.RebootPollInterval == 0 {
		cfg.RebootPollInterval = defaultRebootPollInterval
	}
	if cfg.RebootPollAttempts == 0 {
		cfg.RebootPollAttempts = defaultRebootPollAttempts
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = NewBroadcastRegistry()
	}
	return &Orchestrator{cfg: cfg}
}

// Broadcast exposes the registry for transports that stream live logs.
func (o *Orchestrator) Broadcast() *BroadcastRegistry { return o.cfg.Broadcast }

// Run executes one deployment to a terminal state. A deployment that is no
// longer queued (already run, or cancelled before pickup) is skipped.
func (o *Orchestrator) Run(ctx context.Context, deploymentID uuid.UUID) error {
	var d models.Deployment
	if err := o.cfg.Deployments.GetByID(ctx, deploymentID, &d); err != nil {
		return err
	}
	if d.State != models.StateQueued {
		logger.L().Info("skipping deployment not in queued state",
			zap.String("deployment_id", d.ID.String()),
			zap.String("state", string(d.State)))
		return nil
	}

	var m models.Machine
	if err := o.cfg.Machines.GetByID(ctx, d.MachineID, &m); err != nil {
		o.fail(ctx, &d, nil, fmt.Errorf("load machine: %w", err))
		return err
	}

	start := time.Now()
	var err error
	switch d.Type {
	case models.DeployCreate, models.DeployUpdate, models.DeployRestartService, models.DeployRefresh:
		err = o.runPipeline(ctx, &d, &m)
	case models.DeployDestroy:
		err = o.runDestroy(ctx, &d, &m)
	case models.DeployReboot:
		err = o.runReboot(ctx, &d, &m)
	default:
		err = appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown deployment type %q", d.Type))
		o.fail(ctx, &d, &m, err)
	}

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	observability.DeploymentsTotal.WithLabelValues(string(d.Type), outcome).Inc()
	observability.DeploymentDuration.WithLabelValues(string(d.Type)).Observe(time.Since(start).Seconds())
	return err
}

// transition advances the deployment along the state machine, persisting
// the change and stamping timestamps. Illegal transitions are programming
// errors and are rejected before touching the store.
func (o *Orchestrator) transition(ctx context.Context, d *models.Deployment, to models.DeploymentState) error {
	if !d.State.CanTransitionTo(to) {
		return appErr.New(appErr.CodeInternal, fmt.Sprintf("illegal deployment transition %s -> %s", d.State, to))
	}

	var startedAt, finishedAt *time.Time
	now := time.Now()
	if d.State == models.StateQueued {
		startedAt = &now
	}
	if to.Terminal() {
		finishedAt = &now
	}

	if err := o.cfg.Deployments.TransitionState(ctx, d.ID, d.State, to, startedAt, finishedAt); err != nil {
		return err
	}
	d.State = to
	if startedAt != nil {
		d.StartedAt = startedAt
	}
	if finishedAt != nil {
		d.FinishedAt = finishedAt
	}
	return nil
}

// emit appends a log line to the deployment's durable log list and delivers
// it to live subscribers. Persistence and delivery are each best-effort
// with respect to the other.
func (o *Orchestrator) emit(ctx context.Context, deploymentID uuid.UUID, level models.LogLevel, source, message string) {
	line := models.DeploymentLog{
		Level:     level,
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := o.cfg.Deployments.AppendLog(ctx, deploymentID, line); err != nil {
		logger.L().Warn("append deployment log failed",
			zap.String("deployment_id", deploymentID.String()), zap.Error(err))
	}
	o.cfg.Broadcast.Publish(deploymentID, line)
	observability.LogLinesTotal.WithLabelValues(string(level)).Inc()
}

// fail marks the deployment failed and flags the machine so reconciliation
// can discover the provider's true state later. machine may be nil when the
// failure happened before the machine could be loaded.
func (o *Orchestrator) fail(ctx context.Context, d *models.Deployment, m *models.Machine, cause error) {
	o.emit(ctx, d.ID, models.LogError, terraform.SourceSystem, cause.Error())

	if err := o.cfg.Deployments.SetError(ctx, d.ID, cause.Error()); err != nil {
		logger.L().Warn("persist deployment error failed", zap.Error(err))
	}
	if err := o.transition(ctx, d, models.StateFailed); err != nil {
		logger.L().Warn("transition to failed state failed",
			zap.String("deployment_id", d.ID.String()), zap.Error(err))
	}

	if m != nil {
		obs := repository.MachineObservation{
			ActualStatus:  models.MachineError,
			PublicIP:      m.PublicIP,
			PrivateIP:     m.PrivateIP,
			TFStateStatus: models.TFStateUnknown,
		}
		if err := o.cfg.Machines.RecordObservation(ctx, m.ID, obs); err != nil {
			logger.L().Warn("flag machine error failed",
				zap.String("machine_id", m.ID.String()), zap.Error(err))
		}
	}
}

// credentialsFor decrypts the provider account credentials owning a machine.
// A corrupted record fails the operation; it is never retried here, the
// caller must delete it and require re-entry.
func (o *Orchestrator) credentialsFor(ctx context.Context, m *models.Machine) (map[string]string, error) {
	var account models.ProviderAccount
	if err := o.cfg.Accounts.GetByID(ctx, m.ProviderAccountID, &account); err != nil {
		return nil, fmt.Errorf("load provider account: %w", err)
	}
	creds, err := o.cfg.Vault.Decrypt(account.TeamID.String(), account.ID.String(), account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt provider credentials: %w", err)
	}
	return creds, nil
}

// runnerLogFunc adapts the Runner's streaming callback onto emit.
func (o *Orchestrator) runnerLogFunc(ctx context.Context, deploymentID uuid.UUID) terraform.LogFunc {
	return func(level models.LogLevel, source, message string) {
		o.emit(ctx, deploymentID, level, source, message)
	}
}

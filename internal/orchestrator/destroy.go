package orchestrator

import (
	"context"
	"fmt"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// runDestroy tears down a machine's resources. No init or plan phase is
// needed; the workspace's existing configuration and state carry everything
// terraform requires.
func (o *Orchestrator) runDestroy(ctx context.Context, d *models.Deployment, m *models.Machine) error {
	runner := o.cfg.NewRunner(m.WorkspaceID, o.runnerLogFunc(ctx, d.ID))

	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem,
		fmt.Sprintf("starting destroy deployment for machine %s", m.Name))

	if cancelled, err := o.advance(ctx, d, models.StateApplying); err != nil {
		o.fail(ctx, d, m, err)
		return err
	} else if cancelled {
		return nil
	}

	if err := runner.Destroy(ctx); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("destroy: %w", err))
		return err
	}

	obs := repository.MachineObservation{
		ActualStatus:  models.MachineTerminated,
		TFStateStatus: models.TFStateInSync,
	}
	if err := o.cfg.Machines.RecordObservation(ctx, m.ID, obs); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("persist machine state: %w", err))
		return err
	}

	if err := o.transition(ctx, d, models.StateSucceeded); err != nil {
		return err
	}
	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem, "machine terminated")

	// release the workspace only after the terminal destroy is recorded
	if err := runner.Cleanup(); err != nil {
		logger.L().Warn("workspace cleanup failed",
			zap.String("machine_id", m.ID.String()), zap.Error(err))
	}
	return nil
}

package orchestrator

import (
	"context"
	"fmt"

	"time"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
)

// runReboot bypasses Terraform entirely: it issues the provider's reboot
// action and polls the status endpoint until the instance reports active,
// the attempt limit is reached, or the API errors.
func (o *Orchestrator) runReboot(ctx context.Context, d *models.Deployment, m *models.Machine) error {
	if m.ProviderResourceID == "" {
		err := appErr.New(appErr.CodeInvalid, "machine has no provider resource id")
		o.fail(ctx, d, m, err)
		return err
	}

	creds, err := o.credentialsFor(ctx, m)
	if err != nil {
		o.fail(ctx, d, m, err)
		return err
	}
	client := o.cfg.NewClient(creds["token"])

	if cancelled, err := o.advance(ctx, d, models.StateApplying); err != nil {
		o.fail(ctx, d, m, err)
		return err
	} else if cancelled {
		return nil
	}

	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem,
		fmt.Sprintf("requesting reboot of instance %s", m.ProviderResourceID))

	if err := client.RebootInstance(ctx, m.ProviderResourceID); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("reboot action: %w", err))
		return err
	}

	rebooting := repository.MachineObservation{
		ActualStatus:  models.MachineRebooting,
		PublicIP:      m.PublicIP,
		PrivateIP:     m.PrivateIP,
		TFStateStatus: m.TFStateStatus,
	}
	if err := o.cfg.Machines.RecordObservation(ctx, m.ID, rebooting); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("persist machine state: %w", err))
		return err
	}

	for attempt := 1; attempt <= o.cfg.RebootPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			o.fail(ctx, d, m, ctx.Err())
			return ctx.Err()
		case <-time.After(o.cfg.RebootPollInterval):
		}

		inst, err := client.GetInstance(ctx, m.ProviderResourceID)
		if err != nil {
			// an API error stops polling immediately
			o.fail(ctx, d, m, fmt.Errorf("poll instance status: %w", err))
			return err
		}
		o.emit(ctx, d.ID, models.LogDebug, terraform.SourceSystem,
			fmt.Sprintf("poll %d/%d: instance status %q", attempt, o.cfg.RebootPollAttempts, inst.Status))

		if inst.Status != "active" {
			continue
		}

		obs := repository.MachineObservation{
			ActualStatus:  models.MachineRunning,
			PublicIP:      m.PublicIP,
			PrivateIP:     m.PrivateIP,
			TFStateStatus: m.TFStateStatus,
		}
		if err := o.cfg.Machines.RecordObservation(ctx, m.ID, obs); err != nil {
			o.fail(ctx, d, m, fmt.Errorf("persist machine state: %w", err))
			return err
		}
		if err := o.transition(ctx, d, models.StateSucceeded); err != nil {
			return err
		}
		o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem, "instance is active")
		return nil
	}

	err = appErr.New(appErr.CodeDeadline,
		fmt.Sprintf("instance did not become active after %d polls", o.cfg.RebootPollAttempts))
	o.fail(ctx, d, m, err)
	return err
}

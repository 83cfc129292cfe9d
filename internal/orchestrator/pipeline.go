package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/provisioner/terraform"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
)

// advance moves the deployment to the next state. When a concurrent
// cancellation won the race the deployment is left alone and cancelled=true
// is returned; the caller stops work without treating it as a failure.
func (o *Orchestrator) advance(ctx context.Context, d *models.Deployment, to models.DeploymentState) (cancelled bool, err error) {
	err = o.transition(ctx, d, to)
	if err == nil {
		return false, nil
	}
	if !appErr.IsCode(err, appErr.CodeConflict) {
		return false, err
	}

	var current models.Deployment
	if getErr := o.cfg.Deployments.GetByID(ctx, d.ID, &current); getErr == nil && current.State == models.StateCancelled {
		o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem, "deployment cancelled")
		d.State = models.StateCancelled
		return true, nil
	}
	return false, err
}

// runPipeline drives the init -> plan -> apply shape shared by create,
// update, restart_service, and refresh deployments; the types differ only
// in the variable set supplied.
func (o *Orchestrator) runPipeline(ctx context.Context, d *models.Deployment, m *models.Machine) error {
	creds, err := o.credentialsFor(ctx, m)
	if err != nil {
		o.fail(ctx, d, m, err)
		return err
	}

	vars, planned, err := o.buildVariables(ctx, d, m, creds)
	if err != nil {
		o.fail(ctx, d, m, err)
		return err
	}

	runner := o.cfg.NewRunner(m.WorkspaceID, o.runnerLogFunc(ctx, d.ID))

	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem,
		fmt.Sprintf("starting %s deployment for machine %s", d.Type, m.Name))

	if err := runner.Init(ctx, o.cfg.ModuleDir); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("init workspace: %w", err))
		return err
	}

	if cancelled, err := o.advance(ctx, d, models.StatePlanning); err != nil {
		o.fail(ctx, d, m, err)
		return err
	} else if cancelled {
		return nil
	}

	plan, err := runner.Plan(ctx, vars)
	if err != nil {
		o.fail(ctx, d, m, fmt.Errorf("plan: %w", err))
		return err
	}

	summary := summarize(d.Type, planned, plan.HasChanges)
	if err := o.cfg.Deployments.SetPlanSummary(ctx, d.ID, summary); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("persist plan summary: %w", err))
		return err
	}
	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem,
		fmt.Sprintf("plan: %d to add, %d to change, %d to destroy", summary.Add, summary.Change, summary.Destroy))

	if cancelled, err := o.advance(ctx, d, models.StateApplying); err != nil {
		o.fail(ctx, d, m, err)
		return err
	} else if cancelled {
		return nil
	}

	res, err := o.applyAndRecord(ctx, d, m, runner, plan.PlanFile)
	if err != nil {
		return err
	}

	if err := o.transition(ctx, d, models.StateSucceeded); err != nil {
		return err
	}
	o.emit(ctx, d.ID, models.LogInfo, terraform.SourceSystem,
		fmt.Sprintf("deployment succeeded, %d outputs", len(res.Outputs)))
	return nil
}

// applyAndRecord runs apply and, on success, persists the machine's network
// fields and provider resource id from the outputs. Once applying, the
// deployment runs to a terminal outcome; an apply failure may have left
// partial resources behind, which the drift flag lets reconciliation
// discover later.
func (o *Orchestrator) applyAndRecord(ctx context.Context, d *models.Deployment, m *models.Machine, runner Runner, planFile string) (*terraform.ApplyResult, error) {
	res, err := runner.Apply(ctx, planFile)
	if err != nil {
		o.fail(ctx, d, m, fmt.Errorf("apply: %w", err))
		return nil, err
	}

	obs := repository.MachineObservation{
		ActualStatus:  models.MachineRunning,
		PublicIP:      m.PublicIP,
		PrivateIP:     m.PrivateIP,
		TFStateStatus: models.TFStateInSync,
	}
	if v, ok := res.Outputs["public_ip"].(string); ok && v != "" {
		obs.PublicIP = &v
	}
	if v, ok := res.Outputs["private_ip"].(string); ok && v != "" {
		obs.PrivateIP = &v
	}
	if v, ok := res.Outputs["instance_id"].(string); ok && v != "" {
		obs.ProviderResourceID = v
	}

	if err := o.cfg.Machines.RecordObservation(ctx, m.ID, obs); err != nil {
		o.fail(ctx, d, m, fmt.Errorf("persist machine state: %w", err))
		return nil, err
	}
	return res, nil
}

func summarize(t models.DeploymentType, planned []models.ResourceChange, hasChanges bool) models.PlanSummary {
	var s models.PlanSummary
	if !hasChanges {
		return s
	}
	s.Changes = planned
	for _, c := range planned {
		switch c.Action {
		case "create":
			s.Add++
		case "update":
			s.Change++
		case "destroy":
			s.Destroy++
		}
	}
	return s
}

// defaultInboundRules is the SSH-only fallback when a machine has no
// firewall profile.
func defaultInboundRules() []map[string]any {
	return []map[string]any{
		{"protocol": "tcp", "port_range": "22", "source_addresses": []string{"0.0.0.0/0", "::/0"}},
	}
}

// buildVariables assembles the provider variable set for the machine:
// firewall rules in the provider's format (SSH-only fallback), the subset
// of requested SSH keys already synced to this provider, and the bootstrap
// payload if any.
func (o *Orchestrator) buildVariables(ctx context.Context, d *models.Deployment, m *models.Machine, creds map[string]string) (map[string]any, []models.ResourceChange, error) {
	token, ok := creds["token"]
	if !ok || token == "" {
		return nil, nil, appErr.New(appErr.CodeInvalid, "provider credentials missing api token")
	}

	vars := map[string]any{
		"api_token": token,
		"name":      m.Name,
		"region":    m.Region,
		"size":      m.Size,
		"image":     m.Image,
	}

	// firewall profile -> provider rule format, SSH-only fallback
	rules := defaultInboundRules()
	if m.FirewallProfileID != nil {
		var profile models.FirewallProfile
		if err := o.cfg.Firewalls.GetByID(ctx, *m.FirewallProfileID, &profile); err != nil {
			return nil, nil, fmt.Errorf("load firewall profile: %w", err)
		}
		var inbound []models.InboundRule
		if err := json.Unmarshal(profile.InboundRules, &inbound); err != nil {
			return nil, nil, fmt.Errorf("parse firewall rules: %w", err)
		}
		rules = rules[:0]
		for _, r := range inbound {
			rules = append(rules, map[string]any{
				"protocol":         r.Protocol,
				"port_range":       r.Port,
				"source_addresses": r.Sources,
			})
		}
	}
	vars["inbound_rules"] = rules

	// only keys already synchronized to this provider are attachable
	keys, err := o.syncedSSHKeys(ctx, d.ID, m)
	if err != nil {
		return nil, nil, err
	}
	vars["ssh_keys"] = keys

	if m.BootstrapTemplateID != nil {
		var tpl models.BootstrapTemplate
		if err := o.cfg.Bootstraps.GetByID(ctx, *m.BootstrapTemplateID, &tpl); err != nil {
			return nil, nil, fmt.Errorf("load bootstrap template: %w", err)
		}
		vars["user_data"] = tpl.UserData
	}

	if d.Type == models.DeployRestartService {
		vars["restart_services"] = true
	}

	return vars, plannedChanges(d.Type, m), nil
}

func (o *Orchestrator) syncedSSHKeys(ctx context.Context, deploymentID uuid.UUID, m *models.Machine) ([]string, error) {
	var ids []uuid.UUID
	if len(m.SSHKeyIDs) > 0 {
		if err := json.Unmarshal(m.SSHKeyIDs, &ids); err != nil {
			return nil, fmt.Errorf("parse machine ssh key ids: %w", err)
		}
	}
	records, err := o.cfg.SSHKeys.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	for _, k := range records {
		var synced []string
		if len(k.SyncedProviders) > 0 {
			if err := json.Unmarshal(k.SyncedProviders, &synced); err != nil {
				return nil, fmt.Errorf("parse ssh key sync state: %w", err)
			}
		}
		if contains(synced, m.Provider) {
			keys = append(keys, k.PublicKey)
			continue
		}
		o.emit(ctx, deploymentID, models.LogWarn, terraform.SourceSystem,
			fmt.Sprintf("ssh key %q is not synced to provider %s, skipping", k.Name, m.Provider))
	}
	return keys, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// plannedChanges lists the resource changes the plan is expected to carry,
// used to build the plan summary before apply.
func plannedChanges(t models.DeploymentType, m *models.Machine) []models.ResourceChange {
	switch t {
	case models.DeployCreate:
		return []models.ResourceChange{
			{Type: "instance", Name: m.Name, Action: "create"},
			{Type: "firewall", Name: m.Name + "-fw", Action: "create"},
		}
	case models.DeployUpdate, models.DeployRestartService:
		return []models.ResourceChange{
			{Type: "instance", Name: m.Name, Action: "update"},
		}
	default: // refresh converges state without intended changes
		return nil
	}
}

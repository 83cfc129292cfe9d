package reconciler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/observability"
	"github.com/vmforge/engine/internal/provider"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/internal/vault"
	"github.com/vmforge/engine/pkg/logger"
)

// Action classifies what a sweep did to one machine.
type Action string

const (
	ActionNoChange                 Action = "no_change"
	ActionStatusUpdated            Action = "status_updated"
	ActionIPUpdated                Action = "ip_updated"
	ActionMarkedTerminatedNotFound Action = "marked_terminated_not_found"
	ActionMarkedErrorNoResourceID  Action = "marked_error_no_resource_id"
	ActionSkippedNoCredentials     Action = "skipped_no_credentials"
)

// MachineDiff is one machine's sweep outcome.
type MachineDiff struct {
	MachineID      uuid.UUID            `json:"machine_id"`
	Action         Action               `json:"action"`
	PreviousStatus models.MachineStatus `json:"previous_status,omitempty"`
	NewStatus      models.MachineStatus `json:"new_status,omitempty"`
}

// Result aggregates a whole sweep.
type Result struct {
	Diffs   []MachineDiff `json:"diffs"`
	Changed int           `json:"changed"`
}

// Reconciler periodically compares all non-terminal tracked machines
// against each provider account's full resource listing and corrects local
// status and network fields. Sweeps are idempotent: with no provider-side
// change, every machine yields no_change and no record is written.
type Reconciler struct {
	machines  repository.MachineRepository
	accounts  repository.AccountRepository
	vault     *vault.Vault
	newClient provider.Factory
}

func New(machines repository.MachineRepository, accounts repository.AccountRepository, v *vault.Vault, newClient provider.Factory) *Reconciler {
	return &Reconciler{machines: machines, accounts: accounts, vault: v, newClient: newClient}
}

// Sweep runs one reconciliation pass. One account's credential or API
// failure skips that account's machines; it never aborts the whole sweep.
func (r *Reconciler) Sweep(ctx context.Context) (*Result, error) {
	observability.ReconcileSweepsTotal.Inc()

	machines, err := r.machines.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}

	groups := map[uuid.UUID][]models.Machine{}
	for _, m := range machines {
		groups[m.ProviderAccountID] = append(groups[m.ProviderAccountID], m)
	}

	res := &Result{}
	for accountID, group := range groups {
		r.sweepAccount(ctx, accountID, group, res)
	}

	observability.ReconcileMachinesChanged.Set(float64(res.Changed))
	for _, d := range res.Diffs {
		observability.ReconcileActionsTotal.WithLabelValues(string(d.Action)).Inc()
	}
	return res, nil
}

func (r *Reconciler) sweepAccount(ctx context.Context, accountID uuid.UUID, group []models.Machine, res *Result) {
	listing, err := r.listAccount(ctx, accountID)
	if err != nil {
		logger.L().Warn("skipping account in reconciliation sweep",
			zap.String("account_id", accountID.String()), zap.Error(err))
		for _, m := range group {
			res.Diffs = append(res.Diffs, MachineDiff{MachineID: m.ID, Action: ActionSkippedNoCredentials})
		}
		return
	}

	for _, m := range group {
		diff := r.reconcileMachine(ctx, m, listing)
		res.Diffs = append(res.Diffs, diff)
		switch diff.Action {
		case ActionNoChange, ActionSkippedNoCredentials:
		default:
			res.Changed++
		}
	}
}

// listAccount decrypts the account's credentials and fetches the provider's
// complete resource listing, indexed by resource id.
func (r *Reconciler) listAccount(ctx context.Context, accountID uuid.UUID) (map[string]provider.Instance, error) {
	var account models.ProviderAccount
	if err := r.accounts.GetByID(ctx, accountID, &account); err != nil {
		return nil, err
	}
	creds, err := r.vault.Decrypt(account.TeamID.String(), account.ID.String(), account.Credentials)
	if err != nil {
		return nil, err
	}

	instances, err := r.newClient(creds["token"]).ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]provider.Instance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}
	return byID, nil
}

func (r *Reconciler) reconcileMachine(ctx context.Context, m models.Machine, listing map[string]provider.Instance) MachineDiff {
	diff := MachineDiff{MachineID: m.ID, PreviousStatus: m.ActualStatus}

	if m.ProviderResourceID == "" {
		// creation abandoned before a resource ever existed
		if m.ActualStatus == models.MachineProvisioning || m.ActualStatus == models.MachinePending {
			diff.Action = ActionMarkedErrorNoResourceID
			diff.NewStatus = models.MachineError
			r.record(ctx, m, repository.MachineObservation{
				ActualStatus:  models.MachineError,
				PublicIP:      m.PublicIP,
				PrivateIP:     m.PrivateIP,
				TFStateStatus: m.TFStateStatus,
			}, &diff)
			return diff
		}
		diff.Action = ActionNoChange
		return diff
	}

	inst, found := listing[m.ProviderResourceID]
	if !found {
		diff.Action = ActionMarkedTerminatedNotFound
		diff.NewStatus = models.MachineTerminated
		r.record(ctx, m, repository.MachineObservation{
			ActualStatus:  models.MachineTerminated,
			PublicIP:      m.PublicIP,
			PrivateIP:     m.PrivateIP,
			TFStateStatus: models.TFStateDrifted,
		}, &diff)
		return diff
	}

	status := m.ActualStatus
	if mapped, ok := provider.MapStatus(inst.Status); ok {
		status = mapped
	}
	statusChanged := status != m.ActualStatus
	ipsChanged := ipChanged(m.PublicIP, inst.PublicIP) || ipChanged(m.PrivateIP, inst.PrivateIP)

	if !statusChanged && !ipsChanged {
		diff.Action = ActionNoChange
		return diff
	}

	obs := repository.MachineObservation{
		ActualStatus:  status,
		PublicIP:      strPtrOrNil(inst.PublicIP),
		PrivateIP:     strPtrOrNil(inst.PrivateIP),
		TFStateStatus: m.TFStateStatus,
	}
	if statusChanged {
		diff.Action = ActionStatusUpdated
		diff.NewStatus = status
	} else {
		diff.Action = ActionIPUpdated
	}
	r.record(ctx, m, obs, &diff)
	return diff
}

// record writes the observation; a write failure downgrades the diff so the
// changed count stays honest.
func (r *Reconciler) record(ctx context.Context, m models.Machine, obs repository.MachineObservation, diff *MachineDiff) {
	if err := r.machines.RecordObservation(ctx, m.ID, obs); err != nil {
		logger.L().Warn("record machine observation failed",
			zap.String("machine_id", m.ID.String()), zap.Error(err))
		diff.Action = ActionNoChange
		diff.NewStatus = ""
	}
}

func ipChanged(current *string, observed string) bool {
	if current == nil {
		return observed != ""
	}
	return *current != observed
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

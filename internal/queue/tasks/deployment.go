package tasks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/orchestrator"
	"github.com/vmforge/engine/internal/reconciler"
	"github.com/vmforge/engine/pkg/logger"
)

const (
	// TypeDeploymentRun executes one queued deployment to a terminal state.
	TypeDeploymentRun = "deployment:run"
	// TypeReconcileSweep runs one reconciliation pass over all accounts.
	TypeReconcileSweep = "reconcile:sweep"
)

// DeploymentRunPayload is the task payload for deployment execution.
type DeploymentRunPayload struct {
	DeploymentID string `json:"deployment_id"`
}

func NewDeploymentRunTask(deploymentID uuid.UUID) (*asynq.Task, error) {
	b, err := json.Marshal(DeploymentRunPayload{DeploymentID: deploymentID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeploymentRun, b), nil
}

func NewReconcileSweepTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileSweep, nil)
}

// DeploymentTaskHandler routes deployment tasks into the orchestrator.
type DeploymentTaskHandler struct {
	orc *orchestrator.Orchestrator
}

func NewDeploymentTaskHandler(orc *orchestrator.Orchestrator) *DeploymentTaskHandler {
	return &DeploymentTaskHandler{orc: orc}
}

func (h *DeploymentTaskHandler) HandleDeploymentRun(ctx context.Context, t *asynq.Task) error {
	var p DeploymentRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid deployment task payload", zap.Error(err))
		return err
	}
	id, err := uuid.Parse(p.DeploymentID)
	if err != nil {
		logger.L().Error("invalid deployment id in task", zap.Error(err))
		return err
	}

	logger.L().Info("handling deployment task", zap.String("deployment_id", id.String()))

	// The orchestrator records the failure on the deployment itself; a retry
	// of this task would find the deployment no longer queued and skip it,
	// so the error is logged but not returned to asynq.
	if err := h.orc.Run(ctx, id); err != nil {
		logger.L().Error("deployment run finished with error",
			zap.String("deployment_id", id.String()), zap.Error(err))
	}
	return nil
}

// ReconcileTaskHandler runs periodic reconciliation sweeps.
type ReconcileTaskHandler struct {
	rec *reconciler.Reconciler
}

func NewReconcileTaskHandler(rec *reconciler.Reconciler) *ReconcileTaskHandler {
	return &ReconcileTaskHandler{rec: rec}
}

func (h *ReconcileTaskHandler) HandleReconcileSweep(ctx context.Context, t *asynq.Task) error {
	res, err := h.rec.Sweep(ctx)
	if err != nil {
		logger.L().Error("reconciliation sweep failed", zap.Error(err))
		return err
	}
	logger.L().Info("reconciliation sweep finished",
		zap.Int("machines", len(res.Diffs)), zap.Int("changed", res.Changed))
	return nil
}

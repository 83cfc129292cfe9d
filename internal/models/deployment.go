package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeploymentType selects the provisioning strategy for one execution attempt.
type DeploymentType string

const (
	DeployCreate         DeploymentType = "create"
	DeployUpdate         DeploymentType = "update"
	DeployDestroy        DeploymentType = "destroy"
	DeployReboot         DeploymentType = "reboot"
	DeployRestartService DeploymentType = "restart_service"
	DeployRefresh        DeploymentType = "refresh"
)

// Valid reports whether t is a known deployment type.
func (t DeploymentType) Valid() bool {
	switch t {
	case DeployCreate, DeployUpdate, DeployDestroy, DeployReboot, DeployRestartService, DeployRefresh:
		return true
	}
	return false
}

// DeploymentState is a node in the deployment state machine.
type DeploymentState string

const (
	StateQueued           DeploymentState = "queued"
	StatePlanning         DeploymentState = "planning"
	StateAwaitingApproval DeploymentState = "awaiting_approval"
	StateApplying         DeploymentState = "applying"
	StateSucceeded        DeploymentState = "succeeded"
	StateFailed           DeploymentState = "failed"
	StateCancelled        DeploymentState = "cancelled"
)

// deploymentTransitions is the exhaustive directed graph of legal state
// transitions. applying has no cancellation edge: once apply begins the
// deployment runs to a terminal outcome.
var deploymentTransitions = map[DeploymentState][]DeploymentState{
	StateQueued:           {StatePlanning, StateApplying, StateFailed, StateCancelled},
	StatePlanning:         {StateAwaitingApproval, StateApplying, StateFailed, StateCancelled},
	StateAwaitingApproval: {StateApplying, StateCancelled},
	StateApplying:         {StateSucceeded, StateFailed},
	StateSucceeded:        nil,
	StateFailed:           nil,
	StateCancelled:        nil,
}

// CanTransitionTo reports whether s -> to is a legal transition.
func (s DeploymentState) CanTransitionTo(to DeploymentState) bool {
	for _, next := range deploymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transition.
func (s DeploymentState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// LogLevel classifies a deployment log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// DeploymentLog is one append-only log line owned by a deployment.
type DeploymentLog struct {
	Level     LogLevel  `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ResourceChange describes one planned resource change.
type ResourceChange struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Action string `json:"action"`
}

// PlanSummary aggregates the plan phase's intended changes.
type PlanSummary struct {
	Add     int              `json:"add"`
	Change  int              `json:"change"`
	Destroy int              `json:"destroy"`
	Changes []ResourceChange `json:"changes,omitempty"`
}

// Deployment is one execution attempt against one machine. Rows are never
// deleted; terminal deployments are immutable and serve as an audit trail.
type Deployment struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MachineID uuid.UUID       `gorm:"type:uuid;index;not null" json:"machine_id" validate:"required"`
	Type      DeploymentType  `gorm:"type:varchar(32);not null" json:"type"`
	State     DeploymentState `gorm:"type:varchar(32);index;not null" json:"state"`

	PlanSummary  datatypes.JSON `gorm:"type:jsonb" json:"plan_summary"`
	Logs         datatypes.JSON `gorm:"type:jsonb" json:"logs"`
	ErrorMessage string         `gorm:"type:text" json:"error_message"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

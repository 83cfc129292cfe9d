package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MachineStatus is the lifecycle status of a tracked compute instance.
type MachineStatus string

const (
	MachinePending      MachineStatus = "pending"
	MachineProvisioning MachineStatus = "provisioning"
	MachineRunning      MachineStatus = "running"
	MachineStopped      MachineStatus = "stopped"
	MachineRebooting    MachineStatus = "rebooting"
	MachineTerminating  MachineStatus = "terminating"
	MachineTerminated   MachineStatus = "terminated"
	MachineError        MachineStatus = "error"
)

// Terminal reports whether no further status transition is expected.
func (s MachineStatus) Terminal() bool { return s == MachineTerminated }

// TFStateStatus signals how much the tracked record can be trusted
// relative to the provider's ground truth.
type TFStateStatus string

const (
	TFStateInSync  TFStateStatus = "in_sync"
	TFStateDrifted TFStateStatus = "drifted"
	TFStateUnknown TFStateStatus = "unknown"
)

// Machine is a tracked compute instance. ActualStatus is written only by
// the deployment orchestrator (on completion) and the provider reconciler
// (on sweep); callers express intent through DesiredStatus and deployments.
type Machine struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TeamID            uuid.UUID     `gorm:"type:uuid;index;not null" json:"team_id" validate:"required"`
	Provider          string        `gorm:"type:varchar(32);index;not null" json:"provider" validate:"required,oneof=digitalocean aws gcp azure"`
	ProviderAccountID uuid.UUID     `gorm:"type:uuid;index;not null" json:"provider_account_id" validate:"required"`
	// ProviderResourceID is empty until a create deployment succeeds.
	ProviderResourceID string `gorm:"type:varchar(128);index" json:"provider_resource_id"`

	Name   string `gorm:"not null;index:idx_machines_team_name,unique" json:"name" validate:"required"`
	Region string `gorm:"type:varchar(32);not null" json:"region" validate:"required"`
	Size   string `gorm:"type:varchar(64);not null" json:"size" validate:"required"`
	Image  string `gorm:"type:varchar(128);not null" json:"image" validate:"required"`

	DesiredStatus MachineStatus `gorm:"type:varchar(32);not null" json:"desired_status"`
	ActualStatus  MachineStatus `gorm:"type:varchar(32);index;not null" json:"actual_status"`

	PublicIP  *string `gorm:"type:varchar(45)" json:"public_ip"`
	PrivateIP *string `gorm:"type:varchar(45)" json:"private_ip"`

	TFStateStatus TFStateStatus `gorm:"type:varchar(16);not null;default:unknown" json:"terraform_state_status"`

	// WorkspaceID binds the machine to its Terraform workspace directory.
	WorkspaceID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"workspace_id"`

	FirewallProfileID   *uuid.UUID     `gorm:"type:uuid" json:"firewall_profile_id"`
	BootstrapTemplateID *uuid.UUID     `gorm:"type:uuid" json:"bootstrap_template_id"`
	SSHKeyIDs           datatypes.JSON `gorm:"type:jsonb" json:"ssh_key_ids"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InboundRule is one firewall inbound rule in profile form; the orchestrator
// translates rules into the provider's native format at deploy time.
type InboundRule struct {
	Protocol string   `json:"protocol"`
	Port     string   `json:"port"`
	Sources  []string `json:"sources"`
}

// FirewallProfile is a named, reusable inbound rule set.
type FirewallProfile struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TeamID uuid.UUID `gorm:"type:uuid;index;not null" json:"team_id" validate:"required"`
	Name   string    `gorm:"not null" json:"name" validate:"required"`

	InboundRules datatypes.JSON `gorm:"type:jsonb;not null" json:"inbound_rules"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BootstrapTemplate is a cloud-init payload attached to machines at create.
type BootstrapTemplate struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TeamID   uuid.UUID `gorm:"type:uuid;index;not null" json:"team_id" validate:"required"`
	Name     string    `gorm:"not null" json:"name" validate:"required"`
	UserData string    `gorm:"type:text;not null" json:"user_data" validate:"required"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

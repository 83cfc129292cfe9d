package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SSHKey is a public key a team can attach to machines. SyncedProviders
// lists the provider names the key has already been pushed to; create
// deployments only attach keys synced to the target provider.
type SSHKey struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TeamID    uuid.UUID      `gorm:"type:uuid;index;not null" json:"team_id" validate:"required"`
	Name      string         `gorm:"not null" json:"name" validate:"required"`
	PublicKey string         `gorm:"type:text;not null" json:"public_key" validate:"required"`

	SyncedProviders datatypes.JSON `gorm:"type:jsonb" json:"synced_providers"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProviderAccount links a team to one cloud provider account. Credentials
// holds the vault ciphertext (iv:tag:cipher hex) and is never exposed over
// the API; re-encryption replaces the whole value.
type ProviderAccount struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TeamID   uuid.UUID `gorm:"type:uuid;index;not null" json:"team_id" validate:"required"`
	Provider string    `gorm:"type:varchar(32);index;not null" json:"provider" validate:"required,oneof=digitalocean aws gcp azure"`
	Name     string    `gorm:"not null" json:"name" validate:"required"`

	Credentials string `gorm:"type:text;not null" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

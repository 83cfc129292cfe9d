package repository

import (
	"context"

	"github.com/vmforge/engine/internal/models"
	appErr "github.com/vmforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type UserRepository interface {
	BaseRepository[models.User]
	GetByEmail(ctx context.Context, email string, dest *models.User) error
}

type userRepository struct {
	BaseRepository[models.User]
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{BaseRepository: NewBaseRepository[models.User](db), db: db}
}

func (r *userRepository) GetByEmail(ctx context.Context, email string, dest *models.User) error {
	if err := r.db.WithContext(ctx).First(dest, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "user not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get user failed")
	}
	return nil
}

type TeamRepository interface {
	BaseRepository[models.Team]
}

func NewTeamRepository(db *gorm.DB) TeamRepository {
	return NewBaseRepository[models.Team](db)
}

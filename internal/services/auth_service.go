package services

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
)

const tokenTTL = 24 * time.Hour

type AuthService interface {
	// Register creates a team and its first user in one step.
	Register(ctx context.Context, email, password, name, teamName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
}

type authService struct {
	userRepo   repository.UserRepository
	teamRepo   repository.TeamRepository
	hmacSecret []byte
}

func NewAuthService(userRepo repository.UserRepository, teamRepo repository.TeamRepository, secret []byte) AuthService {
	return &authService{userRepo: userRepo, teamRepo: teamRepo, hmacSecret: secret}
}

func (s *authService) Register(ctx context.Context, email, password, name, teamName string) (*models.User, error) {
	var existing models.User
	if err := s.userRepo.GetByEmail(ctx, email, &existing); err == nil {
		return nil, appErr.New(appErr.CodeAlreadyExists, "email already registered")
	}

	ph, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}

	team := &models.Team{Name: teamName}
	if err := s.teamRepo.Create(ctx, team); err != nil {
		return nil, err
	}

	user := &models.User{
		TeamID:       team.ID,
		Email:        email,
		PasswordHash: string(ph),
		Name:         name,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	if err := s.userRepo.GetByEmail(ctx, email, &user); err != nil {
		return "", nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"team": user.TeamID.String(),
		"exp":  time.Now().Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.hmacSecret)
	if err != nil {
		return "", nil, appErr.Wrap(err, appErr.CodeInternal, "sign token failed")
	}
	return signed, &user, nil
}

package services

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/repository"
	"github.com/vmforge/engine/internal/vault"
	appErr "github.com/vmforge/engine/pkg/errors"
	"github.com/vmforge/engine/pkg/logger"
)

const oauthAuthorizeURL = "https://cloud.digitalocean.com/v1/oauth/authorize"

// CredentialService manages provider accounts. Raw secrets exist only in
// transit through this layer; everything stored is vault ciphertext bound
// to the owning team and account.
type CredentialService interface {
	ConnectAccount(ctx context.Context, teamID uuid.UUID, provider, name string, credentials map[string]string) (*models.ProviderAccount, error)
	ListAccounts(ctx context.Context, teamID uuid.UUID) ([]models.ProviderAccount, error)
	// RotateCredentials replaces an account's stored secret. A corrupted
	// record cannot be recovered; rotation is the recovery path.
	RotateCredentials(ctx context.Context, teamID, accountID uuid.UUID, credentials map[string]string) error
	// VerifyAccount reports whether the stored record still decrypts.
	VerifyAccount(ctx context.Context, teamID, accountID uuid.UUID) error
	DisconnectAccount(ctx context.Context, teamID, accountID uuid.UUID) error

	// BeginOAuth issues a signed state token and the provider consent URL.
	BeginOAuth(ctx context.Context, teamID, userID uuid.UUID) (state, authorizeURL string, err error)
	// CompleteOAuth validates the returned state and stores the granted
	// token as a new account for the team embedded in the state.
	CompleteOAuth(ctx context.Context, state, accessToken, name string) (*models.ProviderAccount, error)
}

type credentialService struct {
	accountRepo   repository.AccountRepository
	vault         *vault.Vault
	oauthClientID string
}

func NewCredentialService(accountRepo repository.AccountRepository, v *vault.Vault, oauthClientID string) CredentialService {
	return &credentialService{accountRepo: accountRepo, vault: v, oauthClientID: oauthClientID}
}

func (s *credentialService) ConnectAccount(ctx context.Context, teamID uuid.UUID, provider, name string, credentials map[string]string) (*models.ProviderAccount, error) {
	if credentials["token"] == "" {
		return nil, appErr.New(appErr.CodeInvalid, "credentials missing api token")
	}

	account := &models.ProviderAccount{
		ID:       uuid.New(),
		TeamID:   teamID,
		Provider: provider,
		Name:     name,
	}
	// the account id participates in the AAD, so it is fixed before encryption
	ciphertext, err := s.vault.Encrypt(teamID.String(), account.ID.String(), credentials)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encrypt credentials failed")
	}
	account.Credentials = ciphertext

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	logger.L().Info("provider account connected",
		zap.String("account_id", account.ID.String()),
		zap.String("team_id", teamID.String()),
		zap.String("provider", provider))
	return account, nil
}

func (s *credentialService) ListAccounts(ctx context.Context, teamID uuid.UUID) ([]models.ProviderAccount, error) {
	return s.accountRepo.ListByTeam(ctx, teamID)
}

func (s *credentialService) RotateCredentials(ctx context.Context, teamID, accountID uuid.UUID, credentials map[string]string) error {
	account, err := s.ownedAccount(ctx, teamID, accountID)
	if err != nil {
		return err
	}
	if credentials["token"] == "" {
		return appErr.New(appErr.CodeInvalid, "credentials missing api token")
	}
	ciphertext, err := s.vault.Encrypt(teamID.String(), account.ID.String(), credentials)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "encrypt credentials failed")
	}
	if err := s.accountRepo.ReplaceCredentials(ctx, accountID, ciphertext); err != nil {
		return err
	}
	logger.L().Info("provider credentials rotated", zap.String("account_id", accountID.String()))
	return nil
}

func (s *credentialService) VerifyAccount(ctx context.Context, teamID, accountID uuid.UUID) error {
	account, err := s.ownedAccount(ctx, teamID, accountID)
	if err != nil {
		return err
	}
	if _, err := s.vault.Decrypt(teamID.String(), accountID.String(), account.Credentials); err != nil {
		return appErr.New(appErr.CodeInvalid, "stored credentials are unreadable, rotate them")
	}
	return nil
}

func (s *credentialService) DisconnectAccount(ctx context.Context, teamID, accountID uuid.UUID) error {
	if _, err := s.ownedAccount(ctx, teamID, accountID); err != nil {
		return err
	}
	if err := s.accountRepo.Delete(ctx, accountID); err != nil {
		return err
	}
	logger.L().Info("provider account disconnected", zap.String("account_id", accountID.String()))
	return nil
}

func (s *credentialService) BeginOAuth(ctx context.Context, teamID, userID uuid.UUID) (string, string, error) {
	state, err := s.vault.GenerateOAuthState(teamID.String(), userID.String())
	if err != nil {
		return "", "", appErr.Wrap(err, appErr.CodeInternal, "generate oauth state failed")
	}
	q := url.Values{}
	q.Set("client_id", s.oauthClientID)
	q.Set("response_type", "code")
	q.Set("scope", "read write")
	q.Set("state", state)
	return state, oauthAuthorizeURL + "?" + q.Encode(), nil
}

func (s *credentialService) CompleteOAuth(ctx context.Context, state, accessToken, name string) (*models.ProviderAccount, error) {
	parsed := s.vault.ValidateOAuthState(state, vault.DefaultStateMaxAge)
	if parsed == nil {
		return nil, appErr.New(appErr.CodeUnauthorized, "invalid or expired oauth state")
	}
	teamID, err := uuid.Parse(parsed.TeamID)
	if err != nil {
		return nil, appErr.New(appErr.CodeUnauthorized, "invalid or expired oauth state")
	}
	if accessToken == "" {
		return nil, appErr.New(appErr.CodeInvalid, "missing access token")
	}
	return s.ConnectAccount(ctx, teamID, "digitalocean", name, map[string]string{"token": accessToken})
}

func (s *credentialService) ownedAccount(ctx context.Context, teamID, accountID uuid.UUID) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	if err := s.accountRepo.GetByID(ctx, accountID, &account); err != nil {
		return nil, err
	}
	if account.TeamID != teamID {
		return nil, appErr.New(appErr.CodeForbidden, "provider account does not belong to team")
	}
	return &account, nil
}

package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/vault"
	appErr "github.com/vmforge/engine/pkg/errors"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	return v
}

func TestConnectAccountStoresCiphertextOnly(t *testing.T) {
	accounts := &mockAccountRepo{}
	v := newTestVault(t)
	svc := NewCredentialService(accounts, v, "client-id")

	teamID := uuid.New()
	var stored *models.ProviderAccount
	accounts.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*models.ProviderAccount)
	}).Return(nil)

	account, err := svc.ConnectAccount(context.Background(), teamID, "digitalocean", "primary", map[string]string{"token": "do-token"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotContains(t, stored.Credentials, "do-token")

	// the record decrypts back under the same team and account
	creds, err := v.Decrypt(teamID.String(), account.ID.String(), stored.Credentials)
	require.NoError(t, err)
	require.Equal(t, "do-token", creds["token"])
}

func TestConnectAccountRejectsMissingToken(t *testing.T) {
	svc := NewCredentialService(&mockAccountRepo{}, newTestVault(t), "client-id")

	_, err := svc.ConnectAccount(context.Background(), uuid.New(), "digitalocean", "primary", map[string]string{})
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestRotateCredentialsProducesNewRecord(t *testing.T) {
	accounts := &mockAccountRepo{}
	v := newTestVault(t)
	svc := NewCredentialService(accounts, v, "client-id")

	teamID := uuid.New()
	account := models.ProviderAccount{ID: uuid.New(), TeamID: teamID, Provider: "digitalocean", Name: "primary"}
	old, err := v.Encrypt(teamID.String(), account.ID.String(), map[string]string{"token": "old"})
	require.NoError(t, err)
	account.Credentials = old

	accounts.On("GetByID", mock.Anything, account.ID, mock.Anything).Return(nil, &account)
	accounts.On("ReplaceCredentials", mock.Anything, account.ID, mock.MatchedBy(func(ct string) bool {
		creds, err := v.Decrypt(teamID.String(), account.ID.String(), ct)
		return err == nil && creds["token"] == "new" && ct != old
	})).Return(nil)

	require.NoError(t, svc.RotateCredentials(context.Background(), teamID, account.ID, map[string]string{"token": "new"}))
	accounts.AssertExpectations(t)
}

func TestVerifyAccountDetectsCorruptRecord(t *testing.T) {
	accounts := &mockAccountRepo{}
	v := newTestVault(t)
	svc := NewCredentialService(accounts, v, "client-id")

	teamID := uuid.New()
	account := models.ProviderAccount{ID: uuid.New(), TeamID: teamID, Credentials: "00:11:22"}
	accounts.On("GetByID", mock.Anything, account.ID, mock.Anything).Return(nil, &account)

	err := svc.VerifyAccount(context.Background(), teamID, account.ID)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestOAuthRoundTripCreatesAccount(t *testing.T) {
	accounts := &mockAccountRepo{}
	v := newTestVault(t)
	svc := NewCredentialService(accounts, v, "client-id")

	teamID, userID := uuid.New(), uuid.New()
	state, authorizeURL, err := svc.BeginOAuth(context.Background(), teamID, userID)
	require.NoError(t, err)
	require.Contains(t, authorizeURL, "client_id=client-id")
	require.Contains(t, authorizeURL, "state=")

	accounts.On("Create", mock.Anything, mock.MatchedBy(func(a *models.ProviderAccount) bool {
		return a.TeamID == teamID && a.Provider == "digitalocean"
	})).Return(nil)

	account, err := svc.CompleteOAuth(context.Background(), state, "granted-token", "oauth account")
	require.NoError(t, err)
	require.Equal(t, teamID, account.TeamID)
}

func TestCompleteOAuthRejectsTamperedState(t *testing.T) {
	svc := NewCredentialService(&mockAccountRepo{}, newTestVault(t), "client-id")

	_, err := svc.CompleteOAuth(context.Background(), "bm90LWEtdG9rZW4", "granted-token", "oauth account")
	require.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))
}

func TestDisconnectAccountChecksOwnership(t *testing.T) {
	accounts := &mockAccountRepo{}
	svc := NewCredentialService(accounts, newTestVault(t), "client-id")

	account := models.ProviderAccount{ID: uuid.New(), TeamID: uuid.New()}
	accounts.On("GetByID", mock.Anything, account.ID, mock.Anything).Return(nil, &account)

	err := svc.DisconnectAccount(context.Background(), uuid.New(), account.ID)
	require.True(t, appErr.IsCode(err, appErr.CodeForbidden))
	accounts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

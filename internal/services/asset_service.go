package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/internal/repository"
	appErr "github.com/vmforge/engine/pkg/errors"
)

// AssetService manages the reusable pieces machines are built from: SSH
// keys, firewall profiles, and bootstrap templates.
type AssetService interface {
	CreateSSHKey(ctx context.Context, teamID uuid.UUID, name, publicKey string) (*models.SSHKey, error)
	// MarkSSHKeySynced records that a key has been uploaded to a provider;
	// only synced keys are attachable at machine create.
	MarkSSHKeySynced(ctx context.Context, teamID, keyID uuid.UUID, provider string) error
	DeleteSSHKey(ctx context.Context, teamID, keyID uuid.UUID) error

	CreateFirewallProfile(ctx context.Context, teamID uuid.UUID, name string, rules []models.InboundRule) (*models.FirewallProfile, error)
	ListFirewallProfiles(ctx context.Context, teamID uuid.UUID) ([]models.FirewallProfile, error)
	DeleteFirewallProfile(ctx context.Context, teamID, profileID uuid.UUID) error

	CreateBootstrapTemplate(ctx context.Context, teamID uuid.UUID, name, userData string) (*models.BootstrapTemplate, error)
	DeleteBootstrapTemplate(ctx context.Context, teamID, templateID uuid.UUID) error
}

type assetService struct {
	sshKeys    repository.SSHKeyRepository
	firewalls  repository.FirewallRepository
	bootstraps repository.BootstrapRepository
}

func NewAssetService(sshKeys repository.SSHKeyRepository, firewalls repository.FirewallRepository, bootstraps repository.BootstrapRepository) AssetService {
	return &assetService{sshKeys: sshKeys, firewalls: firewalls, bootstraps: bootstraps}
}

func (s *assetService) CreateSSHKey(ctx context.Context, teamID uuid.UUID, name, publicKey string) (*models.SSHKey, error) {
	publicKey = strings.TrimSpace(publicKey)
	if !strings.HasPrefix(publicKey, "ssh-") && !strings.HasPrefix(publicKey, "ecdsa-") {
		return nil, appErr.New(appErr.CodeInvalid, "public key is not in OpenSSH format")
	}
	key := &models.SSHKey{TeamID: teamID, Name: name, PublicKey: publicKey}
	if err := s.sshKeys.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *assetService) MarkSSHKeySynced(ctx context.Context, teamID, keyID uuid.UUID, provider string) error {
	var key models.SSHKey
	if err := s.sshKeys.GetByID(ctx, keyID, &key); err != nil {
		return err
	}
	if key.TeamID != teamID {
		return appErr.New(appErr.CodeForbidden, "ssh key does not belong to team")
	}

	var synced []string
	if len(key.SyncedProviders) > 0 {
		if err := json.Unmarshal(key.SyncedProviders, &synced); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "unmarshal sync state failed")
		}
	}
	for _, p := range synced {
		if p == provider {
			return nil
		}
	}
	synced = append(synced, provider)

	b, err := json.Marshal(synced)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal sync state failed")
	}
	key.SyncedProviders = datatypes.JSON(b)
	return s.sshKeys.Update(ctx, &key)
}

func (s *assetService) DeleteSSHKey(ctx context.Context, teamID, keyID uuid.UUID) error {
	var key models.SSHKey
	if err := s.sshKeys.GetByID(ctx, keyID, &key); err != nil {
		return err
	}
	if key.TeamID != teamID {
		return appErr.New(appErr.CodeForbidden, "ssh key does not belong to team")
	}
	return s.sshKeys.Delete(ctx, keyID)
}

func validInboundRule(r models.InboundRule) bool {
	switch r.Protocol {
	case "tcp", "udp":
		return r.Port != "" && len(r.Sources) > 0
	case "icmp":
		return len(r.Sources) > 0
	default:
		return false
	}
}

func (s *assetService) CreateFirewallProfile(ctx context.Context, teamID uuid.UUID, name string, rules []models.InboundRule) (*models.FirewallProfile, error) {
	if len(rules) == 0 {
		return nil, appErr.New(appErr.CodeInvalid, "firewall profile needs at least one rule")
	}
	for _, r := range rules {
		if !validInboundRule(r) {
			return nil, appErr.New(appErr.CodeInvalid, "invalid inbound rule")
		}
	}

	b, err := json.Marshal(rules)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal rules failed")
	}
	profile := &models.FirewallProfile{TeamID: teamID, Name: name, InboundRules: datatypes.JSON(b)}
	if err := s.firewalls.Create(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *assetService) ListFirewallProfiles(ctx context.Context, teamID uuid.UUID) ([]models.FirewallProfile, error) {
	return s.firewalls.ListByTeam(ctx, teamID)
}

func (s *assetService) DeleteFirewallProfile(ctx context.Context, teamID, profileID uuid.UUID) error {
	var profile models.FirewallProfile
	if err := s.firewalls.GetByID(ctx, profileID, &profile); err != nil {
		return err
	}
	if profile.TeamID != teamID {
		return appErr.New(appErr.CodeForbidden, "firewall profile does not belong to team")
	}
	return s.firewalls.Delete(ctx, profileID)
}

func (s *assetService) CreateBootstrapTemplate(ctx context.Context, teamID uuid.UUID, name, userData string) (*models.BootstrapTemplate, error) {
	if strings.TrimSpace(userData) == "" {
		return nil, appErr.New(appErr.CodeInvalid, "user data is empty")
	}
	tpl := &models.BootstrapTemplate{TeamID: teamID, Name: name, UserData: userData}
	if err := s.bootstraps.Create(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *assetService) DeleteBootstrapTemplate(ctx context.Context, teamID, templateID uuid.UUID) error {
	var tpl models.BootstrapTemplate
	if err := s.bootstraps.GetByID(ctx, templateID, &tpl); err != nil {
		return err
	}
	if tpl.TeamID != teamID {
		return appErr.New(appErr.CodeForbidden, "bootstrap template does not belong to team")
	}
	return s.bootstraps.Delete(ctx, templateID)
}

package settings

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// Applier receives settings changes so the running agent picks them up.
// The supervisor implements this; applying is best-effort and never blocks
// the settings mutation itself.
type Applier interface {
	ApplySettings(ctx context.Context) error
}

// Service validates and persists settings, notifying the applier on change.
type Service struct {
	store   Store
	applier Applier
	logger  *logger.Logger
}

// NewService creates a settings service. The applier may be set later via
// SetApplier since the supervisor is constructed after the settings service.
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// SetApplier wires the component that reacts to settings changes.
func (s *Service) SetApplier(applier Applier) {
	s.applier = applier
}

// CreateCredential validates and stores a new credential.
func (s *Service) CreateCredential(ctx context.Context, req *CreateCredentialRequest) (*GitCredentialListItem, error) {
	cred := &GitCredential{
		Name:          strings.TrimSpace(req.Name),
		Host:          normalizeHost(req.Host),
		AuthKind:      req.AuthKind,
		Username:      strings.TrimSpace(req.Username),
		Token:         req.Token,
		SSHPrivateKey: req.SSHPrivateKey,
		Passphrase:    req.Passphrase,
	}
	if err := validateCredential(cred); err != nil {
		return nil, err
	}

	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}
	s.apply(ctx)
	return cred.Redacted(), nil
}

// GetCredential returns the redacted credential.
func (s *Service) GetCredential(ctx context.Context, id string) (*GitCredentialListItem, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	return cred.Redacted(), nil
}

// ListCredentials returns all credentials in redacted form.
func (s *Service) ListCredentials(ctx context.Context) ([]*GitCredentialListItem, error) {
	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]*GitCredentialListItem, len(creds))
	for i, cred := range creds {
		items[i] = cred.Redacted()
	}
	return items, nil
}

// UpdateCredential applies a partial update. Nil fields are unchanged.
func (s *Service) UpdateCredential(ctx context.Context, id string, req *UpdateCredentialRequest) (*GitCredentialListItem, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		cred.Name = strings.TrimSpace(*req.Name)
	}
	if req.Host != nil {
		cred.Host = normalizeHost(*req.Host)
	}
	if req.AuthKind != nil {
		cred.AuthKind = *req.AuthKind
	}
	if req.Username != nil {
		cred.Username = strings.TrimSpace(*req.Username)
	}
	if req.Token != nil {
		cred.Token = *req.Token
	}
	if req.SSHPrivateKey != nil {
		cred.SSHPrivateKey = *req.SSHPrivateKey
	}
	if req.Passphrase != nil {
		cred.Passphrase = *req.Passphrase
	}

	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return nil, err
	}
	s.apply(ctx)
	return cred.Redacted(), nil
}

// DeleteCredential removes a credential.
func (s *Service) DeleteCredential(ctx context.Context, id string) error {
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		return err
	}
	s.apply(ctx)
	return nil
}

// GetIdentity returns the stored commit identity.
func (s *Service) GetIdentity(ctx context.Context) (*GitIdentity, error) {
	return s.store.GetIdentity(ctx)
}

// SetIdentity stores the commit identity.
func (s *Service) SetIdentity(ctx context.Context, identity *GitIdentity) error {
	identity.Name = strings.TrimSpace(identity.Name)
	identity.Email = strings.TrimSpace(identity.Email)
	if err := s.store.SetIdentity(ctx, identity); err != nil {
		return err
	}
	s.apply(ctx)
	return nil
}

func (s *Service) apply(ctx context.Context) {
	if s.applier == nil {
		return
	}
	if err := s.applier.ApplySettings(ctx); err != nil {
		s.logger.Warn("failed to apply settings to running agent", zap.Error(err))
	}
}

func validateCredential(cred *GitCredential) error {
	if cred.Name == "" {
		return apperrors.Validation("credential name is required")
	}
	if cred.Host == "" {
		return apperrors.Validation("credential host is required")
	}
	switch cred.AuthKind {
	case AuthKindPAT:
		if cred.Token == "" {
			return apperrors.Validation("token is required for pat credentials")
		}
	case AuthKindSSH:
		if cred.SSHPrivateKey == "" {
			return apperrors.Validation("sshPrivateKey is required for ssh credentials")
		}
	default:
		return apperrors.Validation("authKind must be pat or ssh")
	}
	return nil
}

// normalizeHost lowercases and strips scheme and trailing slashes so
// "https://GitHub.com/" and "github.com" match.
func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "ssh://")
	return strings.TrimSuffix(host, "/")
}

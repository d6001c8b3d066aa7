package settings

import "context"

// Store persists git credentials and the commit identity. Secret fields are
// encrypted at rest; Get and List return decrypted credentials.
type Store interface {
	CreateCredential(ctx context.Context, cred *GitCredential) error
	GetCredential(ctx context.Context, id string) (*GitCredential, error)
	ListCredentials(ctx context.Context) ([]*GitCredential, error)
	UpdateCredential(ctx context.Context, cred *GitCredential) error
	DeleteCredential(ctx context.Context, id string) error

	GetIdentity(ctx context.Context) (*GitIdentity, error)
	SetIdentity(ctx context.Context, identity *GitIdentity) error
}

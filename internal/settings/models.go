// Package settings manages git credentials and the commit identity that
// gitwarden injects into the agent process environment.
package settings

import "time"

// AuthKind identifies how a credential authenticates against a git host.
type AuthKind string

const (
	AuthKindPAT AuthKind = "pat"
	AuthKindSSH AuthKind = "ssh"
)

// GitCredential is a stored credential with plaintext secret material.
// Only the environment builder and key materialization paths see this form;
// API responses use GitCredentialListItem.
type GitCredential struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	AuthKind      AuthKind  `json:"authKind"`
	Username      string    `json:"username,omitempty"`
	Token         string    `json:"-"`
	SSHPrivateKey string    `json:"-"`
	Passphrase    string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// GitCredentialListItem is the redacted view returned by the API.
type GitCredentialListItem struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	AuthKind      AuthKind  `json:"authKind"`
	Username      string    `json:"username,omitempty"`
	HasToken      bool      `json:"hasToken"`
	HasSSHKey     bool      `json:"hasSshKey"`
	HasPassphrase bool      `json:"hasPassphrase"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Redacted converts a credential to its API-safe form.
func (c *GitCredential) Redacted() *GitCredentialListItem {
	return &GitCredentialListItem{
		ID:            c.ID,
		Name:          c.Name,
		Host:          c.Host,
		AuthKind:      c.AuthKind,
		Username:      c.Username,
		HasToken:      c.Token != "",
		HasSSHKey:     c.SSHPrivateKey != "",
		HasPassphrase: c.Passphrase != "",
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// GitIdentity is the commit author/committer identity. A single identity is
// stored; empty fields mean "let the agent fall back to derived values".
type GitIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateCredentialRequest is the payload for creating a credential.
type CreateCredentialRequest struct {
	Name          string   `json:"name"`
	Host          string   `json:"host"`
	AuthKind      AuthKind `json:"authKind"`
	Username      string   `json:"username"`
	Token         string   `json:"token"`
	SSHPrivateKey string   `json:"sshPrivateKey"`
	Passphrase    string   `json:"passphrase"`
}

// UpdateCredentialRequest is the payload for updating a credential.
// Nil fields are left unchanged; empty strings clear the stored value.
type UpdateCredentialRequest struct {
	Name          *string   `json:"name"`
	Host          *string   `json:"host"`
	AuthKind      *AuthKind `json:"authKind"`
	Username      *string   `json:"username"`
	Token         *string   `json:"token"`
	SSHPrivateKey *string   `json:"sshPrivateKey"`
	Passphrase    *string   `json:"passphrase"`
}

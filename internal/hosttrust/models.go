// Package hosttrust implements trust-on-first-use SSH host key verification.
// Unknown host keys are scanned, surfaced for an explicit user decision, and
// persisted only on acceptance. Verification denies by default.
package hosttrust

import "time"

// TrustedHost is an accepted host key. HostKey is the canonical known-hosts
// host field: bare hostname for port 22, "[host]:port" otherwise.
type TrustedHost struct {
	HostKey   string    `json:"hostKey" db:"host_key"`
	KeyType   string    `json:"keyType" db:"key_type"`
	PublicKey string    `json:"publicKey" db:"public_key"`
	Since     time.Time `json:"since" db:"since"`
}

// PendingVerification is an in-flight trust decision awaiting a response.
type PendingVerification struct {
	RequestID   string    `json:"requestId"`
	HostKey     string    `json:"hostKey"`
	KeyType     string    `json:"keyType"`
	KeyMaterial string    `json:"keyMaterial"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RespondResult reports the outcome of answering a pending verification.
type RespondResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

package hosttrust

import "context"

// Store persists accepted host keys.
type Store interface {
	Add(ctx context.Context, host *TrustedHost) error
	List(ctx context.Context) ([]*TrustedHost, error)
	IsTrusted(ctx context.Context, hostKey string) (bool, error)
	Remove(ctx context.Context, hostKey string) error
}

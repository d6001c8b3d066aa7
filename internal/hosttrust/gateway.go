package hosttrust

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/common/tracing"
	"github.com/gitwarden/gitwarden/internal/events/bus"
)

// Gateway guards SSH operations with trust-on-first-use verification.
type Gateway struct {
	store           Store
	scanner         KeyScanner
	eventBus        bus.EventBus
	knownHosts      *KnownHostsFile
	responseTimeout time.Duration
	logger          *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	verification *PendingVerification
	decision     chan bool // buffered, first response wins
}

// NewGateway creates the trust gateway.
func NewGateway(store Store, scanner KeyScanner, eventBus bus.EventBus, knownHosts *KnownHostsFile, responseTimeout time.Duration, log *logger.Logger) *Gateway {
	if responseTimeout <= 0 {
		responseTimeout = 60 * time.Second
	}
	return &Gateway{
		store:           store,
		scanner:         scanner,
		eventBus:        eventBus,
		knownHosts:      knownHosts,
		responseTimeout: responseTimeout,
		logger:          log,
		pending:         make(map[string]*pendingRequest),
	}
}

// KnownHosts exposes the managed known-hosts file.
func (g *Gateway) KnownHosts() *KnownHostsFile { return g.knownHosts }

// VerifyHostKeyBeforeOperation decides whether an SSH operation against
// remoteRef may proceed. Already-trusted hosts pass without scanning.
// Otherwise the host's key is scanned and surfaced as a pending verification;
// the call blocks until the user responds, the timeout passes, or ctx is
// cancelled. Every failure mode denies.
func (g *Gateway) VerifyHostKeyBeforeOperation(ctx context.Context, remoteRef string) bool {
	ctx, span := tracing.Tracer("hosttrust").Start(ctx, "trust.VerifyHostKey")
	defer span.End()

	host, port, err := ParseRemoteHost(remoteRef)
	if err != nil {
		g.logger.Warn("refusing unparseable remote reference", zap.String("remote", remoteRef), zap.Error(err))
		return false
	}
	hostKey := CanonicalHostKey(host, port)

	trusted, err := g.store.IsTrusted(ctx, hostKey)
	if err != nil {
		// Store trouble degrades to always-ask, never to silent trust.
		g.logger.Warn("trusted-host lookup failed", zap.String("host", hostKey), zap.Error(err))
	} else if trusted {
		return true
	}

	keys, err := g.scanner.Scan(ctx, host, port)
	if err != nil {
		g.logger.Warn("host key scan failed, denying operation", zap.String("host", hostKey), zap.Error(err))
		return false
	}
	scanned := keys[0]

	req := g.addPending(hostKey, scanned)
	defer g.removePending(req.verification.RequestID)

	g.publish(bus.SubjectVerificationRequested, "verification.requested", map[string]interface{}{
		"requestId":   req.verification.RequestID,
		"hostKey":     req.verification.HostKey,
		"keyType":     req.verification.KeyType,
		"keyMaterial": req.verification.KeyMaterial,
		"expiresAt":   req.verification.ExpiresAt,
	})

	accepted := false
	outcome := "rejected"
	select {
	case accepted = <-req.decision:
		if !accepted {
			outcome = "rejected"
		} else {
			outcome = "accepted"
		}
	case <-time.After(g.responseTimeout):
		outcome = "timeout"
	case <-ctx.Done():
		outcome = "cancelled"
	}

	span.SetAttributes(
		attribute.String("trust.host", hostKey),
		attribute.String("trust.outcome", outcome),
	)

	if accepted {
		g.persistTrust(ctx, hostKey, scanned)
	}

	g.publish(bus.SubjectVerificationResolved, "verification.resolved", map[string]interface{}{
		"requestId": req.verification.RequestID,
		"hostKey":   hostKey,
		"outcome":   outcome,
	})
	return accepted
}

// Respond answers a pending verification. The second response to the same
// request finds nothing pending and reports failure.
func (g *Gateway) Respond(requestID string, accept bool) *RespondResult {
	g.mu.Lock()
	req, ok := g.pending[requestID]
	g.mu.Unlock()

	if !ok {
		return &RespondResult{Success: false, Error: "Request not found or expired"}
	}

	select {
	case req.decision <- accept:
		return &RespondResult{Success: true}
	default:
		return &RespondResult{Success: false, Error: "Request not found or expired"}
	}
}

// PendingCount returns the number of verifications awaiting a decision.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// ListPending returns the verifications awaiting a decision.
func (g *Gateway) ListPending() []*PendingVerification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*PendingVerification, 0, len(g.pending))
	for _, req := range g.pending {
		out = append(out, req.verification)
	}
	return out
}

// RemoveTrust revokes a host and rebuilds known-hosts.
func (g *Gateway) RemoveTrust(ctx context.Context, hostKey string) error {
	if err := g.store.Remove(ctx, hostKey); err != nil {
		return err
	}
	g.knownHosts.Rebuild(ctx)
	return nil
}

// TrustedHosts lists the accepted hosts.
func (g *Gateway) TrustedHosts(ctx context.Context) ([]*TrustedHost, error) {
	return g.store.List(ctx)
}

func (g *Gateway) addPending(hostKey string, key ScannedKey) *pendingRequest {
	now := time.Now().UTC()
	req := &pendingRequest{
		verification: &PendingVerification{
			RequestID:   uuid.New().String(),
			HostKey:     hostKey,
			KeyType:     key.KeyType,
			KeyMaterial: key.PublicKey,
			CreatedAt:   now,
			ExpiresAt:   now.Add(g.responseTimeout),
		},
		decision: make(chan bool, 1),
	}

	g.mu.Lock()
	g.pending[req.verification.RequestID] = req
	g.mu.Unlock()
	return req
}

func (g *Gateway) removePending(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}

func (g *Gateway) persistTrust(ctx context.Context, hostKey string, key ScannedKey) {
	err := g.store.Add(ctx, &TrustedHost{
		HostKey:   hostKey,
		KeyType:   key.KeyType,
		PublicKey: key.PublicKey,
	})
	if err != nil {
		// The accept still stands for this operation; persistence failure
		// just means the user gets asked again next time.
		g.logger.Warn("failed to persist trusted host", zap.String("host", hostKey), zap.Error(err))
		return
	}
	g.knownHosts.Rebuild(ctx)
}

func (g *Gateway) publish(subject, eventType string, data map[string]interface{}) {
	event := bus.NewEvent(eventType, "hosttrust", data)
	if err := g.eventBus.Publish(context.Background(), subject, event); err != nil {
		g.logger.Warn("failed to publish trust event", zap.String("subject", subject), zap.Error(err))
	}
}

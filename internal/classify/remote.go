package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warden/antispam/internal/messaging"
)

// DefaultRemoteTimeout bounds one classification round trip.
const DefaultRemoteTimeout = 5 * time.Second

// RemotePredicate classifies text by asking the classifier worker over NATS
// request/reply. Errors (timeout, no responder, bad reply) surface to the
// caller; the dispatcher treats them as a failed message handling, not as a
// spam verdict.
type RemotePredicate struct {
	client  *messaging.NATSClient
	timeout time.Duration
}

// NewRemotePredicate creates a RemotePredicate with the given per-request
// timeout. Non-positive timeouts fall back to DefaultRemoteTimeout.
func NewRemotePredicate(client *messaging.NATSClient, timeout time.Duration) *RemotePredicate {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemotePredicate{client: client, timeout: timeout}
}

// Classify implements Predicate.
func (p *RemotePredicate) Classify(ctx context.Context, text string) (bool, error) {
	req, err := json.Marshal(CheckRequest{Text: text, Ts: time.Now().Unix()})
	if err != nil {
		return false, fmt.Errorf("classify: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.RequestSpamCheck(ctx, req)
	if err != nil {
		return false, fmt.Errorf("classify: remote check: %w", err)
	}

	var verdict CheckVerdict
	if err := json.Unmarshal(resp, &verdict); err != nil {
		return false, fmt.Errorf("classify: unmarshal verdict: %w", err)
	}
	return verdict.Spam, nil
}

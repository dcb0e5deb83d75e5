// Package classify extracts text from inbound messages and decides whether
// it is spam. The spam decision itself is behind the Predicate interface so
// the dispatcher and cascade can be exercised with deterministic stand-ins;
// the two shipped implementations are a local pattern matcher and a remote
// NATS-backed classifier.
package classify

import (
	"context"

	"github.com/warden/antispam/internal/transport"
)

// Predicate decides whether a piece of message text is spam. Implementations
// may perform I/O; the remote predicate does a network round trip.
type Predicate interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(ctx context.Context, text string) (bool, error)

// Classify calls f.
func (f PredicateFunc) Classify(ctx context.Context, text string) (bool, error) {
	return f(ctx, text)
}

// ExtractText returns the message's text, trying the plain body first, then
// the extended body, then image, video, and document captions, in that
// order. Messages with none of these yield "" and are never classified.
func ExtractText(msg *transport.Message) string {
	c := msg.Content
	for _, s := range []string{
		c.Conversation,
		c.ExtendedText,
		c.ImageCaption,
		c.VideoCaption,
		c.DocumentCaption,
	} {
		if s != "" {
			return s
		}
	}
	return ""
}

// CheckRequest is the classification request sent to the remote classifier
// over NATS.
type CheckRequest struct {
	Text string `json:"text"`
	Ts   int64  `json:"ts,omitempty"`
}

// CheckVerdict is the remote classifier's reply.
type CheckVerdict struct {
	Spam bool   `json:"spam"`
	Rule string `json:"rule,omitempty"` // which rule fired, for logs
}

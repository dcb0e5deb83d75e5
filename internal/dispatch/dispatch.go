// Package dispatch contains the top-level per-message decision machine. For
// every inbound message it filters (group? not self? has text?), classifies,
// and on a spam verdict either deletes the message and runs the enforcement
// cascade, or, when the bot has no admin rights in the origin group, sends a
// single warning reply asking for them.
//
// Messages within a batch are handled strictly one after another so that
// deletions and removals stay ordered relative to detection. A failure in
// one message is logged at the per-message boundary and never stops the
// rest of the batch.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/warden/antispam/internal/cascade"
	"github.com/warden/antispam/internal/classify"
	"github.com/warden/antispam/internal/gate"
	"github.com/warden/antispam/internal/group"
	"github.com/warden/antispam/internal/identity"
	"github.com/warden/antispam/internal/metrics"
	"github.com/warden/antispam/internal/transport"
)

// Warning texts sent when spam is detected but the bot cannot enforce. The
// wording depends on where the missing rights live: a group linked under a
// community needs community-level admin, a standalone group needs group
// admin.
const (
	warnCommunity = "⚠️ Spam detected, but I don't have the admin rights needed to delete it and remove the spammer.\n🛡️ To keep this community clean, promote me to community admin."
	warnGroup     = "⚠️ Spam detected, but I don't have the admin rights in this group to delete it and remove the spammer.\n🛡️ To keep this group clean, promote me to group admin."
)

// Dispatcher drives moderation for inbound message batches.
type Dispatcher struct {
	sock      transport.Socket
	resolver  *group.Resolver
	cascade   *cascade.Runner
	predicate classify.Predicate
	gate      *gate.Gate

	// WarnAllowed throttles warning replies per group. A nil func means
	// warnings are always allowed.
	WarnAllowed func(ctx context.Context, groupID string) bool
}

// New creates a Dispatcher.
func New(sock transport.Socket, resolver *group.Resolver, runner *cascade.Runner, predicate classify.Predicate, g *gate.Gate) *Dispatcher {
	return &Dispatcher{
		sock:      sock,
		resolver:  resolver,
		cascade:   runner,
		predicate: predicate,
		gate:      g,
	}
}

// HandleBatch processes messages sequentially, in delivery order.
func (d *Dispatcher) HandleBatch(ctx context.Context, msgs []*transport.Message) {
	for _, msg := range msgs {
		d.handle(ctx, msg)
	}
}

// handle is the per-message failure boundary: panics and errors are logged
// and confined to this one message. A nil entry (a null in the decoded
// batch JSON) is dropped here so the rest of the batch still runs.
func (d *Dispatcher) handle(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		log.Printf("[dispatch] dropping nil message in batch")
		return
	}

	// Captured before processing; the recover path must not touch msg.
	id, gid := msg.Key.ID, msg.Key.Remote

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] panic handling message id=%s: %v", id, r)
		}
	}()

	if err := d.process(ctx, msg); err != nil {
		log.Printf("[dispatch] message id=%s group=%s: %v", id, gid, err)
	}
}

func (d *Dispatcher) process(ctx context.Context, msg *transport.Message) error {
	key := msg.Key
	if key.FromSelf || !identity.IsGroup(key.Remote) {
		return nil
	}
	if key.Sender == "" || key.ID == "" {
		// Malformed key; nothing to enforce against.
		return nil
	}
	metrics.MessagesScanned.Inc()

	text := classify.ExtractText(msg)
	if text == "" {
		return nil
	}

	spam, err := d.predicate.Classify(ctx, text)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if !spam {
		return nil
	}
	metrics.SpamDetected.Inc()
	log.Printf("[dispatch] spam detected group=%s sender=%s", key.Remote, key.Sender)

	meta, err := d.resolver.Metadata(ctx, key.Remote)
	if err != nil {
		return err
	}
	self := d.sock.SelfIdentity()
	if self == "" {
		return cascade.ErrNoSelfIdentity
	}

	if !group.HasElevatedPrivilege(meta, self) {
		return d.sendWarning(ctx, msg)
	}

	// Delete first, then cascade: the spam disappears from the group before
	// the slower removal fan-out starts.
	if err := d.deleteMessage(ctx, key); err != nil {
		return err
	}
	outcomes, err := d.cascade.EnforceRemoval(ctx, key.Remote, key.Sender)
	for _, out := range outcomes {
		log.Printf("[dispatch] cascade group=%s action=%s", out.Group, out.Action)
	}
	if err != nil {
		return fmt.Errorf("cascade: %w", err)
	}
	return nil
}

func (d *Dispatcher) deleteMessage(ctx context.Context, key transport.MessageKey) error {
	if err := d.gate.Acquire(ctx); err != nil {
		return err
	}
	if err := d.sock.DeleteMessage(ctx, key); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	metrics.MessagesDeleted.Inc()
	return nil
}

func (d *Dispatcher) sendWarning(ctx context.Context, msg *transport.Message) error {
	gid := msg.Key.Remote
	if d.WarnAllowed != nil && !d.WarnAllowed(ctx, gid) {
		log.Printf("[dispatch] warning suppressed group=%s (rate limited)", gid)
		return nil
	}

	parent, err := d.resolver.ParentCommunity(ctx, gid)
	if err != nil {
		return err
	}
	text := warnGroup
	if parent != "" {
		text = warnCommunity
	}

	if err := d.gate.Acquire(ctx); err != nil {
		return err
	}
	if err := d.sock.SendMessage(ctx, gid, transport.SendContent{Text: text}, &transport.SendOptions{Quoted: msg}); err != nil {
		return fmt.Errorf("send warning: %w", err)
	}
	metrics.WarningsSent.Inc()
	log.Printf("[dispatch] warning sent group=%s (community=%v)", gid, parent != "")
	return nil
}

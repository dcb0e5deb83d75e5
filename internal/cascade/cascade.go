// Package cascade implements the enforcement state machine that removes a
// spammer from a single group or from every group linked under a community.
//
// Each group visit runs the same four-way check against a fresh metadata
// snapshot: the bot must hold elevated privilege there, the target must be
// present, and the target must not itself be privileged; only then is the
// removal call issued. Outcomes are recorded per group in visit order, and
// the cascade is deliberately not transactional: a failure in one group is
// recorded and the remaining groups are still visited.
package cascade

import (
	"context"
	"errors"
	"log"

	"github.com/warden/antispam/internal/gate"
	"github.com/warden/antispam/internal/group"
	"github.com/warden/antispam/internal/metrics"
	"github.com/warden/antispam/internal/transport"
)

// ErrNoSelfIdentity is returned when the session has not learned the bot's
// own participant identifier, so privilege checks cannot be made.
var ErrNoSelfIdentity = errors.New("cascade: bot identity unknown")

// Action is what a cascade step did (or declined to do) in one group.
type Action string

const (
	ActionRemoved             Action = "removed"
	ActionSkippedNotMember    Action = "skipped_not_member"
	ActionSkippedPrivileged   Action = "skipped_privileged"
	ActionSkippedNoPermission Action = "skipped_no_permission"
	ActionFailed              Action = "failed"
)

// Outcome records the result of one group visit during a cascade.
type Outcome struct {
	Group  string
	Action Action
	Err    error // set only for ActionFailed
}

// Runner executes enforcement cascades over a socket, pacing every API call
// through the shared gate.
type Runner struct {
	sock     transport.Socket
	resolver *group.Resolver
	gate     *gate.Gate
}

// NewRunner creates a cascade Runner.
func NewRunner(sock transport.Socket, resolver *group.Resolver, g *gate.Gate) *Runner {
	return &Runner{sock: sock, resolver: resolver, gate: g}
}

// EnforceRemoval removes target from origin, widening to the whole community
// when origin is linked under one. Outcomes are returned in visit order; for
// a standalone group the slice has exactly one entry.
func (r *Runner) EnforceRemoval(ctx context.Context, origin, target string) ([]Outcome, error) {
	community, err := r.resolver.ParentCommunity(ctx, origin)
	if err != nil {
		return nil, err
	}
	if community != "" {
		log.Printf("[cascade] origin=%s linked to community=%s, widening removal", origin, community)
		return r.RemoveFromCommunity(ctx, community, target)
	}

	log.Printf("[cascade] origin=%s is standalone, removing from single group", origin)
	out, err := r.RemoveFromGroup(ctx, origin, target)
	if err != nil {
		return nil, err
	}
	return []Outcome{out}, nil
}

// RemoveFromCommunity visits every group linked under community, runs the
// four-way check in each, and finally runs the same check against the
// community root itself (the root is not part of MemberGroups). The returned
// slice holds one outcome per visited group, root last.
func (r *Runner) RemoveFromCommunity(ctx context.Context, community, target string) ([]Outcome, error) {
	members, err := r.resolver.MemberGroups(ctx, community)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(members)+1)
	for _, gid := range members {
		out, err := r.RemoveFromGroup(ctx, gid, target)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}

	// The offender must keep no foothold in the parent either.
	rootMeta, err := r.resolver.CommunityMetadata(ctx, community)
	if err != nil {
		return outcomes, err
	}
	out, err := r.visit(ctx, rootMeta, target)
	if err != nil {
		return outcomes, err
	}
	return append(outcomes, out), nil
}

// RemoveFromGroup runs the four-way check against a single group using a
// fresh metadata snapshot.
func (r *Runner) RemoveFromGroup(ctx context.Context, groupID, target string) (Outcome, error) {
	meta, err := r.resolver.Metadata(ctx, groupID)
	if err != nil {
		return Outcome{Group: groupID}, err
	}
	return r.visit(ctx, meta, target)
}

// visit applies the four-way check to one group snapshot and issues the
// removal call when all gates pass. A rejected removal call is recorded as
// ActionFailed rather than aborting the caller's loop.
func (r *Runner) visit(ctx context.Context, meta *transport.GroupMetadata, target string) (Outcome, error) {
	out := Outcome{Group: meta.ID}

	self := r.sock.SelfIdentity()
	if self == "" {
		return out, ErrNoSelfIdentity
	}

	switch {
	case !group.HasElevatedPrivilege(meta, self):
		// Without admin rights the API would reject the call anyway; skip
		// instead of burning a gated request on a guaranteed failure.
		out.Action = ActionSkippedNoPermission
	case group.FindParticipant(meta, target) == nil:
		out.Action = ActionSkippedNotMember
	case group.HasElevatedPrivilege(meta, target):
		// Never remove privileged members.
		out.Action = ActionSkippedPrivileged
	default:
		if err := r.gate.Acquire(ctx); err != nil {
			return out, err
		}
		if err := r.sock.RemoveParticipants(ctx, meta.ID, []string{target}); err != nil {
			out.Action = ActionFailed
			out.Err = err
		} else {
			out.Action = ActionRemoved
		}
	}

	log.Printf("[cascade] group=%s target=%s action=%s", meta.ID, target, out.Action)
	metrics.CascadeOutcomes.WithLabelValues(string(out.Action)).Inc()
	return out, nil
}

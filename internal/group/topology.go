package group

import (
	"context"
	"fmt"

	"github.com/warden/antispam/internal/gate"
	"github.com/warden/antispam/internal/transport"
)

// Resolver performs rate-gated metadata lookups and resolves how groups link
// into communities.
type Resolver struct {
	sock transport.Socket
	gate *gate.Gate
}

// NewResolver creates a Resolver over the given socket and gate.
func NewResolver(sock transport.Socket, g *gate.Gate) *Resolver {
	return &Resolver{sock: sock, gate: g}
}

// Metadata fetches a fresh snapshot of the group, paced by the gate.
func (r *Resolver) Metadata(ctx context.Context, groupID string) (*transport.GroupMetadata, error) {
	if err := r.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	meta, err := r.sock.FetchGroupMetadata(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group: fetch metadata %s: %w", groupID, err)
	}
	return meta, nil
}

// CommunityMetadata fetches a snapshot of id and verifies it actually is a
// community root, not an ordinary group.
func (r *Resolver) CommunityMetadata(ctx context.Context, id string) (*transport.GroupMetadata, error) {
	meta, err := r.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.IsCommunity {
		return nil, fmt.Errorf("group: %s is not a community", id)
	}
	return meta, nil
}

// ParentCommunity returns the community the group is linked under, or ""
// when the group is standalone.
func (r *Resolver) ParentCommunity(ctx context.Context, groupID string) (string, error) {
	meta, err := r.Metadata(ctx, groupID)
	if err != nil {
		return "", err
	}
	return meta.LinkedParent, nil
}

// MemberGroups enumerates every group linked under community. It walks all
// groups the bot participates in with one paced metadata fetch per group, so
// the cost is linear in the bot's total group count. Against an account in
// many groups this walk is the dominant latency of a cascade; it stays
// sequential so the platform API never sees a burst.
func (r *Resolver) MemberGroups(ctx context.Context, community string) ([]string, error) {
	if err := r.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	all, err := r.sock.FetchAllGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("group: fetch all groups: %w", err)
	}

	var members []string
	for _, gid := range all {
		meta, err := r.Metadata(ctx, gid)
		if err != nil {
			return nil, err
		}
		if meta.LinkedParent == community {
			members = append(members, gid)
		}
	}
	return members, nil
}

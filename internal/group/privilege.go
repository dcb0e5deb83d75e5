// Package group answers membership and privilege questions about groups and
// resolves the community topology around them. Every remote lookup goes
// through the rate gate and fetches fresh metadata: privilege can change
// between decisions, so snapshots are never reused across traversal steps.
package group

import (
	"github.com/warden/antispam/internal/identity"
	"github.com/warden/antispam/internal/transport"
)

// FindParticipant returns the membership entry matching participant after
// identity normalization, or nil when the participant is not in the group.
func FindParticipant(meta *transport.GroupMetadata, participant string) *transport.Participant {
	want := identity.Normalize(participant)
	for i := range meta.Participants {
		if identity.Normalize(meta.Participants[i].ID) == want {
			return &meta.Participants[i]
		}
	}
	return nil
}

// HasElevatedPrivilege reports whether participant holds admin or owner
// standing in the group described by meta. Absent participants and plain
// members report false.
func HasElevatedPrivilege(meta *transport.GroupMetadata, participant string) bool {
	p := FindParticipant(meta, participant)
	return p != nil && p.Privilege.Elevated()
}

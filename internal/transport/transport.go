// Package transport defines the boundary between the moderation core and the
// messaging gateway: the message and group-metadata types that cross it, and
// the Socket interface the core calls. The concrete implementation lives in
// internal/gateway; tests substitute in-memory fakes.
package transport

import "context"

// Privilege is a participant's standing within a single group. A participant
// can hold different privileges in different groups.
type Privilege string

const (
	PrivilegeNone  Privilege = ""
	PrivilegeAdmin Privilege = "admin"
	PrivilegeOwner Privilege = "owner"
)

// Elevated reports whether the privilege grants moderation rights.
func (p Privilege) Elevated() bool {
	return p == PrivilegeAdmin || p == PrivilegeOwner
}

// Participant is one entry in a group's membership list. The ID may carry a
// device suffix or a context-dependent domain tag; compare participants with
// identity.Normalize, never with raw string equality.
type Participant struct {
	ID        string    `json:"id"`
	Privilege Privilege `json:"privilege,omitempty"`
}

// GroupMetadata is a point-in-time snapshot of a group: its identity, its
// community linkage, and its full membership with per-participant privilege.
// Snapshots are fetched fresh for every decision and must not be cached
// across traversal steps: privilege can change between calls, and acting on
// a stale snapshot would let a demoted admin keep effective rights.
type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject,omitempty"`
	IsCommunity  bool          `json:"is_community,omitempty"`
	LinkedParent string        `json:"linked_parent,omitempty"`
	Participants []Participant `json:"participants"`
}

// MessageKey identifies one message within one chat.
type MessageKey struct {
	Remote   string `json:"remote"`             // chat the message belongs to (group or direct)
	Sender   string `json:"sender,omitempty"`   // participant who sent it (group chats only)
	ID       string `json:"id"`                 // message ID within the chat
	FromSelf bool   `json:"from_self,omitempty"`
}

// MessageContent holds the text-bearing fields of an inbound message. At
// most one is typically set; extraction priority is handled by the
// classifier.
type MessageContent struct {
	Conversation    string `json:"conversation,omitempty"`
	ExtendedText    string `json:"extended_text,omitempty"`
	ImageCaption    string `json:"image_caption,omitempty"`
	VideoCaption    string `json:"video_caption,omitempty"`
	DocumentCaption string `json:"document_caption,omitempty"`
}

// Message is one inbound message as delivered by the gateway.
type Message struct {
	Key       MessageKey     `json:"key"`
	Content   MessageContent `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// SendContent is the body of an outbound message.
type SendContent struct {
	Text string `json:"text"`
}

// SendOptions carries optional send parameters.
type SendOptions struct {
	Quoted *Message // reply quoting this message
}

// Socket is the gateway API surface the moderation core consumes. All calls
// are remote and should be preceded by a gate.Acquire; the core never
// manages connection establishment, credentials, or reconnection.
type Socket interface {
	// FetchGroupMetadata returns a fresh snapshot of the given group.
	FetchGroupMetadata(ctx context.Context, groupID string) (*GroupMetadata, error)

	// FetchAllGroups returns the IDs of every group the bot participates in.
	FetchAllGroups(ctx context.Context) ([]string, error)

	// SendMessage delivers content to a chat, optionally quoting a message.
	SendMessage(ctx context.Context, to string, content SendContent, opts *SendOptions) error

	// RemoveParticipants removes the given participants from a group.
	RemoveParticipants(ctx context.Context, groupID string, participants []string) error

	// DeleteMessage deletes a message for all chat members. It is an error
	// to pass a key without a Remote chat identifier.
	DeleteMessage(ctx context.Context, key MessageKey) error

	// SelfIdentity returns the bot's own participant identifier, or "" when
	// the session has not learned it yet.
	SelfIdentity() string
}

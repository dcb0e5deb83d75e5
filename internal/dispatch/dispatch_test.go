package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/warden/antispam/internal/cascade"
	"github.com/warden/antispam/internal/classify"
	"github.com/warden/antispam/internal/gate"
	"github.com/warden/antispam/internal/group"
	"github.com/warden/antispam/internal/transport"
)

const (
	botID    = "bot@s.whatsapp.net"
	senderID = "spammer@s.whatsapp.net"
)

// recordingSocket is a transport.Socket that logs every call in order so
// tests can assert sequencing (delete strictly before removals).
type recordingSocket struct {
	metas  map[string]*transport.GroupMetadata
	groups []string
	self   string
	calls  []string
	sent   []transport.SendContent
	quoted []*transport.Message
}

func (f *recordingSocket) FetchGroupMetadata(_ context.Context, groupID string) (*transport.GroupMetadata, error) {
	f.calls = append(f.calls, "meta:"+groupID)
	meta, ok := f.metas[groupID]
	if !ok {
		return nil, errors.New("no such group")
	}
	return meta, nil
}

func (f *recordingSocket) FetchAllGroups(context.Context) ([]string, error) {
	f.calls = append(f.calls, "list")
	return f.groups, nil
}

func (f *recordingSocket) SendMessage(_ context.Context, to string, content transport.SendContent, opts *transport.SendOptions) error {
	f.calls = append(f.calls, "send:"+to)
	f.sent = append(f.sent, content)
	if opts != nil {
		f.quoted = append(f.quoted, opts.Quoted)
	} else {
		f.quoted = append(f.quoted, nil)
	}
	return nil
}

func (f *recordingSocket) RemoveParticipants(_ context.Context, groupID string, _ []string) error {
	f.calls = append(f.calls, "remove:"+groupID)
	return nil
}

func (f *recordingSocket) DeleteMessage(_ context.Context, key transport.MessageKey) error {
	if key.Remote == "" {
		return errors.New("message key has no chat")
	}
	f.calls = append(f.calls, "delete:"+key.ID)
	return nil
}

func (f *recordingSocket) SelfIdentity() string { return f.self }

// spyPredicate wraps a fixed verdict and counts invocations.
type spyPredicate struct {
	verdict bool
	err     error
	calls   int
}

func (p *spyPredicate) Classify(context.Context, string) (bool, error) {
	p.calls++
	return p.verdict, p.err
}

func newDispatcher(sock *recordingSocket, pred classify.Predicate) *Dispatcher {
	g := gate.New(time.Millisecond)
	resolver := group.NewResolver(sock, g)
	runner := cascade.NewRunner(sock, resolver, g)
	return New(sock, resolver, runner, pred, g)
}

func groupMsg(gid, sender, text string) *transport.Message {
	return &transport.Message{
		Key:     transport.MessageKey{Remote: gid, Sender: sender, ID: "m1"},
		Content: transport.MessageContent{Conversation: text},
	}
}

// Scenario A: standalone group, bot admin, spam text. Expect delete, then a
// single removal, no warning.
func TestSpam_BotAdmin_StandaloneGroup(t *testing.T) {
	sock := &recordingSocket{
		self: botID,
		metas: map[string]*transport.GroupMetadata{
			"g1@g.us": {ID: "g1@g.us", Participants: []transport.Participant{
				{ID: botID, Privilege: transport.PrivilegeAdmin},
				{ID: senderID},
			}},
		},
	}
	pred := &spyPredicate{verdict: true}
	d := newDispatcher(sock, pred)

	d.HandleBatch(context.Background(), []*transport.Message{
		groupMsg("g1@g.us", senderID, "invest now http://x.ru/go"),
	})

	var deleteIdx, removeIdx = -1, -1
	for i, c := range sock.calls {
		if strings.HasPrefix(c, "delete:") {
			deleteIdx = i
		}
		if strings.HasPrefix(c, "remove:") {
			removeIdx = i
		}
		if strings.HasPrefix(c, "send:") {
			t.Errorf("unexpected warning send: %v", sock.calls)
		}
	}
	if deleteIdx < 0 {
		t.Fatalf("message not deleted: %v", sock.calls)
	}
	if removeIdx < 0 {
		t.Fatalf("participant not removed: %v", sock.calls)
	}
	if deleteIdx > removeIdx {
		t.Errorf("delete happened after removal: %v", sock.calls)
	}
}

// Scenario B: origin linked to a community with two siblings; bot admin in
// one sibling and the root but not the other.
func TestSpam_BotAdmin_CommunityCascade(t *testing.T) {
	adminMembers := []transport.Participant{
		{ID: botID, Privilege: transport.PrivilegeAdmin},
		{ID: senderID},
	}
	sock := &recordingSocket{
		self:   botID,
		groups: []string{"origin@g.us", "sib1@g.us", "sib2@g.us"},
		metas: map[string]*transport.GroupMetadata{
			"origin@g.us": {ID: "origin@g.us", LinkedParent: "comm@g.us", Participants: adminMembers},
			"sib1@g.us":   {ID: "sib1@g.us", LinkedParent: "comm@g.us", Participants: adminMembers},
			"sib2@g.us": {ID: "sib2@g.us", LinkedParent: "comm@g.us", Participants: []transport.Participant{
				{ID: botID},
				{ID: senderID},
			}},
			"comm@g.us": {ID: "comm@g.us", IsCommunity: true, Participants: adminMembers},
		},
	}
	d := newDispatcher(sock, &spyPredicate{verdict: true})

	d.HandleBatch(context.Background(), []*transport.Message{
		groupMsg("origin@g.us", senderID, "guaranteed returns www.profit.biz"),
	})

	var removals []string
	for _, c := range sock.calls {
		if strings.HasPrefix(c, "remove:") {
			removals = append(removals, strings.TrimPrefix(c, "remove:"))
		}
	}
	want := []string{"origin@g.us", "sib1@g.us", "comm@g.us"}
	if len(removals) != len(want) {
		t.Fatalf("removals = %v, want %v", removals, want)
	}
	for i := range want {
		if removals[i] != want[i] {
			t.Errorf("removals[%d] = %q, want %q", i, removals[i], want[i])
		}
	}
}

// Scenario C: spam but the bot is not admin in the origin group. Expect no
// deletion, no removals, one warning quoting the original.
func TestSpam_BotNotAdmin_Warns(t *testing.T) {
	tests := []struct {
		name         string
		linkedParent string
		wantWord     string
	}{
		{"standalone group wording", "", "group admin"},
		{"community wording", "comm@g.us", "community admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := &recordingSocket{
				self: botID,
				metas: map[string]*transport.GroupMetadata{
					"g1@g.us": {ID: "g1@g.us", LinkedParent: tt.linkedParent, Participants: []transport.Participant{
						{ID: botID},
						{ID: senderID},
					}},
				},
			}
			d := newDispatcher(sock, &spyPredicate{verdict: true})

			msg := groupMsg("g1@g.us", senderID, "crypto signals http://x.io/y")
			d.HandleBatch(context.Background(), []*transport.Message{msg})

			for _, c := range sock.calls {
				if strings.HasPrefix(c, "delete:") || strings.HasPrefix(c, "remove:") {
					t.Errorf("enforcement call without admin rights: %v", sock.calls)
				}
			}
			if len(sock.sent) != 1 {
				t.Fatalf("sent %d messages, want exactly 1 warning", len(sock.sent))
			}
			if !strings.Contains(sock.sent[0].Text, tt.wantWord) {
				t.Errorf("warning text %q does not mention %q", sock.sent[0].Text, tt.wantWord)
			}
			if sock.quoted[0] != msg {
				t.Error("warning does not quote the original message")
			}
		})
	}
}

func TestSpam_WarningRateLimited(t *testing.T) {
	sock := &recordingSocket{
		self: botID,
		metas: map[string]*transport.GroupMetadata{
			"g1@g.us": {ID: "g1@g.us", Participants: []transport.Participant{
				{ID: botID},
				{ID: senderID},
			}},
		},
	}
	d := newDispatcher(sock, &spyPredicate{verdict: true})

	allowed := true
	d.WarnAllowed = func(context.Context, string) bool { return allowed }

	ctx := context.Background()
	d.HandleBatch(ctx, []*transport.Message{groupMsg("g1@g.us", senderID, "forex www.fx.net/j")})
	allowed = false
	d.HandleBatch(ctx, []*transport.Message{groupMsg("g1@g.us", senderID, "forex www.fx.net/j")})

	if len(sock.sent) != 1 {
		t.Errorf("sent %d warnings, want 1 (second suppressed)", len(sock.sent))
	}
}

// Scenario D: self messages and direct chats are ignored before
// classification.
func TestIgnored_SelfAndDirectMessages(t *testing.T) {
	sock := &recordingSocket{self: botID}
	pred := &spyPredicate{verdict: true}
	d := newDispatcher(sock, pred)

	self := groupMsg("g1@g.us", botID, "spam spam")
	self.Key.FromSelf = true
	direct := &transport.Message{
		Key:     transport.MessageKey{Remote: "user@s.whatsapp.net", Sender: "user@s.whatsapp.net", ID: "m2"},
		Content: transport.MessageContent{Conversation: "invest http://x.ru"},
	}

	d.HandleBatch(context.Background(), []*transport.Message{self, direct})

	if pred.calls != 0 {
		t.Errorf("classifier invoked %d times, want 0", pred.calls)
	}
	if len(sock.calls) != 0 {
		t.Errorf("side effects for ignored messages: %v", sock.calls)
	}
}

// Scenario E: empty extractable text short-circuits before the classifier.
func TestIgnored_EmptyText(t *testing.T) {
	sock := &recordingSocket{self: botID}
	pred := &spyPredicate{verdict: true}
	d := newDispatcher(sock, pred)

	msg := &transport.Message{
		Key: transport.MessageKey{Remote: "g1@g.us", Sender: senderID, ID: "m3"},
	}
	d.HandleBatch(context.Background(), []*transport.Message{msg})

	if pred.calls != 0 {
		t.Errorf("classifier invoked %d times, want 0", pred.calls)
	}
	if len(sock.calls) != 0 {
		t.Errorf("side effects for empty message: %v", sock.calls)
	}
}

func TestClean_NoSideEffects(t *testing.T) {
	sock := &recordingSocket{self: botID}
	pred := &spyPredicate{verdict: false}
	d := newDispatcher(sock, pred)

	d.HandleBatch(context.Background(), []*transport.Message{
		groupMsg("g1@g.us", senderID, "see you at lunch"),
	})

	if pred.calls != 1 {
		t.Errorf("classifier invoked %d times, want 1", pred.calls)
	}
	if len(sock.calls) != 0 {
		t.Errorf("side effects for clean message: %v", sock.calls)
	}
}

// A classifier failure on one message must not prevent handling of the next
// message in the same batch.
func TestBatch_FailureIsolation(t *testing.T) {
	sock := &recordingSocket{
		self: botID,
		metas: map[string]*transport.GroupMetadata{
			"g1@g.us": {ID: "g1@g.us", Participants: []transport.Participant{
				{ID: botID, Privilege: transport.PrivilegeAdmin},
				{ID: senderID},
			}},
		},
	}
	failing := true
	pred := classify.PredicateFunc(func(context.Context, string) (bool, error) {
		if failing {
			failing = false
			return false, errors.New("classifier down")
		}
		return true, nil
	})
	d := newDispatcher(sock, pred)

	d.HandleBatch(context.Background(), []*transport.Message{
		groupMsg("g1@g.us", senderID, "first"),
		groupMsg("g1@g.us", senderID, "invest http://x.ru/go"),
	})

	var removed bool
	for _, c := range sock.calls {
		if strings.HasPrefix(c, "remove:") {
			removed = true
		}
	}
	if !removed {
		t.Errorf("second message not enforced after first failed: %v", sock.calls)
	}
}

// A JSON batch of "[null]" decodes into a slice holding a nil message. Nil
// entries must be dropped without panicking, and the rest of the batch must
// still be enforced.
func TestBatch_NilEntries(t *testing.T) {
	sock := &recordingSocket{
		self: botID,
		metas: map[string]*transport.GroupMetadata{
			"g1@g.us": {ID: "g1@g.us", Participants: []transport.Participant{
				{ID: botID, Privilege: transport.PrivilegeAdmin},
				{ID: senderID},
			}},
		},
	}
	d := newDispatcher(sock, &spyPredicate{verdict: true})

	var batch []*transport.Message
	if err := json.Unmarshal([]byte(`[null]`), &batch); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	batch = append(batch, groupMsg("g1@g.us", senderID, "invest http://x.ru/go"))

	d.HandleBatch(context.Background(), batch)

	var removed bool
	for _, c := range sock.calls {
		if strings.HasPrefix(c, "remove:") {
			removed = true
		}
	}
	if !removed {
		t.Errorf("message after nil entry not enforced: %v", sock.calls)
	}
}

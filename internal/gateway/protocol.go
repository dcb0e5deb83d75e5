package gateway

import (
	"encoding/json"

	"github.com/warden/antispam/internal/transport"
)

// Frame types exchanged with the gateway. Requests carry a correlation ID;
// the gateway answers with a "response" frame bearing the same ID. Inbound
// message batches arrive as unsolicited "messages" frames.
const (
	frameAuth          = "auth"
	frameGroupMetadata = "group_metadata"
	frameGroupList     = "group_list"
	frameSend          = "send"
	frameRemove        = "remove_participants"
	frameDelete        = "delete_message"
	framePing          = "ping"

	frameResponse  = "response"
	frameMessages  = "messages"
	framePong      = "pong"
	frameLoggedOut = "logged_out"
)

// frame is the JSON envelope for every frame in both directions. Payload is
// kept raw and decoded per frame type.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authRequest struct {
	Token      string `json:"token,omitempty"`
	MarkOnline bool   `json:"mark_online"`
}

type authResponse struct {
	Self string `json:"self"`
}

type metadataRequest struct {
	Group string `json:"group"`
}

type listResponse struct {
	Groups []string `json:"groups"`
}

type sendRequest struct {
	To      string                `json:"to"`
	Content transport.SendContent `json:"content"`
	Quoted  *transport.MessageKey `json:"quoted,omitempty"`
}

type removeRequest struct {
	Group        string   `json:"group"`
	Participants []string `json:"participants"`
}

type deleteRequest struct {
	Key transport.MessageKey `json:"key"`
}

package comcore

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire unit of the protocol: one JSON object per line,
// both directions.
type Frame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply and error frame kinds.
const (
	KindReply = "REPLY"
	KindError = "ERROR"
)

// Push frame kinds.
const (
	PushLogin         = "login"
	PushLogout        = "logout"
	PushEnd           = "end"
	PushMessage       = "message"
	PushMessageUpdate = "messageUpdated"
	PushReaction      = "reaction"
	PushInvite        = "invite"
	PushKicked        = "kicked"
	PushRoleChanged   = "roleChanged"
	PushMutedChanged  = "mutedChanged"
	PushTask          = "task"
	PushTaskUpdated   = "taskUpdated"
	PushTaskDeleted   = "taskDeleted"
	PushEvent         = "event"
	PushEventUpdated  = "eventUpdated"
	PushEventDeleted  = "eventDeleted"
	PushEventApproved = "eventApproved"
	PushSetBulletin   = "setBulletin"
	PushPoll          = "poll"
)

// parseFrame decodes one request line. The kind must be a non-empty string.
func parseFrame(line string) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if f.Kind == "" {
		return nil, fmt.Errorf("malformed request: missing kind")
	}
	return &f, nil
}

// encodeFrame serializes an outbound frame to its wire line.
func encodeFrame(kind string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding %s frame: %w", kind, err)
	}
	out, err := json.Marshal(Frame{Kind: kind, Data: payload})
	if err != nil {
		return "", fmt.Errorf("encoding %s frame: %w", kind, err)
	}
	return string(out), nil
}

// errorData is the payload of an ERROR frame.
type errorData struct {
	Message string `json:"message"`
}

// empty is the reply payload for operations with nothing to report.
type empty struct{}

package domain

import (
	"encoding/json"
	"strings"
)

// Inbound event names. The aliases are the names older clients emit.
const (
	EventJoin        = "join"
	EventSend        = "send"
	EventSendMessage = "sendMessage"
	EventSendDashed  = "send-message"
	EventAdminReply  = "adminReply"
)

// Outbound event names.
const (
	EventMessage = "message"
	EventError   = "error"
)

// Envelope is one WebSocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	UserID json.Number `json:"userId"`
}

type SendPayload struct {
	SenderID   json.Number `json:"senderId,omitempty"`
	ReceiverID json.Number `json:"receiverId,omitempty"`
	Content    string      `json:"content"`
	Type       string      `json:"type,omitempty"`
	SenderType string      `json:"senderType,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ParseUserID accepts a positive integer id in number or string form.
func ParseUserID(n json.Number) (int64, bool) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, false
	}
	id, err := json.Number(s).Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

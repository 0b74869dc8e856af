package domain

import (
	"time"
)

// Message is a persisted chat row. Rows are immutable once created.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	SenderType string    `json:"senderType"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

const (
	SenderTypeUser  = "USER"
	SenderTypeAdmin = "ADMIN"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Thread summarises a user's conversation with the operator.
type Thread struct {
	UserID        int64      `json:"userId"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

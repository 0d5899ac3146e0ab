package models

import "time"

// Conversation is a direct-message thread between the session identity
// and one counterpart. Conversations are created implicitly by the
// backend when a first message is sent to a new counterpart.
type Conversation struct {
	ID          string          `json:"id"`
	OtherParty  Identity        `json:"other_party"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// MessagePreview is the last-message teaser shown in the conversation
// list. Excerpt is empty for locked pay-per-view messages without a
// preview text.
type MessagePreview struct {
	MessageID string      `json:"message_id"`
	SenderID  string      `json:"sender_id"`
	Type      MessageType `json:"type"`
	Excerpt   string      `json:"excerpt,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Content is a feed item from a creator's page. Premium/PPV content is
// gated the same way pay-per-view messages are.
type Content struct {
	ID          string      `json:"id"`
	CreatorID   string      `json:"creator_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Type        MessageType `json:"content_type"`
	IsPremium   bool        `json:"is_premium"`
	IsPPV       bool        `json:"is_ppv"`
	PPVPrice    *float64    `json:"ppv_price,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

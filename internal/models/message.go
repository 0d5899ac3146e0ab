package models

import "time"

// MessageType classifies the payload of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
)

// Message is a single direct message. Messages are immutable once
// created; unlocking a pay-per-view message is tracked as a purchased-set
// on the client, never as a field mutation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Text           string      `json:"text,omitempty"`
	ContentRef     string      `json:"content_ref,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	IsPayPerView   bool        `json:"is_pay_per_view"`
	Price          *float64    `json:"price,omitempty"`
	PreviewText    *string     `json:"preview_text,omitempty"`
	IsTip          bool        `json:"is_tip"`
	TipAmount      *float64    `json:"tip_amount,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the message content is past its self-destruct
// time. Expiry gates content availability regardless of purchase state.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Preview converts a message to its conversation-list preview form.
func (m Message) Preview() MessagePreview {
	p := MessagePreview{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
	switch {
	case m.IsPayPerView && m.PreviewText != nil:
		p.Excerpt = *m.PreviewText
	case m.IsPayPerView:
		// Locked content never leaks into the list.
	default:
		p.Excerpt = m.Text
	}
	return p
}

// SendOptions carries the optional attributes of an outgoing message.
// Price is required iff PayPerView is set, TipAmount iff Tip is set.
type SendOptions struct {
	PayPerView       bool    `json:"is_pay_per_view"`
	Price            float64 `json:"price,omitempty" validate:"required_if=PayPerView true,omitempty,gt=0"`
	PreviewText      string  `json:"preview_text,omitempty" validate:"excluded_unless=PayPerView true"`
	Tip              bool    `json:"is_tip"`
	TipAmount        float64 `json:"tip_amount,omitempty" validate:"required_if=Tip true,omitempty,gte=1"`
	ExpiresInSeconds int64   `json:"expires_in_seconds,omitempty" validate:"omitempty,gt=0"`
}

// Envelope is the frame pushed over the message channel. Only the
// "message" type is emitted by the backend.
type Envelope struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// EnvelopeMessage is the Envelope.Type value for new-message events.
const EnvelopeMessage = "message"

// Package api implements the typed REST client for the platform
// backend. All business logic lives server-side; this package only
// shapes requests, maps status codes onto the client error taxonomy and
// decodes responses.
package api

import (
	"context"
	"errors"
	"io"

	"fanlink-client/internal/models"
)

// Error taxonomy. Transport and 5xx failures are transient and surfaced
// as notifications; validation failures are caught before or at the
// call; authorization failures should normally be prevented client-side
// and only reach here when the gate was bypassed.
var (
	ErrTransient    = errors.New("transient backend failure")
	ErrValidation   = errors.New("invalid request")
	ErrUnauthorized = errors.New("not authorized")
	ErrNotFound     = errors.New("not found")
)

// Target addresses an outgoing message: an existing conversation, or a
// counterpart identity when no conversation exists yet.
type Target struct {
	ConversationID string `json:"conversation_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// SendResult is the tagged outcome of a send. ConversationCreated tells
// the caller to refetch the conversation list rather than synthesizing
// an entry locally.
type SendResult struct {
	Message             models.Message `json:"message"`
	ConversationCreated bool           `json:"conversation_created"`
}

// MessagePage is a full conversation history plus the viewer-scoped set
// of message ids the server considers unlocked.
type MessagePage struct {
	Messages    []models.Message `json:"messages"`
	UnlockedIDs []string         `json:"unlocked_message_ids,omitempty"`
}

// Checkout points at an external payment redirect.
type Checkout struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

// PaymentStatus is the polled state of a checkout session.
type PaymentStatus struct {
	Status    string  `json:"payment_status"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	MessageID string  `json:"message_id,omitempty"`
}

// Paid reports whether the checkout completed.
func (p PaymentStatus) Paid() bool { return p.Status == "paid" }

// AuthResult is returned by the auth endpoints.
type AuthResult struct {
	Token    string          `json:"access_token"`
	Identity models.Identity `json:"user"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	Password    string `json:"password" validate:"required,min=8"`
	IsCreator   bool   `json:"is_creator"`
}

// CreatorFilter narrows the creators directory listing.
type CreatorFilter struct {
	Category string
	Search   string
}

// Client is the backend surface consumed by the store, gate and CLI.
// The concrete implementation is HTTP; tests substitute mocks.
type Client interface {
	// Messaging.
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) (MessagePage, error)
	SendText(ctx context.Context, target Target, text string, opts models.SendOptions) (SendResult, error)
	SendAttachment(ctx context.Context, target Target, filename, contentType string, data io.Reader, opts models.SendOptions) (SendResult, error)
	PayMessage(ctx context.Context, messageID string) (Checkout, error)
	FetchFile(ctx context.Context, messageID string) ([]byte, string, error)

	// Auth boundary.
	Register(ctx context.Context, req RegisterRequest) (AuthResult, error)
	Login(ctx context.Context, email, password string) (AuthResult, error)
	Me(ctx context.Context) (models.Identity, error)

	// Creators and content.
	ListCreators(ctx context.Context, filter CreatorFilter) ([]models.Creator, error)
	GetCreator(ctx context.Context, creatorID string) (models.Creator, error)
	ListContent(ctx context.Context, creatorID string) ([]models.Content, error)
	FetchContentFile(ctx context.Context, contentID string) ([]byte, string, error)

	// Payments.
	SubscribeCheckout(ctx context.Context, creatorID, plan string) (Checkout, error)
	TipCheckout(ctx context.Context, creatorID string, amount float64, note string) (Checkout, error)
	PaymentStatus(ctx context.Context, sessionID string) (PaymentStatus, error)
}

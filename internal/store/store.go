// Package store is the single source of truth for the conversation
// list and the currently open conversation's message sequence. List
// refreshes are wholesale; live arrivals merge incrementally.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"fanlink-client/internal/api"
	"fanlink-client/internal/gate"
	"fanlink-client/internal/models"
	"fanlink-client/internal/observability"
	"fanlink-client/internal/session"
)

// ErrSuperseded marks a fetch whose result arrived after a newer user
// action made it stale. The result was discarded; nothing changed.
var ErrSuperseded = errors.New("fetch superseded")

// Store owns the conversation list and the active message sequence. No
// other component mutates them.
type Store struct {
	api  api.Client
	gate *gate.Gate
	sess *session.Session
	log  *slog.Logger

	mu            sync.Mutex
	conversations []models.Conversation
	active        string
	messages      []models.Message
	// rev orders list fetches against local mutations: a fetch issued
	// at an older rev must not clobber newer state (an optimistic
	// unread reset, a later fetch, an arrival merge).
	rev uint64
}

// New builds an empty store.
func New(apiClient api.Client, g *gate.Gate, sess *session.Session, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{api: apiClient, gate: g, sess: sess, log: log}
}

// LoadConversations refetches the full list and replaces the current
// one wholesale, preserving the server's ordering. A completion that
// lost the race against a newer mutation is discarded.
func (s *Store) LoadConversations(ctx context.Context) ([]models.Conversation, error) {
	if _, ok := s.sess.Identity(); !ok {
		return nil, fmt.Errorf("%w: login required", api.ErrUnauthorized)
	}

	s.mu.Lock()
	s.rev++
	issued := s.rev
	s.mu.Unlock()

	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		s.sess.Notify(session.LevelError, "failed to load conversations")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if issued < s.rev {
		s.log.Debug("stale conversation list discarded", "issued_rev", issued, "current_rev", s.rev)
		return snapshotConversations(s.conversations), nil
	}
	s.conversations = convs
	return snapshotConversations(s.conversations), nil
}

// OpenConversation makes the conversation active, resets its unread
// count optimistically and fetches its full message history, oldest
// first. Switching away while the fetch is in flight discards the
// result.
func (s *Store) OpenConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, ok := s.sess.Identity(); !ok {
		return nil, fmt.Errorf("%w: login required", api.ErrUnauthorized)
	}

	s.mu.Lock()
	s.active = conversationID
	s.messages = nil
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount = 0
		}
	}
	// The reset is a local mutation: any older in-flight list fetch
	// must not resurrect the counter.
	s.rev++
	s.mu.Unlock()

	page, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		s.sess.Notify(session.LevelError, "failed to load messages")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != conversationID {
		s.log.Debug("stale message fetch discarded", "conversation", conversationID, "active", s.active)
		return nil, ErrSuperseded
	}
	// Arrivals that landed while the fetch was in flight are already in
	// s.messages; keep them after the fetched history, deduplicated.
	merged := page.Messages
	for _, m := range s.messages {
		if !containsMessage(merged, m.ID) {
			merged = append(merged, m)
		}
	}
	s.messages = merged
	s.gate.MarkUnlocked(page.UnlockedIDs...)
	return snapshotMessages(s.messages), nil
}

func containsMessage(msgs []models.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// CloseConversation leaves the active conversation, so that further
// arrivals count as unread again.
func (s *Store) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	s.messages = nil
}

// ApplyArrival merges one pushed message. Arrivals for the active
// conversation append to the message sequence in receipt order;
// arrivals for other conversations bump their unread counter and
// preview. An arrival for a conversation not in the list forces a full
// refetch rather than synthesizing an entry.
func (s *Store) ApplyArrival(ctx context.Context, msg models.Message) error {
	s.mu.Lock()

	if msg.ConversationID == s.active {
		if containsMessage(s.messages, msg.ID) {
			s.mu.Unlock()
			observability.IncArrival("duplicate")
			return nil
		}
		s.messages = append(s.messages, msg)
		s.updatePreviewLocked(msg)
		s.mu.Unlock()
		observability.IncArrival("active_append")
		return nil
	}

	for i := range s.conversations {
		if s.conversations[i].ID == msg.ConversationID {
			s.conversations[i].UnreadCount++
			preview := msg.Preview()
			s.conversations[i].LastMessage = &preview
			s.rev++
			s.mu.Unlock()
			observability.IncArrival("unread")
			return nil
		}
	}
	s.mu.Unlock()

	// Unknown conversation: the server created it implicitly, refetch.
	observability.IncArrival("refetch")
	_, err := s.LoadConversations(ctx)
	return err
}

// SendText submits a text message to an existing conversation. There is
// no local echo: the message shows up via the arrival event or the next
// refetch.
func (s *Store) SendText(ctx context.Context, conversationID, text string, opts models.SendOptions) (api.SendResult, error) {
	return s.send(ctx, func() (api.SendResult, error) {
		return s.api.SendText(ctx, api.Target{ConversationID: conversationID}, text, opts)
	})
}

// SendTextTo submits a text message to a counterpart with no existing
// conversation; the backend creates one implicitly.
func (s *Store) SendTextTo(ctx context.Context, recipientID, text string, opts models.SendOptions) (api.SendResult, error) {
	return s.send(ctx, func() (api.SendResult, error) {
		return s.api.SendText(ctx, api.Target{RecipientID: recipientID}, text, opts)
	})
}

// SendAttachment submits an attachment message to an existing
// conversation.
func (s *Store) SendAttachment(ctx context.Context, conversationID, filename, contentType string, data io.Reader, opts models.SendOptions) (api.SendResult, error) {
	return s.send(ctx, func() (api.SendResult, error) {
		return s.api.SendAttachment(ctx, api.Target{ConversationID: conversationID}, filename, contentType, data, opts)
	})
}

// SendAttachmentTo submits an attachment message to a counterpart with
// no existing conversation.
func (s *Store) SendAttachmentTo(ctx context.Context, recipientID, filename, contentType string, data io.Reader, opts models.SendOptions) (api.SendResult, error) {
	return s.send(ctx, func() (api.SendResult, error) {
		return s.api.SendAttachment(ctx, api.Target{RecipientID: recipientID}, filename, contentType, data, opts)
	})
}

func (s *Store) send(ctx context.Context, submit func() (api.SendResult, error)) (api.SendResult, error) {
	if _, ok := s.sess.Identity(); !ok {
		s.sess.Notify(session.LevelError, "login required to send messages")
		return api.SendResult{}, fmt.Errorf("%w: login required", api.ErrUnauthorized)
	}

	res, err := submit()
	if err != nil {
		switch {
		case errors.Is(err, api.ErrValidation):
			s.sess.Notify(session.LevelError, err.Error())
		default:
			s.sess.Notify(session.LevelError, "failed to send message")
		}
		return api.SendResult{}, err
	}

	if res.ConversationCreated {
		if _, err := s.LoadConversations(ctx); err != nil {
			// The send itself succeeded; the list catches up later.
			s.log.Warn("conversation list refetch after implicit create failed", "error", err)
		}
	}
	return res, nil
}

// Conversations returns a snapshot of the current list.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotConversations(s.conversations)
}

// ActiveID returns the id of the open conversation, empty if none.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveMessages returns a snapshot of the open conversation's message
// sequence.
func (s *Store) ActiveMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotMessages(s.messages)
}

func (s *Store) updatePreviewLocked(msg models.Message) {
	for i := range s.conversations {
		if s.conversations[i].ID == msg.ConversationID {
			preview := msg.Preview()
			s.conversations[i].LastMessage = &preview
			s.rev++
			return
		}
	}
}

func snapshotConversations(in []models.Conversation) []models.Conversation {
	out := make([]models.Conversation, len(in))
	copy(out, in)
	return out
}

func snapshotMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}

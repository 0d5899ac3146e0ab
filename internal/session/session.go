// Package session holds the per-login state that the browser original
// kept in globals: the current identity, its bearer token and the
// notification sink. It is constructed once and injected into every
// component that needs it.
package session

import (
	"log/slog"
	"sync"

	"fanlink-client/internal/models"
)

// Notifier receives the transient, user-facing notifications that all
// recoverable failures are converted to.
type Notifier interface {
	Notify(level string, text string)
}

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Session is the explicit session context shared by the api client,
// channel, store and gate.
type Session struct {
	notifier Notifier
	log      *slog.Logger

	mu       sync.RWMutex
	identity *models.Identity
	token    string
}

// New builds an anonymous session. A nil notifier falls back to logging.
func New(notifier Notifier, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = logNotifier{log: log}
	}
	return &Session{notifier: notifier, log: log}
}

// SetIdentity installs the logged-in identity and its token.
func (s *Session) SetIdentity(id models.Identity, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	s.token = token
}

// Clear drops the identity on logout.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.token = ""
}

// Identity returns the logged-in identity, if any.
func (s *Session) Identity() (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return models.Identity{}, false
	}
	return *s.identity, true
}

// Token returns the bearer token for API calls; empty when anonymous.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Notify forwards a transient notification to the UI sink.
func (s *Session) Notify(level, text string) {
	s.notifier.Notify(level, text)
}

type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) Notify(level, text string) {
	if level == LevelError {
		n.log.Error(text)
		return
	}
	n.log.Info(text)
}

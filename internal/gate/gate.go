// Package gate decides what a viewer may see of each message and owns
// the session's purchased-set. The set is a derived cache: the server
// stays authoritative, and nothing enters the set without server
// confirmation.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fanlink-client/internal/api"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
)

// Visibility is the render decision for one message. Exactly one applies.
type Visibility int

const (
	// Full content is renderable now.
	Full Visibility = iota
	// Preview shows the redacted teaser plus a purchase affordance.
	Preview
	// Locked shows a placeholder (type and price) plus a purchase
	// affordance.
	Locked
	// Expired shows nothing and offers no purchase.
	Expired
)

func (v Visibility) String() string {
	switch v {
	case Full:
		return "full"
	case Preview:
		return "preview"
	case Locked:
		return "locked"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Gate evaluates message visibility for the session identity.
type Gate struct {
	api  api.Client
	sess *session.Session
	log  *slog.Logger
	now  func() time.Time

	mu        sync.RWMutex
	purchased map[string]struct{}
}

// New builds an empty gate. The purchased-set fills up from refetches
// and confirmed checkouts only.
func New(apiClient api.Client, sess *session.Session, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		api:       apiClient,
		sess:      sess,
		log:       log,
		now:       time.Now,
		purchased: make(map[string]struct{}),
	}
}

// Decide applies the visibility policy, in precedence order: expiry
// dominates everything, the sender always sees own content, free
// messages are open, then purchase state, then preview availability.
func (g *Gate) Decide(viewer models.Identity, msg models.Message) Visibility {
	if msg.Expired(g.now()) {
		return Expired
	}
	if msg.SenderID == viewer.ID {
		return Full
	}
	if !msg.IsPayPerView {
		return Full
	}
	if g.Purchased(msg.ID) {
		return Full
	}
	if msg.PreviewText != nil && *msg.PreviewText != "" {
		return Preview
	}
	return Locked
}

// AllowFetch reports whether the raw attachment may be requested. Used
// to keep unauthorized fetches from ever reaching the network.
func (g *Gate) AllowFetch(viewer models.Identity, msg models.Message) bool {
	return g.Decide(viewer, msg) == Full
}

// Purchased reports whether the message id is in the purchased-set.
func (g *Gate) Purchased(messageID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.purchased[messageID]
	return ok
}

// MarkUnlocked ingests server-confirmed unlocked ids, typically the
// unlocked_message_ids of a conversation refetch.
func (g *Gate) MarkUnlocked(ids ...string) {
	if len(ids) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.purchased[id] = struct{}{}
	}
}

// Reset empties the purchased-set on logout.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purchased = make(map[string]struct{})
}

// Purchase starts checkout for a locked message and returns the
// redirect. It never marks the message purchased: an abandoned or
// failed checkout must leave visibility unchanged.
func (g *Gate) Purchase(ctx context.Context, msg models.Message) (api.Checkout, error) {
	viewer, ok := g.sess.Identity()
	if !ok {
		return api.Checkout{}, fmt.Errorf("%w: login required", api.ErrUnauthorized)
	}
	switch g.Decide(viewer, msg) {
	case Preview, Locked:
	case Expired:
		return api.Checkout{}, fmt.Errorf("%w: message expired", api.ErrValidation)
	default:
		return api.Checkout{}, fmt.Errorf("%w: message is not locked", api.ErrValidation)
	}

	checkout, err := g.api.PayMessage(ctx, msg.ID)
	if err != nil {
		g.sess.Notify(session.LevelError, "could not start checkout")
		return api.Checkout{}, err
	}
	g.log.Info("checkout started", "message_id", msg.ID, "session_id", checkout.SessionID)
	return checkout, nil
}

// ConfirmPurchase polls the checkout session and adds the message to
// the purchased-set only when the server reports it paid. Pending or
// failed checkouts are a no-op.
func (g *Gate) ConfirmPurchase(ctx context.Context, sessionID string) (bool, error) {
	status, err := g.api.PaymentStatus(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !status.Paid() {
		return false, nil
	}
	if status.MessageID != "" {
		g.MarkUnlocked(status.MessageID)
	}
	return true, nil
}

package backendtest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fanlink-client/internal/models"
)

var (
	errConversationNotFound = errors.New("conversation not found")
	errMessageNotFound      = errors.New("message not found")
)

type account struct {
	identity models.Identity
	email    string
	password string
	token    string
}

type conversation struct {
	id           string
	participants [2]string
	messages     []models.Message
	unread       map[string]int
	lastActivity time.Time
}

func (c *conversation) other(userID string) string {
	if c.participants[0] == userID {
		return c.participants[1]
	}
	return c.participants[0]
}

func (c *conversation) has(userID string) bool {
	return c.participants[0] == userID || c.participants[1] == userID
}

type payment struct {
	sessionID string
	payerID   string
	messageID string
	amount    float64
	status    string
}

type storedFile struct {
	data        []byte
	contentType string
}

// state is the in-memory world of the fake backend.
type state struct {
	mu            sync.Mutex
	accountsByTok map[string]*account
	accountsByEm  map[string]*account
	accountsByID  map[string]*account
	conversations map[string]*conversation
	unlocked      map[string]map[string]struct{}
	payments      map[string]*payment
	files         map[string]storedFile
	contentFiles  map[string]storedFile
	creators      []models.Creator
	content       []models.Content
}

func newState() *state {
	return &state{
		accountsByTok: make(map[string]*account),
		accountsByEm:  make(map[string]*account),
		accountsByID:  make(map[string]*account),
		conversations: make(map[string]*conversation),
		unlocked:      make(map[string]map[string]struct{}),
		payments:      make(map[string]*payment),
		files:         make(map[string]storedFile),
		contentFiles:  make(map[string]storedFile),
	}
}

func (st *state) addAccount(id models.Identity, email, password string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	acc := &account{identity: id, email: email, password: password, token: uuid.NewString()}
	st.accountsByTok[acc.token] = acc
	st.accountsByEm[email] = acc
	st.accountsByID[id.ID] = acc
	return acc.token
}

func (st *state) byToken(token string) (*account, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	acc, ok := st.accountsByTok[token]
	return acc, ok
}

// conversationBetween finds or creates the pair conversation. The
// second return reports creation.
func (st *state) conversationBetween(a, b string) (*conversation, bool) {
	for _, conv := range st.conversations {
		if conv.has(a) && conv.has(b) {
			return conv, false
		}
	}
	conv := &conversation{
		id:           uuid.NewString(),
		participants: [2]string{a, b},
		unread:       make(map[string]int),
		lastActivity: time.Now(),
	}
	st.conversations[conv.id] = conv
	return conv, true
}

// appendMessage stores the message, bumps the counterpart's unread
// counter and returns both participants for push fan-out.
func (st *state) appendMessage(conv *conversation, msg models.Message) [2]string {
	conv.messages = append(conv.messages, msg)
	conv.unread[conv.other(msg.SenderID)]++
	conv.lastActivity = msg.CreatedAt
	return conv.participants
}

// listConversations builds the per-viewer list, most recent activity
// first (the order the real backend serves).
func (st *state) listConversations(viewerID string) []models.Conversation {
	var convs []*conversation
	for _, conv := range st.conversations {
		if conv.has(viewerID) {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].lastActivity.After(convs[j].lastActivity)
	})

	out := make([]models.Conversation, 0, len(convs))
	for _, conv := range convs {
		item := models.Conversation{
			ID:          conv.id,
			UnreadCount: conv.unread[viewerID],
		}
		if other, ok := st.accountsByID[conv.other(viewerID)]; ok {
			item.OtherParty = other.identity
		}
		if n := len(conv.messages); n > 0 {
			preview := conv.messages[n-1].Preview()
			item.LastMessage = &preview
		}
		out = append(out, item)
	}
	return out
}

func (st *state) unlockedIn(viewerID string, conv *conversation) []string {
	set := st.unlocked[viewerID]
	if len(set) == 0 {
		return nil
	}
	var ids []string
	for _, m := range conv.messages {
		if _, ok := set[m.ID]; ok {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (st *state) findMessage(messageID string) (*conversation, models.Message, error) {
	for _, conv := range st.conversations {
		for _, m := range conv.messages {
			if m.ID == messageID {
				return conv, m, nil
			}
		}
	}
	return nil, models.Message{}, errMessageNotFound
}

func (st *state) markUnlocked(userID, messageID string) {
	if st.unlocked[userID] == nil {
		st.unlocked[userID] = make(map[string]struct{})
	}
	st.unlocked[userID][messageID] = struct{}{}
}

func (st *state) isUnlocked(userID, messageID string) bool {
	_, ok := st.unlocked[userID][messageID]
	return ok
}

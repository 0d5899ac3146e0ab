package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"fanlink-client/internal/api/validator"
	"fanlink-client/internal/models"
	"fanlink-client/internal/observability"
	"fanlink-client/internal/session"
)

const tracerName = "fanlink-client/api"

// HTTP is the real Client implementation.
type HTTP struct {
	baseURL string
	sess    *session.Session
	hc      *http.Client
	log     *slog.Logger
	val     *validator.Validator
}

// NewHTTP builds a client against baseURL (no trailing slash). The
// bearer token is read from the session on every call.
func NewHTTP(baseURL string, sess *session.Session, log *slog.Logger) *HTTP {
	if log == nil {
		log = slog.Default()
	}
	return &HTTP{
		baseURL: baseURL,
		sess:    sess,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     log,
		val:     validator.New(),
	}
}

var _ Client = (*HTTP)(nil)

// ListConversations fetches the full conversation list in the server's
// most-recent-activity order. The caller replaces its list wholesale.
func (c *HTTP) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/conversations", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// ListMessages fetches the full known history of a conversation, oldest
// first, plus the viewer-scoped unlocked ids.
func (c *HTTP) ListMessages(ctx context.Context, conversationID string) (MessagePage, error) {
	var out MessagePage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "list_messages", http.MethodGet, path, nil, "", &out); err != nil {
		return MessagePage{}, err
	}
	return out, nil
}

type sendTextRequest struct {
	Target
	Text    string             `json:"text" validate:"required"`
	Options models.SendOptions `json:"options"`
}

// SendText submits a text message. The send is atomic: validation runs
// before anything reaches the network, and no local echo happens.
func (c *HTTP) SendText(ctx context.Context, target Target, text string, opts models.SendOptions) (SendResult, error) {
	if err := c.validateTarget(target); err != nil {
		return SendResult{}, err
	}
	req := sendTextRequest{Target: target, Text: text, Options: opts}
	if errs := c.val.ValidateStruct(req); len(errs) > 0 {
		return SendResult{}, fmt.Errorf("%w: %s", ErrValidation, validator.Join(errs))
	}
	body, err := jsonBody(req)
	if err != nil {
		return SendResult{}, err
	}
	var out SendResult
	if err := c.do(ctx, "send_text", http.MethodPost, "/messages/send", body, "application/json", &out); err != nil {
		return SendResult{}, err
	}
	return out, nil
}

// SendAttachment submits an attachment message as multipart form data.
func (c *HTTP) SendAttachment(ctx context.Context, target Target, filename, contentType string, data io.Reader, opts models.SendOptions) (SendResult, error) {
	if err := c.validateTarget(target); err != nil {
		return SendResult{}, err
	}
	if filename == "" || data == nil {
		return SendResult{}, fmt.Errorf("%w: attachment file is required", ErrValidation)
	}
	if errs := c.val.ValidateStruct(opts); len(errs) > 0 {
		return SendResult{}, fmt.Errorf("%w: %s", ErrValidation, validator.Join(errs))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return SendResult{}, err
	}
	if _, err := io.Copy(fw, data); err != nil {
		return SendResult{}, err
	}
	fields := map[string]string{
		"conversation_id":    target.ConversationID,
		"recipient_id":       target.RecipientID,
		"content_type":       contentType,
		"is_pay_per_view":    strconv.FormatBool(opts.PayPerView),
		"price":              strconv.FormatFloat(opts.Price, 'f', -1, 64),
		"preview_text":       opts.PreviewText,
		"is_tip":             strconv.FormatBool(opts.Tip),
		"tip_amount":         strconv.FormatFloat(opts.TipAmount, 'f', -1, 64),
		"expires_in_seconds": strconv.FormatInt(opts.ExpiresInSeconds, 10),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return SendResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return SendResult{}, err
	}

	var out SendResult
	if err := c.do(ctx, "send_attachment", http.MethodPost, "/messages/upload", &buf, mw.FormDataContentType(), &out); err != nil {
		return SendResult{}, err
	}
	return out, nil
}

// PayMessage initiates checkout for a locked message. Nothing is
// unlocked until the payment status endpoint reports paid.
func (c *HTTP) PayMessage(ctx context.Context, messageID string) (Checkout, error) {
	var out Checkout
	path := "/messages/" + url.PathEscape(messageID) + "/pay"
	if err := c.do(ctx, "pay_message", http.MethodPost, path, nil, "", &out); err != nil {
		return Checkout{}, err
	}
	return out, nil
}

// FetchFile downloads the raw attachment bytes. Callers must consult the
// visibility gate first; the server rejects unpaid access anyway.
func (c *HTTP) FetchFile(ctx context.Context, messageID string) ([]byte, string, error) {
	return c.fetchRaw(ctx, "fetch_file", "/messages/"+url.PathEscape(messageID)+"/file")
}

func (c *HTTP) fetchRaw(ctx context.Context, route, path string) ([]byte, string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "api."+route)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveAPIRequest(route, 0, time.Since(start))
		return nil, "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	observability.ObserveAPIRequest(route, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		return nil, "", c.errorFrom(route, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Register creates an account and returns the identity plus token.
func (c *HTTP) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	if errs := c.val.ValidateStruct(req); len(errs) > 0 {
		return AuthResult{}, fmt.Errorf("%w: %s", ErrValidation, validator.Join(errs))
	}
	body, err := jsonBody(req)
	if err != nil {
		return AuthResult{}, err
	}
	var out AuthResult
	if err := c.do(ctx, "register", http.MethodPost, "/auth/register", body, "application/json", &out); err != nil {
		return AuthResult{}, err
	}
	return out, nil
}

// Login exchanges credentials for a token.
func (c *HTTP) Login(ctx context.Context, email, password string) (AuthResult, error) {
	body, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return AuthResult{}, err
	}
	var out AuthResult
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", body, "application/json", &out); err != nil {
		return AuthResult{}, err
	}
	return out, nil
}

// Me returns the identity the token belongs to.
func (c *HTTP) Me(ctx context.Context) (models.Identity, error) {
	var out models.Identity
	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", nil, "", &out); err != nil {
		return models.Identity{}, err
	}
	return out, nil
}

// ListCreators queries the creators directory.
func (c *HTTP) ListCreators(ctx context.Context, filter CreatorFilter) ([]models.Creator, error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	path := "/creators"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Creators []models.Creator `json:"creators"`
	}
	if err := c.do(ctx, "list_creators", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Creators, nil
}

// GetCreator fetches one creator profile.
func (c *HTTP) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	var out models.Creator
	if err := c.do(ctx, "get_creator", http.MethodGet, "/creators/"+url.PathEscape(creatorID), nil, "", &out); err != nil {
		return models.Creator{}, err
	}
	return out, nil
}

// ListContent fetches a creator's content feed.
func (c *HTTP) ListContent(ctx context.Context, creatorID string) ([]models.Content, error) {
	var out struct {
		Content []models.Content `json:"content"`
	}
	path := "/content?creator_id=" + url.QueryEscape(creatorID)
	if err := c.do(ctx, "list_content", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Content, nil
}

// FetchContentFile downloads a feed item's raw bytes. Premium and
// pay-per-view items are rejected server-side for non-entitled viewers.
func (c *HTTP) FetchContentFile(ctx context.Context, contentID string) ([]byte, string, error) {
	return c.fetchRaw(ctx, "fetch_content_file", "/content/"+url.PathEscape(contentID)+"/file")
}

// SubscribeCheckout starts a subscription checkout for a creator.
func (c *HTTP) SubscribeCheckout(ctx context.Context, creatorID, plan string) (Checkout, error) {
	body, err := jsonBody(map[string]string{"creator_id": creatorID, "plan_type": plan})
	if err != nil {
		return Checkout{}, err
	}
	var out Checkout
	if err := c.do(ctx, "subscribe", http.MethodPost, "/payments/subscribe", body, "application/json", &out); err != nil {
		return Checkout{}, err
	}
	return out, nil
}

// TipCheckout starts a standalone tip checkout.
func (c *HTTP) TipCheckout(ctx context.Context, creatorID string, amount float64, note string) (Checkout, error) {
	if amount < 1 {
		return Checkout{}, fmt.Errorf("%w: minimum tip amount is 1.00", ErrValidation)
	}
	body, err := jsonBody(map[string]any{"creator_id": creatorID, "amount": amount, "message": note})
	if err != nil {
		return Checkout{}, err
	}
	var out Checkout
	if err := c.do(ctx, "tip", http.MethodPost, "/payments/tip", body, "application/json", &out); err != nil {
		return Checkout{}, err
	}
	return out, nil
}

// PaymentStatus polls a checkout session.
func (c *HTTP) PaymentStatus(ctx context.Context, sessionID string) (PaymentStatus, error) {
	var out PaymentStatus
	path := "/payments/status/" + url.PathEscape(sessionID)
	if err := c.do(ctx, "payment_status", http.MethodGet, path, nil, "", &out); err != nil {
		return PaymentStatus{}, err
	}
	return out, nil
}

func (c *HTTP) validateTarget(t Target) error {
	if (t.ConversationID == "") == (t.RecipientID == "") {
		return fmt.Errorf("%w: exactly one of conversation_id or recipient_id is required", ErrValidation)
	}
	return nil
}

func (c *HTTP) authorize(req *http.Request) {
	if tok := c.sess.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *HTTP) do(ctx context.Context, route, method, path string, body io.Reader, contentType string, out any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "api."+route)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveAPIRequest(route, 0, time.Since(start))
		c.log.Error("api call failed", "route", route, "error", err)
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	observability.ObserveAPIRequest(route, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		return c.errorFrom(route, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrTransient, route, err)
	}
	return nil
}

func (c *HTTP) errorFrom(route string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	c.log.Warn("api call rejected", "route", route, "status", resp.StatusCode, "error", body.Error)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrValidation, body.Error)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
	default:
		return fmt.Errorf("%w: %s", ErrTransient, body.Error)
	}
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

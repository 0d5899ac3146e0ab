// Package backendtest is an in-memory stand-in for the external
// platform backend. It honors the REST and push contracts the client
// consumes, so package tests and local development run without the real
// service. It implements no real payments: checkout sessions stay
// pending until a test calls CompletePayment.
package backendtest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fanlink-client/internal/api"
	"fanlink-client/internal/models"
)

var planPrices = map[string]float64{
	"basic":   9.99,
	"premium": 19.99,
	"vip":     49.99,
}

// Server is the fake backend.
type Server struct {
	state  *state
	hub    *Hub
	engine *gin.Engine
}

// New wires the routes and returns a ready server.
func New() *Server {
	s := &Server{state: newState(), hub: NewHub()}

	r := gin.New()
	r.Use(gin.Recovery())

	auth := s.authMiddleware()

	r.POST("/auth/register", s.register)
	r.POST("/auth/login", s.login)
	r.GET("/auth/me", auth, s.me)

	r.GET("/conversations", auth, s.listConversations)
	r.GET("/conversations/:conversation_id/messages", auth, s.listMessages)
	r.POST("/messages/send", auth, s.sendMessage)
	r.POST("/messages/upload", auth, s.uploadMessage)
	r.POST("/messages/:message_id/pay", auth, s.payMessage)
	r.GET("/messages/:message_id/file", auth, s.fetchFile)

	r.GET("/payments/status/:session_id", auth, s.paymentStatus)
	r.POST("/payments/subscribe", auth, s.subscribe)
	r.POST("/payments/tip", auth, s.tip)

	r.GET("/creators", s.creators)
	r.GET("/creators/:creator_id", s.creator)
	r.GET("/content", auth, s.contentFeed)
	r.GET("/content/:content_id/file", auth, s.contentFile)

	r.GET("/ws/identities/:identity_id", s.handleWS)

	s.engine = r
	return s
}

// Handler exposes the server for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr; used by the devserver command.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

// AddAccount seeds an account and returns its bearer token.
func (s *Server) AddAccount(id models.Identity, email, password string) string {
	return s.state.addAccount(id, email, password)
}

// SeedCreator adds a profile to the creators directory.
func (s *Server) SeedCreator(c models.Creator) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.creators = append(s.state.creators, c)
}

// SeedContent adds an item to the content feed.
func (s *Server) SeedContent(c models.Content) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.content = append(s.state.content, c)
}

// SeedContentFile attaches raw bytes to a seeded content item.
func (s *Server) SeedContentFile(contentID string, data []byte, contentType string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.contentFiles[contentID] = storedFile{data: data, contentType: contentType}
}

// CompletePayment marks a checkout session paid and, for message
// checkouts, unlocks the message for the payer.
func (s *Server) CompletePayment(sessionID string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	p, ok := s.state.payments[sessionID]
	if !ok {
		return fmt.Errorf("unknown checkout session %s", sessionID)
	}
	p.status = "paid"
	if p.messageID != "" {
		s.state.markUnlocked(p.payerID, p.messageID)
	}
	return nil
}

// FailPayment marks a checkout session failed; nothing unlocks.
func (s *Server) FailPayment(sessionID string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	p, ok := s.state.payments[sessionID]
	if !ok {
		return fmt.Errorf("unknown checkout session %s", sessionID)
	}
	p.status = "failed"
	return nil
}

// Connected reports the live push connections for an identity.
func (s *Server) Connected(identityID string) int {
	return s.hub.Connected(identityID)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		acc, ok := s.state.byToken(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("userID", acc.identity.ID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
		Password    string `json:"password" binding:"required"`
		IsCreator   bool   `json:"is_creator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.state.mu.Lock()
	if _, exists := s.state.accountsByEm[req.Email]; exists {
		s.state.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": "user already exists"})
		return
	}
	s.state.mu.Unlock()

	identity := models.Identity{
		ID:          uuid.NewString(),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		IsCreator:   req.IsCreator,
	}
	token := s.state.addAccount(identity, req.Email, req.Password)
	c.JSON(http.StatusOK, api.AuthResult{Token: token, Identity: identity})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.state.mu.Lock()
	acc, ok := s.state.accountsByEm[req.Email]
	s.state.mu.Unlock()
	if !ok || acc.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, api.AuthResult{Token: acc.token, Identity: acc.identity})
}

func (s *Server) me(c *gin.Context) {
	userID := c.GetString("userID")
	s.state.mu.Lock()
	acc, ok := s.state.accountsByID[userID]
	s.state.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, acc.identity)
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.GetString("userID")
	s.state.mu.Lock()
	convs := s.state.listConversations(userID)
	s.state.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) listMessages(c *gin.Context) {
	userID := c.GetString("userID")
	convID := c.Param("conversation_id")

	s.state.mu.Lock()
	conv, ok := s.state.conversations[convID]
	if !ok {
		s.state.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.has(userID) {
		s.state.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	msgs := make([]models.Message, 0, len(conv.messages))
	for _, m := range conv.messages {
		msgs = append(msgs, s.state.redactFor(userID, m))
	}
	unlocked := s.state.unlockedIn(userID, conv)
	conv.unread[userID] = 0
	s.state.mu.Unlock()

	c.JSON(http.StatusOK, api.MessagePage{Messages: msgs, UnlockedIDs: unlocked})
}

func (s *Server) sendMessage(c *gin.Context) {
	userID := c.GetString("userID")
	var req struct {
		ConversationID string             `json:"conversation_id"`
		RecipientID    string             `json:"recipient_id"`
		Text           string             `json:"text" binding:"required"`
		Options        models.SendOptions `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateOptions(req.Options); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := buildMessage(userID, models.MessageText, req.Text, "", req.Options)
	result, status, err := s.deliver(userID, req.ConversationID, req.RecipientID, msg)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) uploadMessage(c *gin.Context) {
	userID := c.GetString("userID")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	opts, err := optionsFromForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateOptions(opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	contentType := c.PostForm("content_type")
	if contentType == "" {
		contentType = fileHeader.Header.Get("Content-Type")
	}

	msg := buildMessage(userID, typeFromMime(contentType), "", "", opts)
	msg.ContentRef = "/messages/" + msg.ID + "/file"

	s.state.mu.Lock()
	s.state.files[msg.ID] = storedFile{data: data, contentType: contentType}
	s.state.mu.Unlock()

	result, status, err := s.deliver(userID, c.PostForm("conversation_id"), c.PostForm("recipient_id"), msg)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, result)
}

// deliver routes a built message into its conversation (existing or
// implicitly created) and fans it out to both participants' push
// connections, each seeing its own redacted view.
func (s *Server) deliver(senderID, conversationID, recipientID string, msg models.Message) (api.SendResult, int, error) {
	s.state.mu.Lock()

	var conv *conversation
	created := false
	switch {
	case conversationID != "":
		conv = s.state.conversations[conversationID]
		if conv == nil {
			s.state.mu.Unlock()
			return api.SendResult{}, http.StatusNotFound, errConversationNotFound
		}
		if !conv.has(senderID) {
			s.state.mu.Unlock()
			return api.SendResult{}, http.StatusForbidden, errors.New("not a participant")
		}
	case recipientID != "":
		if _, ok := s.state.accountsByID[recipientID]; !ok {
			s.state.mu.Unlock()
			return api.SendResult{}, http.StatusNotFound, errors.New("recipient not found")
		}
		if recipientID == senderID {
			s.state.mu.Unlock()
			return api.SendResult{}, http.StatusBadRequest, errors.New("cannot message yourself")
		}
		conv, created = s.state.conversationBetween(senderID, recipientID)
	default:
		s.state.mu.Unlock()
		return api.SendResult{}, http.StatusBadRequest, errors.New("conversation_id or recipient_id is required")
	}

	msg.ConversationID = conv.id
	participants := s.state.appendMessage(conv, msg)
	views := map[string]models.Message{}
	for _, p := range participants {
		views[p] = s.state.redactFor(p, msg)
	}
	s.state.mu.Unlock()

	for p, view := range views {
		s.hub.Push(p, view)
	}
	return api.SendResult{Message: views[senderID], ConversationCreated: created}, 0, nil
}

func (s *Server) payMessage(c *gin.Context) {
	userID := c.GetString("userID")
	messageID := c.Param("message_id")

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	_, msg, err := s.state.findMessage(messageID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	switch {
	case msg.Expired(time.Now()):
		c.JSON(http.StatusForbidden, gin.H{"error": "message expired"})
		return
	case msg.SenderID == userID:
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot purchase own message"})
		return
	case !msg.IsPayPerView:
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is not pay-per-view"})
		return
	case s.state.isUnlocked(userID, messageID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message already unlocked"})
		return
	}

	p := &payment{
		sessionID: uuid.NewString(),
		payerID:   userID,
		messageID: messageID,
		amount:    *msg.Price,
		status:    "pending",
	}
	s.state.payments[p.sessionID] = p
	c.JSON(http.StatusOK, api.Checkout{URL: "https://pay.test/checkout/" + p.sessionID, SessionID: p.sessionID})
}

func (s *Server) paymentStatus(c *gin.Context) {
	userID := c.GetString("userID")
	sessionID := c.Param("session_id")

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	p, ok := s.state.payments[sessionID]
	if !ok || p.payerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, api.PaymentStatus{
		Status:    p.status,
		Amount:    p.amount,
		Currency:  "usd",
		MessageID: p.messageID,
	})
}

func (s *Server) fetchFile(c *gin.Context) {
	userID := c.GetString("userID")
	messageID := c.Param("message_id")

	s.state.mu.Lock()
	_, msg, err := s.state.findMessage(messageID)
	if err != nil {
		s.state.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	entitled := msg.SenderID == userID || !msg.IsPayPerView || s.state.isUnlocked(userID, messageID)
	file, hasFile := s.state.files[messageID]
	s.state.mu.Unlock()

	if msg.Expired(time.Now()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "content expired"})
		return
	}
	if !entitled {
		c.JSON(http.StatusForbidden, gin.H{"error": "payment required to access this content"})
		return
	}
	if !hasFile {
		c.JSON(http.StatusNotFound, gin.H{"error": "no file associated with this message"})
		return
	}
	c.Data(http.StatusOK, file.contentType, file.data)
}

func (s *Server) subscribe(c *gin.Context) {
	userID := c.GetString("userID")
	var req struct {
		CreatorID string `json:"creator_id" binding:"required"`
		PlanType  string `json:"plan_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, ok := planPrices[req.PlanType]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription plan"})
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	p := &payment{sessionID: uuid.NewString(), payerID: userID, amount: price, status: "pending"}
	s.state.payments[p.sessionID] = p
	c.JSON(http.StatusOK, api.Checkout{URL: "https://pay.test/checkout/" + p.sessionID, SessionID: p.sessionID})
}

func (s *Server) tip(c *gin.Context) {
	userID := c.GetString("userID")
	var req struct {
		CreatorID string  `json:"creator_id" binding:"required"`
		Amount    float64 `json:"amount" binding:"required"`
		Message   string  `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Amount < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minimum tip amount is 1.00"})
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	p := &payment{sessionID: uuid.NewString(), payerID: userID, amount: req.Amount, status: "pending"}
	s.state.payments[p.sessionID] = p
	c.JSON(http.StatusOK, api.Checkout{URL: "https://pay.test/checkout/" + p.sessionID, SessionID: p.sessionID})
}

func (s *Server) creators(c *gin.Context) {
	category := c.Query("category")
	search := strings.ToLower(c.Query("search"))

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]models.Creator, 0, len(s.state.creators))
	for _, cr := range s.state.creators {
		if category != "" && cr.Category != category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(cr.DisplayName), search) &&
			!strings.Contains(strings.ToLower(cr.Bio), search) {
			continue
		}
		out = append(out, cr)
	}
	c.JSON(http.StatusOK, gin.H{"creators": out})
}

func (s *Server) creator(c *gin.Context) {
	id := c.Param("creator_id")
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, cr := range s.state.creators {
		if cr.ID == id {
			c.JSON(http.StatusOK, cr)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "creator not found"})
}

func (s *Server) contentFeed(c *gin.Context) {
	creatorID := c.Query("creator_id")
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make([]models.Content, 0, len(s.state.content))
	for _, item := range s.state.content {
		if creatorID != "" && item.CreatorID != creatorID {
			continue
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"content": out})
}

func (s *Server) contentFile(c *gin.Context) {
	contentID := c.Param("content_id")

	s.state.mu.Lock()
	var item *models.Content
	for i := range s.state.content {
		if s.state.content[i].ID == contentID {
			item = &s.state.content[i]
			break
		}
	}
	file, hasFile := s.state.contentFiles[contentID]
	s.state.mu.Unlock()

	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "content not found"})
		return
	}
	if item.IsPremium || item.IsPPV {
		c.JSON(http.StatusForbidden, gin.H{"error": "payment required to access this content"})
		return
	}
	if !hasFile {
		c.JSON(http.StatusNotFound, gin.H{"error": "no file associated with this content"})
		return
	}
	c.Data(http.StatusOK, file.contentType, file.data)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(c *gin.Context) {
	token := bearerToken(c)
	acc, ok := s.state.byToken(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	identityID := c.Param("identity_id")
	if identityID != acc.identity.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.hub.Add(identityID, conn)

	// Keep connection alive and clean on close.
	go func() {
		defer func() {
			s.hub.Remove(identityID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func buildMessage(senderID string, typ models.MessageType, text, contentRef string, opts models.SendOptions) models.Message {
	msg := models.Message{
		ID:           uuid.NewString(),
		SenderID:     senderID,
		Type:         typ,
		Text:         text,
		ContentRef:   contentRef,
		CreatedAt:    time.Now().UTC(),
		IsPayPerView: opts.PayPerView,
		IsTip:        opts.Tip,
	}
	if opts.PayPerView {
		price := opts.Price
		msg.Price = &price
		if opts.PreviewText != "" {
			preview := opts.PreviewText
			msg.PreviewText = &preview
		}
	}
	if opts.Tip {
		amount := opts.TipAmount
		msg.TipAmount = &amount
	}
	if opts.ExpiresInSeconds > 0 {
		expires := msg.CreatedAt.Add(time.Duration(opts.ExpiresInSeconds) * time.Second)
		msg.ExpiresAt = &expires
	}
	return msg
}

func typeFromMime(contentType string) models.MessageType {
	switch {
	case strings.HasPrefix(contentType, "video/"):
		return models.MessageVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.MessageAudio
	default:
		return models.MessageImage
	}
}

func validateOptions(opts models.SendOptions) error {
	if opts.PayPerView && opts.Price <= 0 {
		return errors.New("pay-per-view messages require a price")
	}
	if !opts.PayPerView && opts.PreviewText != "" {
		return errors.New("preview text requires pay-per-view")
	}
	if opts.Tip && opts.TipAmount < 1 {
		return errors.New("minimum tip amount is 1.00")
	}
	if opts.ExpiresInSeconds < 0 {
		return errors.New("expiry must be positive")
	}
	return nil
}

func optionsFromForm(c *gin.Context) (models.SendOptions, error) {
	var opts models.SendOptions
	var err error
	if v := c.PostForm("is_pay_per_view"); v != "" {
		if opts.PayPerView, err = strconv.ParseBool(v); err != nil {
			return opts, errors.New("invalid is_pay_per_view")
		}
	}
	if v := c.PostForm("price"); v != "" {
		if opts.Price, err = strconv.ParseFloat(v, 64); err != nil {
			return opts, errors.New("invalid price")
		}
	}
	opts.PreviewText = c.PostForm("preview_text")
	if v := c.PostForm("is_tip"); v != "" {
		if opts.Tip, err = strconv.ParseBool(v); err != nil {
			return opts, errors.New("invalid is_tip")
		}
	}
	if v := c.PostForm("tip_amount"); v != "" {
		if opts.TipAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return opts, errors.New("invalid tip_amount")
		}
	}
	if v := c.PostForm("expires_in_seconds"); v != "" {
		if opts.ExpiresInSeconds, err = strconv.ParseInt(v, 10, 64); err != nil {
			return opts, errors.New("invalid expires_in_seconds")
		}
	}
	return opts, nil
}

// redactFor strips locked content from a pay-per-view message for
// viewers who have not paid. Preview text and price stay visible.
func (st *state) redactFor(viewerID string, m models.Message) models.Message {
	if !m.IsPayPerView || m.SenderID == viewerID {
		return m
	}
	if st.isUnlocked(viewerID, m.ID) {
		return m
	}
	m.Text = ""
	m.ContentRef = ""
	return m
}

package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"fanlink-client/internal/api"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
)

type APIClientMock struct {
	mock.Mock
}

func (m *APIClientMock) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *APIClientMock) ListMessages(ctx context.Context, conversationID string) (api.MessagePage, error) {
	args := m.Called(ctx, conversationID)
	var page api.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(api.MessagePage)
	}
	return page, args.Error(1)
}

func (m *APIClientMock) SendText(ctx context.Context, target api.Target, text string, opts models.SendOptions) (api.SendResult, error) {
	args := m.Called(ctx, target, text, opts)
	var res api.SendResult
	if val := args.Get(0); val != nil {
		res = val.(api.SendResult)
	}
	return res, args.Error(1)
}

func (m *APIClientMock) SendAttachment(ctx context.Context, target api.Target, filename, contentType string, data io.Reader, opts models.SendOptions) (api.SendResult, error) {
	args := m.Called(ctx, target, filename, contentType, data, opts)
	var res api.SendResult
	if val := args.Get(0); val != nil {
		res = val.(api.SendResult)
	}
	return res, args.Error(1)
}

func (m *APIClientMock) PayMessage(ctx context.Context, messageID string) (api.Checkout, error) {
	args := m.Called(ctx, messageID)
	var checkout api.Checkout
	if val := args.Get(0); val != nil {
		checkout = val.(api.Checkout)
	}
	return checkout, args.Error(1)
}

func (m *APIClientMock) FetchFile(ctx context.Context, messageID string) ([]byte, string, error) {
	args := m.Called(ctx, messageID)
	var data []byte
	if val := args.Get(0); val != nil {
		data = val.([]byte)
	}
	return data, args.String(1), args.Error(2)
}

func (m *APIClientMock) Register(ctx context.Context, req api.RegisterRequest) (api.AuthResult, error) {
	args := m.Called(ctx, req)
	var res api.AuthResult
	if val := args.Get(0); val != nil {
		res = val.(api.AuthResult)
	}
	return res, args.Error(1)
}

func (m *APIClientMock) Login(ctx context.Context, email, password string) (api.AuthResult, error) {
	args := m.Called(ctx, email, password)
	var res api.AuthResult
	if val := args.Get(0); val != nil {
		res = val.(api.AuthResult)
	}
	return res, args.Error(1)
}

func (m *APIClientMock) Me(ctx context.Context) (models.Identity, error) {
	args := m.Called(ctx)
	var id models.Identity
	if val := args.Get(0); val != nil {
		id = val.(models.Identity)
	}
	return id, args.Error(1)
}

func (m *APIClientMock) ListCreators(ctx context.Context, filter api.CreatorFilter) ([]models.Creator, error) {
	args := m.Called(ctx, filter)
	var creators []models.Creator
	if val := args.Get(0); val != nil {
		creators = val.([]models.Creator)
	}
	return creators, args.Error(1)
}

func (m *APIClientMock) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	args := m.Called(ctx, creatorID)
	var creator models.Creator
	if val := args.Get(0); val != nil {
		creator = val.(models.Creator)
	}
	return creator, args.Error(1)
}

func (m *APIClientMock) ListContent(ctx context.Context, creatorID string) ([]models.Content, error) {
	args := m.Called(ctx, creatorID)
	var content []models.Content
	if val := args.Get(0); val != nil {
		content = val.([]models.Content)
	}
	return content, args.Error(1)
}

func (m *APIClientMock) FetchContentFile(ctx context.Context, contentID string) ([]byte, string, error) {
	args := m.Called(ctx, contentID)
	var data []byte
	if val := args.Get(0); val != nil {
		data = val.([]byte)
	}
	return data, args.String(1), args.Error(2)
}

func (m *APIClientMock) SubscribeCheckout(ctx context.Context, creatorID, plan string) (api.Checkout, error) {
	args := m.Called(ctx, creatorID, plan)
	var checkout api.Checkout
	if val := args.Get(0); val != nil {
		checkout = val.(api.Checkout)
	}
	return checkout, args.Error(1)
}

func (m *APIClientMock) TipCheckout(ctx context.Context, creatorID string, amount float64, note string) (api.Checkout, error) {
	args := m.Called(ctx, creatorID, amount, note)
	var checkout api.Checkout
	if val := args.Get(0); val != nil {
		checkout = val.(api.Checkout)
	}
	return checkout, args.Error(1)
}

func (m *APIClientMock) PaymentStatus(ctx context.Context, sessionID string) (api.PaymentStatus, error) {
	args := m.Called(ctx, sessionID)
	var status api.PaymentStatus
	if val := args.Get(0); val != nil {
		status = val.(api.PaymentStatus)
	}
	return status, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(level, text string) {
	m.Called(level, text)
}

var _ api.Client = (*APIClientMock)(nil)
var _ session.Notifier = (*NotifierMock)(nil)

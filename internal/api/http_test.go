package api_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanlink-client/internal/api"
	"fanlink-client/internal/backendtest"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	backend *backendtest.Server
	baseURL string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := backendtest.New()
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return &fixture{backend: backend, baseURL: srv.URL}
}

func (f *fixture) client(t *testing.T) (*api.HTTP, *session.Session) {
	t.Helper()
	log := slogt.New(t)
	sess := session.New(nil, log)
	return api.NewHTTP(f.baseURL, sess, log), sess
}

func (f *fixture) loggedIn(t *testing.T, id models.Identity, email string) (*api.HTTP, *session.Session) {
	t.Helper()
	token := f.backend.AddAccount(id, email, "password123")
	client, sess := f.client(t)
	sess.SetIdentity(id, token)
	return client, sess
}

func TestRegisterLoginMe(t *testing.T) {
	f := newFixture(t)
	client, sess := f.client(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, api.RegisterRequest{
		Email:       "luna@example.com",
		Username:    "luna",
		DisplayName: "Luna",
		Password:    "password123",
		IsCreator:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)
	assert.True(t, reg.Identity.IsCreator)

	login, err := client.Login(ctx, "luna@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.ID, login.Identity.ID)

	sess.SetIdentity(login.Identity, login.Token)
	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "luna", me.Username)
}

func TestSendTextCreatesConversationImplicitly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := models.Identity{ID: "creator-1", Username: "luna", DisplayName: "Luna", IsCreator: true}
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	creatorClient, _ := f.loggedIn(t, creator, "luna@example.com")
	fanClient, _ := f.loggedIn(t, fan, "sam@example.com")

	res, err := fanClient.SendText(ctx, api.Target{RecipientID: creator.ID}, "hi there", models.SendOptions{})
	require.NoError(t, err)
	assert.True(t, res.ConversationCreated)
	require.NotEmpty(t, res.Message.ConversationID)

	// A second send into the existing conversation creates nothing.
	res2, err := fanClient.SendText(ctx, api.Target{ConversationID: res.Message.ConversationID}, "again", models.SendOptions{})
	require.NoError(t, err)
	assert.False(t, res2.ConversationCreated)

	convs, err := creatorClient.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, fan.ID, convs[0].OtherParty.ID)
	assert.Equal(t, 2, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "again", convs[0].LastMessage.Excerpt)
}

func TestPayPerViewRedactionAndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := models.Identity{ID: "creator-1", Username: "luna", DisplayName: "Luna", IsCreator: true}
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	creatorClient, _ := f.loggedIn(t, creator, "luna@example.com")
	fanClient, _ := f.loggedIn(t, fan, "sam@example.com")

	opening, err := fanClient.SendText(ctx, api.Target{RecipientID: creator.ID}, "hello", models.SendOptions{})
	require.NoError(t, err)
	convID := opening.Message.ConversationID

	ppv, err := creatorClient.SendText(ctx, api.Target{ConversationID: convID}, "the secret", models.SendOptions{
		PayPerView:  true,
		Price:       5,
		PreviewText: "a sneak peek",
	})
	require.NoError(t, err)
	assert.Equal(t, "the secret", ppv.Message.Text, "the sender sees own content unredacted")

	page, err := fanClient.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	locked := page.Messages[1]
	assert.Empty(t, locked.Text, "unpaid pay-per-view text must not reach the viewer")
	require.NotNil(t, locked.PreviewText)
	assert.Equal(t, "a sneak peek", *locked.PreviewText)
	assert.Empty(t, page.UnlockedIDs)

	checkout, err := fanClient.PayMessage(ctx, ppv.Message.ID)
	require.NoError(t, err)
	require.NotEmpty(t, checkout.SessionID)

	status, err := fanClient.PaymentStatus(ctx, checkout.SessionID)
	require.NoError(t, err)
	assert.False(t, status.Paid())

	require.NoError(t, f.backend.CompletePayment(checkout.SessionID))

	status, err = fanClient.PaymentStatus(ctx, checkout.SessionID)
	require.NoError(t, err)
	assert.True(t, status.Paid())
	assert.Equal(t, ppv.Message.ID, status.MessageID)

	page, err = fanClient.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Contains(t, page.UnlockedIDs, ppv.Message.ID)
	assert.Equal(t, "the secret", page.Messages[1].Text)
}

func TestListMessagesResetsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := models.Identity{ID: "creator-1", Username: "luna", DisplayName: "Luna"}
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	creatorClient, _ := f.loggedIn(t, creator, "luna@example.com")
	fanClient, _ := f.loggedIn(t, fan, "sam@example.com")

	res, err := creatorClient.SendText(ctx, api.Target{RecipientID: fan.ID}, "new drop", models.SendOptions{})
	require.NoError(t, err)

	convs, err := fanClient.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	_, err = fanClient.ListMessages(ctx, res.Message.ConversationID)
	require.NoError(t, err)

	convs, err = fanClient.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)
}

func TestAttachmentUploadAndEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := models.Identity{ID: "creator-1", Username: "luna", DisplayName: "Luna"}
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	creatorClient, _ := f.loggedIn(t, creator, "luna@example.com")
	fanClient, _ := f.loggedIn(t, fan, "sam@example.com")

	payload := []byte("fake image bytes")
	res, err := creatorClient.SendAttachment(ctx,
		api.Target{RecipientID: fan.ID}, "drop.jpg", "image/jpeg",
		bytes.NewReader(payload), models.SendOptions{PayPerView: true, Price: 3})
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, res.Message.Type)

	// The sender may always fetch own uploads.
	data, contentType, err := creatorClient.FetchFile(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/jpeg", contentType)

	_, _, err = fanClient.FetchFile(ctx, res.Message.ID)
	require.ErrorIs(t, err, api.ErrUnauthorized)

	checkout, err := fanClient.PayMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	require.NoError(t, f.backend.CompletePayment(checkout.SessionID))

	data, _, err = fanClient.FetchFile(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestValidationRunsBeforeNetwork(t *testing.T) {
	// Nothing listens here; a request that leaves the client would fail
	// as transient, not as validation.
	log := slogt.New(t)
	sess := session.New(nil, log)
	sess.SetIdentity(models.Identity{ID: "fan"}, "tok")
	client := api.NewHTTP("http://127.0.0.1:1", sess, log)
	ctx := context.Background()

	_, err := client.SendText(ctx, api.Target{}, "hi", models.SendOptions{})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = client.SendText(ctx, api.Target{ConversationID: "c1", RecipientID: "u1"}, "hi", models.SendOptions{})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = client.SendText(ctx, api.Target{ConversationID: "c1"}, "", models.SendOptions{})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = client.SendText(ctx, api.Target{ConversationID: "c1"}, "hi", models.SendOptions{PayPerView: true})
	assert.ErrorIs(t, err, api.ErrValidation, "pay-per-view without a price")

	_, err = client.SendAttachment(ctx, api.Target{ConversationID: "c1"}, "", "image/jpeg", nil, models.SendOptions{})
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = client.TipCheckout(ctx, "creator-1", 0.5, "")
	assert.ErrorIs(t, err, api.ErrValidation)

	_, err = client.Register(ctx, api.RegisterRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client, sess := f.client(t)
	_, err := client.ListConversations(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized, "anonymous access")

	_, err = client.Login(ctx, "ghost@example.com", "wrong")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	token := f.backend.AddAccount(fan, "sam@example.com", "password123")
	sess.SetIdentity(fan, token)

	_, err = client.GetCreator(ctx, "no-such-creator")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = client.ListMessages(ctx, "no-such-conversation")
	assert.ErrorIs(t, err, api.ErrNotFound)

	unreachable := api.NewHTTP("http://127.0.0.1:1", sess, slogt.New(t))
	_, err = unreachable.ListConversations(ctx)
	assert.ErrorIs(t, err, api.ErrTransient)
}

func TestCreatorsDirectoryAndContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	client, _ := f.loggedIn(t, fan, "sam@example.com")

	f.backend.SeedCreator(models.Creator{ID: "cr-1", DisplayName: "Luna", Category: "art", Bio: "daily sketches"})
	f.backend.SeedCreator(models.Creator{ID: "cr-2", DisplayName: "Max", Category: "music"})
	f.backend.SeedContent(models.Content{ID: "ct-1", CreatorID: "cr-1", Title: "Sketchbook tour", Type: "video"})

	all, err := client.ListCreators(ctx, api.CreatorFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	art, err := client.ListCreators(ctx, api.CreatorFilter{Category: "art"})
	require.NoError(t, err)
	require.Len(t, art, 1)
	assert.Equal(t, "cr-1", art[0].ID)

	found, err := client.ListCreators(ctx, api.CreatorFilter{Search: "sketches"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "cr-1", found[0].ID)

	one, err := client.GetCreator(ctx, "cr-2")
	require.NoError(t, err)
	assert.Equal(t, "Max", one.DisplayName)

	content, err := client.ListContent(ctx, "cr-1")
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.Equal(t, "Sketchbook tour", content[0].Title)

	checkout, err := client.SubscribeCheckout(ctx, "cr-1", "premium")
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.URL)

	checkout, err = client.TipCheckout(ctx, "cr-1", 2.5, "love the work")
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.SessionID)
}

func TestContentFileFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fan := models.Identity{ID: "fan-1", Username: "sam", DisplayName: "Sam"}
	client, _ := f.loggedIn(t, fan, "sam@example.com")

	f.backend.SeedContent(models.Content{ID: "ct-free", CreatorID: "cr-1", Title: "Open sketch", Type: "image"})
	f.backend.SeedContent(models.Content{ID: "ct-premium", CreatorID: "cr-1", Title: "Subscriber cut", Type: "video", IsPremium: true})
	payload := []byte("raw image")
	f.backend.SeedContentFile("ct-free", payload, "image/png")

	data, contentType, err := client.FetchContentFile(ctx, "ct-free")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/png", contentType)

	_, _, err = client.FetchContentFile(ctx, "ct-premium")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	_, _, err = client.FetchContentFile(ctx, "ct-missing")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fanlink-client/internal/api"
	"fanlink-client/internal/gate"
	"fanlink-client/internal/mocks"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
)

func newTestStore(t *testing.T, apiMock *mocks.APIClientMock, notifier session.Notifier) (*Store, *gate.Gate, *session.Session) {
	t.Helper()
	log := slogt.New(t)
	sess := session.New(notifier, log)
	sess.SetIdentity(models.Identity{ID: "fan"}, "tok")
	g := gate.New(apiMock, sess, log)
	return New(apiMock, g, sess, log), g, sess
}

func TestLoadConversationsReplacesListWholesale(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	first := []models.Conversation{
		{ID: "c1", UnreadCount: 2},
		{ID: "c2"},
	}
	second := []models.Conversation{
		{ID: "c3"},
	}
	apiMock.On("ListConversations", mock.Anything).Return(first, nil).Once()
	apiMock.On("ListConversations", mock.Anything).Return(second, nil).Once()

	got, err := s.LoadConversations(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("first load mismatch (-want +got):\n%s", diff)
	}

	got, err = s.LoadConversations(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("second load did not replace wholesale (-want +got):\n%s", diff)
	}
	apiMock.AssertExpectations(t)
}

func TestLoadConversationsRequiresLogin(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, sess := newTestStore(t, apiMock, nil)
	sess.Clear()

	_, err := s.LoadConversations(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	apiMock.AssertNotCalled(t, "ListConversations", mock.Anything)
}

func TestLoadConversationsFailureNotifiesAndKeepsList(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	notifier := new(mocks.NotifierMock)
	notifier.On("Notify", session.LevelError, "failed to load conversations").Once()
	s, _, _ := newTestStore(t, apiMock, notifier)
	ctx := context.Background()

	seeded := []models.Conversation{{ID: "c1"}}
	apiMock.On("ListConversations", mock.Anything).Return(seeded, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	apiMock.On("ListConversations", mock.Anything).Return(nil, api.ErrTransient).Once()
	_, err = s.LoadConversations(ctx)
	require.ErrorIs(t, err, api.ErrTransient)

	assert.Equal(t, seeded, s.Conversations())
	notifier.AssertExpectations(t)
}

func TestOpenConversationResetsUnreadOptimistically(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, g, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("ListConversations", mock.Anything).
		Return([]models.Conversation{{ID: "c1", UnreadCount: 3}}, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	history := []models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "creator", Text: "hi"},
	}
	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{Messages: history, UnlockedIDs: []string{"p1"}}, nil).Once()

	msgs, err := s.OpenConversation(ctx, "c1")
	require.NoError(t, err)
	if diff := cmp.Diff(history, msgs); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.True(t, g.Purchased("p1"), "server-confirmed unlocks must be ingested")
	assert.Equal(t, "c1", s.ActiveID())
}

// A list refetch issued before the user opened a conversation completes
// afterwards still carrying the old unread count. Its result must be
// discarded, not applied.
func TestStaleListFetchCannotResurrectUnread(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	withUnread := []models.Conversation{{ID: "c1", UnreadCount: 4}}

	apiMock.On("ListConversations", mock.Anything).Return(withUnread, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	apiMock.On("ListConversations", mock.Anything).Return(withUnread, nil).Once().
		Run(func(mock.Arguments) {
			close(started)
			<-release
		})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.LoadConversations(ctx)
	}()
	<-started

	apiMock.On("ListMessages", mock.Anything, "c1").Return(api.MessagePage{}, nil).Once()
	_, err = s.OpenConversation(ctx, "c1")
	require.NoError(t, err)

	close(release)
	<-done

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount, "stale fetch must not undo the unread reset")
}

// Switching conversations while the previous history fetch is still in
// flight: the late result belongs to a conversation that is no longer
// active and must not be rendered.
func TestConversationSwitchDiscardsStaleHistory(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{Messages: []models.Message{{ID: "m1", ConversationID: "c1"}}}, nil).Once().
		Run(func(mock.Arguments) {
			close(started)
			<-release
		})
	historyC2 := []models.Message{{ID: "m2", ConversationID: "c2"}}
	apiMock.On("ListMessages", mock.Anything, "c2").
		Return(api.MessagePage{Messages: historyC2}, nil).Once()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.OpenConversation(ctx, "c1")
		errCh <- err
	}()
	<-started

	msgs, err := s.OpenConversation(ctx, "c2")
	require.NoError(t, err)
	if diff := cmp.Diff(historyC2, msgs); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	close(release)
	require.ErrorIs(t, <-errCh, ErrSuperseded)

	assert.Equal(t, "c2", s.ActiveID())
	if diff := cmp.Diff(historyC2, s.ActiveMessages()); diff != "" {
		t.Fatalf("stale history leaked into the active view (-want +got):\n%s", diff)
	}
}

// An arrival for the newly active conversation that lands while its
// history fetch is still in flight must survive the fetch completion:
// the fetched page and the live arrival are merged, deduplicated by id.
func TestArrivalDuringHistoryFetchIsNotLost(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	fetched := []models.Message{
		{ID: "m1", ConversationID: "c1", Text: "old"},
		{ID: "m2", ConversationID: "c1", Text: "also old"},
	}
	started := make(chan struct{})
	release := make(chan struct{})
	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{Messages: fetched}, nil).Once().
		Run(func(mock.Arguments) {
			close(started)
			<-release
		})

	msgsCh := make(chan []models.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		msgs, err := s.OpenConversation(ctx, "c1")
		msgsCh <- msgs
		errCh <- err
	}()
	<-started

	// One arrival the fetch already contains, one it does not.
	require.NoError(t, s.ApplyArrival(ctx, models.Message{ID: "m2", ConversationID: "c1", Text: "also old"}))
	require.NoError(t, s.ApplyArrival(ctx, models.Message{ID: "m3", ConversationID: "c1", Text: "live"}))

	close(release)
	msgs := <-msgsCh
	require.NoError(t, <-errCh)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids, "history first, live arrivals kept, no duplicates")
	if diff := cmp.Diff(msgs, s.ActiveMessages()); diff != "" {
		t.Fatalf("returned history diverged from the active view (-want +got):\n%s", diff)
	}
}

func TestApplyArrivalAppendsToActiveConversation(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("ListConversations", mock.Anything).
		Return([]models.Conversation{{ID: "c1"}}, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{Messages: []models.Message{{ID: "m1", ConversationID: "c1"}}}, nil).Once()
	_, err = s.OpenConversation(ctx, "c1")
	require.NoError(t, err)

	arrival := models.Message{ID: "m2", ConversationID: "c1", SenderID: "creator", Text: "new"}
	require.NoError(t, s.ApplyArrival(ctx, arrival))

	msgs := s.ActiveMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)

	// Duplicate delivery after a reconnect is a no-op.
	require.NoError(t, s.ApplyArrival(ctx, arrival))
	assert.Len(t, s.ActiveMessages(), 2)

	// The open conversation never counts its own arrivals as unread.
	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "new", convs[0].LastMessage.Excerpt)
}

func TestApplyArrivalBumpsUnreadForBackgroundConversation(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("ListConversations", mock.Anything).
		Return([]models.Conversation{{ID: "c1", UnreadCount: 1}, {ID: "c2"}}, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	arrival := models.Message{ID: "m9", ConversationID: "c1", SenderID: "creator", Text: "psst"}
	require.NoError(t, s.ApplyArrival(ctx, arrival))
	require.NoError(t, s.ApplyArrival(ctx, models.Message{ID: "m10", ConversationID: "c1", Text: "again"}))

	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, 3, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "again", convs[0].LastMessage.Excerpt)
	assert.Equal(t, 0, convs[1].UnreadCount)
}

func TestApplyArrivalUnknownConversationRefetches(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	refreshed := []models.Conversation{{ID: "c-new", UnreadCount: 1}}
	apiMock.On("ListConversations", mock.Anything).Return(refreshed, nil).Once()

	arrival := models.Message{ID: "m1", ConversationID: "c-new", SenderID: "stranger", Text: "hello"}
	require.NoError(t, s.ApplyArrival(ctx, arrival))

	assert.Equal(t, refreshed, s.Conversations())
	apiMock.AssertExpectations(t)
}

func TestSendHasNoLocalEcho(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{}, nil).Once()
	_, err := s.OpenConversation(ctx, "c1")
	require.NoError(t, err)

	sent := models.Message{ID: "m1", ConversationID: "c1", SenderID: "fan", Text: "hi"}
	apiMock.On("SendText", mock.Anything, api.Target{ConversationID: "c1"}, "hi", models.SendOptions{}).
		Return(api.SendResult{Message: sent}, nil).Once()

	res, err := s.SendText(ctx, "c1", "hi", models.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Message.ID)

	// The message appears via the arrival event, never synthesized here.
	assert.Empty(t, s.ActiveMessages())
}

func TestSendToNewRecipientRefetchesList(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("SendText", mock.Anything, api.Target{RecipientID: "creator"}, "hi", models.SendOptions{}).
		Return(api.SendResult{
			Message:             models.Message{ID: "m1", ConversationID: "c-new"},
			ConversationCreated: true,
		}, nil).Once()
	created := []models.Conversation{{ID: "c-new"}}
	apiMock.On("ListConversations", mock.Anything).Return(created, nil).Once()

	_, err := s.SendTextTo(ctx, "creator", "hi", models.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, created, s.Conversations())
	apiMock.AssertExpectations(t)
}

func TestSendRequiresLogin(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	notifier := new(mocks.NotifierMock)
	notifier.On("Notify", session.LevelError, "login required to send messages").Once()
	s, _, sess := newTestStore(t, apiMock, notifier)
	sess.Clear()

	_, err := s.SendText(context.Background(), "c1", "hi", models.SendOptions{})
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	apiMock.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
}

func TestSendSurfacesValidationErrorsVerbatim(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	sendErr := fmt.Errorf("%w: pay-per-view messages require a price", api.ErrValidation)
	notifier := new(mocks.NotifierMock)
	notifier.On("Notify", session.LevelError, sendErr.Error()).Once()
	s, _, _ := newTestStore(t, apiMock, notifier)

	apiMock.On("SendText", mock.Anything, api.Target{ConversationID: "c1"}, "hi", mock.Anything).
		Return(api.SendResult{}, sendErr).Once()

	_, err := s.SendText(context.Background(), "c1", "hi", models.SendOptions{PayPerView: true})
	require.ErrorIs(t, err, api.ErrValidation)
	notifier.AssertExpectations(t)
}

func TestSendTransientErrorNotifiesGenerically(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	notifier := new(mocks.NotifierMock)
	notifier.On("Notify", session.LevelError, "failed to send message").Once()
	s, _, _ := newTestStore(t, apiMock, notifier)

	apiMock.On("SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(api.SendResult{}, api.ErrTransient).Once()

	_, err := s.SendText(context.Background(), "c1", "hi", models.SendOptions{})
	require.ErrorIs(t, err, api.ErrTransient)
	notifier.AssertExpectations(t)
}

func TestCloseConversationStopsActiveAppends(t *testing.T) {
	apiMock := new(mocks.APIClientMock)
	s, _, _ := newTestStore(t, apiMock, nil)
	ctx := context.Background()

	apiMock.On("ListConversations", mock.Anything).
		Return([]models.Conversation{{ID: "c1"}}, nil).Once()
	_, err := s.LoadConversations(ctx)
	require.NoError(t, err)

	apiMock.On("ListMessages", mock.Anything, "c1").
		Return(api.MessagePage{}, nil).Once()
	_, err = s.OpenConversation(ctx, "c1")
	require.NoError(t, err)

	s.CloseConversation()
	assert.Empty(t, s.ActiveID())

	require.NoError(t, s.ApplyArrival(ctx, models.Message{ID: "m1", ConversationID: "c1", Text: "hi"}))
	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount, "arrivals count as unread once the conversation is closed")
}

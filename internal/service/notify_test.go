package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/model"
)

func TestNotifySuppressesSelf(t *testing.T) {
	h := newHarness()

	row := h.notifier.Notify(context.Background(), Trigger{
		Recipient:  model.User(4),
		Actor:      model.User(4),
		Action:     model.ActionReactionAdded,
		TargetType: model.TargetMessage,
		TargetID:   1,
	})

	assert.Nil(t, row)
	assert.Zero(t, h.notifications.createCall)
	assert.Empty(t, h.bus.users)
}

func TestFanOutBatchesAndExcludesActor(t *testing.T) {
	h := newHarness()
	h.bus.online["user_1"] = true
	recipients := []model.ParticipantRef{
		model.User(1), model.User(2), model.User(3), model.User(2), model.User(4), model.User(5), {},
	}

	n, err := h.notifier.FanOut(context.Background(), Trigger{
		Actor:      model.User(3),
		Action:     model.ActionAlertPosted,
		TargetType: model.TargetAlert,
		TargetID:   77,
		Metadata:   map[string]any{"title": "Lost dog"},
	}, recipients)
	require.NoError(t, err)
	h.notifier.Wait()

	assert.Equal(t, 4, n)
	assert.Equal(t, 2, h.notifications.batchCalls, "4 recipients in batches of 2")
	assert.Empty(t, h.notifications.forRecipient(model.User(3)))
	for _, id := range []int64{1, 2, 4, 5} {
		rows := h.notifications.forRecipient(model.User(id))
		require.Len(t, rows, 1, "user %d", id)
		assert.Equal(t, "Lost dog", rows[0].Metadata["title"])
		assert.Equal(t, int64(77), rows[0].TargetID)
	}
	assert.ElementsMatch(t, []string{"user_2", "user_4", "user_5"}, h.push.owners)

	assert.Equal(t, 2, h.notifications.countCalls, "one badge query per batch")
	updates := h.bus.userEvents("user_1", event.NotificationCountUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, event.CountUpdatePayload{Unread: 1}, updates[0].ev.Payload)
}

func TestFanOutWithNoRecipients(t *testing.T) {
	h := newHarness()

	n, err := h.notifier.FanOut(context.Background(), Trigger{Actor: model.User(3), Action: model.ActionAlertPosted}, []model.ParticipantRef{model.User(3)})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.notifications.batchCalls)
}

func TestFanOutKeepsGoingAfterFailedBatch(t *testing.T) {
	h := newHarness()
	h.notifications.failBatch = 1
	notifier := NewNotifier(h.notifications, h.profiles, h.bus, nil, NotifierConfig{BatchSize: 1, Concurrency: 1})
	recipients := []model.ParticipantRef{model.User(1), model.User(2), model.User(4), model.User(5)}

	n, err := notifier.FanOut(context.Background(), Trigger{
		Actor:      model.User(3),
		Action:     model.ActionAlertPosted,
		TargetType: model.TargetAlert,
		TargetID:   9,
	}, recipients)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, n, "only the failed batch is lost")
	assert.Equal(t, 4, h.notifications.batchCalls)

	assert.Empty(t, h.notifications.forRecipient(model.User(1)))
	for _, id := range []int64{2, 4, 5} {
		assert.Len(t, h.notifications.forRecipient(model.User(id)), 1, "user %d", id)
	}
}

func TestNotificationReadFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NotNil(t, h.notifier.Notify(ctx, Trigger{
			Recipient:  model.User(9),
			Actor:      model.User(4),
			Action:     model.ActionMessageSent,
			TargetType: model.TargetMessage,
			TargetID:   i,
		}))
	}
	h.notifier.Wait()

	list, err := h.notifier.List(ctx, model.User(9), 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(3), list[0].TargetID, "newest first")

	unread, err := h.notifier.UnreadCount(ctx, model.User(9))
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	require.NoError(t, h.notifier.MarkRead(ctx, model.User(9), list[0].ID))
	assert.ErrorIs(t, h.notifier.MarkRead(ctx, model.User(4), list[1].ID), ErrNotFound, "someone else's notification")

	changed, err := h.notifier.MarkAllRead(ctx, model.User(9))
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	changed, err = h.notifier.MarkAllRead(ctx, model.User(9))
	require.NoError(t, err)
	assert.Zero(t, changed)

	updates := h.bus.userEvents("user_9", event.NotificationCountUpdate)
	require.NotEmpty(t, updates)
	assert.Equal(t, event.CountUpdatePayload{Unread: 0}, updates[len(updates)-1].ev.Payload)
}

func TestWebPushBody(t *testing.T) {
	assert.Equal(t, "hey", webPushBody(&model.Notification{Metadata: map[string]any{"snippet": "hey"}}))
	assert.Equal(t, "Новая реакция", webPushBody(&model.Notification{ActionType: model.ActionReactionAdded}))
	assert.Equal(t, "Оповещение рядом с вами", webPushBody(&model.Notification{ActionType: model.ActionAlertPosted}))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short"))
	long := snippet(strings.Repeat("я", 200))
	assert.Equal(t, 80, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "..."))
}

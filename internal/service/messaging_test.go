package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestSendBroadcastsAndNotifiesRecipient(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.Business(7), Text: "hello"})
	require.NoError(t, err)
	h.notifier.Wait()

	assert.Equal(t, "chat_business_7_user_4", m.RoomKey)
	assert.NotZero(t, m.ID)

	sent := h.bus.roomEvents(event.ReceiveMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, m.RoomKey, sent[0].target)

	rows := h.notifications.forRecipient(model.Business(7))
	require.Len(t, rows, 1)
	assert.Equal(t, model.ActionMessageSent, rows[0].ActionType)
	assert.Equal(t, "Anna", rows[0].Metadata["actor_name"])
	assert.Equal(t, m.RoomKey, rows[0].Metadata["room_key"])

	assert.Len(t, h.bus.userEvents("business_7", event.NotificationCountUpdate), 1)
	assert.Len(t, h.bus.userEvents("business_7", event.Notification), 1)
	assert.Equal(t, []string{"business_7"}, h.push.owners, "offline recipient falls back to web push")
}

func TestSendToOnlineRecipientSkipsWebPush(t *testing.T) {
	h := newHarness()
	h.bus.online["user_9"] = true

	_, err := h.svc.Send(context.Background(), SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "hi"})
	require.NoError(t, err)
	h.notifier.Wait()

	require.Len(t, h.bus.userEvents("user_9", event.Notification), 1)
	assert.Empty(t, h.push.owners)
}

func TestSendValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	tooMany := make([]model.MediaRef, 11)
	for i := range tooMany {
		tooMany[i] = model.MediaRef{URL: "/api/media/x.jpg", Type: model.MediaImage}
	}

	cases := map[string]SendInput{
		"self":            {Sender: model.User(4), Recipient: model.User(4), Text: "me"},
		"empty":           {Sender: model.User(4), Recipient: model.User(9), Text: ""},
		"bad participant": {Sender: model.User(0), Recipient: model.User(9), Text: "x"},
		"too long":        {Sender: model.User(4), Recipient: model.User(9), Text: strings.Repeat("a", 4001)},
		"too many media":  {Sender: model.User(4), Recipient: model.User(9), Media: tooMany},
		"bad media type":  {Sender: model.User(4), Recipient: model.User(9), Media: []model.MediaRef{{URL: "/a", Type: "gif"}}},
		"foreign product": {Sender: model.User(4), Recipient: model.Business(7), Text: "x", ProductID: ptr(23)},
		"unknown product": {Sender: model.User(4), Recipient: model.Business(7), Text: "x", ProductID: ptr(99)},
		"product no biz":  {Sender: model.User(4), Recipient: model.User(9), Text: "x", ProductID: ptr(22)},
		"missing reply":   {Sender: model.User(4), Recipient: model.User(9), Text: "x", ReplyToID: ptr(404)},
	}
	for name, in := range cases {
		_, err := h.svc.Send(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidArgument, name)
	}
	assert.Empty(t, h.bus.roomEvents(event.ReceiveMessage))
}

func TestSendMediaOnlyGetsIDs(t *testing.T) {
	h := newHarness()

	m, err := h.svc.Send(context.Background(), SendInput{
		Sender:    model.User(4),
		Recipient: model.User(9),
		Media:     []model.MediaRef{{URL: "/api/media/a.jpg", Type: model.MediaImage}, {URL: "/api/media/b.mp4", Type: model.MediaVideo}},
	})
	require.NoError(t, err)
	require.Len(t, m.Media, 2)
	for _, md := range m.Media {
		assert.NotZero(t, md.ID)
	}
	h.notifier.Wait()
	assert.Equal(t, "Фото", h.notifications.forRecipient(model.User(9))[0].Metadata["snippet"])
}

func TestSendProductConversation(t *testing.T) {
	h := newHarness()

	m, err := h.svc.Send(context.Background(), SendInput{Sender: model.Business(7), Recipient: model.User(4), Text: "still available", ProductID: ptr(22)})
	require.NoError(t, err)
	h.notifier.Wait()

	assert.Equal(t, "chat_business_7_user_4_product_22", m.RoomKey)
	row := h.notifications.forRecipient(model.User(4))[0]
	require.NotNil(t, row.ParentType)
	assert.Equal(t, model.ParentProduct, *row.ParentType)
	assert.Equal(t, int64(22), *row.ParentID)
}

func TestReplyMustStayInConversation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	other, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.Business(7), Text: "elsewhere"})
	require.NoError(t, err)
	_, err = h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "reply", ReplyToID: &other.ID})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	first, err := h.svc.Send(ctx, SendInput{Sender: model.User(9), Recipient: model.User(4), Text: "question?"})
	require.NoError(t, err)
	reply, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "answer", ReplyToID: &first.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "question?", reply.ReplyTo.Text)

	list, err := h.svc.ListMessages(ctx, model.User(9), reply.RoomKey, model.NoProduct())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	require.NotNil(t, list[1].ReplyTo)
	assert.Equal(t, first.ID, list[1].ReplyTo.ID)
}

func TestEditAndDeleteOnlyBySender(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "v1"})
	require.NoError(t, err)

	_, err = h.svc.Edit(ctx, EditInput{Editor: model.User(9), MessageID: m.ID, Text: "hijack"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, h.svc.Delete(ctx, model.User(9), m.ID), ErrUnauthorized)
	assert.ErrorIs(t, h.svc.Delete(ctx, model.User(4), 404), ErrNotFound)

	edited, err := h.svc.Edit(ctx, EditInput{Editor: model.User(4), MessageID: m.ID, Text: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "v2", edited.Text)
	assert.NotNil(t, edited.EditedAt)
	assert.Len(t, h.bus.roomEvents(event.MessageEdited), 1)
}

func TestEditRemovesMediaBlobs(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{
		Sender:    model.User(4),
		Recipient: model.User(9),
		Text:      "pics",
		Media:     []model.MediaRef{{URL: "/api/media/a.jpg", Type: model.MediaImage}, {URL: "/api/media/b.jpg", Type: model.MediaImage}},
	})
	require.NoError(t, err)

	edited, err := h.svc.Edit(ctx, EditInput{Editor: model.User(4), MessageID: m.ID, Text: "pics", RemoveMedia: []int64{m.Media[0].ID}})
	require.NoError(t, err)
	h.svc.Wait()

	require.Len(t, edited.Media, 1)
	assert.Equal(t, "/api/media/b.jpg", edited.Media[0].URL)
	assert.Equal(t, []string{"/api/media/a.jpg"}, h.blobs.deleted)
}

func TestEditCannotLeaveMessageEmpty(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Media: []model.MediaRef{{URL: "/api/media/a.jpg", Type: model.MediaImage}}})
	require.NoError(t, err)

	_, err = h.svc.Edit(ctx, EditInput{Editor: model.User(4), MessageID: m.ID, RemoveMedia: []int64{m.Media[0].ID}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeleteCascadesAndBroadcasts(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{
		Sender:    model.User(4),
		Recipient: model.User(9),
		Text:      "bye",
		Media:     []model.MediaRef{{URL: "/api/media/a.jpg", Type: model.MediaImage}, {URL: "/api/media/b.mp4", Type: model.MediaVideo}},
	})
	require.NoError(t, err)
	sibling, err := h.svc.Send(ctx, SendInput{
		Sender:    model.User(4),
		Recipient: model.User(9),
		Text:      "stay",
		Media:     []model.MediaRef{{URL: "/api/media/x.jpg", Type: model.MediaImage}},
	})
	require.NoError(t, err)
	for _, id := range []int64{m.ID, sibling.ID} {
		_, err = h.svc.React(ctx, model.User(9), id, "👍")
		require.NoError(t, err)
	}

	require.NoError(t, h.svc.Delete(ctx, model.User(4), m.ID))
	h.svc.Wait()

	deleted := h.bus.roomEvents(event.MessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, event.MessageDeletedPayload{MessageID: m.ID, RoomKey: m.RoomKey}, deleted[0].ev.Payload)
	assert.ElementsMatch(t, []string{"/api/media/a.jpg", "/api/media/b.mp4"}, h.blobs.deleted)

	list, err := h.svc.ListMessages(ctx, model.User(4), m.RoomKey, model.NoProduct())
	require.NoError(t, err)
	require.Len(t, list, 1, "only the sibling is left")
	assert.Equal(t, sibling.ID, list[0].ID)
	assert.Equal(t, []model.UserReaction{{UserID: 9, Emoji: "👍"}}, list[0].Reactions)
	require.Len(t, list[0].Media, 1)
	assert.Equal(t, "/api/media/x.jpg", list[0].Media[0].URL)
	assert.Equal(t, 1, h.reactions.count())
}

func TestConcurrentReactionsApplyOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "react to me"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.svc.React(ctx, model.User(9), m.ID, "🔥")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	h.notifier.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, h.reactions.count())
	assert.Len(t, h.bus.roomEvents(event.ReceiveReaction), 1)

	var reactionNotes int
	for _, n := range h.notifications.forRecipient(model.User(4)) {
		if n.ActionType == model.ActionReactionAdded {
			reactionNotes++
		}
	}
	assert.Equal(t, 1, reactionNotes)
}

func TestReactionRules(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.Business(7), Text: "x"})
	require.NoError(t, err)

	_, err = h.svc.React(ctx, model.Business(7), m.ID, "👍")
	assert.ErrorIs(t, err, ErrInvalidArgument, "businesses do not react")
	_, err = h.svc.React(ctx, model.User(9), m.ID, "👍")
	assert.ErrorIs(t, err, ErrUnauthorized, "outsider")
	_, err = h.svc.React(ctx, model.User(4), m.ID, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.svc.React(ctx, model.User(4), 404, "👍")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := h.svc.Unreact(ctx, model.User(4), m.ID, "👍")
	require.NoError(t, err)
	assert.False(t, removed)

	applied, err := h.svc.React(ctx, model.User(4), m.ID, "👍")
	require.NoError(t, err)
	assert.True(t, applied)
	removed, err = h.svc.Unreact(ctx, model.User(4), m.ID, "👍")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, h.bus.roomEvents(event.ReactionRemoved), 1)
}

func TestMarkRoomReadIsMonotonic(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	var key string
	for i := 0; i < 3; i++ {
		m, err := h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "ping"})
		require.NoError(t, err)
		key = m.RoomKey
	}

	unread, err := h.svc.UnreadCount(ctx, model.User(9), key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	n, err := h.svc.MarkRoomRead(ctx, model.User(9), key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = h.svc.MarkRoomRead(ctx, model.User(9), key)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := h.svc.UnreadTotal(ctx, model.User(9))
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Len(t, h.bus.roomEvents(event.MessageRead), 1)

	_, err = h.svc.MarkRoomRead(ctx, model.User(5), key)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.MarkRoomRead(ctx, model.User(9), "lobby")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.svc.Send(ctx, SendInput{Sender: model.User(4), Recipient: model.User(9), Text: "one more"})
	require.NoError(t, err)
	unread, err = h.svc.UnreadCount(ctx, model.User(9), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread, "only the message after markRead is unread")
	total, err = h.svc.UnreadTotal(ctx, model.User(9))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDedupReactionsKeepsFirst(t *testing.T) {
	in := []model.UserReaction{{UserID: 1, Emoji: "👍"}, {UserID: 2, Emoji: "👍"}, {UserID: 1, Emoji: "👍"}, {UserID: 1, Emoji: "❤"}}

	assert.Equal(t, []model.UserReaction{{UserID: 1, Emoji: "👍"}, {UserID: 2, Emoji: "👍"}, {UserID: 1, Emoji: "❤"}}, dedupReactions(in))
	assert.Equal(t, []model.UserReaction{}, dedupReactions(nil))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/localhub/internal/blob"
	"github.com/localhub/internal/event"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/repository"
	"github.com/localhub/internal/room"
	"github.com/localhub/internal/storage"
)

const (
	maxTextLen      = 4000
	maxMediaPerMsg  = 10
	maxEmojiRunes   = 16
	defaultCacheTTL = time.Minute
)

type MessagingDeps struct {
	Messages      MessageStore
	Reactions     ReactionStore
	Conversations ConversationStore
	Profiles      ProfileStore
	Blobs         BlobStore
	Media         MediaIndex
	Sanitizer     Sanitizer
	Cache         storage.Store
	CacheTTL      time.Duration
	Bus           EventBroadcaster
	Notifier      *Notifier
}

// Messaging is the command and query surface of the message, reaction and read-state store
// together with the conversation aggregator.
type Messaging struct {
	msgs      MessageStore
	reactions ReactionStore
	convs     ConversationStore
	profiles  ProfileStore
	blobs     BlobStore
	sanitizer Sanitizer
	cache     storage.Store
	cacheTTL  time.Duration
	bus       EventBroadcaster
	notifier  *Notifier
	janitor   *blobJanitor
	now       func() time.Time
}

func NewMessaging(d MessagingDeps) *Messaging {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Messaging{
		msgs:      d.Messages,
		reactions: d.Reactions,
		convs:     d.Conversations,
		profiles:  d.Profiles,
		blobs:     d.Blobs,
		sanitizer: d.Sanitizer,
		cache:     d.Cache,
		cacheTTL:  ttl,
		bus:       d.Bus,
		notifier:  d.Notifier,
		janitor:   &blobJanitor{blobs: d.Blobs, index: d.Media},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until background blob deletions finish.
func (s *Messaging) Wait() { s.janitor.wait() }

type SendInput struct {
	Sender    model.ParticipantRef
	Recipient model.ParticipantRef
	Text      string
	ReplyToID *int64
	ProductID *int64
	Media     []model.MediaRef
}

type EditInput struct {
	Editor      model.ParticipantRef
	MessageID   int64
	Text        string
	RemoveMedia []int64
	AddMedia    []model.MediaRef
}

func validateMedia(media []model.MediaRef) error {
	if len(media) > maxMediaPerMsg {
		return invalid("at most %d attachments", maxMediaPerMsg)
	}
	for _, m := range media {
		if strings.TrimSpace(m.URL) == "" || !m.Type.Valid() {
			return invalid("attachment needs url and type image|video")
		}
	}
	return nil
}

// claimMedia accepts only attachments the owner uploaded through the blob store and returns
// them with canonical URLs.
func (s *Messaging) claimMedia(ctx context.Context, owner model.ParticipantRef, media []model.MediaRef) ([]model.MediaRef, error) {
	if len(media) == 0 {
		return []model.MediaRef{}, nil
	}
	if s.blobs == nil {
		return nil, invalid("attachments are disabled")
	}
	out := make([]model.MediaRef, len(media))
	for i, m := range media {
		url, err := s.blobs.Claim(ctx, owner.Key(), m.URL)
		switch {
		case errors.Is(err, blob.ErrNotOwner):
			return nil, fmt.Errorf("attachment %s: %w", m.URL, ErrUnauthorized)
		case errors.Is(err, blob.ErrNotFound):
			return nil, invalid("attachment %s was not uploaded", m.URL)
		case err != nil:
			return nil, storeErr("messaging.claimMedia", err)
		}
		out[i] = model.MediaRef{URL: url, Type: m.Type}
	}
	return out, nil
}

func (s *Messaging) cleanText(text string) (string, error) {
	if utf8.RuneCountInString(text) > maxTextLen {
		return "", invalid("text longer than %d characters", maxTextLen)
	}
	return s.sanitizer.Sanitize(text), nil
}

// Send persists a message with its media atomically, then broadcasts it to the room and notifies
// the recipient. Notification failures never fail the send.
func (s *Messaging) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	defer logger.DeferLogDuration("messaging.Send", time.Now())()
	if in.Sender == in.Recipient {
		return nil, invalid("cannot message yourself")
	}
	key, err := room.ForMessage(in.Sender, in.Recipient, in.ProductID)
	if err != nil {
		return nil, roomErr(err)
	}
	if err := validateMedia(in.Media); err != nil {
		return nil, err
	}
	text, err := s.cleanText(in.Text)
	if err != nil {
		return nil, err
	}
	if text == "" && len(in.Media) == 0 {
		return nil, invalid("text or media required")
	}
	if in.ProductID != nil {
		if err := s.checkProduct(ctx, *in.ProductID, in.Sender, in.Recipient); err != nil {
			return nil, err
		}
	}
	media, err := s.claimMedia(ctx, in.Sender, in.Media)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		RoomKey:   key,
		Sender:    in.Sender,
		Recipient: in.Recipient,
		Text:      text,
		ReplyToID: in.ReplyToID,
		ProductID: in.ProductID,
		Media:     media,
	}
	if in.ReplyToID != nil {
		parent, err := s.msgs.GetByID(ctx, *in.ReplyToID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid("reply target %d not found", *in.ReplyToID)
		}
		if err != nil {
			return nil, storeErr("messaging.Send reply", err)
		}
		if parent.RoomKey != key || !sameProduct(parent.ProductID, in.ProductID) {
			return nil, invalid("reply target is not in this conversation")
		}
		m.ReplyTo = &model.ReplyPreview{ID: parent.ID, Sender: parent.Sender, Text: snippet(parent.Text)}
	}

	if err := s.msgs.Append(ctx, m); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, invalid("reply target was deleted")
		}
		return nil, storeErr("messaging.Send", err)
	}
	for _, md := range m.Media {
		if md.ID == 0 {
			logger.Errorf("messaging.Send: message %d stored without media ids", m.ID)
			return nil, ErrStorageInconsistency
		}
	}

	s.bus.EmitToRoom(key, event.New(event.ReceiveMessage, m))

	parentType, parentID := model.ParentRoom, (*int64)(nil)
	if m.ProductID != nil {
		parentType, parentID = model.ParentProduct, m.ProductID
	}
	s.notifier.Notify(ctx, Trigger{
		Recipient:  m.Recipient,
		Actor:      m.Sender,
		Action:     model.ActionMessageSent,
		TargetType: model.TargetMessage,
		TargetID:   m.ID,
		ParentType: &parentType,
		ParentID:   parentID,
		Metadata:   map[string]any{"room_key": key, "snippet": messageSnippet(m)},
	})
	return m, nil
}

func sameProduct(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func messageSnippet(m *model.Message) string {
	if m.Text != "" {
		return snippet(m.Text)
	}
	if len(m.Media) > 0 {
		if m.Media[0].Type == model.MediaVideo {
			return "Видео"
		}
		return "Фото"
	}
	return ""
}

// checkProduct verifies the product exists and belongs to the business side of the pair.
func (s *Messaging) checkProduct(ctx context.Context, productID int64, a, b model.ParticipantRef) error {
	p, err := s.profiles.Product(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid("unknown product %d", productID)
	}
	if err != nil {
		return storeErr("messaging.checkProduct", err)
	}
	for _, ref := range []model.ParticipantRef{a, b} {
		if ref.Kind == model.KindBusiness && ref.ID == p.BusinessID {
			return nil
		}
	}
	return invalid("product %d does not belong to this business", productID)
}

// Edit changes text and media of a message. Only the sender may edit. Removed blobs are
// deleted in the background after the database change.
func (s *Messaging) Edit(ctx context.Context, in EditInput) (*model.Message, error) {
	defer logger.DeferLogDuration("messaging.Edit", time.Now())()
	if in.MessageID <= 0 {
		return nil, invalid("message id %d", in.MessageID)
	}
	if err := validateMedia(in.AddMedia); err != nil {
		return nil, err
	}
	text, err := s.cleanText(in.Text)
	if err != nil {
		return nil, err
	}
	orig, err := s.msgs.GetByID(ctx, in.MessageID)
	if err != nil {
		return nil, storeErr("messaging.Edit", err)
	}
	if orig.Sender != in.Editor {
		return nil, ErrUnauthorized
	}
	removing := make(map[int64]struct{}, len(in.RemoveMedia))
	for _, id := range in.RemoveMedia {
		removing[id] = struct{}{}
	}
	left := len(in.AddMedia)
	for _, md := range orig.Media {
		if _, gone := removing[md.ID]; !gone {
			left++
		}
	}
	if text == "" && left == 0 {
		return nil, invalid("text or media required")
	}
	if left > maxMediaPerMsg {
		return nil, invalid("at most %d attachments", maxMediaPerMsg)
	}
	added, err := s.claimMedia(ctx, in.Editor, in.AddMedia)
	if err != nil {
		return nil, err
	}

	removed, err := s.msgs.Edit(ctx, in.MessageID, text, in.RemoveMedia, added, s.now())
	if err != nil {
		return nil, storeErr("messaging.Edit", err)
	}
	s.janitor.remove(removed)

	updated, err := s.msgs.GetByID(ctx, in.MessageID)
	if err != nil {
		return nil, storeErr("messaging.Edit reload", err)
	}
	enriched := []model.Message{*updated}
	if err := s.enrich(ctx, enriched); err != nil {
		logger.Debugf("messaging.Edit enrich %d: %v", updated.ID, err)
	}
	updated = &enriched[0]
	s.bus.EmitToRoom(updated.RoomKey, event.New(event.MessageEdited, event.MessageEditedPayload{Message: updated}))
	return updated, nil
}

// Delete hard-deletes a message with its reactions and media. Only the sender may delete.
func (s *Messaging) Delete(ctx context.Context, requester model.ParticipantRef, messageID int64) error {
	defer logger.DeferLogDuration("messaging.Delete", time.Now())()
	if messageID <= 0 {
		return invalid("message id %d", messageID)
	}
	orig, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return storeErr("messaging.Delete", err)
	}
	if orig.Sender != requester {
		return ErrUnauthorized
	}
	media, err := s.msgs.Delete(ctx, messageID)
	if err != nil {
		return storeErr("messaging.Delete", err)
	}
	s.janitor.remove(media)
	s.bus.EmitToRoom(orig.RoomKey, event.New(event.MessageDeleted, event.MessageDeletedPayload{
		MessageID: messageID,
		RoomKey:   orig.RoomKey,
	}))
	return nil
}

func validEmoji(emoji string) bool {
	n := utf8.RuneCountInString(emoji)
	return n > 0 && n <= maxEmojiRunes && strings.TrimSpace(emoji) == emoji
}

// reactable loads the message and checks the actor is a user taking part in its conversation.
func (s *Messaging) reactable(ctx context.Context, actor model.ParticipantRef, messageID int64, emoji string) (*model.Message, error) {
	if actor.Kind != model.KindUser || !actor.Valid() {
		return nil, invalid("only users react")
	}
	if !validEmoji(emoji) {
		return nil, invalid("emoji")
	}
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, storeErr("messaging.react", err)
	}
	if m.Sender != actor && m.Recipient != actor {
		return nil, ErrUnauthorized
	}
	return m, nil
}

// React adds (message, user, emoji) once. applied is false for a duplicate, which is not an error.
func (s *Messaging) React(ctx context.Context, actor model.ParticipantRef, messageID int64, emoji string) (bool, error) {
	defer logger.DeferLogDuration("messaging.React", time.Now())()
	m, err := s.reactable(ctx, actor, messageID, emoji)
	if err != nil {
		return false, err
	}
	applied, err := s.reactions.Add(ctx, messageID, actor.ID, emoji)
	if err != nil {
		return false, storeErr("messaging.React", err)
	}
	if !applied {
		return false, nil
	}
	s.bus.EmitToRoom(m.RoomKey, event.New(event.ReceiveReaction, event.ReactionPayload{
		MessageID: messageID, RoomKey: m.RoomKey, UserID: actor.ID, Emoji: emoji,
	}))
	s.notifier.Notify(ctx, Trigger{
		Recipient:  m.Sender,
		Actor:      actor,
		Action:     model.ActionReactionAdded,
		TargetType: model.TargetMessage,
		TargetID:   messageID,
		Metadata:   map[string]any{"room_key": m.RoomKey, "emoji": emoji, "snippet": messageSnippet(m)},
	})
	return true, nil
}

// Unreact removes the reaction if present; removed is false otherwise, never an error.
func (s *Messaging) Unreact(ctx context.Context, actor model.ParticipantRef, messageID int64, emoji string) (bool, error) {
	defer logger.DeferLogDuration("messaging.Unreact", time.Now())()
	m, err := s.reactable(ctx, actor, messageID, emoji)
	if err != nil {
		return false, err
	}
	removed, err := s.reactions.Remove(ctx, messageID, actor.ID, emoji)
	if err != nil {
		return false, storeErr("messaging.Unreact", err)
	}
	if removed {
		s.bus.EmitToRoom(m.RoomKey, event.New(event.ReactionRemoved, event.ReactionPayload{
			MessageID: messageID, RoomKey: m.RoomKey, UserID: actor.ID, Emoji: emoji,
		}))
	}
	return removed, nil
}

// participantOf checks that ref is one side of the chat room key.
func participantOf(ref model.ParticipantRef, roomKey string) error {
	a, b, ok := room.Participants(roomKey)
	if !ok {
		return invalid("room key %q", roomKey)
	}
	if ref != a && ref != b {
		return ErrUnauthorized
	}
	return nil
}

// MarkRoomRead stamps every unread message addressed to reader in the room and returns how many
// changed. Repeating it after everything is read returns 0.
func (s *Messaging) MarkRoomRead(ctx context.Context, reader model.ParticipantRef, roomKey string) (int64, error) {
	defer logger.DeferLogDuration("messaging.MarkRoomRead", time.Now())()
	if err := participantOf(reader, roomKey); err != nil {
		return 0, err
	}
	at := s.now()
	n, err := s.msgs.MarkRead(ctx, roomKey, reader, at)
	if err != nil {
		return 0, storeErr("messaging.MarkRoomRead", err)
	}
	if n > 0 {
		s.bus.EmitToRoom(roomKey, event.New(event.MessageRead, event.MessageReadPayload{
			RoomKey: roomKey, Reader: reader, Count: n, ReadAt: at,
		}))
	}
	return n, nil
}

// ListMessages returns a room thread oldest first, each message with media, reactions and a
// reply preview. The filter picks the general thread or one product thread.
func (s *Messaging) ListMessages(ctx context.Context, viewer model.ParticipantRef, roomKey string, filter model.ProductFilter) ([]model.Message, error) {
	defer logger.DeferLogDuration("messaging.ListMessages", time.Now())()
	if err := participantOf(viewer, roomKey); err != nil {
		return nil, err
	}
	list, err := s.msgs.ListByRoom(ctx, roomKey, filter)
	if err != nil {
		return nil, storeErr("messaging.ListMessages", err)
	}
	if err := s.enrich(ctx, list); err != nil {
		return nil, storeErr("messaging.ListMessages enrich", err)
	}
	return list, nil
}

// enrich attaches reactions and reply previews in place.
func (s *Messaging) enrich(ctx context.Context, list []model.Message) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	var replyIDs []int64
	for _, m := range list {
		ids = append(ids, m.ID)
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}
	reactions, err := s.reactions.ListByMessages(ctx, ids)
	if err != nil {
		return err
	}
	previews, err := s.msgs.Previews(ctx, replyIDs)
	if err != nil {
		return err
	}
	for i := range list {
		m := &list[i]
		m.Reactions = dedupReactions(reactions[m.ID])
		if m.ReplyToID != nil {
			if p, ok := previews[*m.ReplyToID]; ok {
				p.Text = snippet(p.Text)
				m.ReplyTo = &p
			}
		}
	}
	return nil
}

// dedupReactions keeps the first occurrence of every (user, emoji).
func dedupReactions(in []model.UserReaction) []model.UserReaction {
	if len(in) == 0 {
		return []model.UserReaction{}
	}
	seen := make(map[model.UserReaction]struct{}, len(in))
	out := make([]model.UserReaction, 0, len(in))
	for _, r := range in {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// UnreadCount counts unread messages addressed to recipient in one room.
func (s *Messaging) UnreadCount(ctx context.Context, recipient model.ParticipantRef, roomKey string) (int64, error) {
	if err := participantOf(recipient, roomKey); err != nil {
		return 0, err
	}
	n, err := s.msgs.UnreadCount(ctx, recipient, roomKey)
	if err != nil {
		return 0, storeErr("messaging.UnreadCount", err)
	}
	return n, nil
}

// UnreadTotal counts unread messages addressed to recipient across all rooms.
func (s *Messaging) UnreadTotal(ctx context.Context, recipient model.ParticipantRef) (int64, error) {
	if !recipient.Valid() {
		return 0, invalid("recipient %s", recipient)
	}
	n, err := s.msgs.UnreadCount(ctx, recipient, "")
	if err != nil {
		return 0, storeErr("messaging.UnreadTotal", err)
	}
	return n, nil
}

package service

import (
	"context"
	"time"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/push"
)

// EventBroadcaster is the realtime transport as seen by services. Delivery is best-effort;
// EmitToUser returns the number of live sessions that accepted the event.
type EventBroadcaster interface {
	EmitToRoom(roomKey string, ev event.Envelope)
	EmitToUser(ref model.ParticipantRef, ev event.Envelope) int
	Join(sessionID, roomKey string) bool
	Leave(sessionID, roomKey string) bool
}

type MessageStore interface {
	Append(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	ListByRoom(ctx context.Context, roomKey string, filter model.ProductFilter) ([]model.Message, error)
	Previews(ctx context.Context, ids []int64) (map[int64]model.ReplyPreview, error)
	Edit(ctx context.Context, id int64, text string, removeMediaIDs []int64, add []model.MediaRef, editedAt time.Time) ([]model.MediaRef, error)
	Delete(ctx context.Context, id int64) ([]model.MediaRef, error)
	MarkRead(ctx context.Context, roomKey string, recipient model.ParticipantRef, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, recipient model.ParticipantRef, roomKey string) (int64, error)
}

type ReactionStore interface {
	Add(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]model.UserReaction, error)
}

type ConversationStore interface {
	Direct(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error)
	Product(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error)
	Business(ctx context.Context, businessID int64) ([]model.ConversationSummary, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	CreateBatch(ctx context.Context, ns []*model.Notification) error
	List(ctx context.Context, recipient model.ParticipantRef, limit, offset int) ([]model.Notification, error)
	UnreadCount(ctx context.Context, recipient model.ParticipantRef) (int64, error)
	UnreadCounts(ctx context.Context, recipients []model.ParticipantRef) (map[string]int64, error)
	MarkRead(ctx context.Context, recipient model.ParticipantRef, id int64) error
	MarkAllRead(ctx context.Context, recipient model.ParticipantRef) (int64, error)
}

type ProfileStore interface {
	Profiles(ctx context.Context, refs []model.ParticipantRef) (map[string]model.Profile, error)
	Product(ctx context.Context, id int64) (*model.ProductInfo, error)
	Products(ctx context.Context, ids []int64) (map[int64]model.ProductInfo, error)
}

type LocationStore interface {
	Upsert(ctx context.Context, userID int64, lat, lng float64) error
	Clear(ctx context.Context, userID int64) error
	All(ctx context.Context) ([]model.UserLocation, error)
}

type AlertStore interface {
	Create(ctx context.Context, a *model.Alert) error
}

type CommentStore interface {
	Get(ctx context.Context, id int64) (model.CommentNode, int64, error)
	Nodes(ctx context.Context, postID int64) ([]model.CommentNode, error)
	DeleteTree(ctx context.Context, levels [][]int64) ([]model.MediaRef, error)
}

// BlobStore owns uploaded media. Claim accepts a ref only when owner uploaded it and returns
// the canonical ref; it fails with blob.ErrNotFound or blob.ErrNotOwner.
type BlobStore interface {
	Claim(ctx context.Context, owner, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// MediaIndex reports which refs are still attached to a message or a comment.
type MediaIndex interface {
	InUse(ctx context.Context, refs []string) (map[string]bool, error)
}

type Sanitizer interface {
	Sanitize(text string) string
}

// PushNotifier delivers offline pushes. A nil PushNotifier disables them.
type PushNotifier interface {
	Notify(ctx context.Context, owner string, msg push.Message) int
}

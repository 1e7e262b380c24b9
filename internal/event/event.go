// Package event names the realtime transport events and their typed payloads.
package event

import (
	"time"

	"github.com/localhub/internal/model"
)

type Type string

// Inbound (client → server).
const (
	JoinRoom        Type = "join_room"
	LeaveRoom       Type = "leave_room"
	SendMessage     Type = "send_message"
	SendReaction    Type = "send_reaction"
	EditMessage     Type = "edit_message"
	DeleteMessage   Type = "delete_message"
	MarkMessageRead Type = "mark_message_read"
)

// Outbound (server → client).
const (
	ReceiveMessage          Type = "receive_message"
	ReceiveReaction         Type = "receive_reaction"
	ReactionRemoved         Type = "reaction_removed"
	MessageEdited           Type = "message_edited"
	MessageDeleted          Type = "message_deleted"
	CommentDeleted          Type = "comment_deleted"
	MessageRead             Type = "message_read"
	NotificationCountUpdate Type = "notification_count_update"
	Notification            Type = "notification"
	RoomJoined              Type = "room_joined"
	Error                   Type = "error"
)

// Envelope is the JSON frame sent to clients.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type Envelope struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

func New(t Type, payload any) Envelope {
	return Envelope{Type: t, Payload: payload}
}

// Incoming is what the client sends to the server.
type Incoming struct {
	Type    Type   `json:"type"`
	RoomKey string `json:"room_key,omitempty"`

	// For send_message; Media is also the add-list of edit_message
	Recipient *model.ParticipantRef `json:"recipient,omitempty"`
	Text      string                `json:"text,omitempty"`
	ProductID *int64                `json:"product_id,omitempty"`
	ReplyToID *int64                `json:"reply_to_id,omitempty"`
	Media     []model.MediaRef      `json:"media,omitempty"`

	// For edit/delete/reactions
	MessageID   int64   `json:"message_id,omitempty"`
	RemoveMedia []int64 `json:"remove_media,omitempty"`
	Emoji       string  `json:"emoji,omitempty"`
	Remove      bool    `json:"remove,omitempty"`
	ClientNonce string  `json:"client_nonce,omitempty"`
}

// MessageEditedPayload is broadcast when a message is edited.
type MessageEditedPayload struct {
	Message *model.Message `json:"message"`
}

// MessageDeletedPayload is broadcast when a message is hard-deleted.
type MessageDeletedPayload struct {
	MessageID int64  `json:"message_id"`
	RoomKey   string `json:"room_key"`
}

// CommentDeletedPayload lists every comment removed with the root.
type CommentDeletedPayload struct {
	PostID     int64   `json:"post_id"`
	CommentIDs []int64 `json:"comment_ids"`
}

// ReactionPayload is broadcast when a reaction is added or removed.
type ReactionPayload struct {
	MessageID int64  `json:"message_id"`
	RoomKey   string `json:"room_key"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// MessageReadPayload is broadcast when a recipient reads a room.
type MessageReadPayload struct {
	RoomKey string               `json:"room_key"`
	Reader  model.ParticipantRef `json:"reader"`
	Count   int64                `json:"count"`
	ReadAt  time.Time            `json:"read_at"`
}

// CountUpdatePayload is the cheap badge update on a private channel.
type CountUpdatePayload struct {
	Unread int64 `json:"unread"`
}

// NotificationPayload carries the notification together with the actor's display fields,
// so a toast can be rendered without a follow-up fetch.
type NotificationPayload struct {
	Notification *model.Notification `json:"notification"`
	ActorName    string              `json:"actor_name"`
	ActorAvatar  string              `json:"actor_avatar,omitempty"`
}

// RoomJoinedPayload acknowledges a join.
type RoomJoinedPayload struct {
	RoomKey string `json:"room_key"`
}

// ErrorPayload is sent back to the originating session only.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ClientNonce string `json:"client_nonce,omitempty"`
}

package model

import "time"

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

func (t MediaType) Valid() bool {
	return t == MediaImage || t == MediaVideo
}

// MediaRef is an attachment of a message. Immutable once created.
type MediaRef struct {
	ID   int64     `json:"id,omitempty"`
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}

type Message struct {
	ID        int64          `json:"id"`
	RoomKey   string         `json:"room_key"`
	Sender    ParticipantRef `json:"sender"`
	Recipient ParticipantRef `json:"recipient"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	ReplyToID *int64         `json:"reply_to_id,omitempty"`
	ProductID *int64         `json:"product_id,omitempty"`
	Media     []MediaRef     `json:"media"`
	Reactions []UserReaction `json:"reactions,omitempty"`
	ReplyTo   *ReplyPreview  `json:"reply_to,omitempty"`
}

// ReplyPreview is the short form of the message being replied to.
type ReplyPreview struct {
	ID     int64          `json:"id"`
	Sender ParticipantRef `json:"sender"`
	Text   string         `json:"text"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// UserReaction is one (user, emoji) annotation as listed for a message.
type UserReaction struct {
	UserID int64  `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// ProductFilter selects either the general thread of a room or one product sub-thread.
// A nil ProductID means "no product".
type ProductFilter struct {
	ProductID *int64
}

func NoProduct() ProductFilter { return ProductFilter{} }

func ForProduct(id int64) ProductFilter { return ProductFilter{ProductID: &id} }

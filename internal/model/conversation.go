package model

import "time"

// ConversationSummary is a derived projection over the message log; it is never stored.
type ConversationSummary struct {
	RoomKey            string         `json:"room_key"`
	Counterpart        ParticipantRef `json:"counterpart"`
	CounterpartName    string         `json:"counterpart_name,omitempty"`
	CounterpartAvatar  string         `json:"counterpart_avatar,omitempty"`
	ProductID          *int64         `json:"product_id,omitempty"`
	Product            *ProductInfo   `json:"product,omitempty"`
	LastMessageAt      time.Time      `json:"last_message_at"`
	LastMessagePreview string         `json:"last_message_preview"`
	UnreadCount        int            `json:"unread_count"`
}

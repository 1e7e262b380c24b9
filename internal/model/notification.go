package model

import "time"

type ActionType string

const (
	ActionMessageSent   ActionType = "message_sent"
	ActionReactionAdded ActionType = "reaction_added"
	ActionAlertPosted   ActionType = "alert_posted"
)

const (
	TargetMessage = "message"
	TargetAlert   = "alert"
	ParentRoom    = "room"
	ParentProduct = "product"
)

// Notification is created for a recipient other than the actor and mutated only by the read transition.
// Metadata is a snapshot taken at creation time.
type Notification struct {
	ID         int64          `json:"id"`
	Recipient  ParticipantRef `json:"recipient"`
	Actor      ParticipantRef `json:"actor"`
	ActionType ActionType     `json:"action_type"`
	TargetType string         `json:"target_type"`
	TargetID   int64          `json:"target_id"`
	ParentType *string        `json:"parent_type,omitempty"`
	ParentID   *int64         `json:"parent_id,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	IsRead     bool           `json:"is_read"`
	CreatedAt  time.Time      `json:"created_at"`
}

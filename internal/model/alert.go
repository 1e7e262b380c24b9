package model

import "time"

// Alert is a location-tagged post whose creation fans out to nearby users.
type Alert struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// UserLocation is the registered location of a user; either coordinate may be absent.
type UserLocation struct {
	UserID    int64    `json:"user_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CommentNode is one edge of the comment adjacency list of a post.
type CommentNode struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	AuthorID int64  `json:"author_id"`
}

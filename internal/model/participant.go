package model

import "strconv"

type ParticipantKind string

const (
	KindUser     ParticipantKind = "user"
	KindBusiness ParticipantKind = "business"
)

// Valid reports whether k is one of the known participant kinds.
func (k ParticipantKind) Valid() bool {
	return k == KindUser || k == KindBusiness
}

// ParticipantRef is a typed identifier used for room-key derivation and recipient addressing.
type ParticipantRef struct {
	ID   int64           `json:"id"`
	Kind ParticipantKind `json:"kind"`
}

func User(id int64) ParticipantRef     { return ParticipantRef{ID: id, Kind: KindUser} }
func Business(id int64) ParticipantRef { return ParticipantRef{ID: id, Kind: KindBusiness} }

// Valid reports whether the ref has a known kind and a positive id.
func (p ParticipantRef) Valid() bool {
	return p.ID > 0 && p.Kind.Valid()
}

// Key is the stable "<kind>_<id>" form used for private channels and cache keys.
func (p ParticipantRef) Key() string {
	return string(p.Kind) + "_" + strconv.FormatInt(p.ID, 10)
}

func (p ParticipantRef) String() string { return p.Key() }

// Profile holds the display fields of a participant captured for toasts and previews.
type Profile struct {
	Ref       ParticipantRef `json:"ref"`
	Name      string         `json:"name"`
	AvatarURL string         `json:"avatar_url,omitempty"`
}

// ProductInfo is the product collaborator's view used in product conversation previews.
type ProductInfo struct {
	ID           int64  `json:"id"`
	BusinessID   int64  `json:"business_id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

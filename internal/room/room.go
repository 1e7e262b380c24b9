// Package room derives canonical conversation keys. Every caller goes through Resolve or
// ResolveProduct; keys are never assembled inline elsewhere.
package room

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/localhub/internal/model"
)

const (
	prefix        = "chat_"
	productSuffix = "_product_"
)

var ErrInvalidParticipant = errors.New("invalid participant")

// less orders refs by kind (lexicographic), then by id.
func less(a, b model.ParticipantRef) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ID < b.ID
}

// Resolve returns chat_{kind1}_{id1}_{kind2}_{id2} with the two refs in total order,
// so Resolve(a, b) == Resolve(b, a).
func Resolve(a, b model.ParticipantRef) (string, error) {
	if !a.Valid() {
		return "", fmt.Errorf("%w: %s/%d", ErrInvalidParticipant, a.Kind, a.ID)
	}
	if !b.Valid() {
		return "", fmt.Errorf("%w: %s/%d", ErrInvalidParticipant, b.Kind, b.ID)
	}
	if less(b, a) {
		a, b = b, a
	}
	var sb strings.Builder
	sb.Grow(32)
	sb.WriteString(prefix)
	sb.WriteString(a.Key())
	sb.WriteByte('_')
	sb.WriteString(b.Key())
	return sb.String(), nil
}

// ResolveProduct returns the user/business key with a _product_{id} suffix.
func ResolveProduct(userID, businessID, productID int64) (string, error) {
	if productID <= 0 {
		return "", fmt.Errorf("%w: product %d", ErrInvalidParticipant, productID)
	}
	key, err := Resolve(model.User(userID), model.Business(businessID))
	if err != nil {
		return "", err
	}
	return key + productSuffix + strconv.FormatInt(productID, 10), nil
}

// ForMessage picks the key a message between sender and recipient belongs to.
// A product id requires exactly one user and one business side.
func ForMessage(sender, recipient model.ParticipantRef, productID *int64) (string, error) {
	if productID == nil {
		return Resolve(sender, recipient)
	}
	var userID, businessID int64
	for _, p := range []model.ParticipantRef{sender, recipient} {
		switch p.Kind {
		case model.KindUser:
			userID = p.ID
		case model.KindBusiness:
			businessID = p.ID
		}
	}
	if userID == 0 || businessID == 0 {
		return "", fmt.Errorf("%w: product conversations need a user and a business", ErrInvalidParticipant)
	}
	return ResolveProduct(userID, businessID, *productID)
}

// IsProductKey reports whether key belongs to the product-scoped conversation class.
func IsProductKey(key string) bool {
	return strings.Contains(key, productSuffix)
}

// ProductPattern is the SQL LIKE pattern matching product-scoped keys.
const ProductPattern = `%\_product\_%`

// UserChannel is the private transport channel of a participant.
func UserChannel(p model.ParticipantRef) string {
	return "private_" + p.Key()
}

// PostRoom is the transport room of a post's comment thread.
func PostRoom(postID int64) string {
	return "post_" + strconv.FormatInt(postID, 10)
}

// Participants parses the two refs out of a chat key (product suffix ignored).
func Participants(key string) (a, b model.ParticipantRef, ok bool) {
	rest, found := strings.CutPrefix(key, prefix)
	if !found {
		return a, b, false
	}
	if i := strings.Index(rest, productSuffix); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 4 {
		return a, b, false
	}
	parse := func(kind, id string) (model.ParticipantRef, bool) {
		n, err := strconv.ParseInt(id, 10, 64)
		p := model.ParticipantRef{ID: n, Kind: model.ParticipantKind(kind)}
		return p, err == nil && p.Valid()
	}
	a, okA := parse(parts[0], parts[1])
	b, okB := parse(parts[2], parts[3])
	return a, b, okA && okB
}

// CanJoin reports whether p may subscribe to the transport room key:
// post rooms are public, chat rooms only admit their two participants.
func CanJoin(p model.ParticipantRef, key string) bool {
	if rest, ok := strings.CutPrefix(key, "post_"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		return err == nil && id > 0
	}
	a, b, ok := Participants(key)
	return ok && (p == a || p == b)
}

package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

// ListDirect returns the participant's general conversations, newest first.
func (s *Messaging) ListDirect(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	if !p.Valid() {
		return nil, invalid("participant %s", p)
	}
	return s.summaries(ctx, "direct", func() ([]model.ConversationSummary, error) {
		return s.convs.Direct(ctx, p)
	})
}

// ListProduct returns the participant's per-product conversations with product details, newest first.
func (s *Messaging) ListProduct(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	if !p.Valid() {
		return nil, invalid("participant %s", p)
	}
	return s.summaries(ctx, "product", func() ([]model.ConversationSummary, error) {
		return s.convs.Product(ctx, p)
	})
}

// ListBusiness returns the general conversations of a business. Product-scoped rooms never appear.
func (s *Messaging) ListBusiness(ctx context.Context, businessID int64) ([]model.ConversationSummary, error) {
	b := model.Business(businessID)
	if !b.Valid() {
		return nil, invalid("business %d", businessID)
	}
	return s.summaries(ctx, "business", func() ([]model.ConversationSummary, error) {
		return s.convs.Business(ctx, businessID)
	})
}

// summaries computes a list from the message log on every call, so unread counts, previews and
// ordering are always current. Only the display cards of counterparts and products are cached.
func (s *Messaging) summaries(ctx context.Context, list string, load func() ([]model.ConversationSummary, error)) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("messaging.conversations."+list, time.Now())()
	out, err := load()
	if err != nil {
		return nil, storeErr("messaging.conversations."+list, err)
	}
	if err := s.decorate(ctx, out); err != nil {
		return nil, storeErr("messaging.conversations."+list+" decorate", err)
	}
	return out, nil
}

// decorate fills counterpart display fields and product details.
func (s *Messaging) decorate(ctx context.Context, list []model.ConversationSummary) error {
	if len(list) == 0 {
		return nil
	}
	refs := make([]model.ParticipantRef, 0, len(list))
	var productIDs []int64
	for _, c := range list {
		refs = append(refs, c.Counterpart)
		if c.ProductID != nil {
			productIDs = append(productIDs, *c.ProductID)
		}
	}
	profiles, products, err := s.cards(ctx, refs, productIDs)
	if err != nil {
		return err
	}
	for i := range list {
		c := &list[i]
		if p, ok := profiles[c.Counterpart.Key()]; ok {
			c.CounterpartName, c.CounterpartAvatar = p.Name, p.AvatarURL
		}
		if c.ProductID != nil {
			if p, ok := products[*c.ProductID]; ok {
				c.Product = &p
			}
		}
		c.LastMessagePreview = snippet(c.LastMessagePreview)
	}
	return nil
}

func profileCard(key string) string { return "profile:" + key }

func productCard(id int64) string { return "product:" + strconv.FormatInt(id, 10) }

// cards resolves profiles and products through the card cache. Misses are loaded with one
// profile-store call per kind and written back; cache failures only cost a reload.
func (s *Messaging) cards(ctx context.Context, refs []model.ParticipantRef, productIDs []int64) (map[string]model.Profile, map[int64]model.ProductInfo, error) {
	profiles := make(map[string]model.Profile, len(refs))
	products := make(map[int64]model.ProductInfo, len(productIDs))

	if s.cache != nil {
		keys := make([]string, 0, len(refs)+len(productIDs))
		for _, r := range refs {
			keys = append(keys, profileCard(r.Key()))
		}
		for _, id := range productIDs {
			keys = append(keys, productCard(id))
		}
		hit, err := s.cache.Cards(ctx, keys)
		if err != nil {
			logger.Debugf("card cache get: %v", err)
		}
		for _, r := range refs {
			var p model.Profile
			if raw, ok := hit[profileCard(r.Key())]; ok && json.Unmarshal(raw, &p) == nil {
				profiles[r.Key()] = p
			}
		}
		for _, id := range productIDs {
			var p model.ProductInfo
			if raw, ok := hit[productCard(id)]; ok && json.Unmarshal(raw, &p) == nil {
				products[id] = p
			}
		}
	}

	var missRefs []model.ParticipantRef
	for _, r := range refs {
		if _, ok := profiles[r.Key()]; !ok {
			missRefs = append(missRefs, r)
		}
	}
	var missProducts []int64
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			missProducts = append(missProducts, id)
		}
	}

	fresh := make(map[string][]byte)
	if len(missRefs) > 0 {
		got, err := s.profiles.Profiles(ctx, missRefs)
		if err != nil {
			return nil, nil, err
		}
		for key, p := range got {
			profiles[key] = p
			if raw, err := json.Marshal(p); err == nil {
				fresh[profileCard(key)] = raw
			}
		}
	}
	if len(missProducts) > 0 {
		got, err := s.profiles.Products(ctx, missProducts)
		if err != nil {
			return nil, nil, err
		}
		for id, p := range got {
			products[id] = p
			if raw, err := json.Marshal(p); err == nil {
				fresh[productCard(id)] = raw
			}
		}
	}
	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.SetCards(ctx, fresh, s.cacheTTL); err != nil {
			logger.Debugf("card cache set: %v", err)
		}
	}
	return profiles, products, nil
}

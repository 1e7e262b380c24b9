package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/observability"
	"github.com/localhub/internal/push"
)

const (
	defaultFanoutBatch       = 500
	defaultFanoutConcurrency = 4
	defaultNotificationPage  = 20
	maxNotificationPage      = 100
	snippetLen               = 80
	webPushTimeout           = 15 * time.Second
)

// Trigger identifies one notification-worthy action for one recipient.
type Trigger struct {
	Recipient  model.ParticipantRef
	Actor      model.ParticipantRef
	Action     model.ActionType
	TargetType string
	TargetID   int64
	ParentType *string
	ParentID   *int64
	Metadata   map[string]any
}

func (t Trigger) notification(recipient model.ParticipantRef, actor model.Profile) *model.Notification {
	meta := make(map[string]any, len(t.Metadata)+2)
	for k, v := range t.Metadata {
		meta[k] = v
	}
	meta["actor_name"] = actor.Name
	if actor.AvatarURL != "" {
		meta["actor_avatar"] = actor.AvatarURL
	}
	return &model.Notification{
		Recipient:  recipient,
		Actor:      t.Actor,
		ActionType: t.Action,
		TargetType: t.TargetType,
		TargetID:   t.TargetID,
		ParentType: t.ParentType,
		ParentID:   t.ParentID,
		Metadata:   meta,
	}
}

type NotifierConfig struct {
	BatchSize   int
	Concurrency int
}

// Notifier persists notifications and pushes them to the recipient's live sessions, falling
// back to web push when none is connected. Nothing it does can fail the triggering write.
type Notifier struct {
	store    NotificationStore
	profiles ProfileStore
	bus      EventBroadcaster
	push     PushNotifier
	cfg      NotifierConfig
	wg       sync.WaitGroup
}

func NewNotifier(store NotificationStore, profiles ProfileStore, bus EventBroadcaster, pusher PushNotifier, cfg NotifierConfig) *Notifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultFanoutBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultFanoutConcurrency
	}
	return &Notifier{store: store, profiles: profiles, bus: bus, push: pusher, cfg: cfg}
}

// actorProfile captures the actor's display fields at trigger time. A lookup failure
// degrades to an empty name rather than dropping the notification.
func (n *Notifier) actorProfile(ctx context.Context, actor model.ParticipantRef) model.Profile {
	p := model.Profile{Ref: actor}
	profiles, err := n.profiles.Profiles(ctx, []model.ParticipantRef{actor})
	if err != nil {
		logger.Debugf("notify: actor profile %s: %v", actor, err)
		return p
	}
	if got, ok := profiles[actor.Key()]; ok {
		return got
	}
	return p
}

// Notify runs the single-recipient flow: self-suppress, persist, push. It returns the stored
// notification, or nil when suppressed or when persisting failed.
func (n *Notifier) Notify(ctx context.Context, t Trigger) *model.Notification {
	defer logger.DeferLogDuration("notify.Notify", time.Now())()
	if t.Recipient == t.Actor || !t.Recipient.Valid() {
		return nil
	}
	actor := n.actorProfile(ctx, t.Actor)
	row := t.notification(t.Recipient, actor)
	if err := n.store.Create(ctx, row); err != nil {
		logger.Errorf("notify: persist %s for %s: %v", t.Action, t.Recipient, err)
		return nil
	}
	observability.NotificationsCreated.WithLabelValues(string(t.Action)).Inc()
	n.pushCount(ctx, t.Recipient)
	n.deliver(row, actor)
	return row
}

// FanOut notifies every recipient except the actor. Rows are inserted in multi-row batches of
// cfg.BatchSize; at most cfg.Concurrency batches run at once so the pool is never exhausted.
// A failed batch does not stop the others. It returns the number of notifications persisted
// and the joined batch errors.
func (n *Notifier) FanOut(ctx context.Context, t Trigger, recipients []model.ParticipantRef) (int, error) {
	defer logger.DeferLogDuration("notify.FanOut", time.Now())()
	seen := make(map[string]struct{}, len(recipients))
	targets := make([]model.ParticipantRef, 0, len(recipients))
	for _, r := range recipients {
		if r == t.Actor || !r.Valid() {
			continue
		}
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		seen[r.Key()] = struct{}{}
		targets = append(targets, r)
	}
	if len(targets) == 0 {
		return 0, nil
	}
	actor := n.actorProfile(ctx, t.Actor)

	var (
		mu      sync.Mutex
		created int
		errs    []error
	)
	// Батчи независимы: ошибка одного не отменяет остальные.
	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for start := 0; start < len(targets); start += n.cfg.BatchSize {
		chunk := targets[start:min(start+n.cfg.BatchSize, len(targets))]
		g.Go(func() error {
			began := time.Now()
			rows := make([]*model.Notification, len(chunk))
			for i, r := range chunk {
				rows[i] = t.notification(r, actor)
			}
			if err := n.store.CreateBatch(ctx, rows); err != nil {
				observability.FanoutBatchFailures.WithLabelValues(string(t.Action)).Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("fan-out batch of %d: %w", len(rows), err))
				mu.Unlock()
				return nil
			}
			observability.NotificationsCreated.WithLabelValues(string(t.Action)).Add(float64(len(rows)))
			counts, err := n.store.UnreadCounts(ctx, chunk)
			if err != nil {
				logger.Debugf("notify: unread counts for %d recipients: %v", len(chunk), err)
			}
			for _, row := range rows {
				if err == nil {
					n.emitCount(row.Recipient, counts[row.Recipient.Key()])
				}
				n.deliver(row, actor)
			}
			observability.FanoutBatchDuration.WithLabelValues(string(t.Action)).Observe(time.Since(began).Seconds())
			mu.Lock()
			created += len(rows)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	err := errors.Join(errs...)
	if err != nil {
		logger.Errorf("notify: %s fan-out persisted %d of %d: %v", t.Action, created, len(targets), err)
	}
	return created, err
}

func (n *Notifier) emitCount(recipient model.ParticipantRef, unread int64) {
	n.bus.EmitToUser(recipient, event.New(event.NotificationCountUpdate, event.CountUpdatePayload{Unread: unread}))
}

// deliver pushes the full payload to the recipient's private channel, falling back to web push.
// Failures are absorbed: the stored row stays the source of truth.
func (n *Notifier) deliver(row *model.Notification, actor model.Profile) {
	reached := n.bus.EmitToUser(row.Recipient, event.New(event.Notification, event.NotificationPayload{
		Notification: row,
		ActorName:    actor.Name,
		ActorAvatar:  actor.AvatarURL,
	}))
	if reached > 0 {
		observability.PushDeliveries.WithLabelValues("ws", "delivered").Inc()
		return
	}
	observability.PushDeliveries.WithLabelValues("ws", "offline").Inc()
	if n.push == nil {
		return
	}
	msg := push.Message{
		Title: actor.Name,
		Body:  webPushBody(row),
		Data: map[string]string{
			"notification_id": fmt.Sprint(row.ID),
			"action":          string(row.ActionType),
			"target_type":     row.TargetType,
			"target_id":       fmt.Sprint(row.TargetID),
		},
	}
	owner := row.Recipient.Key()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pctx, cancel := context.WithTimeout(context.Background(), webPushTimeout)
		defer cancel()
		result := "delivered"
		if n.push.Notify(pctx, owner, msg) == 0 {
			result = "skipped"
		}
		observability.PushDeliveries.WithLabelValues("webpush", result).Inc()
	}()
}

// Wait blocks until in-flight web pushes finish (shutdown and tests).
func (n *Notifier) Wait() { n.wg.Wait() }

func webPushBody(row *model.Notification) string {
	if s, ok := row.Metadata["snippet"].(string); ok && s != "" {
		return s
	}
	if s, ok := row.Metadata["title"].(string); ok && s != "" {
		return s
	}
	switch row.ActionType {
	case model.ActionMessageSent:
		return "Новое сообщение"
	case model.ActionReactionAdded:
		return "Новая реакция"
	case model.ActionAlertPosted:
		return "Оповещение рядом с вами"
	}
	return ""
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLen {
		return text
	}
	return string(r[:snippetLen-3]) + "..."
}

// List returns the recipient's notifications newest first.
// limit defaults to 20 and is capped at 100.
func (n *Notifier) List(ctx context.Context, recipient model.ParticipantRef, limit, offset int) ([]model.Notification, error) {
	if !recipient.Valid() {
		return nil, invalid("recipient %s", recipient)
	}
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if limit > maxNotificationPage {
		limit = maxNotificationPage
	}
	if offset < 0 {
		offset = 0
	}
	list, err := n.store.List(ctx, recipient, limit, offset)
	if err != nil {
		return nil, storeErr("notifications.List", err)
	}
	return list, nil
}

func (n *Notifier) UnreadCount(ctx context.Context, recipient model.ParticipantRef) (int64, error) {
	if !recipient.Valid() {
		return 0, invalid("recipient %s", recipient)
	}
	c, err := n.store.UnreadCount(ctx, recipient)
	if err != nil {
		return 0, storeErr("notifications.UnreadCount", err)
	}
	return c, nil
}

// MarkRead flips one notification to read. There is no way back to unread.
func (n *Notifier) MarkRead(ctx context.Context, recipient model.ParticipantRef, id int64) error {
	if id <= 0 {
		return invalid("notification id %d", id)
	}
	if err := n.store.MarkRead(ctx, recipient, id); err != nil {
		return storeErr("notifications.MarkRead", err)
	}
	n.pushCount(ctx, recipient)
	return nil
}

func (n *Notifier) MarkAllRead(ctx context.Context, recipient model.ParticipantRef) (int64, error) {
	if !recipient.Valid() {
		return 0, invalid("recipient %s", recipient)
	}
	changed, err := n.store.MarkAllRead(ctx, recipient)
	if err != nil {
		return 0, storeErr("notifications.MarkAllRead", err)
	}
	if changed > 0 {
		n.pushCount(ctx, recipient)
	}
	return changed, nil
}

// pushCount refreshes the badge on the recipient's other sessions.
func (n *Notifier) pushCount(ctx context.Context, recipient model.ParticipantRef) {
	unread, err := n.store.UnreadCount(ctx, recipient)
	if err != nil {
		logger.Debugf("notify: unread count %s: %v", recipient, err)
		return
	}
	n.emitCount(recipient, unread)
}

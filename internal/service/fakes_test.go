package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/localhub/internal/blob"
	"github.com/localhub/internal/event"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/push"
	"github.com/localhub/internal/repository"
	"github.com/localhub/internal/sanitize"
	"github.com/localhub/internal/storage/memory"
)

type fakeMessages struct {
	mu       sync.Mutex
	nextID   int64
	nextMed  int64
	clock    time.Time
	rows     map[int64]*model.Message
	failNext error
	// reactions, when set, lose the rows of a deleted message like the foreign key cascade.
	reactions *fakeReactions
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: map[int64]*model.Message{}, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	c.Media = append([]model.MediaRef{}, m.Media...)
	return &c
}

func (f *fakeMessages) Append(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}
	if m.ReplyToID != nil {
		if _, ok := f.rows[*m.ReplyToID]; !ok {
			return repository.ErrNotFound
		}
	}
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	m.ID, m.CreatedAt = f.nextID, f.clock
	for i := range m.Media {
		f.nextMed++
		m.Media[i].ID = f.nextMed
	}
	if m.Media == nil {
		m.Media = []model.MediaRef{}
	}
	f.rows[m.ID] = cloneMessage(m)
	return nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneMessage(m)
	c.ReplyTo = nil
	return c, nil
}

func (f *fakeMessages) ListByRoom(ctx context.Context, roomKey string, filter model.ProductFilter) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.rows {
		if m.RoomKey == roomKey && sameProduct(m.ProductID, filter.ProductID) {
			c := cloneMessage(m)
			c.ReplyTo = nil
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMessages) Previews(ctx context.Context, ids []int64) (map[int64]model.ReplyPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]model.ReplyPreview{}
	for _, id := range ids {
		if m, ok := f.rows[id]; ok {
			out[id] = model.ReplyPreview{ID: id, Sender: m.Sender, Text: m.Text}
		}
	}
	return out, nil
}

func (f *fakeMessages) Edit(ctx context.Context, id int64, text string, removeIDs []int64, add []model.MediaRef, at time.Time) ([]model.MediaRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	drop := map[int64]bool{}
	for _, r := range removeIDs {
		drop[r] = true
	}
	var kept, removed []model.MediaRef
	for _, md := range m.Media {
		if drop[md.ID] {
			removed = append(removed, md)
		} else {
			kept = append(kept, md)
		}
	}
	for _, md := range add {
		f.nextMed++
		md.ID = f.nextMed
		kept = append(kept, md)
	}
	m.Text, m.Media, m.EditedAt = text, kept, &at
	return removed, nil
}

func (f *fakeMessages) Delete(ctx context.Context, id int64) ([]model.MediaRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(f.rows, id)
	if f.reactions != nil {
		f.reactions.dropMessage(id)
	}
	return m.Media, nil
}

func (f *fakeMessages) MarkRead(ctx context.Context, roomKey string, recipient model.ParticipantRef, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.rows {
		if m.RoomKey == roomKey && m.Recipient == recipient && m.ReadAt == nil {
			t := at
			m.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) UnreadCount(ctx context.Context, recipient model.ParticipantRef, roomKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.rows {
		if m.Recipient == recipient && m.ReadAt == nil && (roomKey == "" || m.RoomKey == roomKey) {
			n++
		}
	}
	return n, nil
}

// InUse answers reference checks from the stored rows, like the media repository does.
func (f *fakeMessages) InUse(ctx context.Context, refs []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, ref := range refs {
		for _, m := range f.rows {
			for _, md := range m.Media {
				if md.URL == ref {
					out[ref] = true
				}
			}
		}
	}
	return out, nil
}

type reactionKey struct {
	messageID, userID int64
	emoji             string
}

// fakeReactions enforces uniqueness the way the primary key does.
type fakeReactions struct {
	mu   sync.Mutex
	rows map[reactionKey]struct{}
	msgs *fakeMessages
}

func newFakeReactions(msgs *fakeMessages) *fakeReactions {
	return &fakeReactions{rows: map[reactionKey]struct{}{}, msgs: msgs}
}

func (f *fakeReactions) Add(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	if _, err := f.msgs.GetByID(ctx, messageID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := f.rows[k]; ok {
		return false, nil
	}
	f.rows[k] = struct{}{}
	return true, nil
}

func (f *fakeReactions) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := f.rows[k]; !ok {
		return false, nil
	}
	delete(f.rows, k)
	return true, nil
}

func (f *fakeReactions) ListByMessages(ctx context.Context, ids []int64) (map[int64][]model.UserReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64][]model.UserReaction{}
	for _, id := range ids {
		for k := range f.rows {
			if k.messageID == id {
				out[id] = append(out[id], model.UserReaction{UserID: k.userID, Emoji: k.emoji})
			}
		}
	}
	return out, nil
}

func (f *fakeReactions) dropMessage(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.rows {
		if k.messageID == id {
			delete(f.rows, k)
		}
	}
}

func (f *fakeReactions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeConversations returns canned summaries. With msgs set, unread counts are read from the
// message rows at call time; entered/release let a test hold a read in flight.
type fakeConversations struct {
	mu       sync.Mutex
	calls    int
	direct   []model.ConversationSummary
	product  []model.ConversationSummary
	business []model.ConversationSummary
	msgs     *fakeMessages
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeConversations) hit() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeConversations) Direct(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	f.hit()
	out := append([]model.ConversationSummary{}, f.direct...)
	if f.msgs != nil {
		for i := range out {
			n, _ := f.msgs.UnreadCount(ctx, p, out[i].RoomKey)
			out[i].UnreadCount = int(n)
		}
	}
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return out, nil
}

func (f *fakeConversations) Product(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	f.hit()
	return append([]model.ConversationSummary{}, f.product...), nil
}

func (f *fakeConversations) Business(ctx context.Context, id int64) ([]model.ConversationSummary, error) {
	f.hit()
	return append([]model.ConversationSummary{}, f.business...), nil
}

type fakeNotifications struct {
	mu         sync.Mutex
	nextID     int64
	rows       []*model.Notification
	batchCalls int
	createCall int
	countCalls int
	// failBatch makes the n-th CreateBatch call (1-based) fail.
	failBatch int
}

func (f *fakeNotifications) Create(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCall++
	f.nextID++
	n.ID, n.CreatedAt = f.nextID, time.Now()
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeNotifications) CreateBatch(ctx context.Context, ns []*model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchCalls == f.failBatch {
		return errors.New("connection reset")
	}
	for _, n := range ns {
		f.nextID++
		n.ID, n.CreatedAt = f.nextID, time.Now()
		f.rows = append(f.rows, n)
	}
	return nil
}

func (f *fakeNotifications) forRecipient(r model.ParticipantRef) []*model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Notification
	for _, n := range f.rows {
		if n.Recipient == r {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeNotifications) List(ctx context.Context, r model.ParticipantRef, limit, offset int) ([]model.Notification, error) {
	rows := f.forRecipient(r)
	var out []model.Notification
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, *rows[i])
	}
	if offset >= len(out) {
		return []model.Notification{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeNotifications) UnreadCount(ctx context.Context, r model.ParticipantRef) (int64, error) {
	var n int64
	for _, row := range f.forRecipient(r) {
		if !row.IsRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) UnreadCounts(ctx context.Context, rs []model.ParticipantRef) (map[string]int64, error) {
	f.mu.Lock()
	f.countCalls++
	f.mu.Unlock()
	out := map[string]int64{}
	for _, r := range rs {
		if n, _ := f.UnreadCount(ctx, r); n > 0 {
			out[r.Key()] = n
		}
	}
	return out, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, r model.ParticipantRef, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.ID == id && n.Recipient == r {
			n.IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, r model.ParticipantRef) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.rows {
		if row.Recipient == r && !row.IsRead {
			row.IsRead = true
			n++
		}
	}
	return n, nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	calls    int
	profiles map[string]model.Profile
	products map[int64]model.ProductInfo
}

func (f *fakeProfiles) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		profiles: map[string]model.Profile{
			"user_4":     {Ref: model.User(4), Name: "Anna", AvatarURL: "/a/4.png"},
			"user_9":     {Ref: model.User(9), Name: "Boris"},
			"business_7": {Ref: model.Business(7), Name: "Corner Shop", AvatarURL: "/b/7.png"},
		},
		products: map[int64]model.ProductInfo{
			22: {ID: 22, BusinessID: 7, Title: "Bike", ThumbnailURL: "/p/22.jpg"},
			23: {ID: 23, BusinessID: 8, Title: "Lamp"},
		},
	}
}

func (f *fakeProfiles) Profiles(ctx context.Context, refs []model.ParticipantRef) (map[string]model.Profile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := map[string]model.Profile{}
	for _, r := range refs {
		if p, ok := f.profiles[r.Key()]; ok {
			out[r.Key()] = p
		}
	}
	return out, nil
}

func (f *fakeProfiles) Product(ctx context.Context, id int64) (*model.ProductInfo, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) Products(ctx context.Context, ids []int64) (map[int64]model.ProductInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := map[int64]model.ProductInfo{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// fakeBlobs knows who uploaded each ref; unknown refs were never issued.
type fakeBlobs struct {
	mu       sync.Mutex
	uploaded map[string]string
	deleted  []string
}

func (f *fakeBlobs) upload(owner model.ParticipantRef, refs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range refs {
		f.uploaded[ref] = owner.Key()
	}
}

func (f *fakeBlobs) Claim(ctx context.Context, owner, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	who, ok := f.uploaded[ref]
	if !ok {
		return "", blob.ErrNotFound
	}
	if who != owner {
		return "", blob.ErrNotOwner
	}
	return ref, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

type emitted struct {
	target string
	ev     event.Envelope
}

// recordingBus records every emit; online lists participants with a live session.
type recordingBus struct {
	mu     sync.Mutex
	rooms  []emitted
	users  []emitted
	online map[string]bool
}

func newRecordingBus() *recordingBus { return &recordingBus{online: map[string]bool{}} }

func (b *recordingBus) EmitToRoom(roomKey string, ev event.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, emitted{roomKey, ev})
}

func (b *recordingBus) EmitToUser(ref model.ParticipantRef, ev event.Envelope) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, emitted{ref.Key(), ev})
	if b.online[ref.Key()] {
		return 1
	}
	return 0
}

func (b *recordingBus) Join(sessionID, roomKey string) bool  { return true }
func (b *recordingBus) Leave(sessionID, roomKey string) bool { return true }

func (b *recordingBus) roomEvents(t event.Type) []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emitted
	for _, e := range b.rooms {
		if e.ev.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBus) userEvents(key string, t event.Type) []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emitted
	for _, e := range b.users {
		if e.target == key && e.ev.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakePush struct {
	mu     sync.Mutex
	owners []string
}

func (f *fakePush) Notify(ctx context.Context, owner string, msg push.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
	return 1
}

type harness struct {
	msgs          *fakeMessages
	reactions     *fakeReactions
	convs         *fakeConversations
	notifications *fakeNotifications
	profiles      *fakeProfiles
	blobs         *fakeBlobs
	bus           *recordingBus
	push          *fakePush
	cache         *memory.Client
	notifier      *Notifier
	svc           *Messaging
}

func newHarness() *harness {
	h := &harness{
		msgs:          newFakeMessages(),
		convs:         &fakeConversations{},
		notifications: &fakeNotifications{},
		profiles:      newFakeProfiles(),
		blobs:         &fakeBlobs{uploaded: map[string]string{}},
		bus:           newRecordingBus(),
		push:          &fakePush{},
		cache:         memory.New(),
	}
	h.reactions = newFakeReactions(h.msgs)
	h.msgs.reactions = h.reactions
	h.blobs.upload(model.User(4), "/api/media/a.jpg", "/api/media/b.jpg", "/api/media/b.mp4", "/api/media/x.jpg")
	h.notifier = NewNotifier(h.notifications, h.profiles, h.bus, h.push, NotifierConfig{BatchSize: 2, Concurrency: 2})
	h.svc = NewMessaging(MessagingDeps{
		Messages:      h.msgs,
		Reactions:     h.reactions,
		Conversations: h.convs,
		Profiles:      h.profiles,
		Blobs:         h.blobs,
		Media:         h.msgs,
		Sanitizer:     sanitize.New(),
		Cache:         h.cache,
		CacheTTL:      time.Minute,
		Bus:           h.bus,
		Notifier:      h.notifier,
	})
	return h
}

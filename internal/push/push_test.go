package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localhub/internal/storage"
	"github.com/localhub/internal/storage/memory"
)

func browserSubscription(t *testing.T, endpoint string) storage.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	sub := storage.PushSubscription{Endpoint: endpoint}
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(auth)
	return sub
}

func newSender(t *testing.T, store storage.Store) *Sender {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewSender(store, pub, priv, "test@localhub")
}

func TestNotifyDeliversAndDropsGoneSubscriptions(t *testing.T) {
	var hits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer live.Close()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()

	ctx := context.Background()
	store := memory.New()
	s := newSender(t, store)
	require.NoError(t, s.Subscribe(ctx, "user_2", browserSubscription(t, live.URL+"/a")))
	require.NoError(t, s.Subscribe(ctx, "user_2", browserSubscription(t, gone.URL+"/b")))

	delivered := s.Notify(ctx, "user_2", Message{Title: "New message", Body: "hi"})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, int32(1), hits.Load())
	subs, err := store.PushSubscriptions(ctx, "user_2")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, live.URL+"/a", subs[0].Endpoint)
}

func TestDisabledSenderIsNoop(t *testing.T) {
	s := NewSender(memory.New(), "", "", "")
	assert.False(t, s.Enabled())
	assert.Empty(t, s.PublicKey())
	assert.Zero(t, s.Notify(context.Background(), "user_1", Message{Title: "x"}))
}

func TestEnsureVAPIDKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "vapid.json")

	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)

	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureVAPIDKeysReplacesBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"public_key":"abc","private_key":"def"}`), 0o600))

	keys, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NoError(t, keys.Validate())

	again, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, keys, again)
}

func TestVAPIDKeysValidate(t *testing.T) {
	assert.ErrorIs(t, VAPIDKeys{}.Validate(), ErrBadVAPIDKeys)
	assert.ErrorIs(t, VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}.Validate(), ErrBadVAPIDKeys)
}

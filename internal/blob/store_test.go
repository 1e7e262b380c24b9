package blob

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localhub/internal/model"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, pngHeader)
	return b
}

func TestPutServeDelete(t *testing.T) {
	s := New(t.TempDir(), 1<<20)
	data := pngBytes(2048)

	ref, err := s.Put(context.Background(), "user_4", "photo.png", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, model.MediaImage, ref.Type)
	assert.True(t, strings.HasPrefix(ref.URL, URLPrefix))

	name := strings.TrimPrefix(ref.URL, URLPrefix)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Serve(rec, name))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, data, rec.Body.Bytes())

	require.NoError(t, s.Delete(context.Background(), ref.URL))
	_, err = os.Stat(filepath.Join(s.Dir, name+".gz"))
	assert.True(t, os.IsNotExist(err))

	// повторное удаление: не ошибка
	require.NoError(t, s.Delete(context.Background(), ref.URL))
	assert.ErrorIs(t, s.Serve(httptest.NewRecorder(), name), ErrNotFound)
}

func TestPutVideo(t *testing.T) {
	s := New(t.TempDir(), 1<<20)
	head := append([]byte{0, 0, 0, 0x18}, []byte("ftypmp42")...)
	ref, err := s.Put(context.Background(), "user_4", "clip.mp4", bytes.NewReader(append(head, make([]byte, 100)...)))
	require.NoError(t, err)
	assert.Equal(t, model.MediaVideo, ref.Type)
}

func TestPutRejects(t *testing.T) {
	s := New(t.TempDir(), 4096)

	_, err := s.Put(context.Background(), "user_4", "run.sh", strings.NewReader("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrTypeNotAllowed)

	_, err = s.Put(context.Background(), "user_4", "fake.png", strings.NewReader("not a png at all"))
	assert.ErrorIs(t, err, ErrContentMismatch)

	_, err = s.Put(context.Background(), "user_4", "big.png", bytes.NewReader(pngBytes(8192)))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave no files")
}

func TestClaimChecksUploader(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 1<<20)
	s.BaseURL = "https://cdn.localhub.example"

	ref, err := s.Put(ctx, "user_9", "cat.png", bytes.NewReader(pngBytes(512)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref.URL, s.BaseURL+URLPrefix))
	relative := strings.TrimPrefix(ref.URL, s.BaseURL)

	got, err := s.Claim(ctx, "user_9", ref.URL)
	require.NoError(t, err)
	assert.Equal(t, ref.URL, got)
	got, err = s.Claim(ctx, "user_9", relative)
	require.NoError(t, err)
	assert.Equal(t, ref.URL, got, "relative form is canonicalised")

	_, err = s.Claim(ctx, "user_4", ref.URL)
	assert.ErrorIs(t, err, ErrNotOwner)

	for _, bad := range []string{
		"https://evil.example" + relative,
		URLPrefix + "missing.png",
		URLPrefix + "../secret.png",
		URLPrefix + "notes.txt",
		"",
	} {
		_, err = s.Claim(ctx, "user_9", bad)
		assert.ErrorIs(t, err, ErrNotFound, bad)
	}

	require.NoError(t, s.Delete(ctx, ref.URL))
	_, err = s.Claim(ctx, "user_9", ref.URL)
	assert.ErrorIs(t, err, ErrNotFound)
}

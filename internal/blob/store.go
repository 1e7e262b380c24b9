// Package blob хранит вложения сообщений на диске (сжатыми .gz) и возвращает стабильную ссылку.
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/localhub/internal/model"
)

// URLPrefix: путь, по которому вложения раздаются через API.
const URLPrefix = "/api/media/"

var (
	ErrTypeNotAllowed  = errors.New("file type not allowed")
	ErrContentMismatch = errors.New("file content does not match type")
	ErrTooLarge        = errors.New("file too large")
	ErrNotFound        = errors.New("file not found")
	ErrNotOwner        = errors.New("file uploaded by another participant")
)

// Разрешены только изображения и видео.
var mediaTypes = map[string]model.MediaType{
	".jpg": model.MediaImage, ".jpeg": model.MediaImage, ".png": model.MediaImage,
	".gif": model.MediaImage, ".webp": model.MediaImage, ".heic": model.MediaImage,
	".mp4": model.MediaVideo, ".mov": model.MediaVideo, ".webm": model.MediaVideo,
}

// Store сохраняет и удаляет блобы в каталоге Dir. Загрузивший записывается в заголовок gzip
// (поле Comment), поэтому отдельной таблицы владельцев нет.
type Store struct {
	Dir     string
	MaxSize int64
	// BaseURL (может быть пустым) добавляется к выданным ссылкам.
	BaseURL string
}

func New(dir string, maxSize int64) *Store {
	return &Store{Dir: dir, MaxSize: maxSize}
}

// TypeOf возвращает тип вложения по расширению имени файла.
func TypeOf(filename string) (model.MediaType, bool) {
	t, ok := mediaTypes[strings.ToLower(filepath.Ext(filename))]
	return t, ok
}

// Put сохраняет содержимое r под новым именем и возвращает ссылку на блоб. owner: ключ
// участника, загрузившего файл; только он может прикрепить блоб к сообщению.
func (s *Store) Put(ctx context.Context, owner, filename string, r io.Reader) (model.MediaRef, error) {
	// В ряде клиентов/прокси пробел в имени кодируется как "+".
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(filename, "+", " ")))
	mt, ok := mediaTypes[ext]
	if !ok {
		return model.MediaRef{}, ErrTypeNotAllowed
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return model.MediaRef{}, ErrContentMismatch
	}

	newName := uuid.New().String() + ext
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return model.MediaRef{}, fmt.Errorf("blob.Put mkdir: %w", err)
	}

	dstPath := filepath.Join(s.Dir, newName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return model.MediaRef{}, fmt.Errorf("blob.Put create: %w", err)
	}
	fail := func(err error) (model.MediaRef, error) {
		dst.Close()
		os.Remove(dstPath)
		return model.MediaRef{}, err
	}

	gz := gzip.NewWriter(dst)
	gz.Header.Name = newName
	gz.Header.Comment = owner
	if _, err := gz.Write(head); err != nil {
		gz.Close()
		return fail(fmt.Errorf("blob.Put write: %w", err))
	}
	var src io.Reader = r
	if s.MaxSize > 0 {
		src = io.LimitReader(r, s.MaxSize-int64(len(head))+1)
	}
	written, err := copyWithContext(ctx, gz, src)
	if err != nil {
		gz.Close()
		return fail(err)
	}
	if s.MaxSize > 0 && int64(len(head))+written > s.MaxSize {
		gz.Close()
		return fail(ErrTooLarge)
	}
	if err := gz.Close(); err != nil {
		return fail(fmt.Errorf("blob.Put gzip: %w", err))
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return model.MediaRef{}, fmt.Errorf("blob.Put close: %w", err)
	}

	return model.MediaRef{URL: s.BaseURL + URLPrefix + newName, Type: mt}, nil
}

// nameOf извлекает имя блоба из ссылки вида [BaseURL]/api/media/<name>.
func (s *Store) nameOf(ref string) (string, bool) {
	var name string
	switch {
	case s.BaseURL != "" && strings.HasPrefix(ref, s.BaseURL+URLPrefix):
		name = strings.TrimPrefix(ref, s.BaseURL+URLPrefix)
	case strings.HasPrefix(ref, URLPrefix):
		name = strings.TrimPrefix(ref, URLPrefix)
	default:
		return "", false
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", false
	}
	if _, ok := TypeOf(name); !ok {
		return "", false
	}
	return name, true
}

// Claim проверяет, что ref выдан этим хранилищем и загружен owner, и возвращает каноническую
// ссылку (с BaseURL). ErrNotFound: ссылка чужая или файла нет; ErrNotOwner: загрузил другой.
func (s *Store) Claim(_ context.Context, owner, ref string) (string, error) {
	name, ok := s.nameOf(ref)
	if !ok {
		return "", ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.Dir, name+".gz"))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("blob.Claim: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("blob.Claim gzip: %w", err)
	}
	defer gz.Close()
	if owner == "" || gz.Header.Comment != owner {
		return "", ErrNotOwner
	}
	return s.BaseURL + URLPrefix + name, nil
}

// Delete удаляет блоб по ссылке, выданной Put. Отсутствующий файл не считается ошибкой.
func (s *Store) Delete(_ context.Context, ref string) error {
	name, ok := s.nameOf(ref)
	if !ok {
		return fmt.Errorf("blob.Delete: bad ref %q", ref)
	}
	for _, p := range []string{filepath.Join(s.Dir, name+".gz"), filepath.Join(s.Dir, name)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob.Delete: %w", err)
		}
	}
	return nil
}

// Serve отдаёт блоб по имени (разархивирует при отдаче).
func (s *Store) Serve(w http.ResponseWriter, filename string) error {
	filename = filepath.Base(filename)
	if ct := contentTypeByExt(filepath.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// Сначала сжатый .gz, иначе: обычный файл.
	if f, err := os.Open(filepath.Join(s.Dir, filename+".gz")); err == nil {
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("blob.Serve gzip: %w", err)
		}
		defer gz.Close()
		w.WriteHeader(http.StatusOK)
		_, err = io.Copy(w, gz)
		return err
	}
	if f, err := os.Open(filepath.Join(s.Dir, filename)); err == nil {
		defer f.Close()
		w.WriteHeader(http.StatusOK)
		_, err = io.Copy(w, f)
		return err
	}
	return ErrNotFound
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic", ".mp4", ".mov":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp"))
	case ".webm":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	}
	return false
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	}
	return ""
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}

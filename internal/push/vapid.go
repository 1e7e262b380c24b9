package push

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/localhub/internal/logger"
)

const defaultVAPIDKeysPath = "config/vapid.json"

var ErrBadVAPIDKeys = errors.New("malformed VAPID keys")

// VAPIDKeys: пара ключей P-256 в base64url (как их отдаёт webpush.GenerateVAPIDKeys).
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Validate проверяет форму ключей: публичный ключ это несжатая точка (65 байт, 0x04...),
// приватный 32 байта.
func (k VAPIDKeys) Validate() error {
	pub, err := decodeKey(k.PublicKey)
	if err != nil || len(pub) != 65 || pub[0] != 0x04 {
		return fmt.Errorf("%w: public key", ErrBadVAPIDKeys)
	}
	priv, err := decodeKey(k.PrivateKey)
	if err != nil || len(priv) != 32 {
		return fmt.Errorf("%w: private key", ErrBadVAPIDKeys)
	}
	return nil
}

// Браузеры и генераторы выдают ключи то с padding, то без.
func decodeKey(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// EnsureVAPIDKeys возвращает ключи из файла path (по умолчанию VAPID_KEYS_FILE или config/vapid.json).
// Если файла нет или ключи в нём битые, генерирует новую пару и пытается её сохранить:
// без сохранения ключи живут до рестарта, и подписки браузеров после него придётся обновить.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	path = keysPath(path)
	if keys, err := readKeys(path); err == nil {
		return keys, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Errorf("push: VAPID-ключи в %s не читаются, генерируем новые: %v", path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate VAPID keys: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := writeKeys(path, keys); err != nil {
		logger.Errorf("push: VAPID-ключи не сохранены в %s: %v", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", path)
	return keys, nil
}

func keysPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("VAPID_KEYS_FILE"); env != "" {
		return env
	}
	return defaultVAPIDKeysPath
}

func readKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadVAPIDKeys, err)
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	return &keys, nil
}

// writeKeys пишет во временный файл и переименовывает, чтобы второй процесс не прочитал половину.
func writeKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vapid-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// localStore is the development stand-in for OSS: buckets are directories
// under root, signed URLs are file URLs carrying an HMAC token.
type localStore struct {
	root    string
	signKey []byte
}

func newLocalStore(root string) localStore {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		// Deterministic fallback keeps the store usable; the token is
		// advisory for local development anyway.
		key = []byte("simplewhats-local-sign-key")
	}
	return localStore{root: root, signKey: key}
}

func (s localStore) bucketDir(bucket string) string {
	return filepath.Join(s.root, filepath.FromSlash(bucket))
}

func (s localStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketDir(bucket), filepath.FromSlash(key))
}

func (s localStore) EnsureBucket(ctx context.Context, name string) error {
	return os.MkdirAll(s.bucketDir(name), 0o755)
}

func (s localStore) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_ = contentType
	p := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	// Best-effort atomic write.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s localStore) SignURL(ctx context.Context, bucket, key string, expirySeconds int) (string, error) {
	if expirySeconds <= 0 {
		expirySeconds = DefaultSignedSeconds
	}
	p := s.objectPath(bucket, key)
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	expires := time.Now().Add(time.Duration(expirySeconds) * time.Second).Unix()
	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s/%s:%d", bucket, key, expires)
	token := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("file://%s?expires=%d&token=%s", filepath.ToSlash(abs), expires, token), nil
}

func (s localStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(s.objectPath(bucket, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Package storage is the object-storage gateway: bucket provisioning,
// size-limited uploads and time-limited signed URLs, backed by either
// Aliyun OSS or a local directory.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

const (
	// Per-bucket object size caps. OSS has no bucket-level size limit, so
	// these are enforced at upload time.
	AvatarMaxBytes     = 10 << 20
	AttachmentMaxBytes = 50 << 20

	DefaultSignedSeconds = 3600
)

type Config struct {
	Provider        string // "aliyun" | "local"
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	LocalDir        string
}

type ObjectStore interface {
	EnsureBucket(ctx context.Context, name string) error
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
	SignURL(ctx context.Context, bucket, key string, expirySeconds int) (string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

func NewObjectStore(cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		if strings.TrimSpace(cfg.LocalDir) == "" {
			return nil, errors.New("SW_OSS_LOCAL_DIR is required when SW_OSS_PROVIDER=local")
		}
		return newLocalStore(cfg.LocalDir), nil
	case "aliyun":
		if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
			return nil, errors.New("missing OSS config for aliyun provider")
		}
		client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
		if err != nil {
			return nil, err
		}
		return aliyunStore{client: client}, nil
	default:
		return nil, errors.New("unsupported OSS provider (set SW_OSS_PROVIDER=aliyun|local)")
	}
}

type aliyunStore struct {
	client *oss.Client
}

func (s aliyunStore) EnsureBucket(ctx context.Context, name string) error {
	exists, err := s.client.IsBucketExist(name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// Private: reads go through signed URLs only.
	return s.client.CreateBucket(name, oss.ACL(oss.ACLPrivate))
}

func (s aliyunStore) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	b, err := s.client.Bucket(bucket)
	if err != nil {
		return err
	}
	opts := []oss.Option{}
	if strings.TrimSpace(contentType) != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	return b.PutObject(key, bytes.NewReader(body), opts...)
}

func (s aliyunStore) SignURL(ctx context.Context, bucket, key string, expirySeconds int) (string, error) {
	b, err := s.client.Bucket(bucket)
	if err != nil {
		return "", err
	}
	return b.SignURL(key, oss.HTTPGet, int64(expirySeconds))
}

func (s aliyunStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	b, err := s.client.Bucket(bucket)
	if err != nil {
		return false, err
	}
	return b.IsObjectExist(key)
}

// Gateway composes the store with the two product buckets.
type Gateway struct {
	store                ObjectStore
	avatarsBucket        string
	attachmentsBucket    string
	defaultSignedSeconds int
}

func NewGateway(store ObjectStore, avatarsBucket, attachmentsBucket string, defaultSignedSeconds int) *Gateway {
	if avatarsBucket == "" {
		avatarsBucket = "avatars"
	}
	if attachmentsBucket == "" {
		attachmentsBucket = "attachments"
	}
	if defaultSignedSeconds <= 0 {
		defaultSignedSeconds = DefaultSignedSeconds
	}
	return &Gateway{
		store:                store,
		avatarsBucket:        avatarsBucket,
		attachmentsBucket:    attachmentsBucket,
		defaultSignedSeconds: defaultSignedSeconds,
	}
}

func (g *Gateway) AvatarsBucket() string     { return g.avatarsBucket }
func (g *Gateway) AttachmentsBucket() string { return g.attachmentsBucket }

// EnsureBuckets idempotently provisions both buckets. Existing buckets are
// never an error.
func (g *Gateway) EnsureBuckets(ctx context.Context) error {
	if err := g.store.EnsureBucket(ctx, g.avatarsBucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", g.avatarsBucket, err)
	}
	if err := g.store.EnsureBucket(ctx, g.attachmentsBucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", g.attachmentsBucket, err)
	}
	return nil
}

type UploadParams struct {
	Bucket      string
	Path        string
	Data        []byte
	ContentType string
	Upsert      bool
	// SignedSeconds <= 0 means the gateway default.
	SignedSeconds int
}

type UploadResult struct {
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

func (g *Gateway) maxBytes(bucket string) int64 {
	switch bucket {
	case g.avatarsBucket:
		return AvatarMaxBytes
	case g.attachmentsBucket:
		return AttachmentMaxBytes
	default:
		return AttachmentMaxBytes
	}
}

// Upload stores a blob and mints a signed URL for it. Upload failure is
// fatal for the operation: no retry here.
func (g *Gateway) Upload(ctx context.Context, p UploadParams) (UploadResult, error) {
	if p.Bucket != g.avatarsBucket && p.Bucket != g.attachmentsBucket {
		return UploadResult{}, fmt.Errorf("unknown bucket %q", p.Bucket)
	}
	if limit := g.maxBytes(p.Bucket); int64(len(p.Data)) > limit {
		return UploadResult{}, fmt.Errorf("object exceeds bucket %s limit of %d bytes", p.Bucket, limit)
	}
	key := strings.TrimLeft(strings.TrimSpace(p.Path), "/")
	if key == "" {
		return UploadResult{}, errors.New("empty object path")
	}

	if !p.Upsert {
		exists, err := g.store.Exists(ctx, p.Bucket, key)
		if err != nil {
			return UploadResult{}, err
		}
		if exists {
			return UploadResult{}, fmt.Errorf("object %s already exists in %s", key, p.Bucket)
		}
	}

	if err := g.store.Put(ctx, p.Bucket, key, p.ContentType, p.Data); err != nil {
		return UploadResult{}, err
	}

	seconds := p.SignedSeconds
	if seconds <= 0 {
		seconds = g.defaultSignedSeconds
	}
	signed, err := g.store.SignURL(ctx, p.Bucket, key, seconds)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Path: key, SignedURL: signed}, nil
}

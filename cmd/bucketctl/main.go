package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"simplewhats/internal/storage"
)

// bucketctl provisions the avatars and attachments buckets. Run it once
// against a fresh OSS account or local directory before starting the api.
func main() {
	var (
		provider        = flag.String("provider", strings.TrimSpace(os.Getenv("SW_OSS_PROVIDER")), "Object store provider (aliyun|local)")
		endpoint        = flag.String("endpoint", strings.TrimSpace(os.Getenv("SW_OSS_ENDPOINT")), "OSS endpoint, e.g. https://oss-cn-hangzhou.aliyuncs.com")
		accessKeyID     = flag.String("access-key-id", strings.TrimSpace(os.Getenv("SW_OSS_ACCESS_KEY_ID")), "OSS access key id")
		accessKeySecret = flag.String("access-key-secret", strings.TrimSpace(os.Getenv("SW_OSS_ACCESS_KEY_SECRET")), "OSS access key secret")
		localDir        = flag.String("local-dir", strings.TrimSpace(os.Getenv("SW_OSS_LOCAL_DIR")), "Root directory for the local provider")

		avatarsBucket     = flag.String("avatars-bucket", getenvDefault("SW_OSS_AVATARS_BUCKET", "avatars"), "Avatars bucket name")
		attachmentsBucket = flag.String("attachments-bucket", getenvDefault("SW_OSS_ATTACHMENTS_BUCKET", "attachments"), "Attachments bucket name")

		apply = flag.Bool("apply", false, "Create missing buckets")
	)
	flag.Parse()

	if !*apply {
		log.Fatal("no action specified (use -apply)")
	}

	objects, err := storage.NewObjectStore(storage.Config{
		Provider:        *provider,
		Endpoint:        *endpoint,
		AccessKeyID:     *accessKeyID,
		AccessKeySecret: *accessKeySecret,
		LocalDir:        *localDir,
	})
	if err != nil {
		log.Fatalf("object store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gateway := storage.NewGateway(objects, *avatarsBucket, *attachmentsBucket, 0)
	if err := gateway.EnsureBuckets(ctx); err != nil {
		log.Fatalf("ensure buckets: %v", err)
	}
	log.Printf("buckets ready (avatars=%s attachments=%s provider=%s)", *avatarsBucket, *attachmentsBucket, *provider)
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

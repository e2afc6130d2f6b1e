package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	// Identity provider (GoTrue-compatible auth service).
	AuthURL        string
	AuthAnonKey    string
	AuthServiceKey string

	// Shared secret trusted on inbound automation callbacks and the
	// x-admin-secret override.
	WebhookSecret string

	// Automation platform (Make).
	MakeAPIToken     string
	MakeBaseURL      string
	OutboxWebhookURL string

	// Avatar provider fallback.
	AvatarURLTemplate string
	AvatarClientToken string

	SignedURLSeconds int

	OSSProvider          string // "aliyun" | "local"
	OSSEndpoint          string
	OSSAccessKeyID       string
	OSSAccessKeySecret   string
	OSSLocalDir          string
	OSSAvatarsBucket     string
	OSSAttachmentsBucket string

	EventsAMQPURL  string
	EventsExchange string
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	signedSeconds := getenvIntDefault("SW_SIGNED_URL_SECONDS", 3600)
	if signedSeconds < 60 {
		signedSeconds = 60
	}
	if signedSeconds > 86400 {
		signedSeconds = 86400
	}

	cfg := Config{
		DatabaseURL: os.Getenv("SW_DATABASE_URL"),
		HTTPAddr:    getenvDefault("SW_HTTP_ADDR", ":8080"),

		AuthURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("SW_AUTH_URL")), "/"),
		AuthAnonKey:    strings.TrimSpace(os.Getenv("SW_AUTH_ANON_KEY")),
		AuthServiceKey: strings.TrimSpace(os.Getenv("SW_AUTH_SERVICE_KEY")),

		WebhookSecret: strings.TrimSpace(os.Getenv("SW_WEBHOOK_SECRET")),

		MakeAPIToken:     strings.TrimSpace(os.Getenv("SW_MAKE_API_TOKEN")),
		MakeBaseURL:      strings.TrimRight(getenvDefault("SW_MAKE_BASE_URL", "https://us1.make.com"), "/"),
		OutboxWebhookURL: strings.TrimSpace(os.Getenv("SW_OUTBOX_WEBHOOK_URL")),

		AvatarURLTemplate: strings.TrimSpace(os.Getenv("SW_AVATAR_URL_TEMPLATE")),
		AvatarClientToken: strings.TrimSpace(os.Getenv("SW_AVATAR_CLIENT_TOKEN")),

		SignedURLSeconds: signedSeconds,

		OSSProvider:          strings.TrimSpace(os.Getenv("SW_OSS_PROVIDER")),
		OSSEndpoint:          strings.TrimSpace(os.Getenv("SW_OSS_ENDPOINT")),
		OSSAccessKeyID:       strings.TrimSpace(os.Getenv("SW_OSS_ACCESS_KEY_ID")),
		OSSAccessKeySecret:   strings.TrimSpace(os.Getenv("SW_OSS_ACCESS_KEY_SECRET")),
		OSSLocalDir:          strings.TrimSpace(os.Getenv("SW_OSS_LOCAL_DIR")),
		OSSAvatarsBucket:     getenvDefault("SW_OSS_AVATARS_BUCKET", "avatars"),
		OSSAttachmentsBucket: getenvDefault("SW_OSS_ATTACHMENTS_BUCKET", "attachments"),

		EventsAMQPURL:  strings.TrimSpace(os.Getenv("SW_EVENTS_AMQP_URL")),
		EventsExchange: getenvDefault("SW_EVENTS_EXCHANGE", "simplewhats.events"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("SW_DATABASE_URL is required")
	}
	if cfg.AuthURL == "" {
		return Config{}, errors.New("SW_AUTH_URL is required")
	}
	if cfg.AuthAnonKey == "" {
		return Config{}, errors.New("SW_AUTH_ANON_KEY is required")
	}
	if cfg.AuthServiceKey == "" {
		return Config{}, errors.New("SW_AUTH_SERVICE_KEY is required")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, errors.New("SW_WEBHOOK_SECRET is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

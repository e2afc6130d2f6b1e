package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"simplewhats/internal/avatar"
	"simplewhats/internal/config"
	"simplewhats/internal/events"
	"simplewhats/internal/httpapi"
	"simplewhats/internal/identity"
	"simplewhats/internal/relay"
	"simplewhats/internal/storage"
	"simplewhats/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	objects, err := storage.NewObjectStore(storage.Config{
		Provider:        cfg.OSSProvider,
		Endpoint:        cfg.OSSEndpoint,
		AccessKeyID:     cfg.OSSAccessKeyID,
		AccessKeySecret: cfg.OSSAccessKeySecret,
		LocalDir:        cfg.OSSLocalDir,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	gateway := storage.NewGateway(objects, cfg.OSSAvatarsBucket, cfg.OSSAttachmentsBucket, cfg.SignedURLSeconds)

	idp := identity.NewClient(identity.ClientOptions{
		BaseURL:    cfg.AuthURL,
		AnonKey:    cfg.AuthAnonKey,
		ServiceKey: cfg.AuthServiceKey,
	})

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.EventsAMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.EventsAMQPURL, cfg.EventsExchange, slog.Default())
		if err != nil {
			log.Fatalf("events: %v", err)
		}
		publisher = p
	}
	defer publisher.Close()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:    store.New(pool),
			Identity: idp,
			Tokens:   identity.NewResolver(idp),
			Storage:  gateway,
			Relay: relay.NewClient(relay.ClientOptions{
				BaseURL:  cfg.MakeBaseURL,
				APIToken: cfg.MakeAPIToken,
			}),
			Avatars: avatar.NewFetcher(cfg.AvatarURLTemplate, cfg.AvatarClientToken),
			Events:  publisher,

			WebhookSecret:    cfg.WebhookSecret,
			MakeAPIToken:     cfg.MakeAPIToken,
			OutboxWebhookURL: cfg.OutboxWebhookURL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

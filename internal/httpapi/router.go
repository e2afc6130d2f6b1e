package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(120, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	s := server{
		store:    d.Store,
		identity: d.Identity,
		tokens:   d.Tokens,
		storage:  d.Storage,
		relay:    d.Relay,
		avatars:  d.Avatars,
		events:   d.Events,

		webhookSecret:    d.WebhookSecret,
		makeAPIToken:     d.MakeAPIToken,
		outboxWebhookURL: d.OutboxWebhookURL,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/admin/bootstrap", s.handleAdminBootstrap)
		r.Post("/admin/promote", s.handleAdminPromote)
		r.Post("/admin/users/create", s.handleAdminCreateUser)

		r.Post("/auth/signin", s.handleSignIn)
		r.Get("/me", s.handleGetMe)

		r.Post("/conversations/{conversationID}/assign", s.handleAssignConversation)
		r.Post("/dev/seed/conversation", s.handleSeedConversation)

		r.Post("/inbox/avatar/sync", s.handleAvatarSync)
		r.Post("/inbox/message/status", s.handleMessageStatus)
		r.Post("/inbox/webhook", s.handleInboxWebhook)
		r.Post("/inbox/send", s.handleInboxSend)

		r.Get("/make/ping", s.handleMakePing)
		r.Post("/storage/test-upload", s.handleStorageTestUpload)
	})

	return r
}

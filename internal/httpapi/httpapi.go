// Package httpapi exposes the inbox backend over HTTP: admin provisioning,
// sign-in, conversation assignment, avatar sync, inbound webhook intake and
// outbound relay.
package httpapi

import (
	"context"
	"time"

	"simplewhats/internal/avatar"
	"simplewhats/internal/events"
	"simplewhats/internal/identity"
	"simplewhats/internal/relay"
	"simplewhats/internal/storage"
	"simplewhats/internal/store"
)

// DataStore is the slice of the relational store the handlers touch.
// Satisfied by *store.Store.
type DataStore interface {
	GetProfileByUserID(ctx context.Context, userID string) (store.Profile, error)
	UpsertProfile(ctx context.Context, p store.Profile) error

	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	AssignConversationAgent(ctx context.Context, conversationID, agentID string) error
	RecordAssignment(ctx context.Context, conversationID, agentID string, at time.Time) error
	CreateConversation(ctx context.Context, workspaceID string) (string, error)

	FindContactID(ctx context.Context, workspaceID, phone string) (string, error)
	UpdateContactAvatar(ctx context.Context, contactID, avatarPath string) error
	InsertContact(ctx context.Context, workspaceID, phone, avatarPath string) (string, error)

	InsertWebhookLog(ctx context.Context, e store.WebhookLogEntry) error
	WebhookLogExists(ctx context.Context, route, externalMessageID string) (bool, error)
}

// IdentityService is the identity-provider surface used here. Satisfied by
// *identity.Client.
type IdentityService interface {
	SignInWithPassword(ctx context.Context, email, password string) (identity.Session, error)
	AdminCreateUser(ctx context.Context, email, password, name string) (identity.User, error)
}

// TokenResolver maps bearer tokens to user ids. Satisfied by
// *identity.Resolver.
type TokenResolver interface {
	ResolveUserID(ctx context.Context, token string) (string, error)
}

// ObjectGateway is the object-storage surface. Satisfied by
// *storage.Gateway.
type ObjectGateway interface {
	EnsureBuckets(ctx context.Context) error
	Upload(ctx context.Context, p storage.UploadParams) (storage.UploadResult, error)
	AvatarsBucket() string
	AttachmentsBucket() string
}

// RelayClient is the automation-platform surface. Satisfied by
// *relay.Client.
type RelayClient interface {
	Ping(ctx context.Context) (relay.Result, error)
	Forward(ctx context.Context, url, secret string, payload []byte) (relay.Result, error)
}

// AvatarFetcher locates contact avatar images. Satisfied by
// *avatar.Fetcher.
type AvatarFetcher interface {
	Fetch(ctx context.Context, explicitURL, phone string) (avatar.Image, error)
}

type Deps struct {
	Store    DataStore
	Identity IdentityService
	Tokens   TokenResolver
	Storage  ObjectGateway
	Relay    RelayClient
	Avatars  AvatarFetcher
	Events   events.Publisher

	// WebhookSecret guards inbound automation callbacks and the
	// x-admin-secret override.
	WebhookSecret string
	// MakeAPIToken being empty turns /api/make/ping into a
	// server_misconfigured error.
	MakeAPIToken string
	// OutboxWebhookURL is where /api/inbox/send forwards payloads.
	OutboxWebhookURL string
}

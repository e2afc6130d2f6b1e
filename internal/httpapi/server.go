package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"simplewhats/internal/events"
	"simplewhats/internal/store"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type server struct {
	store    DataStore
	identity IdentityService
	tokens   TokenResolver
	storage  ObjectGateway
	relay    RelayClient
	avatars  AvatarFetcher
	events   events.Publisher

	webhookSecret    string
	makeAPIToken     string
	outboxWebhookURL string
}

// Route names as stored in webhook_logs; the dedup check matches on these
// exact strings.
const (
	routeAvatarSync    = "/api/inbox/avatar/sync"
	routeMessageStatus = "/api/inbox/message/status"
	routeInboxWebhook  = "/api/inbox/webhook"
	routeInboxSend     = "/api/inbox/send"
	routeMakePing      = "/api/make/ping"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// readBody drains the request body with a 1 MiB cap. Webhook payloads are
// logged verbatim, so the raw bytes are kept around.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return io.ReadAll(r.Body)
}

// decodeLenient parses JSON without rejecting unknown fields; absent or
// empty bodies decode to the zero value.
func decodeLenient(raw []byte, dst any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// secretOK compares a presented shared secret in constant time. Empty
// configured secrets never match.
func (s server) secretOK(presented string) bool {
	if s.webhookSecret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.webhookSecret)) == 1
}

// logWebhook appends an audit row. Failures are logged and returned;
// callers pick whether the handler outcome depends on it.
func (s server) logWebhook(ctx context.Context, e store.WebhookLogEntry) error {
	err := s.store.InsertWebhookLog(ctx, e)
	if err != nil {
		logError(ctx, "webhook log insert failed", err)
	}
	return err
}

// publishEvent is fire-and-forget: a broker outage must not fail the
// request that produced the event.
func (s server) publishEvent(ctx context.Context, eventType string, data any) {
	if s.events == nil {
		return
	}
	env := events.Envelope{
		Meta: events.Meta{
			ID:            uuid.NewString(),
			Type:          eventType,
			Producer:      "simplewhats-api",
			CorrelationID: middleware.GetReqID(ctx),
		},
		Data: data,
	}
	if err := s.events.Publish(ctx, eventType, env); err != nil {
		logError(ctx, "event publish failed", err)
	}
}

// requesterProfile resolves the bearer token on r to a profile. The bool
// reports whether a response was already written.
func (s server) requesterProfile(w http.ResponseWriter, r *http.Request) (store.Profile, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return store.Profile{}, false
	}
	userID, err := s.tokens.ResolveUserID(r.Context(), token)
	if err != nil || userID == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return store.Profile{}, false
	}
	p, err := s.store.GetProfileByUserID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return store.Profile{}, false
	}
	return p, true
}

func isElevatedRole(role string) bool {
	return role == store.RoleMaster || role == store.RoleAdmin
}

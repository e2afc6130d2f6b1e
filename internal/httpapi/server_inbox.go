package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"simplewhats/internal/events"
	"simplewhats/internal/relay"
	"simplewhats/internal/store"
)

type inboundWebhookBody struct {
	WorkspaceID       string `json:"workspaceId"`
	ExternalMessageID string `json:"externalMessageId"`
	Provider          string `json:"provider"`
}

// handleInboxWebhook ingests a provider callback: authenticate by shared
// secret, dedup on the external message id against the audit log, record
// the delivery. Message content processing happens elsewhere.
func (s server) handleInboxWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleInboundDelivery(w, r, routeInboxWebhook, events.TypeMessageReceived)
}

// handleMessageStatus records a delivery-status callback with the same
// secret/dedup policy as the inbound webhook.
func (s server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	s.handleInboundDelivery(w, r, routeMessageStatus, events.TypeMessageStatusChanged)
}

func (s server) handleInboundDelivery(w http.ResponseWriter, r *http.Request, route, eventType string) {
	if !s.secretOK(r.Header.Get(relay.SecretHeader)) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var body inboundWebhookBody
	if err := decodeLenient(raw, &body); err != nil {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			Route:   route,
			Status:  "invalid",
			Error:   "invalid_json",
			Payload: raw,
		})
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if body.ExternalMessageID == "" {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: body.WorkspaceID,
			Route:       route,
			Provider:    body.Provider,
			Status:      "invalid",
			Error:       "missing externalMessageId",
			Payload:     raw,
		})
		writeError(w, http.StatusBadRequest, "missing externalMessageId")
		return
	}

	// The audit log doubles as the dedup index; a read failure is treated
	// as "not seen" so a transient store error cannot drop a delivery.
	seen, err := s.store.WebhookLogExists(ctx, route, body.ExternalMessageID)
	if err != nil {
		logError(ctx, "webhook dedup lookup failed", err)
	}
	if seen {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID:       body.WorkspaceID,
			Route:             route,
			Provider:          body.Provider,
			ExternalMessageID: body.ExternalMessageID,
			Status:            "duplicate",
			Payload:           raw,
		})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deduped": true})
		return
	}

	if err := s.logWebhook(ctx, store.WebhookLogEntry{
		WorkspaceID:       body.WorkspaceID,
		Route:             route,
		Provider:          body.Provider,
		ExternalMessageID: body.ExternalMessageID,
		Status:            "received",
		Payload:           raw,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "log_failed")
		return
	}

	s.publishEvent(ctx, eventType, map[string]string{
		"workspace_id":        body.WorkspaceID,
		"provider":            body.Provider,
		"external_message_id": body.ExternalMessageID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleInboxSend relays an outbound payload to the automation platform's
// webhook, attaching the shared secret.
func (s server) handleInboxSend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var body struct {
		WorkspaceID string `json:"workspaceId"`
	}
	_ = decodeLenient(raw, &body)

	if s.outboxWebhookURL == "" {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: body.WorkspaceID,
			Route:       routeInboxSend,
			Status:      "invalid",
			Error:       "missing SW_OUTBOX_WEBHOOK_URL",
			Payload:     raw,
		})
		writeError(w, http.StatusInternalServerError, "server_misconfigured")
		return
	}

	res, err := s.relay.Forward(ctx, s.outboxWebhookURL, s.webhookSecret, raw)
	if err != nil {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: body.WorkspaceID,
			Route:       routeInboxSend,
			Status:      "error",
			Error:       err.Error(),
			Payload:     raw,
		})
		writeError(w, http.StatusBadGateway, "forward_failed")
		return
	}

	status := "forwarded"
	errText := ""
	if !res.OK {
		status = "error"
		errText = fmt.Sprintf("status=%d body=%s", res.Status, res.Body)
	}
	_ = s.logWebhook(ctx, store.WebhookLogEntry{
		WorkspaceID: body.WorkspaceID,
		Route:       routeInboxSend,
		Status:      status,
		Error:       errText,
		Payload:     raw,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": res.OK, "status": res.Status})
}

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"simplewhats/internal/store"
)

// handleMakePing health-checks the automation platform with the
// server-side API token and reports whatever comes back.
func (s server) handleMakePing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	if s.makeAPIToken == "" {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			Route:  routeMakePing,
			Status: "invalid",
			Error:  "missing SW_MAKE_API_TOKEN",
		})
		writeError(w, http.StatusInternalServerError, "server_misconfigured")
		return
	}

	res, err := s.relay.Ping(ctx)
	if err != nil {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			Route:  routeMakePing,
			Status: "error",
			Error:  err.Error(),
		})
		writeError(w, http.StatusBadGateway, "ping_failed")
		return
	}

	status := "success"
	errText := ""
	if !res.OK {
		status = "error"
		errText = fmt.Sprintf("status=%d body=%s", res.Status, res.Body)
	}
	_ = s.logWebhook(ctx, store.WebhookLogEntry{
		Route:   routeMakePing,
		Status:  status,
		Error:   errText,
		Payload: []byte(fmt.Sprintf(`{"status":%d}`, res.Status)),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     res.OK,
		"status": res.Status,
		"body":   res.Body,
	})
}

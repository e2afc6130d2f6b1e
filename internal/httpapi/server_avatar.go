package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"simplewhats/internal/avatar"
	"simplewhats/internal/relay"
	"simplewhats/internal/storage"
	"simplewhats/internal/store"
)

type avatarSyncRequest struct {
	WorkspaceID  string `json:"workspaceId"`
	ContactPhone string `json:"contactPhone"`
	AvatarURL    string `json:"avatarUrl"`
}

// handleAvatarSync fetches a contact's avatar (directly or via the
// provider-template fallback chain), stores it and points the contact row
// at the stored path. A contact without a locatable avatar is not an
// error: the response carries skipped instead. Every branch lands in the
// audit log.
func (s server) handleAvatarSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	raw, _ := readBody(w, r)
	var req avatarSyncRequest
	if err := decodeLenient(raw, &req); err != nil {
		req = avatarSyncRequest{}
	}

	if !s.secretOK(r.Header.Get(relay.SecretHeader)) {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "unauthorized",
			Error:       "invalid_secret",
			Payload:     raw,
		})
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if req.WorkspaceID == "" || req.ContactPhone == "" {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "invalid",
			Error:       "missing_fields",
			Payload:     raw,
		})
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	if err := s.storage.EnsureBuckets(ctx); err != nil {
		logError(ctx, "ensure buckets failed", err)
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "error",
			Error:       err.Error(),
			Payload:     raw,
		})
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	img, err := s.avatars.Fetch(ctx, req.AvatarURL, req.ContactPhone)
	if errors.Is(err, avatar.ErrNoAvatar) {
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "skipped",
			Error:       "no avatar available",
			Payload:     raw,
		})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true})
		return
	}
	if err != nil {
		code := "download_error"
		var statusErr *avatar.StatusError
		if errors.As(err, &statusErr) {
			code = "download_failed"
		}
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "error",
			Error:       err.Error(),
			Payload:     raw,
		})
		writeError(w, http.StatusBadGateway, code)
		return
	}

	path := storage.AvatarPath(req.WorkspaceID, req.ContactPhone)
	upload, err := s.storage.Upload(ctx, storage.UploadParams{
		Bucket:        s.storage.AvatarsBucket(),
		Path:          path,
		Data:          img.Data,
		ContentType:   img.ContentType,
		Upsert:        true,
		SignedSeconds: 600,
	})
	if err == nil {
		err = s.syncContactRow(ctx, req.WorkspaceID, req.ContactPhone, upload.Path)
	}
	if err != nil {
		logError(ctx, "avatar store failed", err)
		_ = s.logWebhook(ctx, store.WebhookLogEntry{
			WorkspaceID: req.WorkspaceID,
			Route:       routeAvatarSync,
			Status:      "error",
			Error:       err.Error(),
			Payload:     raw,
		})
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	_ = s.logWebhook(ctx, store.WebhookLogEntry{
		WorkspaceID: req.WorkspaceID,
		Route:       routeAvatarSync,
		Status:      "stored",
		Payload:     raw,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"path":      upload.Path,
		"signedUrl": upload.SignedURL,
	})
}

// syncContactRow locates or creates the contact and points it at the
// stored avatar. The check-then-insert is not atomic; concurrent syncs for
// one phone number can race, which is accepted.
func (s server) syncContactRow(ctx context.Context, workspaceID, phone, avatarPath string) error {
	contactID, err := s.store.FindContactID(ctx, workspaceID, phone)
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.store.InsertContact(ctx, workspaceID, phone, avatarPath)
		return err
	}
	if err != nil {
		return err
	}
	return s.store.UpdateContactAvatar(ctx, contactID, avatarPath)
}

package httpapi

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"simplewhats/internal/storage"
)

// 1x1 transparent PNG, the smallest well-formed image the avatar bucket
// will accept.
const tinyPNGHex = "89504e470d0a1a0a0000000d4948445200000001000000010806000000" +
	"1f15c4890000000d4944415478da63fcffffff7f0300060005fe02fea73581000000" +
	"0049454e44ae426082"

// handleStorageTestUpload writes one fixture object into each bucket and
// returns the signed URLs. Meant for verifying bucket wiring after deploy.
func (s server) handleStorageTestUpload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var body struct {
		WorkspaceID    string `json:"workspaceId"`
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		ContactID      string `json:"contactId"`
	}
	if err := decodeLenient(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if body.WorkspaceID == "" {
		body.WorkspaceID = "00000000-0000-0000-0000-000000000000"
	}
	if body.ConversationID == "" {
		body.ConversationID = "11111111-1111-1111-1111-111111111111"
	}
	if body.MessageID == "" {
		body.MessageID = "22222222-2222-2222-2222-222222222222"
	}
	if body.ContactID == "" {
		body.ContactID = "33333333-3333-3333-3333-333333333333"
	}

	if err := s.storage.EnsureBuckets(ctx); err != nil {
		logError(ctx, "ensure buckets failed", err)
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}

	attachment, err := s.storage.Upload(ctx, storage.UploadParams{
		Bucket:        s.storage.AttachmentsBucket(),
		Path:          storage.AttachmentPath(body.WorkspaceID, body.ConversationID, body.MessageID, "hello.txt"),
		Data:          []byte("simplewhats storage test\n"),
		ContentType:   "text/plain",
		Upsert:        true,
		SignedSeconds: 600,
	})
	if err != nil {
		logError(ctx, "attachment test upload failed", err)
		writeError(w, http.StatusInternalServerError, "upload_failed")
		return
	}

	png, err := hex.DecodeString(tinyPNGHex)
	if err != nil {
		logError(ctx, "decode test png", err)
		writeError(w, http.StatusInternalServerError, "upload_failed")
		return
	}
	avatar, err := s.storage.Upload(ctx, storage.UploadParams{
		Bucket:        s.storage.AvatarsBucket(),
		Path:          storage.AvatarPath(body.WorkspaceID, body.ContactID),
		Data:          png,
		ContentType:   "image/png",
		Upsert:        true,
		SignedSeconds: 600,
	})
	if err != nil {
		logError(ctx, "avatar test upload failed", err)
		writeError(w, http.StatusInternalServerError, "upload_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"attachments": attachment,
		"avatar":      avatar,
	})
}

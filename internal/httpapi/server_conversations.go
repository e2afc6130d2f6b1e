package httpapi

import (
	"context"
	"net/http"
	"time"

	"simplewhats/internal/events"

	"github.com/go-chi/chi/v5"
)

type assignConversationRequest struct {
	AgentID string `json:"agentId"`
}

// handleAssignConversation points a conversation at an agent and appends an
// assignment-history row. Master/admin only, within the caller's own
// workspace.
func (s server) handleAssignConversation(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.requesterProfile(w, r)
	if !ok {
		return
	}
	if !isElevatedRole(requester.Role) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	raw, _ := readBody(w, r)
	var req assignConversationRequest
	if err := decodeLenient(raw, &req); err != nil {
		req = assignConversationRequest{}
	}
	if req.AgentID == "" {
		req.AgentID = r.URL.Query().Get("agentId")
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "missing_agentId")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	conversationID := chi.URLParam(r, "conversationID")
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation_not_found")
		return
	}
	if conv.WorkspaceID != requester.WorkspaceID {
		writeError(w, http.StatusForbidden, "workspace_mismatch")
		return
	}

	if err := s.store.AssignConversationAgent(ctx, conversationID, req.AgentID); err != nil {
		writeError(w, http.StatusBadRequest, "assign_failed")
		return
	}

	// History row and event fan-out are best-effort; the pointer update
	// above is the operation's outcome.
	if err := s.store.RecordAssignment(ctx, conversationID, req.AgentID, time.Now()); err != nil {
		logError(ctx, "record assignment failed", err)
	}
	s.publishEvent(ctx, events.TypeConversationAssigned, map[string]string{
		"conversation_id": conversationID,
		"agent_id":        req.AgentID,
		"workspace_id":    conv.WorkspaceID,
		"assigned_by":     requester.UserID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type seedConversationRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

// handleSeedConversation creates an empty conversation for development
// setups.
func (s server) handleSeedConversation(w http.ResponseWriter, r *http.Request) {
	raw, _ := readBody(w, r)
	var req seedConversationRequest
	if err := decodeLenient(raw, &req); err != nil {
		req = seedConversationRequest{}
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "missing_workspaceId")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id, err := s.store.CreateConversation(ctx, req.WorkspaceID)
	if err != nil {
		logError(ctx, "seed conversation failed", err)
		writeError(w, http.StatusBadRequest, "seed_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation_id": id})
}

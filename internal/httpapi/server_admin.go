package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"simplewhats/internal/store"
)

type adminBootstrapRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspaceId"`
}

// handleAdminBootstrap provisions the first master user of a workspace.
// The route itself carries no auth; deployment is expected to shield it.
func (s server) handleAdminBootstrap(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var req adminBootstrapRequest
	if err := decodeLenient(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" || req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	user, err := s.identity.AdminCreateUser(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "create_failed", err.Error())
		return
	}

	err = s.store.UpsertProfile(ctx, store.Profile{
		UserID:      user.ID,
		Name:        req.Name,
		Role:        store.RoleMaster,
		WorkspaceID: req.WorkspaceID,
	})
	if err != nil {
		logError(ctx, "bootstrap profile upsert failed", err)
		writeError(w, http.StatusBadRequest, "profile_upsert_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user_id": user.ID})
}

type adminPromoteRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

// handleAdminPromote upserts the caller's own profile with the admin role.
// The workspace id is accepted from the body, the x-workspace-id header or
// the query string, in that order.
func (s server) handleAdminPromote(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	raw, _ := readBody(w, r)
	var req adminPromoteRequest
	if err := decodeLenient(raw, &req); err != nil {
		req = adminPromoteRequest{
			WorkspaceID: r.URL.Query().Get("workspaceId"),
			Name:        r.URL.Query().Get("name"),
		}
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = strings.TrimSpace(r.Header.Get("x-workspace-id"))
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "missing_workspaceId")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, err := s.tokens.ResolveUserID(ctx, token)
	if err != nil || userID == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	err = s.store.UpsertProfile(ctx, store.Profile{
		UserID:      userID,
		Name:        req.Name,
		Role:        store.RoleAdmin,
		WorkspaceID: req.WorkspaceID,
	})
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "upsert_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"user_id":      userID,
		"workspace_id": req.WorkspaceID,
	})
}

type adminCreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	WorkspaceID string `json:"workspaceId"`
}

// handleAdminCreateUser provisions a workspace member. Callers authenticate
// with a bearer token and need an elevated role, unless they present the
// shared admin secret, which skips the profile check entirely.
func (s server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	requesterID, err := s.tokens.ResolveUserID(ctx, token)
	if err != nil || requesterID == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	override := s.secretOK(r.Header.Get("x-admin-secret"))
	var requesterWorkspaceID string
	if !override {
		requester, err := s.store.GetProfileByUserID(ctx, requesterID)
		if err != nil || !isElevatedRole(requester.Role) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		requesterWorkspaceID = requester.WorkspaceID
	}

	raw, _ := readBody(w, r)
	var req adminCreateUserRequest
	if err := decodeLenient(raw, &req); err != nil {
		req = adminCreateUserRequest{}
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = requesterWorkspaceID
	}
	if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" || req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.Role != store.RoleAdmin && req.Role != store.RoleAgent {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	user, err := s.identity.AdminCreateUser(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "create_failed", err.Error())
		return
	}

	err = s.store.UpsertProfile(ctx, store.Profile{
		UserID:      user.ID,
		Name:        req.Name,
		Role:        req.Role,
		WorkspaceID: req.WorkspaceID,
	})
	if err != nil {
		logError(ctx, "create user profile upsert failed", err)
		writeError(w, http.StatusBadRequest, "profile_upsert_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user_id": user.ID})
}

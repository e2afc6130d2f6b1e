package httpapi

import (
	"context"
	"net/http"
	"time"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var req signInRequest
	if err := decodeLenient(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	session, err := s.identity.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "signin_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":    session.User.ID,
			"email": session.User.Email,
		},
		"access_token":  session.AccessToken,
		"refresh_token": session.RefreshToken,
		"expires_at":    session.ExpiresAt,
	})
}

func (s server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, err := s.tokens.ResolveUserID(ctx, token)
	if err != nil || userID == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	p, err := s.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "profile_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":           p.UserID,
		"name":         p.Name,
		"role":         p.Role,
		"workspace_id": p.WorkspaceID,
	})
}

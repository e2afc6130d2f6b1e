package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Role values carried on a profile row.
const (
	RoleMaster = "master"
	RoleAdmin  = "admin"
	RoleAgent  = "agent"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleMaster, RoleAdmin, RoleAgent:
		return true
	default:
		return false
	}
}

// Profile is the canonical in-memory shape. The underlying table exists in
// two incompatible conventions (primary key named user_id or id); both are
// normalized to this shape at the boundary.
type Profile struct {
	UserID      string
	Name        string
	Role        string
	WorkspaceID string
}

// GetProfileByUserID looks a profile up by its user id, first against the
// user_id column, then against the legacy id column. ErrNotFound only when
// both attempts fail.
func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		select user_id, coalesce(name, ''), coalesce(role, ''), coalesce(workspace_id::text, '')
		from profiles
		where user_id = $1
		limit 1
	`, userID).Scan(&p.UserID, &p.Name, &p.Role, &p.WorkspaceID)
	if err == nil {
		return p, nil
	}

	altErr := s.pool.QueryRow(ctx, `
		select id, coalesce(name, ''), coalesce(role, ''), coalesce(workspace_id::text, '')
		from profiles
		where id = $1
		limit 1
	`, userID).Scan(&p.UserID, &p.Name, &p.Role, &p.WorkspaceID)
	if altErr == nil {
		return p, nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(altErr, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return Profile{}, altErr
}

// UpsertProfile writes one profile row keyed on user_id, retrying once
// keyed on the legacy id column. The second error is returned only when
// both attempts fail. Not a retry policy: one immediate alternate attempt.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.pool.Exec(ctx, `
		insert into profiles (user_id, name, role, workspace_id)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update
		set name = excluded.name, role = excluded.role, workspace_id = excluded.workspace_id
	`, p.UserID, textOrNil(p.Name), p.Role, p.WorkspaceID)
	if err == nil {
		return nil
	}

	_, err2 := s.pool.Exec(ctx, `
		insert into profiles (id, name, role, workspace_id)
		values ($1, $2, $3, $4)
		on conflict (id) do update
		set name = excluded.name, role = excluded.role, workspace_id = excluded.workspace_id
	`, p.UserID, textOrNil(p.Name), p.Role, p.WorkspaceID)
	if err2 != nil {
		return err2
	}
	return nil
}

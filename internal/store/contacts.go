package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FindContactID resolves a contact by phone within a workspace.
func (s *Store) FindContactID(ctx context.Context, workspaceID, phone string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		select id
		from contacts
		where workspace_id = $1 and phone = $2
		limit 1
	`, workspaceID, phone).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateContactAvatar(ctx context.Context, contactID, avatarPath string) error {
	_, err := s.pool.Exec(ctx, `
		update contacts
		set profile_pic_url = $2
		where id = $1
	`, contactID, avatarPath)
	return err
}

// InsertContact creates a contact carrying its avatar storage path. First
// sight of a phone number within a workspace lands here.
func (s *Store) InsertContact(ctx context.Context, workspaceID, phone, avatarPath string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		insert into contacts (id, workspace_id, phone, profile_pic_url)
		values ($1, $2, $3, $4)
	`, id, workspaceID, phone, textOrNil(avatarPath))
	if err != nil {
		return "", err
	}
	return id, nil
}

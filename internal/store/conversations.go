package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Conversation struct {
	ID              string
	WorkspaceID     string
	AssignedAgentID string
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx, `
		select id, workspace_id, coalesce(assigned_agent_id::text, '')
		from conversations
		where id = $1
		limit 1
	`, id).Scan(&c.ID, &c.WorkspaceID, &c.AssignedAgentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Store) AssignConversationAgent(ctx context.Context, conversationID, agentID string) error {
	_, err := s.pool.Exec(ctx, `
		update conversations
		set assigned_agent_id = $2
		where id = $1
	`, conversationID, agentID)
	return err
}

// RecordAssignment appends one row to the immutable assignment history. The
// conversation's assigned_agent_id is the denormalized pointer; this log is
// the audit trail.
func (s *Store) RecordAssignment(ctx context.Context, conversationID, agentID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		insert into conversation_assignments (conversation_id, agent_id, assigned_at)
		values ($1, $2, $3)
	`, conversationID, agentID, at.UTC())
	return err
}

func (s *Store) CreateConversation(ctx context.Context, workspaceID string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		insert into conversations (id, workspace_id, created_at)
		values ($1, $2, $3)
	`, id, workspaceID, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

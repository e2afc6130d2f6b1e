package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/jackc/pgx/v5"
)

// WebhookLogEntry is one append-only audit row. The same table doubles as
// the dedup index for inbound deliveries, keyed on (route,
// external_message_id).
type WebhookLogEntry struct {
	WorkspaceID       string
	Route             string
	Provider          string
	ExternalMessageID string
	Status            string
	Error             string
	// Payload is the raw request body, stored verbatim. Non-JSON input is
	// stored as a JSON string.
	Payload []byte
}

// canonicalPayload puts the payload into RFC 8785 canonical form so that
// audit rows for semantically equal deliveries compare byte-for-byte.
func canonicalPayload(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	if c, err := jsoncanonicalizer.Transform(raw); err == nil {
		return c
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return []byte("null")
	}
	return quoted
}

// InsertWebhookLog appends one audit row. The error is returned, never
// swallowed here; callers decide whether a failed write is fatal.
func (s *Store) InsertWebhookLog(ctx context.Context, e WebhookLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		insert into webhook_logs (workspace_id, route, provider, external_message_id, status, error, payload, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		textOrNil(e.WorkspaceID),
		e.Route,
		textOrNil(e.Provider),
		textOrNil(e.ExternalMessageID),
		textOrNil(e.Status),
		textOrNil(e.Error),
		canonicalPayload(e.Payload),
		time.Now().UTC(),
	)
	return err
}

// WebhookLogExists reports whether a delivery with this external message id
// was already logged for the route. Only row presence matters; the id
// column's type is owned by the managed backend and never read. There is no
// uniqueness constraint underneath: two concurrent deliveries can both
// observe false here.
func (s *Store) WebhookLogExists(ctx context.Context, route, externalMessageID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		select 1
		from webhook_logs
		where route = $1 and external_message_id = $2
		limit 1
	`, route, externalMessageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

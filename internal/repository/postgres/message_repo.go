package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
)

// Messages keep the client-shaped document in a jsonb column. The columns
// the store owns (id, read flag, timestamps) are kept beside it and
// overlaid on every read, so the document never disagrees with them.
type MessageRepo struct {
	s *Store
}

func (r *MessageRepo) Create(ctx context.Context, roomID string, doc domain.Document) (string, time.Time, error) {
	id := uuid.NewString()
	body := doc.Clone()
	delete(body, domain.FieldID)
	delete(body, domain.FieldCreatedAt)
	body[domain.FieldRoomID] = roomID

	read, _ := body[domain.FieldRead].(bool)

	query := `
		INSERT INTO messages (id, room_id, sender_id, read, doc)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	var createdAt time.Time
	err := r.s.pool.QueryRow(ctx, query, id, roomID, body.String(domain.FieldSenderID), read, map[string]any(body)).Scan(&createdAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating message: %w", err)
	}
	return id, createdAt, nil
}

func (r *MessageRepo) Get(ctx context.Context, roomID, id string) (domain.Document, error) {
	query := `
		SELECT id, doc, read, created_at, edited_at
		FROM messages
		WHERE room_id = $1 AND id = $2`
	doc, err := scanMessage(r.s.pool.QueryRow(ctx, query, roomID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func (r *MessageRepo) Latest(ctx context.Context, roomID string) (domain.Document, error) {
	query := `
		SELECT id, doc, read, created_at, edited_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	doc, err := scanMessage(r.s.pool.QueryRow(ctx, query, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func (r *MessageRepo) UpdateText(ctx context.Context, roomID, id, text string) error {
	query := `
		UPDATE messages
		SET doc = jsonb_set(doc, '{text}', to_jsonb($3::text)), edited_at = clock_timestamp()
		WHERE room_id = $1 AND id = $2`
	tag, err := r.s.pool.Exec(ctx, query, roomID, id, text)
	if err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, roomID, id string) error {
	tag, err := r.s.pool.Exec(ctx, "DELETE FROM messages WHERE room_id = $1 AND id = $2", roomID, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListUnreadIDs(ctx context.Context, roomID, viewerID string) ([]string, error) {
	query := `
		SELECT id FROM messages
		WHERE room_id = $1 AND sender_id <> $2 AND NOT read
		ORDER BY id`
	rows, err := r.s.pool.Query(ctx, query, roomID, viewerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// MarkRead flips every id in one statement, so readers see either none or
// all of the batch.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID string, ids []string) error {
	query := `
		UPDATE messages
		SET read = TRUE, doc = jsonb_set(doc, '{read}', 'true')
		WHERE room_id = $1 AND id = ANY($2) AND NOT read`
	if _, err := r.s.pool.Exec(ctx, query, roomID, ids); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

func (r *MessageRepo) Watch(ctx context.Context, roomID string, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Document, error) {
		return r.list(ctx, roomID)
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

func (r *MessageRepo) WatchUnreadCount(ctx context.Context, roomID, senderID string, fn repository.CountFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) (int, error) {
		var n int
		err := r.s.pool.QueryRow(ctx,
			"SELECT count(*) FROM messages WHERE room_id = $1 AND sender_id = $2 AND NOT read",
			roomID, senderID,
		).Scan(&n)
		return n, err
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

func (r *MessageRepo) list(ctx context.Context, roomID string) ([]domain.Document, error) {
	query := `
		SELECT id, doc, read, created_at, edited_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanMessage(row pgx.Row) (domain.Document, error) {
	var (
		id        string
		body      map[string]any
		read      bool
		createdAt time.Time
		editedAt  *time.Time
	)
	if err := row.Scan(&id, &body, &read, &createdAt, &editedAt); err != nil {
		return nil, err
	}

	doc := domain.Document(body)
	if doc == nil {
		doc = domain.Document{}
	}
	doc[domain.FieldID] = id
	doc[domain.FieldRead] = read
	doc[domain.FieldCreatedAt] = createdAt
	if editedAt != nil {
		doc[domain.FieldEditedAt] = *editedAt
	}
	return doc, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
)

const roomColumns = "id, participants, last_message, last_message_timestamp, last_message_sender_id, created_at"

type RoomRepo struct {
	s *Store
}

func (r *RoomRepo) Get(ctx context.Context, id string) (*domain.Room, error) {
	row := r.s.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id)
	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *RoomRepo) CreateIfAbsent(ctx context.Context, room *domain.Room) (bool, error) {
	query := `
		INSERT INTO rooms (id, participants, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.s.pool.Exec(ctx, query, room.ID, room.Participants, room.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("creating room: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RoomRepo) UpdateLastMessage(ctx context.Context, id, text, senderID string) error {
	query := `
		UPDATE rooms
		SET last_message = $2, last_message_sender_id = $3, last_message_timestamp = clock_timestamp()
		WHERE id = $1`
	tag, err := r.s.pool.Exec(ctx, query, id, text, senderID)
	if err != nil {
		return fmt.Errorf("updating room summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RoomRepo) WatchByParticipant(ctx context.Context, userID string, fn repository.RoomSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Room, error) {
		return r.listByParticipant(ctx, userID)
	}
	return subscribe(r.s, userKey(userID), fetch, fn), nil
}

func (r *RoomRepo) listByParticipant(ctx context.Context, userID string) ([]domain.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE $1 = ANY(participants)
		ORDER BY last_message_timestamp DESC NULLS LAST, created_at DESC, id DESC`
	rows, err := r.s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]domain.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func scanRoom(row pgx.Row) (domain.Room, error) {
	var room domain.Room
	err := row.Scan(
		&room.ID, &room.Participants, &room.LastMessage,
		&room.LastMessageTimestamp, &room.LastMessageSenderID, &room.CreatedAt,
	)
	return room, err
}

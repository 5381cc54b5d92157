package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// MessageType represents the kind of bot message (database enum)
type MessageType string

const (
	MessageTypeInfo         MessageType = "info"
	MessageTypeSignal       MessageType = "signal"
	MessageTypeAlert        MessageType = "alert"
	MessageTypeTradeRequest MessageType = "trade_request"
	MessageTypeApproval     MessageType = "approval"
)

// Message represents a feed entry written by a bot or agent cycle
type Message struct {
	ID        uuid.UUID
	UserID    string
	BotID     *uuid.UUID
	Type      MessageType
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// InsertMessage appends a message to the user's feed
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeInfo
	}

	query := `
		INSERT INTO bot_messages (id, user_id, bot_id, message_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		msg.ID,
		msg.UserID,
		msg.BotID,
		msg.Type,
		msg.Content,
		msg.Metadata,
		msg.CreatedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", msg.UserID).
			Str("type", string(msg.Type)).
			Msg("Failed to insert message")
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// ListMessages returns a page of the user's feed, newest first
func (s *Store) ListMessages(ctx context.Context, userID string, limit, offset int) ([]*Message, error) {
	query := `
		SELECT id, user_id, bot_id, message_type, content, metadata, created_at
		FROM bot_messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentTaskSymbols returns the symbols named by trade_request messages
// queued for a bot since the given time. The next bot cycle treats them
// as priority scan candidates.
func (s *Store) RecentTaskSymbols(ctx context.Context, botID uuid.UUID, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT metadata->>'symbol'
		FROM bot_messages
		WHERE bot_id = $1
		  AND message_type = 'trade_request'
		  AND metadata->>'symbol' IS NOT NULL
		  AND created_at >= $2
	`

	rows, err := s.pool.Query(ctx, query, botID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query task symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan task symbol: %w", err)
		}
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task symbols: %w", err)
	}

	return symbols, nil
}

func scanMessages(rows pgx.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.BotID,
			&msg.Type,
			&msg.Content,
			&msg.Metadata,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRepository implements Repository on the messages table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts a message.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Topic == "" {
		return ErrTopicRequired
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = r.now()
	}
	if entry.Payload == nil {
		entry.Payload = []byte{}
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (topic, payload, qos, retained, received_at) VALUES (?, ?, ?, ?, ?)",
		entry.Topic,
		entry.Payload,
		entry.QoS,
		boolToInt(entry.Retained),
		entry.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// Recent returns recent messages, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, topic string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	query := `SELECT id, topic, payload, qos, retained, received_at FROM messages`
	args := make([]any, 0, 2)
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var retained int
		var receivedAt int64
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.QoS, &retained, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		e.Retained = retained != 0
		e.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return entries, nil
}

// Prune deletes messages received before now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

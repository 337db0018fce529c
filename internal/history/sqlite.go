package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	synthetic   INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_channel_created
	ON turns(channel_id, created_at);
`

// SQLiteStore persists history in a local SQLite database via the pure
// Go driver, so the binary stays cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Recent returns up to limit turns for the channel, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, channelID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, synthetic, created_at FROM (
			SELECT role, content, synthetic, created_at, id
			FROM turns WHERE channel_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var (
			turn      models.Turn
			role      string
			synthetic int
			created   time.Time
		)
		if err := rows.Scan(&role, &turn.Content, &synthetic, &created); err != nil {
			return nil, fmt.Errorf("history: scanning turn: %w", err)
		}
		turn.Role = models.Role(role)
		turn.Synthetic = synthetic != 0
		turn.CreatedAt = created
		turn.TokenEstimate = models.EstimateTokens(turn.Content)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Append records a turn for the channel.
func (s *SQLiteStore) Append(ctx context.Context, channelID string, turn models.Turn) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	synthetic := 0
	if turn.Synthetic {
		synthetic = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (channel_id, role, content, synthetic, created_at) VALUES (?, ?, ?, ?, ?)`,
		channelID, string(turn.Role), turn.Content, synthetic, created)
	if err != nil {
		return fmt.Errorf("history: inserting turn: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"

	"join-code/domain"
	"join-code/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		last_updated TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS room_files (
		room_id VARCHAR(255) REFERENCES rooms(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (room_id, path)
	)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id SERIAL PRIMARY KEY,
		room_id VARCHAR(255) REFERENCES rooms(id) ON DELETE CASCADE,
		user_id VARCHAR(255),
		line_start INTEGER,
		line_end INTEGER,
		original_code TEXT,
		suggested_code TEXT,
		status VARCHAR(50) DEFAULT 'pending',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS chat_history (
		id SERIAL PRIMARY KEY,
		room_id VARCHAR(255) REFERENCES rooms(id) ON DELETE CASCADE,
		user_id VARCHAR(255),
		message TEXT,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_room_status ON suggestions(room_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_room_timestamp ON chat_history(room_id, timestamp)`,
}

// NewPostgresPool opens a bounded pool and pings the server. An unreachable
// database is reported as ErrDependencyUnavailable.
func NewPostgresPool(ctx context.Context, url string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.MinConns = minConns
	cfg.MaxConns = maxConns
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", errors.ErrDependencyUnavailable, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres at %s: %v", errors.ErrDependencyUnavailable, cfg.ConnConfig.Host, err)
	}
	return pool, nil
}

// PostgresStore implements contract.Store on a pgx pool.
type PostgresStore struct {
	pool           *pgxpool.Pool
	log            *slog.Logger
	defaultPath    string
	defaultContent string
}

func NewPostgresStore(pool *pgxpool.Pool, log *slog.Logger, defaultPath, defaultContent string) *PostgresStore {
	return &PostgresStore{pool: pool, log: log, defaultPath: defaultPath, defaultContent: defaultContent}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.log.Info("Database schema ready")
	return nil
}

// CreateRoomIfAbsent inserts the room with its default document. Concurrent
// callers on several instances are safe: the conflicting insert is a no-op.
func (s *PostgresStore) CreateRoomIfAbsent(ctx context.Context, room domain.RoomID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create room %s: %w", room, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO rooms (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		string(room), fmt.Sprintf("Room %s", room))
	if err != nil {
		return fmt.Errorf("create room %s: %w", room, err)
	}
	if tag.RowsAffected() == 1 {
		if _, err = tx.Exec(ctx,
			`INSERT INTO room_files (room_id, path, content) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			string(room), s.defaultPath, s.defaultContent); err != nil {
			return fmt.Errorf("seed room %s: %w", room, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetContent(ctx context.Context, room domain.RoomID) (domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT path, content FROM room_files WHERE room_id = $1`, string(room))
	if err != nil {
		return nil, fmt.Errorf("load content of %s: %w", room, err)
	}
	defer rows.Close()

	files := domain.Snapshot{}
	for rows.Next() {
		var path, content string
		if err = rows.Scan(&path, &content); err != nil {
			return nil, fmt.Errorf("load content of %s: %w", room, err)
		}
		files[path] = content
	}
	return files, rows.Err()
}

func (s *PostgresStore) SetContent(ctx context.Context, room domain.RoomID, path, content string) error {
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO room_files (room_id, path, content) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, path) DO UPDATE SET content = EXCLUDED.content`, string(room), path, content)
	batch.Queue(`UPDATE rooms SET last_updated = CURRENT_TIMESTAMP WHERE id = $1`, string(room))
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %s in %s: %w", path, room, err)
	}
	return nil
}

func (s *PostgresStore) AppendChatMessage(ctx context.Context, entry domain.ChatEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_history (room_id, user_id, message, timestamp) VALUES ($1, $2, $3, $4)`,
		string(entry.Room), entry.User, entry.Message, entry.At)
	if err != nil {
		return fmt.Errorf("append chat in %s: %w", entry.Room, err)
	}
	return nil
}

// GetChatHistory returns the last limit messages, oldest first.
func (s *PostgresStore) GetChatHistory(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, message, timestamp FROM chat_history WHERE room_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		string(room), limit)
	if err != nil {
		return nil, fmt.Errorf("load chat of %s: %w", room, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ChatEntry, error) {
		entry := domain.ChatEntry{Room: room}
		err := row.Scan(&entry.User, &entry.Message, &entry.At)
		return entry, err
	})
	if err != nil {
		return nil, fmt.Errorf("load chat of %s: %w", room, err)
	}
	slices.Reverse(entries)
	return entries, nil
}

func (s *PostgresStore) CreateSuggestion(ctx context.Context, suggestion domain.Suggestion) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO suggestions (room_id, user_id, line_start, line_end, original_code, suggested_code)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		string(suggestion.Room), suggestion.User, suggestion.LineStart, suggestion.LineEnd,
		suggestion.OriginalCode, suggestion.SuggestedCode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create suggestion in %s: %w", suggestion.Room, err)
	}
	return id, nil
}

func (s *PostgresStore) GetPendingSuggestions(ctx context.Context, room domain.RoomID) ([]domain.Suggestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, line_start, line_end, original_code, suggested_code, status, created_at
		FROM suggestions WHERE room_id = $1 AND status = $2 ORDER BY created_at, id`,
		string(room), string(domain.SuggestionPending))
	if err != nil {
		return nil, fmt.Errorf("load suggestions of %s: %w", room, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Suggestion, error) {
		sug := domain.Suggestion{Room: room}
		var status string
		err := row.Scan(&sug.ID, &sug.User, &sug.LineStart, &sug.LineEnd,
			&sug.OriginalCode, &sug.SuggestedCode, &status, &sug.CreatedAt)
		sug.Status = domain.SuggestionStatus(status)
		return sug, err
	})
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, room domain.RoomID, id int64) (domain.Suggestion, error) {
	sug := domain.Suggestion{Room: room}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, line_start, line_end, original_code, suggested_code, status, created_at
		FROM suggestions WHERE id = $1 AND room_id = $2`, id, string(room)).
		Scan(&sug.ID, &sug.User, &sug.LineStart, &sug.LineEnd,
			&sug.OriginalCode, &sug.SuggestedCode, &status, &sug.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return sug, fmt.Errorf("%w: %d in room %s", errors.ErrSuggestionNotFound, id, room)
	}
	if err != nil {
		return sug, fmt.Errorf("load suggestion %d: %w", id, err)
	}
	sug.Status = domain.SuggestionStatus(status)
	return sug, nil
}

// UpdateSuggestionStatus resolves a pending suggestion of room. Unknown ids,
// and ids belonging to another room, report ErrSuggestionNotFound; a
// suggestion resolved earlier reports ErrSuggestionResolved.
func (s *PostgresStore) UpdateSuggestionStatus(ctx context.Context, room domain.RoomID, id int64, status domain.SuggestionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suggestions SET status = $1 WHERE id = $2 AND room_id = $3 AND status = $4`,
		string(status), id, string(room), string(domain.SuggestionPending))
	if err != nil {
		return fmt.Errorf("update suggestion %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	current, err := s.GetSuggestion(ctx, room, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %d is %s", errors.ErrSuggestionResolved, id, current.Status)
}

func (s *PostgresStore) GetRoomStats(ctx context.Context, room domain.RoomID) (domain.RoomStats, error) {
	stats := domain.RoomStats{RoomID: room}
	err := s.pool.QueryRow(ctx, `
		SELECT r.name, r.created_at, r.last_updated,
			(SELECT COUNT(*) FROM chat_history WHERE room_id = r.id),
			(SELECT COUNT(*) FROM suggestions WHERE room_id = r.id)
		FROM rooms r WHERE r.id = $1`, string(room)).
		Scan(&stats.Name, &stats.CreatedAt, &stats.LastActivity, &stats.MessageCount, &stats.SuggestionCount)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return stats, fmt.Errorf("%w: %s", errors.ErrRoomNotFound, room)
	}
	if err != nil {
		return stats, fmt.Errorf("room stats of %s: %w", room, err)
	}
	return stats, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

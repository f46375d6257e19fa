// Package store persists log records in SQLite and answers filtered,
// paginated queries over them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	recordsTable = "log_messages"
	configTable  = "app_config"

	// SchemaVersion is seeded into the config table on first creation.
	SchemaVersion = "1.0.0"

	dirName  = "xclogger"
	fileName = "xclogger.db"
)

var recordColumns = []string{
	"id", "role", "label", "file", "function", "time",
	"process_id", "thread_id", "line", "level", "messages", "created_at",
}

// builder emits '?' placeholders, which is what go-sqlite3 binds.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store owns a single SQLite connection. Every operation takes the mutex,
// so at most one statement is in flight at a time.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// New returns an unconnected store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DefaultPath returns the database location under dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, dirName, fileName)
}

// ConnectDataDir connects to DefaultPath(dataDir).
func (s *Store) ConnectDataDir(dataDir string) error {
	return s.Connect(DefaultPath(dataDir))
}

// Connect opens the database at path, creating the parent directory, the
// file and the schema when missing. Connecting an already connected store
// is a no-op.
func (s *Store) Connect(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return storeErr("create data directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return storeErr("open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return storeErr("initialize schema", err)
	}

	s.db = db
	s.path = path
	s.logger.Info().Str("path", path).Msg("Record store connected")
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		label TEXT,
		file TEXT,
		function TEXT,
		time INTEGER NOT NULL,
		process_id INTEGER NOT NULL,
		thread_id INTEGER NOT NULL,
		line INTEGER,
		level INTEGER NOT NULL,
		messages TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_log_messages_level ON log_messages(level);
	CREATE INDEX IF NOT EXISTS idx_log_messages_time ON log_messages(time);
	CREATE INDEX IF NOT EXISTS idx_log_messages_role ON log_messages(role);
	CREATE INDEX IF NOT EXISTS idx_log_messages_created_at ON log_messages(created_at);

	CREATE TABLE IF NOT EXISTS app_config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT OR IGNORE INTO app_config (key, value) VALUES ('version', ?)`, SchemaVersion)
	return err
}

// IsConnected reports whether Connect has succeeded.
func (s *Store) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Path returns the database path, empty before Connect.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Close releases the connection. It is meant for process shutdown; the
// store reports ErrNotConnected afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Info().Msg("Record store closed")
	return err
}

// acquire locks the store and returns the connection. The caller must
// unlock s.mu when the returned error is nil.
func (s *Store) acquire() (*sql.DB, error) {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	return s.db, nil
}

// Insert appends rec and returns its id.
func (s *Store) Insert(ctx context.Context, rec *models.Record) (uint64, error) {
	messages := rec.Messages
	if messages == nil {
		messages = []string{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return 0, storeErr("encode messages", err)
	}

	query, args, err := builder.Insert(recordsTable).
		Columns("role", "label", "file", "function", "time", "process_id", "thread_id", "line", "level", "messages").
		Values(rec.Role, rec.Label, rec.File, rec.Function,
			int64(rec.Time), int64(rec.ProcessID), int64(rec.ThreadID),
			rec.Line, rec.Level, string(encoded)).
		ToSql()
	if err != nil {
		return 0, storeErr("build insert", err)
	}

	db, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr("insert record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("read inserted id", err)
	}
	return uint64(id), nil
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	db, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+recordsTable).Scan(&n); err != nil {
		return 0, storeErr("count records", err)
	}
	return n, nil
}

// Fetch pages through all records ordered by id. limit and offset are
// passed to SQLite unchanged; a negative limit means no limit.
func (s *Store) Fetch(ctx context.Context, limit, offset int64, dir models.SortDirection) ([]models.StoredRecord, error) {
	return s.FilteredFetch(ctx, models.FilterConfig{}, models.FieldID, limit, offset, dir)
}

func (s *Store) queryRecords(ctx context.Context, q sq.SelectBuilder) ([]models.StoredRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, storeErr("build query", err)
	}

	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query records", err)
	}
	defer rows.Close()

	records := make([]models.StoredRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate records", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (models.StoredRecord, error) {
	var (
		rec       models.StoredRecord
		id        int64
		label     sql.NullString
		file      sql.NullString
		function  sql.NullString
		ts        int64
		processID int64
		threadID  int64
		line      sql.NullInt32
		messages  string
		createdAt sql.NullTime
	)
	if err := rows.Scan(&id, &rec.Role, &label, &file, &function, &ts,
		&processID, &threadID, &line, &rec.Level, &messages, &createdAt); err != nil {
		return rec, err
	}

	rec.ID = uint64(id)
	rec.Label = label.String
	rec.File = file.String
	rec.Function = function.String
	rec.Time = uint64(ts)
	rec.ProcessID = uint64(processID)
	rec.ThreadID = uint64(threadID)
	rec.Line = line.Int32
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time.UTC()
	}

	if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
		return rec, fmt.Errorf("decode messages of record %d: %w", id, err)
	}
	if rec.Messages == nil {
		rec.Messages = []string{}
	}
	return rec, nil
}

// sqliteTime formats t the way CURRENT_TIMESTAMP stores it.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

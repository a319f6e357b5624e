package serve

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/everydev1618/devspace"
)

// SQLiteStore implements Store and FileStore using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ FileStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL,
		kind         TEXT NOT NULL,
		message      TEXT NOT NULL DEFAULT '',
		user_id      TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS files (
		workspace_id TEXT NOT NULL,
		path         TEXT NOT NULL,
		content      BLOB NOT NULL,
		size         INTEGER NOT NULL DEFAULT 0,
		updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace_id, path)
	);

	CREATE INDEX IF NOT EXISTS idx_activity_workspace ON activity(workspace_id, id);
	CREATE INDEX IF NOT EXISTS idx_activity_created ON activity(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertActivity records an activity event.
func (s *SQLiteStore) InsertActivity(e ActivityEvent) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO activity (workspace_id, kind, message, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.WorkspaceID, e.Kind, e.Message, e.UserID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListActivity returns recent activity, newest first.
func (s *SQLiteStore) ListActivity(workspaceID string, limit int) ([]ActivityEvent, error) {
	query := `SELECT id, workspace_id, kind, message, user_id, created_at FROM activity`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		var e ActivityEvent
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Kind, &e.Message, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneActivity deletes activity older than before.
func (s *SQLiteStore) PruneActivity(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM activity WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListFiles returns the stored files under prefix.
func (s *SQLiteStore) ListFiles(workspaceID, prefix string) ([]FileEntry, error) {
	prefix, err := cleanPath(prefix)
	if err != nil {
		return nil, err
	}

	query := `SELECT path, size, updated_at FROM files WHERE workspace_id = ?`
	args := []any{workspaceID}
	if prefix != "" {
		query += ` AND (path = ? OR path LIKE ? ESCAPE '\')`
		args = append(args, prefix, likeEscape(prefix)+"/%")
	}
	query += ` ORDER BY path`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileEntry
	for rows.Next() {
		var fe FileEntry
		if err := rows.Scan(&fe.Path, &fe.Size, &fe.ModTime); err != nil {
			return nil, err
		}
		fe.Name = path.Base(fe.Path)
		fe.ContentType = detectContentType(fe.Name)
		files = append(files, fe)
	}
	return files, rows.Err()
}

// ReadFile returns a stored file.
func (s *SQLiteStore) ReadFile(workspaceID, p string) (*FileContent, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("%w: path is required", devspace.ErrInvalidPath)
	}

	var data []byte
	fc := &FileContent{Path: p, ContentType: detectContentType(path.Base(p))}
	err = s.db.QueryRow(
		`SELECT content, size, updated_at FROM files WHERE workspace_id = ? AND path = ?`,
		workspaceID, p,
	).Scan(&data, &fc.Size, &fc.ModTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", devspace.ErrFileNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	encodeContent(fc, data)
	return fc, nil
}

// WriteFile creates or replaces a stored file.
func (s *SQLiteStore) WriteFile(workspaceID, p string, data []byte) (FileEntry, error) {
	p, err := cleanPath(p)
	if err != nil {
		return FileEntry{}, err
	}
	if p == "" {
		return FileEntry{}, fmt.Errorf("%w: path is required", devspace.ErrInvalidPath)
	}
	if len(data) > MaxFileSize {
		return FileEntry{}, fmt.Errorf("file too large (max %d bytes)", MaxFileSize)
	}

	now := time.Now().UTC()
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.Exec(
		`INSERT INTO files (workspace_id, path, content, size, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id, path) DO UPDATE SET content = excluded.content, size = excluded.size, updated_at = excluded.updated_at`,
		workspaceID, p, data, len(data), now,
	)
	if err != nil {
		return FileEntry{}, err
	}
	name := path.Base(p)
	return FileEntry{
		Path:        p,
		Name:        name,
		Size:        int64(len(data)),
		ModTime:     now,
		ContentType: detectContentType(name),
	}, nil
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (post_id only)
// 1 - Added platform_post_id column
const currentSchemaVersion = 1

// store is the SQLite persistence layer behind the offline queue.
// Uses WAL mode for concurrent read access during writes.
type store struct {
	db *sql.DB
}

// openStore creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &store{db: db}, nil
}

func (s *store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the platform_post_id column for databases written before
// the native id was recorded. New databases get the column from schema.sql.
// Records without it replay against post_id via the FetchPostID fallback.
func migrateToV1(db *sql.DB) error {
	hasColumn, err := columnExists(db, "queued_actions", "platform_post_id")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if hasColumn {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE queued_actions ADD COLUMN platform_post_id TEXT`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// loadAll reads every queued action in FIFO order.
//
// platform_post_id is nullable: rows persisted before v1 lack it, and the
// loaded record's FetchPostID falls back to post_id.
func (s *store) loadAll(ctx context.Context) ([]action.QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform_post_id, platform, action_type, created_at
		FROM queued_actions
		ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queued actions: %w", err)
	}
	defer rows.Close()

	var out []action.QueuedAction
	for rows.Next() {
		var (
			qa             action.QueuedAction
			platformPostID sql.NullString
			platform       string
			actionType     string
			createdAt      int64
		)
		if err := rows.Scan(&qa.ID, &qa.PostID, &platformPostID, &platform, &actionType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan queued action: %w", err)
		}
		qa.PlatformPostID = platformPostID.String
		qa.Platform = feed.Platform(platform)
		qa.Type = action.Type(actionType)
		qa.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued actions: %w", err)
	}

	if out == nil {
		out = []action.QueuedAction{}
	}
	return out, nil
}

// replaceAll persists the queue contents in a single transaction.
// The in-memory queue is the source of truth; the table mirrors it.
func (s *store) replaceAll(ctx context.Context, items []action.QueuedAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queued_actions`); err != nil {
		return fmt.Errorf("clear queued actions: %w", err)
	}

	for pos, qa := range items {
		var platformPostID any
		if qa.PlatformPostID != "" {
			platformPostID = qa.PlatformPostID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO queued_actions
			(id, post_id, platform_post_id, platform, action_type, created_at, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			qa.ID,
			qa.PostID,
			platformPostID,
			string(qa.Platform),
			string(qa.Type),
			qa.CreatedAt.UTC().UnixMilli(),
			pos,
		)
		if err != nil {
			return fmt.Errorf("insert queued action %s: %w", qa.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// Package store is AxiomMe's embedded relational+FTS state store: a
// single SQLite database backing the outbox, OM records, search
// documents, and retrieval traces. All access goes through one *sql.DB
// with a single open connection, so every multi-statement operation below
// can run inside one transaction without cross-connection races.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/axiomme/axiomme/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the single-connection SQLite handle plus the mutex that
// serializes CAS arithmetic per spec 5 ("a single mutex wraps the
// relational store handle").
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log logging.Logger
}

// Open creates dataDir if needed, opens (or creates) state.db inside it,
// applies pragmas, and runs embedded migrations.
func Open(dataDir string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "state.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkSchemaSafety(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", e.Name(), err)
		}
		for _, stmt := range splitSQL(string(raw)) {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %s statement %q: %w", e.Name(), stmt, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// splitSQL splits a migration file on statement-terminating semicolons,
// respecting single-quoted strings so a tokenizer clause like
// 'unicode61 remove_diacritics 2' is never split mid-literal.
func splitSQL(raw string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		cur.WriteByte(c)
		switch c {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}

// checkSchemaSafety verifies outbox.next_attempt_at exists, per 4.B: a
// legacy schema missing that column is rejected at open-time rather than
// operated on half-migrated.
func (s *Store) checkSchemaSafety() error {
	rows, err := s.db.Query(`PRAGMA table_info(outbox)`)
	if err != nil {
		return fmt.Errorf("%w: inspect outbox schema: %v", ErrValidationFailed, err)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("%w: scan outbox schema: %v", ErrValidationFailed, err)
		}
		if name == "next_attempt_at" {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: outbox.next_attempt_at column missing, refusing to open", ErrValidationFailed)
	}

	var version string
	err = s.db.QueryRow(`SELECT value FROM system_kv WHERE key = 'axiomme_schema_version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) || version == "" {
		return fmt.Errorf("%w: missing axiomme_schema_version row", ErrValidationFailed)
	}
	if err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrValidationFailed, err)
	}
	return nil
}

// Health runs a trivial round-trip query.
func (s *Store) Health(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Close checkpoints the WAL and closes the underlying connection.
func (s *Store) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// withTx runs fn inside a transaction, serialized by s.mu so CAS
// arithmetic across outbox/om_records never interleaves even though the
// driver itself only ever hands out one connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

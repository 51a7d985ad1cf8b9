package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	logx "reelrelay/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect holds the per-database statements; the schema is the same.
type dialect struct {
	name      string
	migration string
	contains  string
	insert    string
	list      string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		migration: "migrations/sqlite.sql",
		contains:  `SELECT 1 FROM processed_ids WHERE id = ?`,
		insert:    `INSERT INTO processed_ids(id, relayed_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		list:      `SELECT id FROM processed_ids ORDER BY relayed_at, id`,
	}
	postgresDialect = dialect{
		name:      "postgres",
		migration: "migrations/postgres.sql",
		contains:  `SELECT 1 FROM processed_ids WHERE id = $1`,
		insert:    `INSERT INTO processed_ids(id, relayed_at) VALUES($1, $2) ON CONFLICT(id) DO NOTHING`,
		list:      `SELECT id FROM processed_ids ORDER BY relayed_at, id`,
	}
)

type sqlLedger struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
	closed  atomic.Bool
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	return newSQLLedger(ctx, db, sqliteDialect, log)
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Ledger, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("ledger.dsn is required for postgres driver")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ledger: %w", err)
	}
	return newSQLLedger(ctx, db, postgresDialect, log)
}

func newSQLLedger(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlLedger, error) {
	l := &sqlLedger{db: db, log: log.With(logx.String("driver", d.name)), dialect: d}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ledger migrate: %w", d.name, err)
	}
	return l, nil
}

// migrate runs the embedded schema one statement at a time; not every
// driver accepts multi-statement Exec.
func (l *sqlLedger) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(l.dialect.migration)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *sqlLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}

func (l *sqlLedger) Contains(ctx context.Context, id any) (bool, error) {
	key := CanonicalID(id)
	if key == "" {
		return false, nil
	}
	if l.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := l.db.QueryRowContext(ctx, l.dialect.contains, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *sqlLedger) Add(ctx context.Context, id any) error {
	key := CanonicalID(id)
	if key == "" {
		return ErrEmptyID
	}
	if l.closed.Load() {
		return ErrClosed
	}
	_, err := l.db.ExecContext(ctx, l.dialect.insert, key, time.Now().UnixMilli())
	return err
}

func (l *sqlLedger) List(ctx context.Context) ([]string, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := l.db.QueryContext(ctx, l.dialect.list)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

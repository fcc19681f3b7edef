// Package auditlog is the module-registry entry that persists the outcome
// of every commit attempt to a local SQLite database, giving operators a
// durable trail of reloads independent of whatever the process's own log
// files currently point at (a reload that fails to open its new log still
// gets recorded here).
package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/cyclehost/confcycle/internal/commit"
	"github.com/cyclehost/confcycle/internal/cycle"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config is the subset of application configuration this module owns.
type Config struct {
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

type conf struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger
}

// Module owns the audit database's lifecycle: opening it, running its
// migrations and, once committed, recording every commit.Result handed to
// it through RecordCommit.
type Module struct {
	Config Config
	Logger *slog.Logger
}

func (m *Module) Name() string { return "auditlog" }

func (m *Module) CreateConf(*cycle.Cycle) (any, error) {
	return &conf{cfg: m.Config}, nil
}

func (m *Module) InitConf(_ *cycle.Cycle, raw any) error {
	c := raw.(*conf)
	if c.cfg.Path == "" {
		return fmt.Errorf("auditlog: path is required")
	}
	return nil
}

// InitModule opens the SQLite file and brings its schema up to date. The
// connection is registered for cleanup on the cycle's pool like every
// other module resource, so a rollback never leaks it.
func (m *Module) InitModule(c *cycle.Cycle, raw any) error {
	cc := raw.(*conf)

	db, err := sql.Open("sqlite", cc.cfg.Path)
	if err != nil {
		return fmt.Errorf("auditlog: open %s: %w", cc.cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer at a time avoids SQLITE_BUSY under concurrent commits

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("auditlog: ping %s: %w", cc.cfg.Path, err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return fmt.Errorf("auditlog: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return fmt.Errorf("auditlog: run migrations: %w", err)
	}

	cc.db = db
	cc.logger = m.Logger
	if cc.logger == nil {
		cc.logger = slog.Default()
	}
	c.Pool.CleanupAdd(func() { db.Close() })

	cc.logger.Info("audit log ready", "path", cc.cfg.Path)
	return nil
}

// AuditLogFrom returns a commit.AuditLog backed by the module's database
// connection.
func AuditLogFrom(c *cycle.Cycle, index int) (commit.AuditLog, error) {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok || cc.db == nil {
		return nil, fmt.Errorf("auditlog: module not initialized")
	}
	return &recorder{db: cc.db, logger: cc.logger}, nil
}

// recorder implements internal/commit.AuditLog.
type recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// RecordCommit inserts one row per commit attempt. A failure to write the
// audit row is logged but never propagated: the commit itself has already
// succeeded or failed by the time this runs, and the audit trail must not
// become a new way for a reload to fail.
func (r *recorder) RecordCommit(result commit.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errText sql.NullString
	if result.Err != nil {
		errText = sql.NullString{String: result.Err.Error(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO commit_log (cycle_id, success, rolled_back, error, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		result.CycleID, boolToInt(result.Success), boolToInt(result.RolledBack), errText, result.Duration.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("audit log write failed", "error", err, "cycle_id", result.CycleID)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Entry is one row read back from the audit trail, for admin-surface
// inspection (modules/httplisten exposes recent entries over HTTP).
type Entry struct {
	CycleID    string
	Success    bool
	RolledBack bool
	Error      string
	DurationMS int64
	RecordedAt time.Time
}

// Recent returns the most recently recorded commit attempts, newest first.
func Recent(c *cycle.Cycle, index int, limit int) ([]Entry, error) {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok || cc.db == nil {
		return nil, fmt.Errorf("auditlog: module not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := cc.db.QueryContext(ctx,
		`SELECT cycle_id, success, rolled_back, error, duration_ms, recorded_at
		 FROM commit_log ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var success, rolledBack int
		var errText sql.NullString
		if err := rows.Scan(&e.CycleID, &success, &rolledBack, &errText, &e.DurationMS, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan row: %w", err)
		}
		e.Success = success != 0
		e.RolledBack = rolledBack != 0
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

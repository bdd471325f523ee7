package history

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

	_ "modernc.org/sqlite"

	"pulsemon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrDisabled = errors.New("history disabled")

// Config controls the iteration log.
type Config struct {
	Driver      string // "sqlite" or ""/"none"
	Path        string
	BusyTimeout time.Duration
	// KeepRuns caps retained rows per runner (0 = unbounded).
	KeepRuns int
}

// RunEntry is one recorded iteration outcome.
type RunEntry struct {
	Runner  string
	Ordinal int
	At      time.Time
	Took    time.Duration
	OK      bool
	Error   string
	Summary string
}

// Store is the SQLite-backed iteration log.
type Store struct {
	db  *sql.DB
	log logx.Logger

	keepRuns   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open initializes the configured store. It returns (nil, nil) when history
// is disabled; callers must treat a nil *Store as a valid no-op handle.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if driver != "sqlite" && driver != "sqlite3" {
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log, keepRuns: cfg.KeepRuns, pruneEvery: 200}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRun records one iteration outcome and occasionally prunes old rows.
func (s *Store) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(runner, ordinal, at, took_ms, ok, err, summary)
		 VALUES(?,?,?,?,?,?,?)`,
		e.Runner, e.Ordinal, e.At.Format(time.RFC3339Nano), e.Took.Milliseconds(),
		e.OK, nullStr(e.Error), nullStr(e.Summary),
	)
	if err == nil && s.keepRuns > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := s.pruneRunner(pctx, e.Runner); perr != nil {
			s.log.Debug("history prune failed", logx.String("runner", e.Runner), logx.Err(perr))
		}
		cancel()
	}
	return err
}

// RecentRuns returns the latest entries for a runner, newest first.
func (s *Store) RecentRuns(ctx context.Context, runner string, limit int) ([]RunEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT runner, ordinal, at, took_ms, ok, err, summary
		 FROM runs WHERE runner = ? ORDER BY id DESC LIMIT ?`,
		runner, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e       RunEntry
			at      string
			tookMS  int64
			errStr  sql.NullString
			summary sql.NullString
		)
		if err := rows.Scan(&e.Runner, &e.Ordinal, &at, &tookMS, &e.OK, &errStr, &summary); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.At = t
		}
		e.Took = time.Duration(tookMS) * time.Millisecond
		e.Error = errStr.String
		e.Summary = summary.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) pruneRunner(ctx context.Context, runner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE runner = ? AND id NOT IN (
		   SELECT id FROM runs WHERE runner = ? ORDER BY id DESC LIMIT ?
		 )`,
		runner, runner, s.keepRuns,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// Package inventory keeps a local record of functional state alongside the
// bus inventory.
package inventory

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/logger"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Transition is one recorded functional state change
type Transition struct {
	Session    string
	Path       string
	Functional bool
	At         time.Time
}

// Journal is a SQLite store of the last functional state per inventory path
// and of every write made, tagged with the process session.
type Journal struct {
	db      *sql.DB
	log     logger.Logger
	clock   clock.Clock
	session string

	mu     sync.Mutex
	closed bool
}

type Option func(*Journal)

func WithClock(clk clock.Clock) Option {
	return func(j *Journal) {
		j.clock = clk
	}
}

func WithSession(id string) Option {
	return func(j *Journal) {
		j.session = id
	}
}

func Open(cfg Config, log logger.Logger, opts ...Option) (*Journal, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, errFactory.WrapData(ErrStorageInit, err, struct {
			Phase string
			Path  string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errFactory.WrapData(ErrStorageInit, err, struct {
			Phase string
		}{
			Phase: "open_database",
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, filepath.Join(dir, "backups"), log); err != nil {
		db.Close()
		return nil, errFactory.WrapData(ErrStorageInit, err, struct {
			Phase string
		}{
			Phase: "schema_version",
		})
	}

	j := &Journal{
		db:      db,
		log:     log,
		clock:   clock.New(),
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(j)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Str("session", j.session).
		Int("schema_version", SchemaVersion).
		Msg("Journal opened")

	return j, nil
}

func (j *Journal) Session() string {
	return j.session
}

// SetFunctional records the state of path
func (j *Journal) SetFunctional(ctx context.Context, path string, functional bool) error {
	errFactory := errors.New()
	at := j.clock.Now().UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				j.log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, upsertStateSQL, path, boolToInt(functional), at); err != nil {
		return errFactory.WrapData(ErrTransactionFailed, err, path)
	}
	if _, err := tx.ExecContext(ctx, insertTransitionSQL, j.session, path, boolToInt(functional), at); err != nil {
		return errFactory.WrapData(ErrTransactionFailed, err, path)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	j.log.Debug().Str("path", path).Bool("functional", functional).Msg("Journaled functional state")

	return nil
}

// Functional returns the last recorded state of path. ok is false when path
// was never recorded.
func (j *Journal) Functional(ctx context.Context, path string) (functional, ok bool, err error) {
	var (
		state     int
		updatedAt int64
	)

	err = j.db.QueryRowContext(ctx, selectStateSQL, path).Scan(&state, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, errors.New().WrapData(ErrStorageAccess, err, path)
	}

	return state == 1, true, nil
}

// Transitions returns every write recorded for path, oldest first
func (j *Journal) Transitions(ctx context.Context, path string) ([]Transition, error) {
	errFactory := errors.New()

	rows, err := j.db.QueryContext(ctx, selectTransitionsSQL, path)
	if err != nil {
		return nil, errFactory.WrapData(ErrStorageAccess, err, path)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t     Transition
			state int
			at    int64
		)
		if err := rows.Scan(&t.Session, &t.Path, &state, &at); err != nil {
			return nil, errFactory.WrapData(ErrStorageAccess, err, path)
		}
		t.Functional = state == 1
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.WrapData(ErrStorageAccess, err, path)
	}

	return out, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	errFactory := errors.New()

	if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		j.db.Close()
		return errFactory.WrapData(ErrStorageClose, err, struct {
			Phase string
		}{
			Phase: "checkpoint_wal",
		})
	}

	if err := j.db.Close(); err != nil {
		return errFactory.WrapData(ErrStorageClose, err, struct {
			Phase string
		}{
			Phase: "close_database",
		})
	}

	j.log.Info().Msg("Journal closed")

	return nil
}

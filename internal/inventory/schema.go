package inventory

import (
	"database/sql"

	"codeberg.org/mutker/fanmon/internal/errors"
	"codeberg.org/mutker/fanmon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		version     INTEGER PRIMARY KEY,
		applied_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS functional_state (
		path        TEXT PRIMARY KEY,
		functional  INTEGER NOT NULL CHECK (functional IN (0, 1)),
		updated_at  INTEGER NOT NULL CHECK (typeof(updated_at) = 'integer')
	);
	CREATE TABLE IF NOT EXISTS transitions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session     TEXT NOT NULL,
		path        TEXT NOT NULL,
		functional  INTEGER NOT NULL CHECK (functional IN (0, 1)),
		at          INTEGER NOT NULL CHECK (typeof(at) = 'integer')
	);
	CREATE INDEX IF NOT EXISTS transitions_path ON transitions (path, id);`

	upsertStateSQL = `
	INSERT INTO functional_state (path, functional, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (path) DO UPDATE SET
		functional = excluded.functional,
		updated_at = excluded.updated_at`

	insertTransitionSQL = `
	INSERT INTO transitions (session, path, functional, at)
	VALUES (?, ?, ?, ?)`

	selectStateSQL = `
	SELECT functional, updated_at FROM functional_state WHERE path = ?`

	selectTransitionsSQL = `
	SELECT session, path, functional, at FROM transitions
	WHERE path = ?
	ORDER BY id`
)

// journalTables in drop order
var journalTables = []string{"transitions", "functional_state", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating journal database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WrapData(ErrSchemaInitFailed, err, struct {
			Phase string
			SQL   string
		}{
			Phase: "create_tables",
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
		INSERT INTO schema_versions (version, applied_at)
		VALUES (?, datetime('now'))
	`, SchemaVersion); err != nil {
		return errFactory.WrapData(ErrSchemaInitFailed, err, struct {
			Phase string
		}{
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Journal schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, 0 for an empty database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
		SELECT version
		FROM schema_versions
		ORDER BY version DESC
		LIMIT 1
	`).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WrapData(ErrSchemaValidationFailed, err, struct {
			Phase string
		}{
			Phase: "get_version",
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master
			WHERE type='table' AND name=?
		)
	`, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WrapData(ErrSchemaValidationFailed, err, struct {
			Phase string
			Table string
		}{
			Phase: "check_table_exists",
			Table: tableName,
		})
	}
	return exists, nil
}

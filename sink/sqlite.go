package sink

import (
	"database/sql"
	"embed"
	"time"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite stores flushed windows of a single run in an SQLite database.
// Several runs may share one database; they are told apart by run identifier.
type SQLite struct {
	db         *sql.DB
	runID      uuid.UUID
	labeler    attendance.Labeler
	namePrefix string
	log        logrus.FieldLogger
}

// OpenSQLite opens (or creates) database at path, applies pending migrations and registers a new run.
// Nil runID is replaced by a random one.
func OpenSQLite(path string, runID uuid.UUID, source string, labeler attendance.Labeler, namePrefix string, logger logrus.FieldLogger) (*SQLite, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	db, err := openDB(path, logger)
	if err != nil {
		return nil, err
	}
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	sink := &SQLite{
		db:         db,
		runID:      runID,
		labeler:    labeler,
		namePrefix: namePrefix,
	}
	sink.log = logger.WithField("run_id", sink.runID.String())
	_, err = db.Exec(
		"INSERT INTO runs (run_id, source, name_prefix, started_at) VALUES (?, ?, ?, ?)",
		sink.runID.String(), source, namePrefix, labeler.Base.UTC().Format(time.RFC3339),
	)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't register run")
	}
	return sink, nil
}

// ReadPresence opens database at path and returns attendance rows stored for the given run.
// No run is registered.
func ReadPresence(path string, runID uuid.UUID, logger logrus.FieldLogger) ([]attendance.Row, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	db, err := openDB(path, logger)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return queryPresence(db, runID)
}

func openDB(path string, logger logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open database")
	}
	if err := migrateUp(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB, logger logrus.FieldLogger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "Can't read embedded migrations")
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "Can't create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "Can't create migrate instance")
	}
	m.Log = &migrateLogger{log: logger}
	// Not closing m: it would close the underlying connection
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "Migration up failed")
	}
	return nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct {
	log logrus.FieldLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// RunID returns identifier of the run registered on open
func (sink *SQLite) RunID() uuid.UUID {
	return sink.runID
}

// DB returns the underlying database handle
func (sink *SQLite) DB() *sql.DB {
	return sink.db
}

// WriteWindow stores window and its presence rows in a single transaction
func (sink *SQLite) WriteWindow(ev attendance.FlushEvent) error {
	tx, err := sink.db.Begin()
	if err != nil {
		return errors.Wrap(err, "Can't begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO windows (run_id, window_start, window_end, label, final) VALUES (?, ?, ?, ?, ?)",
		sink.runID.String(), ev.Start, ev.End, sink.labeler.Window(ev), ev.Final,
	)
	if err != nil {
		return errors.Wrap(err, "Can't insert window")
	}
	windowID, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "Can't get window id")
	}
	for _, id := range ev.IDs {
		_, err = tx.Exec(
			"INSERT INTO presence (window_id, track_id, name, status) VALUES (?, ?, ?, ?)",
			windowID, id, attendance.IdentityName(sink.namePrefix, id), attendance.StatusPresent,
		)
		if err != nil {
			return errors.Wrapf(err, "Can't insert presence of %d", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "Can't commit window")
	}
	sink.log.WithField("window_id", windowID).Debug("window stored")
	return nil
}

// Presence returns attendance rows of the given run in flush order
func (sink *SQLite) Presence(runID uuid.UUID) ([]attendance.Row, error) {
	return queryPresence(sink.db, runID)
}

func queryPresence(db *sql.DB, runID uuid.UUID) ([]attendance.Row, error) {
	rows, err := db.Query(`
		SELECT w.label, p.name, p.status
		FROM presence p
		JOIN windows w ON w.window_id = p.window_id
		WHERE w.run_id = ?
		ORDER BY w.window_id, p.presence_id`, runID.String())
	if err != nil {
		return nil, errors.Wrap(err, "Can't query presence")
	}
	defer rows.Close()

	var out []attendance.Row
	for rows.Next() {
		var row attendance.Row
		if err := rows.Scan(&row.Window, &row.Name, &row.Status); err != nil {
			return nil, errors.Wrap(err, "Can't scan presence row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Can't iterate presence rows")
	}
	return out, nil
}

// Windows returns number of windows stored for the given run
func (sink *SQLite) Windows(runID uuid.UUID) (int, error) {
	var n int
	err := sink.db.QueryRow("SELECT COUNT(*) FROM windows WHERE run_id = ?", runID.String()).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "Can't count windows")
	}
	return n, nil
}

// Close marks the run as finished and closes database
func (sink *SQLite) Close() error {
	_, err := sink.db.Exec(
		"UPDATE runs SET finished_at = ? WHERE run_id = ?",
		time.Now().UTC().Format(time.RFC3339), sink.runID.String(),
	)
	if err != nil {
		sink.db.Close()
		return errors.Wrap(err, "Can't finish run")
	}
	return errors.Wrap(sink.db.Close(), "Can't close database")
}

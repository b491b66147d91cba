// runlog.go - Experiment-Log auf SQLite-Basis
//
// Dieses Modul enthaelt:
// - Store: SQLite-Verbindung (WAL), Schema-Initialisierung, Migrationen
// - Run: ein Trainingslauf, schreibt Skalare (z.B. MSE pro Schritt)
// - Abfragen: Runs, Scalars, LastScalars
//
// Ersetzt die TensorBoard-Eventdateien durch eine einzelne Datenbank, die
// von `ddpm runs` gelesen wird.
package runlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion wird bei Schema-Aenderungen erhoeht.
const currentSchemaVersion = 2

const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

var ErrNotFound = errors.New("run not found")

// Store umhuellt die SQLite-Verbindung. SQLite serialisiert Schreiber
// selbst, im WAL-Modus blockieren Leser keine Schreiber.
type Store struct {
	conn *sql.DB
	path string
}

// RunInfo beschreibt einen gespeicherten Lauf.
type RunInfo struct {
	ID         string
	Name       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Config     json.RawMessage
}

type Scalar struct {
	Tag      string
	Step     int
	Value    float64
	WallTime time.Time
}

// Open oeffnet (oder erstellt) die Datenbank unter path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create runlog directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	slog.Debug("opened runlog", "path", path)
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Close schreibt das WAL zurueck und schliesst die Verbindung.
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

func (s *Store) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'running',
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scalars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL,
		wall_time TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scalars_run_tag ON scalars(run_id, tag, step);
	`, currentSchemaVersion)

	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.conn.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version)
	return version, err
}

// migrate bringt aeltere Datenbanken auf currentSchemaVersion.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for version < currentSchemaVersion {
		switch version {
		case 1:
			// status und finished_at Spalten zur runs Tabelle hinzufuegen
			if err := s.migrateV1ToV2(); err != nil {
				return fmt.Errorf("migrate v1 to v2: %w", err)
			}
			version = 2
		default:
			version = currentSchemaVersion
		}
	}
	return nil
}

func (s *Store) migrateV1ToV2() error {
	_, err := s.conn.Exec(`ALTER TABLE runs ADD COLUMN status TEXT NOT NULL DEFAULT 'finished';`)
	if err != nil && !duplicateColumnError(err) {
		return fmt.Errorf("add status column: %w", err)
	}

	_, err = s.conn.Exec(`ALTER TABLE runs ADD COLUMN finished_at TIMESTAMP;`)
	if err != nil && !duplicateColumnError(err) {
		return fmt.Errorf("add finished_at column: %w", err)
	}

	if _, err := s.conn.Exec(`UPDATE meta SET schema_version = 2;`); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return nil
}

func duplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// Run ist ein laufendes Training. Implementiert train.Metrics.
type Run struct {
	ID   string
	Name string

	store *Store
}

// StartRun legt einen neuen Lauf an. cfg wird als JSON gespeichert.
func (s *Store) StartRun(name string, cfg any) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	bts, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}

	_, err = s.conn.Exec(
		`INSERT INTO runs (id, name, started_at, config, status) VALUES (?, ?, ?, ?, ?)`,
		id.String(), name, time.Now().UTC(), string(bts), StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	slog.Info("started run", "run", name, "id", id)
	return &Run{ID: id.String(), Name: name, store: s}, nil
}

// AddScalar speichert value fuer tag beim globalen Schritt step.
func (r *Run) AddScalar(tag string, value float64, step int) error {
	_, err := r.store.conn.Exec(
		`INSERT INTO scalars (run_id, tag, step, value, wall_time) VALUES (?, ?, ?, ?, ?)`,
		r.ID, tag, step, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert scalar %s: %w", tag, err)
	}
	return nil
}

// Finish markiert den Lauf als beendet. err != nil setzt den Status failed.
func (r *Run) Finish(err error) error {
	status := StatusFinished
	if err != nil {
		status = StatusFailed
	}

	_, dbErr := r.store.conn.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), r.ID,
	)
	if dbErr != nil {
		return fmt.Errorf("finish run: %w", dbErr)
	}
	return nil
}

// Runs gibt alle Laeufe zurueck, neueste zuerst.
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, status, started_at, finished_at, config
		FROM runs
		ORDER BY started_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Run sucht einen Lauf per ID oder eindeutigem ID-Praefix.
func (s *Store) Run(id string) (RunInfo, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, status, started_at, finished_at, config
		FROM runs
		WHERE id LIKE ? || '%'
		LIMIT 2
	`, id)
	if err != nil {
		return RunInfo{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []RunInfo
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return RunInfo{}, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return RunInfo{}, fmt.Errorf("iterate runs: %w", err)
	}

	switch len(found) {
	case 0:
		return RunInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	default:
		return RunInfo{}, fmt.Errorf("run id %s is ambiguous", id)
	}
}

func scanRun(rows *sql.Rows) (RunInfo, error) {
	var run RunInfo
	var finished sql.NullTime
	var cfg string
	if err := rows.Scan(&run.ID, &run.Name, &run.Status, &run.StartedAt, &finished, &cfg); err != nil {
		return RunInfo{}, fmt.Errorf("scan run: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	run.Config = json.RawMessage(cfg)
	return run, nil
}

// Scalars gibt alle Werte eines Tags in Schritt-Reihenfolge zurueck.
func (s *Store) Scalars(runID, tag string) ([]Scalar, error) {
	rows, err := s.conn.Query(`
		SELECT tag, step, value, wall_time
		FROM scalars
		WHERE run_id = ? AND tag = ?
		ORDER BY step, id
	`, runID, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	return scanScalars(rows)
}

// LastScalars gibt pro Tag den Wert mit dem hoechsten Schritt zurueck.
func (s *Store) LastScalars(runID string) ([]Scalar, error) {
	rows, err := s.conn.Query(`
		SELECT s.tag, s.step, s.value, s.wall_time
		FROM scalars s
		WHERE s.run_id = ? AND s.id = (
			SELECT id FROM scalars
			WHERE run_id = s.run_id AND tag = s.tag
			ORDER BY step DESC, id DESC
			LIMIT 1
		)
		ORDER BY s.tag
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	return scanScalars(rows)
}

func scanScalars(rows *sql.Rows) ([]Scalar, error) {
	defer rows.Close()

	var scalars []Scalar
	for rows.Next() {
		var sc Scalar
		if err := rows.Scan(&sc.Tag, &sc.Step, &sc.Value, &sc.WallTime); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		scalars = append(scalars, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scalars: %w", err)
	}
	return scalars, nil
}

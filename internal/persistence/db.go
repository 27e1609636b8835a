// Package persistence exports simulation runs to SQLite.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/epidemic-simulator/internal/statistics"
	"github.com/signalsfoundry/epidemic-simulator/model"
)

// ErrRunNotFound indicates no run with the requested ID was exported.
var ErrRunNotFound = errors.New("run not found")

// Run is the metadata row of one exported simulation run.
type Run struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Seed       int64     `db:"seed"`
	Workers    int       `db:"workers"`
	Ticks      int       `db:"ticks"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	ConfigJSON string    `db:"config_json"`
}

// Config decodes the run's configuration.
func (r Run) Config() (model.Config, error) {
	var cfg model.Config
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode config of run %s: %w", r.ID, err)
	}
	return cfg, nil
}

// NewRun fills a Run from its configuration.
func NewRun(id, name string, seed int64, workers int, cfg model.Config) (Run, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode config: %w", err)
	}
	return Run{
		ID:         id,
		Name:       name,
		Seed:       seed,
		Workers:    workers,
		ConfigJSON: string(data),
	}, nil
}

// DB wraps a SQLite connection holding exported runs.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		workers INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS data_points (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		susceptible INTEGER NOT NULL,
		infected INTEGER NOT NULL,
		hospitalized INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		dead INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS demographics (
		run_id TEXT NOT NULL REFERENCES runs(id),
		age INTEGER NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (run_id, age)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun exports a run with its data frame and demographics in a single
// transaction, replacing any earlier export with the same ID.
func (db *DB) SaveRun(run Run, frame *statistics.DataFrame, demo *statistics.Demographics) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"data_points", "demographics"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", run.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	_, err = tx.NamedExec(`INSERT OR REPLACE INTO runs
		(id, name, seed, workers, ticks, started_at, finished_at, config_json)
		VALUES (:id, :name, :seed, :workers, :ticks, :started_at, :finished_at, :config_json)`, run)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if frame != nil {
		stmt, err := tx.Preparex(`INSERT INTO data_points
			(run_id, tick, susceptible, infected, hospitalized, recovered, dead)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range frame.Points() {
			if _, err := stmt.Exec(run.ID, p.Tick, p.Susceptible, p.Infected, p.Hospitalized, p.Recovered, p.Dead); err != nil {
				return fmt.Errorf("insert tick %d: %w", p.Tick, err)
			}
		}
	}

	if demo != nil {
		stmt, err := tx.Preparex(`INSERT INTO demographics (run_id, age, count) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range demo.Buckets() {
			if _, err := stmt.Exec(run.ID, b.Age, b.Count); err != nil {
				return fmt.Errorf("insert age %d: %w", b.Age, err)
			}
		}
	}

	return tx.Commit()
}

// GetRun returns the metadata of run id.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Runs lists exported runs, most recent first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC")
	return runs, err
}

// DataPoints returns the epidemic curve of run id ordered by tick.
func (db *DB) DataPoints(id string) ([]statistics.DataPoint, error) {
	var points []statistics.DataPoint
	err := db.conn.Select(&points,
		`SELECT tick, susceptible, infected, hospitalized, recovered, dead
		FROM data_points WHERE run_id = ? ORDER BY tick`, id)
	return points, err
}

// Demographics returns the age histogram of run id ordered by age.
func (db *DB) Demographics(id string) ([]statistics.Bucket, error) {
	var buckets []statistics.Bucket
	err := db.conn.Select(&buckets, "SELECT age, count FROM demographics WHERE run_id = ? ORDER BY age", id)
	return buckets, err
}

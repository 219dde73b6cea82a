package evaluation

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// ResultsDB persists per-sample scores. Non-finite scores are stored as a
// text note with a NULL numeric value, since SQLite REAL cannot round-trip
// Inf/NaN.
type ResultsDB struct {
	db *sql.DB
}

const resultsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	metric      TEXT NOT NULL,
	config      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS results (
	run_id     TEXT NOT NULL,
	sample     TEXT NOT NULL,
	metric     TEXT NOT NULL,
	score      REAL,
	score_note TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (run_id, sample)
);
`

// OpenResults opens (and if necessary initializes) a results database.
func OpenResults(path string) (*ResultsDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evaluation: open results db: %w", err)
	}
	if _, err := db.Exec(resultsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("evaluation: init results db: %w", err)
	}
	return &ResultsDB{db: db}, nil
}

// Close releases the database.
func (r *ResultsDB) Close() error { return r.db.Close() }

// BeginRun records the start of a run.
func (r *ResultsDB) BeginRun(runID, model, metric, config string) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (run_id, model, metric, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, model, metric, config, time.Now().UTC().Format(time.RFC3339))
	return err
}

// FinishRun records the end of a run.
func (r *ResultsDB) FinishRun(runID string) error {
	_, err := r.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339), runID)
	return err
}

// InsertScore records one sample's score.
func (r *ResultsDB) InsertScore(runID, sample, metric string, score float64) error {
	var value sql.NullFloat64
	var note sql.NullString
	if math.IsInf(score, 0) || math.IsNaN(score) {
		note = sql.NullString{String: strconv.FormatFloat(score, 'g', -1, 64), Valid: true}
	} else {
		value = sql.NullFloat64{Float64: score, Valid: true}
	}
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO results (run_id, sample, metric, score, score_note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, sample, metric, value, note, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RunSummary aggregates a run's finite scores.
type RunSummary struct {
	RunID     string
	Samples   int
	NonFinite int
	Mean      float64
}

// Summary reports sample count and mean finite score for a run.
func (r *ResultsDB) Summary(runID string) (RunSummary, error) {
	s := RunSummary{RunID: runID}
	err := r.db.QueryRow(
		`SELECT COUNT(*),
		        COUNT(*) - COUNT(score),
		        COALESCE(AVG(score), 0)
		 FROM results WHERE run_id = ?`, runID).
		Scan(&s.Samples, &s.NonFinite, &s.Mean)
	return s, err
}

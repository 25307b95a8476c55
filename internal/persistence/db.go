// Package persistence stores run history in SQLite and writes compressed
// state snapshots.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/agora/internal/engine"
)

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; SQLite serialises anyway.
	conn.SetMaxOpenConns(1)

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
		seed INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		demo INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		last_tick INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL,
		agent INTEGER NOT NULL,
		success INTEGER NOT NULL,
		reason TEXT NOT NULL,
		message TEXT NOT NULL,
		ref INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		proposal_id INTEGER NOT NULL,
		proposer INTEGER NOT NULL,
		target INTEGER NOT NULL,
		gave_json TEXT NOT NULL,
		received_json TEXT NOT NULL,
		proposer_rep_delta REAL NOT NULL DEFAULT 0,
		target_rep_delta REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		population INTEGER NOT NULL,
		total_wealth REAL NOT NULL,
		gini REAL NOT NULL,
		mobility REAL NOT NULL,
		modularity REAL NOT NULL,
		specialization REAL NOT NULL,
		diversity REAL NOT NULL,
		institutions REAL NOT NULL,
		snapshot_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(run_id, agent);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string     `db:"id" json:"id"`
	Seed       int64      `db:"seed" json:"seed"`
	Agents     int        `db:"agents" json:"agents"`
	Demo       bool       `db:"demo" json:"demo"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	LastTick   uint64     `db:"last_tick" json:"last_tick"`
	Status     string     `db:"status" json:"status"`
}

// EventRecord is one row of the events table.
type EventRecord struct {
	RunID    string `db:"run_id" json:"run_id"`
	Tick     uint64 `db:"tick" json:"tick"`
	Seq      int    `db:"seq" json:"seq"`
	Category string `db:"category" json:"category"`
	Kind     string `db:"kind" json:"kind"`
	Agent    uint64 `db:"agent" json:"agent"`
	Success  bool   `db:"success" json:"success"`
	Reason   string `db:"reason" json:"reason"`
	Message  string `db:"message" json:"message"`
	Ref      uint64 `db:"ref" json:"ref"`
}

// MetricRecord is the headline numbers of one tick.
type MetricRecord struct {
	RunID          string  `db:"run_id" json:"run_id"`
	Tick           uint64  `db:"tick" json:"tick"`
	Population     int     `db:"population" json:"population"`
	TotalWealth    float64 `db:"total_wealth" json:"total_wealth"`
	Gini           float64 `db:"gini" json:"gini"`
	Mobility       float64 `db:"mobility" json:"mobility"`
	Modularity     float64 `db:"modularity" json:"modularity"`
	Specialization float64 `db:"specialization" json:"specialization"`
	Diversity      float64 `db:"diversity" json:"diversity"`
	Institutions   float64 `db:"institutions" json:"institutions"`
}

// StartRun records a new run.
func (db *DB) StartRun(id string, seed int64, agents int, demo bool, tick uint64) error {
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, seed, agents, demo, started_at, last_tick, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, finished_at = NULL`,
		id, seed, agents, demo, time.Now().UTC(), tick, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

// FinishRun marks a run finished or failed.
func (db *DB) FinishRun(id string, tick uint64, status string) error {
	_, err := db.conn.Exec(
		"UPDATE runs SET finished_at = ?, last_tick = ?, status = ? WHERE id = ?",
		time.Now().UTC(), tick, status, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// SaveSummary appends a tick's events, trades and metrics in one
// transaction.
func (db *DB) SaveSummary(sum engine.Summary) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO events
		(run_id, tick, seq, category, kind, agent, success, reason, message, ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range sum.Events {
		if _, err := stmt.Exec(sum.RunID, e.Tick, e.Seq, e.Category, e.Kind, uint64(e.Agent), e.Success, e.Reason, e.Message, e.Ref); err != nil {
			return fmt.Errorf("insert event %d.%d: %w", e.Tick, e.Seq, err)
		}
	}

	for _, t := range sum.Trades {
		gave, _ := json.Marshal(t.Gave)
		received, _ := json.Marshal(t.Received)
		_, err := tx.Exec(`INSERT OR REPLACE INTO ledger
			(run_id, seq, tick, proposal_id, proposer, target, gave_json, received_json, proposer_rep_delta, target_rep_delta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, t.Seq, t.Tick, t.ProposalID, uint64(t.Proposer), uint64(t.Target), string(gave), string(received),
			t.ProposerReputation, t.TargetReputation,
		)
		if err != nil {
			return fmt.Errorf("insert trade %d: %w", t.Seq, err)
		}
	}

	m := sum.Metrics
	snapJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO metrics
		(run_id, tick, population, total_wealth, gini, mobility, modularity,
		 specialization, diversity, institutions, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Tick, m.Population, m.Wealth.Total, m.Wealth.Gini, m.Wealth.Mobility,
		m.Network.Modularity, m.Specialization.Mean, m.Specialization.Diversity, m.Institutions.Score,
		string(snapJSON),
	)
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}

	if _, err := tx.Exec("UPDATE runs SET last_tick = ? WHERE id = ?", sum.Tick, sum.RunID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// Runs returns the most recent runs first.
func (db *DB) Runs(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := db.conn.Select(&runs,
		"SELECT id, seed, agents, demo, started_at, finished_at, last_tick, status FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	return runs, err
}

// Run returns one run.
func (db *DB) Run(id string) (RunRecord, error) {
	var r RunRecord
	err := db.conn.Get(&r,
		"SELECT id, seed, agents, demo, started_at, finished_at, last_tick, status FROM runs WHERE id = ?",
		id,
	)
	return r, err
}

// RecentEvents returns a run's most recent events, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]EventRecord, error) {
	var events []EventRecord
	err := db.conn.Select(&events,
		`SELECT run_id, tick, seq, category, kind, agent, success, reason, message, ref
		 FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	return events, err
}

// AgentEvents returns every event of one agent in order.
func (db *DB) AgentEvents(runID string, agent uint64) ([]EventRecord, error) {
	var events []EventRecord
	err := db.conn.Select(&events,
		`SELECT run_id, tick, seq, category, kind, agent, success, reason, message, ref
		 FROM events WHERE run_id = ? AND agent = ? ORDER BY id`,
		runID, agent,
	)
	return events, err
}

// TradeCount returns the number of recorded trades of a run.
func (db *DB) TradeCount(runID string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM ledger WHERE run_id = ?", runID)
	return n, err
}

// MetricsHistory returns a run's per-tick headline metrics in tick order.
func (db *DB) MetricsHistory(runID string, sinceTick uint64) ([]MetricRecord, error) {
	var rows []MetricRecord
	err := db.conn.Select(&rows,
		`SELECT run_id, tick, population, total_wealth, gini, mobility, modularity,
		        specialization, diversity, institutions
		 FROM metrics WHERE run_id = ? AND tick >= ? ORDER BY tick`,
		runID, sinceTick,
	)
	return rows, err
}

// Recorder persists every summary of a run. Write failures are logged and
// do not stop the run.
type Recorder struct {
	db     *DB
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record is an engine summary sink.
func (r *Recorder) Record(sum engine.Summary) {
	if err := r.db.SaveSummary(sum); err != nil {
		r.logger.Error("persist summary", "tick", sum.Tick, "error", err)
	}
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sentence workers share one connection so writes never hit SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT,
			finished_at TEXT,
			model_dir TEXT,
			config JSON,
			sentences INTEGER DEFAULT 0,
			disorders INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS sentences (
			run_id TEXT,
			sentence INTEGER,
			filter TEXT,
			status TEXT,
			cell_before INTEGER,
			cell_after INTEGER,
			kept INTEGER,
			anomalies INTEGER,
			metric REAL,
			error TEXT,
			PRIMARY KEY (run_id, sentence, filter)
		);`,
		`CREATE TABLE IF NOT EXISTS derivations (
			run_id TEXT,
			sentence INTEGER,
			filter TEXT,
			rank INTEGER,
			score REAL,
			node_key TEXT,
			labels JSON,
			PRIMARY KEY (run_id, sentence, filter, rank)
		);`,
		`CREATE TABLE IF NOT EXISTS rule_usage (
			run_id TEXT,
			sentence INTEGER,
			filter TEXT,
			rule_id INTEGER,
			lhs TEXT,
			weight REAL,
			text TEXT,
			count INTEGER,
			PRIMARY KEY (run_id, sentence, filter, rule_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rule_usage_run ON rule_usage(run_id, filter);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- RunStore Implementation ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, model_dir, config) VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt.Format(time.RFC3339Nano), run.ModelDir, run.Config)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, sentences = ?, disorders = ? WHERE id = ?
	`, run.FinishedAt.Format(time.RFC3339Nano), run.Sentences, run.Disorders, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, COALESCE(finished_at, ''), model_dir, config, sentences, disorders
		FROM runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.ModelDir, &r.Config, &r.Sentences, &r.Disorders); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- ResultStore Implementation ---

func (s *SQLiteStore) SaveSentence(ctx context.Context, rec *SentenceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	key := []any{rec.RunID, rec.Sentence, rec.Filter}
	for _, table := range []string{"derivations", "rule_usage"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ? AND sentence = ? AND filter = ?", key...); err != nil {
			return err
		}
	}

	// 1. Save sentence row
	var metric sql.NullFloat64
	if rec.Metric != nil {
		metric = sql.NullFloat64{Float64: *rec.Metric, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sentences (run_id, sentence, filter, status, cell_before, cell_after, kept, anomalies, metric, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, sentence, filter) DO UPDATE SET
			status=excluded.status,
			cell_before=excluded.cell_before,
			cell_after=excluded.cell_after,
			kept=excluded.kept,
			anomalies=excluded.anomalies,
			metric=excluded.metric,
			error=excluded.error
	`, rec.RunID, rec.Sentence, rec.Filter, rec.Status, rec.CellBefore, rec.CellAfter, rec.Kept, rec.Anomalies, metric, rec.Error); err != nil {
		return err
	}

	// 2. Save derivations
	derivStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO derivations (run_id, sentence, filter, rank, score, node_key, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer derivStmt.Close()

	for _, d := range rec.Derivations {
		if _, err := derivStmt.ExecContext(ctx, rec.RunID, rec.Sentence, rec.Filter, d.Rank, d.Score, d.Key, d.Labels); err != nil {
			return err
		}
	}

	// 3. Save rule usage
	usageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_usage (run_id, sentence, filter, rule_id, lhs, weight, text, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, sentence, filter, rule_id) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return err
	}
	defer usageStmt.Close()

	for _, u := range rec.Usage {
		if _, err := usageStmt.ExecContext(ctx, rec.RunID, rec.Sentence, rec.Filter, u.RuleID, u.LHS, u.Weight, u.Text, u.Count); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) RuleStats(ctx context.Context, runID string) ([]RuleStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filter, rule_id, lhs, weight, text, SUM(count)
		FROM rule_usage WHERE run_id = ?
		GROUP BY filter, rule_id
		ORDER BY filter, rule_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule usage: %w", err)
	}
	defer rows.Close()

	type lhsKey struct{ filter, lhs string }
	var stats []RuleStat
	filterTotal := make(map[string]int)
	lhsTotal := make(map[lhsKey]int)
	for rows.Next() {
		var st RuleStat
		if err := rows.Scan(&st.Filter, &st.RuleID, &st.LHS, &st.Weight, &st.Text, &st.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rule usage: %w", err)
		}
		filterTotal[st.Filter] += st.Count
		lhsTotal[lhsKey{st.Filter, st.LHS}] += st.Count
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stats {
		st := &stats[i]
		if t := filterTotal[st.Filter]; t > 0 {
			st.Percent = float64(st.Count) * 100 / float64(t)
		}
		if t := lhsTotal[lhsKey{st.Filter, st.LHS}]; t > 0 {
			st.LHSPercent = float64(st.Count) * 100 / float64(t)
		}
	}
	return stats, nil
}

package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"patch-fleet/pkg/model"
)

const historySchema = `CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	cancelled INTEGER NOT NULL DEFAULT 0,
	hosts_total INTEGER NOT NULL,
	hosts_failed INTEGER NOT NULL,
	report TEXT NOT NULL
);`

// RunSummary is a history listing row; the full report stays in the blob.
type RunSummary struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Cancelled   bool      `json:"cancelled"`
	HostsTotal  int       `json:"hostsTotal"`
	HostsFailed int       `json:"hostsFailed"`
}

// History is the sqlite-backed local run log on the patcher machine.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating as needed) the run history at path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Append stores a finished fleet report and returns its run id.
func (h *History) Append(ctx context.Context, rep model.FleetReport) (int64, error) {
	blob, err := json.Marshal(rep)
	if err != nil {
		return 0, err
	}
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO runs(started_at, finished_at, cancelled, hosts_total, hosts_failed, report) VALUES(?,?,?,?,?,?)`,
		rep.StartedAt.Unix(), rep.FinishedAt.Unix(), boolInt(rep.Cancelled), len(rep.Hosts), rep.Failed(), string(blob))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// List returns the newest runs first, at most limit of them.
func (h *History) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, cancelled, hosts_total, hosts_failed FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished int64
		var cancelled int
		if err := rows.Scan(&s.ID, &started, &finished, &cancelled, &s.HostsTotal, &s.HostsFailed); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(started, 0)
		s.FinishedAt = time.Unix(finished, 0)
		s.Cancelled = cancelled != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads the full report for one run.
func (h *History) Get(ctx context.Context, id int64) (model.FleetReport, bool, error) {
	var blob string
	err := h.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FleetReport{}, false, nil
	}
	if err != nil {
		return model.FleetReport{}, false, err
	}
	var rep model.FleetReport
	if err := json.Unmarshal([]byte(blob), &rep); err != nil {
		return model.FleetReport{}, false, fmt.Errorf("decode run %d: %w", id, err)
	}
	return rep, true, nil
}

func (h *History) Close() error { return h.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

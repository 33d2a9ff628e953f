// Package journal records unwrapping runs and their per-tile outcomes in an
// SQLite database, so that degraded tiles and applied offsets can be
// inspected after the fact.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"phasetiler/internal/models"
)

// Journal is an open run journal. It is safe for concurrent use.
type Journal struct {
	*sql.DB
}

// schema.sql defines the runs and tiles tables.
//
//go:embed schema.sql
var schemaSQL string

// Run describes the parameters of a run when it starts.
type Run struct {
	ID         string
	Started    time.Time
	Rows, Cols int

	TileRows, TileCols       int
	OverlapRows, OverlapCols int
	DecimationRows           int
	DecimationCols           int

	Upsample      string
	Statistic     string
	FailurePolicy string
	Algorithm     string

	// Filled in by FinishRun.
	Finished time.Time
	State    string
	Err      string
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Workers record tiles concurrently; a single connection serialises the
	// writes instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise journal schema: %w", err)
	}
	return &Journal{db}, nil
}

// StartRun inserts a new run in state INIT.
func (j *Journal) StartRun(r Run) error {
	query := `
		INSERT INTO runs (run_id, started_at, raster_rows, raster_cols, tile_rows, tile_cols,
			overlap_rows, overlap_cols, decimation_rows, decimation_cols,
			upsample, statistic, failure_policy, algorithm, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'INIT')
	`
	_, err := j.Exec(query, r.ID, r.Started.UTC().Format(time.RFC3339Nano), r.Rows, r.Cols,
		r.TileRows, r.TileCols, r.OverlapRows, r.OverlapCols, r.DecimationRows, r.DecimationCols,
		r.Upsample, r.Statistic, r.FailurePolicy, r.Algorithm)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
	}
	return nil
}

// RecordTile stores the outcome of one tile, replacing an earlier record
// for the same tile.
func (j *Journal) RecordTile(runID string, t models.TileOutcome) error {
	query := `
		INSERT OR REPLACE INTO tiles (run_id, tile_index,
			core_row_start, core_row_stop, core_col_start, core_col_stop,
			row_start, row_stop, col_start, col_stop,
			cycle_offset, samples, status, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.Exec(query, runID, t.Index,
		t.Core.Rows.Start, t.Core.Rows.Stop, t.Core.Cols.Start, t.Core.Cols.Stop,
		t.Extent.Rows.Start, t.Extent.Rows.Stop, t.Extent.Cols.Start, t.Extent.Cols.Stop,
		t.Offset, t.Samples, string(t.Status), nullString(t.Err), t.Duration.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to record tile %d of run %s: %w", t.Index, runID, err)
	}
	return nil
}

// FinishRun stores the terminal state of a run.
func (j *Journal) FinishRun(runID, state, errMsg string) error {
	res, err := j.Exec(`UPDATE runs SET finished_at = ?, state = ?, error = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), state, nullString(errMsg), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun loads a run record.
func (j *Journal) GetRun(runID string) (*Run, error) {
	var (
		r                Run
		started          string
		finished, errMsg sql.NullString
	)
	err := j.QueryRow(`
		SELECT run_id, started_at, finished_at, raster_rows, raster_cols, tile_rows, tile_cols,
			overlap_rows, overlap_cols, decimation_rows, decimation_cols,
			upsample, statistic, failure_policy, algorithm, state, error
		FROM runs WHERE run_id = ?`, runID).Scan(
		&r.ID, &started, &finished, &r.Rows, &r.Cols, &r.TileRows, &r.TileCols,
		&r.OverlapRows, &r.OverlapCols, &r.DecimationRows, &r.DecimationCols,
		&r.Upsample, &r.Statistic, &r.FailurePolicy, &r.Algorithm, &r.State, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, err
	}
	if finished.Valid {
		if r.Finished, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return nil, err
		}
	}
	r.Err = errMsg.String
	return &r, nil
}

// Tiles returns the recorded tiles of a run ordered by index.
func (j *Journal) Tiles(runID string) ([]models.TileOutcome, error) {
	rows, err := j.Query(`
		SELECT tile_index, core_row_start, core_row_stop, core_col_start, core_col_stop,
			row_start, row_stop, col_start, col_stop, cycle_offset, samples, status, error, duration_ns
		FROM tiles WHERE run_id = ? ORDER BY tile_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.TileOutcome
	for rows.Next() {
		var (
			t      models.TileOutcome
			status string
			errMsg sql.NullString
			dur    int64
		)
		if err := rows.Scan(&t.Index,
			&t.Core.Rows.Start, &t.Core.Rows.Stop, &t.Core.Cols.Start, &t.Core.Cols.Stop,
			&t.Extent.Rows.Start, &t.Extent.Rows.Stop, &t.Extent.Cols.Start, &t.Extent.Cols.Stop,
			&t.Offset, &t.Samples, &status, &errMsg, &dur); err != nil {
			return nil, err
		}
		t.Status = models.TileStatus(status)
		t.Err = errMsg.String
		t.Duration = time.Duration(dur)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
)

// JobRunFilter narrows job-run listings
type JobRunFilter struct {
	Job     string
	Outcome model.BatchOutcome
}

// JobRunHistory defines the interface for batch job run history
type JobRunHistory interface {
	// Store stores a job run record
	Store(ctx context.Context, run *model.JobRun) error

	// Update updates an existing job run record
	Update(ctx context.Context, run *model.JobRun) error

	// Get retrieves a job run record by ID, or nil if absent
	Get(ctx context.Context, id string) (*model.JobRun, error)

	// List retrieves job run records newest first
	List(ctx context.Context, filter JobRunFilter, offset, limit int) ([]*model.JobRun, error)

	// DeleteBefore deletes records started before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteJobRunHistory implements JobRunHistory on the store's database
type SQLiteJobRunHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

const jobRunColumns = "id, job, outcome, processed, failed, error, started_at, completed_at, duration"

// Store implements JobRunHistory.Store
func (h *SQLiteJobRunHistory) Store(ctx context.Context, run *model.JobRun) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, outcome, processed, failed, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Job,
		run.Outcome,
		run.Processed,
		run.Failed,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return storeErr("store job run", err)
	}
	return nil
}

// Update implements JobRunHistory.Update
func (h *SQLiteJobRunHistory) Update(ctx context.Context, run *model.JobRun) error {
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: run.CompletedAt.UTC(), Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		UPDATE job_runs SET
			outcome = ?,
			processed = ?,
			failed = ?,
			error = ?,
			completed_at = ?,
			duration = ?
		WHERE id = ?`,
		run.Outcome,
		run.Processed,
		run.Failed,
		sql.NullString{String: run.Error, Valid: run.Error != ""},
		completedAt,
		sql.NullInt64{Int64: int64(run.Duration), Valid: run.Duration != 0},
		run.ID,
	)
	if err != nil {
		return storeErr("update job run", err)
	}
	return nil
}

// Get implements JobRunHistory.Get
func (h *SQLiteJobRunHistory) Get(ctx context.Context, id string) (*model.JobRun, error) {
	row := h.db.QueryRowContext(ctx, "SELECT "+jobRunColumns+" FROM job_runs WHERE id = ?", id)
	run, err := scanJobRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get job run", err)
	}
	return run, nil
}

// List implements JobRunHistory.List
func (h *SQLiteJobRunHistory) List(ctx context.Context, filter JobRunFilter, offset, limit int) ([]*model.JobRun, error) {
	query := "SELECT " + jobRunColumns + " FROM job_runs WHERE 1 = 1"
	args := make([]interface{}, 0)

	if filter.Job != "" {
		query += " AND job = ?"
		args = append(args, filter.Job)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}

	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list job runs", err)
	}
	defer rows.Close()

	var runs []*model.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, storeErr("scan job run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate job runs", err)
	}
	return runs, nil
}

// DeleteBefore implements JobRunHistory.DeleteBefore
func (h *SQLiteJobRunHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := h.db.ExecContext(ctx, "DELETE FROM job_runs WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, storeErr("delete job runs", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("get affected rows", err)
	}

	h.logger.Info("Deleted old job run records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

func scanJobRun(row rowScanner) (*model.JobRun, error) {
	var run model.JobRun
	var errorStr sql.NullString
	var completedAt sql.NullTime
	var durationNanos sql.NullInt64

	if err := row.Scan(
		&run.ID,
		&run.Job,
		&run.Outcome,
		&run.Processed,
		&run.Failed,
		&errorStr,
		&run.StartedAt,
		&completedAt,
		&durationNanos,
	); err != nil {
		return nil, err
	}

	if errorStr.Valid {
		run.Error = errorStr.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if durationNanos.Valid {
		run.Duration = time.Duration(durationNanos.Int64)
	}
	return &run, nil
}

// MemoryJobRunHistory implements JobRunHistory in memory
type MemoryJobRunHistory struct {
	mu   sync.RWMutex
	runs map[string]*model.JobRun
}

// NewMemoryJobRunHistory creates an empty in-memory history
func NewMemoryJobRunHistory() *MemoryJobRunHistory {
	return &MemoryJobRunHistory{runs: make(map[string]*model.JobRun)}
}

// Store implements JobRunHistory.Store
func (h *MemoryJobRunHistory) Store(ctx context.Context, run *model.JobRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.runs[run.ID]; exists {
		return storeErr("store job run", fmt.Errorf("duplicate id %s", run.ID))
	}
	cp := *run
	h.runs[run.ID] = &cp
	return nil
}

// Update implements JobRunHistory.Update
func (h *MemoryJobRunHistory) Update(ctx context.Context, run *model.JobRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.runs[run.ID]; exists {
		cp := *run
		h.runs[run.ID] = &cp
	}
	return nil
}

// Get implements JobRunHistory.Get
func (h *MemoryJobRunHistory) Get(ctx context.Context, id string) (*model.JobRun, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

// List implements JobRunHistory.List
func (h *MemoryJobRunHistory) List(ctx context.Context, filter JobRunFilter, offset, limit int) ([]*model.JobRun, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var runs []*model.JobRun
	for _, run := range h.runs {
		if filter.Job != "" && run.Job != filter.Job {
			continue
		}
		if filter.Outcome != "" && run.Outcome != filter.Outcome {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return paginate(runs, offset, limit), nil
}

// DeleteBefore implements JobRunHistory.DeleteBefore
func (h *MemoryJobRunHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var deleted int64
	for id, run := range h.runs {
		if run.StartedAt.Before(before) {
			delete(h.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

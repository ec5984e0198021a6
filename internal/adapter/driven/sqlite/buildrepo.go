package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.BuildStore   = (*BuildRepo)(nil)
	_ driven.StoreChecker = (*BuildRepo)(nil)
)

const buildColumns = `id, provider, pipeline, repo, branch, status, started_at, completed_at,
	duration_seconds, url, logs, received_at`

// BuildRepo is the SQLite implementation of the BuildStore port interface.
// Timestamps are stored as RFC 3339 text in UTC. effective_at duplicates the
// event's effective time as Unix microseconds so window scans can use an index;
// the unit covers every year a timestamp can carry.
type BuildRepo struct {
	db  *DB
	now func() time.Time
}

// NewBuildRepo creates a new BuildRepo backed by the given DB.
func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append inserts event, stamping its id and received_at.
func (r *BuildRepo) Append(ctx context.Context, event model.BuildEvent) (model.BuildEvent, error) {
	const query = `INSERT INTO builds (
		provider, pipeline, repo, branch, status, started_at, completed_at,
		duration_seconds, url, logs, received_at, effective_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	event.ReceivedAt = r.now()

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(event.Provider),
		event.Pipeline,
		event.Repo,
		event.Branch,
		string(event.Status),
		formatNullTime(event.StartedAt),
		formatNullTime(event.CompletedAt),
		nullFloat(event.DurationSeconds),
		event.URL,
		event.Logs,
		formatTime(event.ReceivedAt),
		event.EffectiveTime().UnixMicro(),
	)
	if err != nil {
		return model.BuildEvent{}, &model.StorageError{Op: "append", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.BuildEvent{}, &model.StorageError{Op: "append", Err: fmt.Errorf("last insert id: %w", err)}
	}
	event.ID = id

	return event, nil
}

// List returns up to limit events, newest first, optionally restricted to one provider.
func (r *BuildRepo) List(ctx context.Context, limit int, provider model.Provider) ([]model.BuildEvent, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + buildColumns + ` FROM builds`)
	if provider != "" {
		b.WriteString(` WHERE provider = ?`)
		args = append(args, string(provider))
	}
	b.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, limit)

	return r.query(ctx, "list builds", b.String(), args...)
}

// Window returns events whose effective time lies in [now-d, now], oldest id first.
func (r *BuildRepo) Window(ctx context.Context, d time.Duration) ([]model.BuildEvent, error) {
	const query = `SELECT ` + buildColumns + ` FROM builds
		WHERE effective_at BETWEEN ? AND ?
		ORDER BY id`

	now := r.now()
	return r.query(ctx, "window builds", query, now.Add(-d).UnixMicro(), now.UnixMicro())
}

// LatestPerPipeline returns the greatest-id event of every pipeline.
func (r *BuildRepo) LatestPerPipeline(ctx context.Context) (map[string]model.BuildEvent, error) {
	const query = `SELECT ` + buildColumns + ` FROM builds
		WHERE id IN (SELECT MAX(id) FROM builds GROUP BY pipeline)`

	events, err := r.query(ctx, "latest per pipeline", query)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]model.BuildEvent, len(events))
	for _, e := range events {
		latest[e.Pipeline] = e
	}
	return latest, nil
}

// Ping checks that the reader pool can reach the database.
func (r *BuildRepo) Ping(ctx context.Context) error {
	return r.db.Reader.PingContext(ctx)
}

func (r *BuildRepo) query(ctx context.Context, op, query string, args ...any) ([]model.BuildEvent, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var events []model.BuildEvent
	for rows.Next() {
		e, err := scanBuild(rows)
		if err != nil {
			return nil, &model.StorageError{Op: op, Err: fmt.Errorf("scan build: %w", err)}
		}
		events = append(events, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: op, Err: err}
	}

	return events, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (*model.BuildEvent, error) {
	var (
		e                      model.BuildEvent
		provider, status       string
		startedAt, completedAt sql.NullString
		duration               sql.NullFloat64
		receivedAt             string
	)

	err := s.Scan(&e.ID, &provider, &e.Pipeline, &e.Repo, &e.Branch, &status,
		&startedAt, &completedAt, &duration, &e.URL, &e.Logs, &receivedAt)
	if err != nil {
		return nil, err
	}

	e.Provider = model.Provider(provider)
	e.Status = model.BuildStatus(status)

	if e.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("parse received_at: %w", err)
	}
	if duration.Valid {
		d := duration.Float64
		e.DurationSeconds = &d
	}

	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTime accepts the RFC 3339 text written by formatTime plus SQLite's own
// datetime() format, in case rows are edited by hand.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

// Package watchstore keeps the history of watch runs in sqlite, either a
// local file or a remote libsql database.
package watchstore

import (
	"context"
	"database/sql"
	"time"

	configlibsql "coursewatch/lib/configutil/libsql"
	"coursewatch/lib/timezone"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Open opens the configured database and applies the schema.
func Open(config configlibsql.Struct) (Store, error) {
	database, err := config.OpenDB()
	if err != nil {
		return Store{}, err
	}
	_, err = database.Exec(Schema)
	if err != nil {
		database.Close()
		return Store{}, err
	}
	return NewStore(database), nil
}

func (s Store) Close() error {
	return s.db.Close()
}

// Run is one recorded watch attempt, finished or failed.
type Run struct {
	Id         int64
	StartedAt  time.Time
	FinishedAt time.Time
	CourseId   int64
	VideoId    int64
	VideoName  string
	// terminal signal name, e.g. "reached_target"
	Signal         string
	WatchedSeconds int64
	Ticks          int64
	// failure cause or other trailing context, empty for clean runs
	Detail string
}

const insertRun = `
INSERT INTO runs (
    started_at, finished_at, course_id, video_id, video_name,
    signal, watched_seconds, ticks, detail
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (s Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, insertRun,
		run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.CourseId, run.VideoId, run.VideoName,
		run.Signal, run.WatchedSeconds, run.Ticks, run.Detail,
	)
	return err
}

// RecordBatch writes a batch's runs in one transaction so an interrupted
// process never records half a batch.
func (s Store) RecordBatch(ctx context.Context, runs []Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, run := range runs {
		_, err := tx.ExecContext(ctx, insertRun,
			run.StartedAt.Unix(), run.FinishedAt.Unix(),
			run.CourseId, run.VideoId, run.VideoName,
			run.Signal, run.WatchedSeconds, run.Ticks, run.Detail,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	CourseId int64
	VideoId  int64
	Limit    int64
}

// ListRuns returns recorded runs, newest first.
func (s Store) ListRuns(ctx context.Context, filter Filter) ([]Run, error) {
	query := `
SELECT id, started_at, finished_at, course_id, video_id, video_name,
       signal, watched_seconds, ticks, detail
FROM runs WHERE 1=1`
	var args []any
	if filter.CourseId != 0 {
		query += " AND course_id = ?"
		args = append(args, filter.CourseId)
	}
	if filter.VideoId != 0 {
		query += " AND video_id = ?"
		args = append(args, filter.VideoId)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt int64
		err := rows.Scan(
			&run.Id, &startedAt, &finishedAt,
			&run.CourseId, &run.VideoId, &run.VideoName,
			&run.Signal, &run.WatchedSeconds, &run.Ticks, &run.Detail,
		)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(startedAt, 0).In(timezone.Location)
		run.FinishedAt = time.Unix(finishedAt, 0).In(timezone.Location)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

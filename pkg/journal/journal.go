// Package journal records every task run in a local sqlite database so that
// later runs can export only what changed since the last success.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/qustavo/dotsql"

	"github.com/saturnines/vacsync/pkg/errors"
)

//go:embed queries/journal.sql
var journalSQL string

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded task execution.
type Run struct {
	ID         int64          `db:"id"`
	RunID      string         `db:"run_id"`
	Task       string         `db:"task"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
	Status     string         `db:"status"`
	Records    int            `db:"records"`
	Message    string         `db:"message"`
}

// Started parses StartedAt.
func (r *Run) Started() (time.Time, error) {
	return time.Parse(timeLayout, r.StartedAt)
}

// Journal is a sqlite backed run log.
type Journal struct {
	db  *sqlx.DB
	dot *dotsql.DotSql
}

// Open opens (and creates) the journal at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, "open journal")
	}
	// sqlite allows one writer; tasks run sequentially anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapError(err, errors.ErrStorage, "ping journal")
	}

	dot, err := dotsql.LoadFromString(journalSQL)
	if err != nil {
		db.Close()
		return nil, errors.WrapError(err, errors.ErrStorage, "parse journal queries")
	}

	j := &Journal{db: db, dot: dot}
	for _, name := range []string{"create-runs-table", "create-runs-task-index"} {
		if _, err := j.exec(name); err != nil {
			db.Close()
			return nil, err
		}
	}
	return j, nil
}

// Start records the beginning of task and returns its row id.
func (j *Journal) Start(runID, task string, at time.Time) (int64, error) {
	res, err := j.exec("start-run", runID, task, at.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrStorage, "start run")
	}
	return id, nil
}

// Finish closes the run id with its outcome.
func (j *Journal) Finish(id int64, status string, records int, message string, at time.Time) error {
	_, err := j.exec("finish-run", at.UTC().Format(timeLayout), status, records, message, id)
	return err
}

// LastSuccess returns the most recent successful run of task, or nil.
func (j *Journal) LastSuccess(task string) (*Run, error) {
	var run Run
	if err := j.get("last-success", &run, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// Runs lists the rows of one process run in insertion order.
func (j *Journal) Runs(runID string) ([]Run, error) {
	query, err := j.dot.Raw("list-runs")
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, "query not found: list-runs")
	}
	var runs []Run
	if err := j.db.Select(&runs, j.db.Rebind(query), runID); err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, "list runs")
	}
	return runs, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) exec(name string, args ...interface{}) (sql.Result, error) {
	query, err := j.dot.Raw(name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("query not found: %s", name))
	}
	res, err := j.db.Exec(j.db.Rebind(query), args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, name)
	}
	return res, nil
}

func (j *Journal) get(name string, dest interface{}, args ...interface{}) error {
	query, err := j.dot.Raw(name)
	if err != nil {
		return errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("query not found: %s", name))
	}
	if err := j.db.Get(dest, j.db.Rebind(query), args...); err != nil {
		return errors.WrapError(err, errors.ErrStorage, name)
	}
	return nil
}

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/journal"
)

// TaskKind tells what a task does
type TaskKind string

const (
	TaskExport TaskKind = "export"
	TaskImport TaskKind = "import"
	TaskUpload TaskKind = "upload"
)

// Task is one selectable unit of work, e.g. exportProducts.
type Task struct {
	Name   string
	Kind   TaskKind
	Target string // resource or upload name
}

// Tasks returns every task of catalog in run order: exports of top-level
// resources, imports of importable resources (children included), uploads.
func Tasks(catalog *config.Catalog) []Task {
	var tasks []Task
	for _, r := range catalog.Resources {
		tasks = append(tasks, Task{Name: "export" + upperFirst(r.Name), Kind: TaskExport, Target: r.Name})
	}
	catalog.Walk(func(r *config.Resource, _ []*config.Resource) {
		if r.Importable() {
			tasks = append(tasks, Task{Name: "import" + upperFirst(r.Name), Kind: TaskImport, Target: r.Name})
		}
	})
	for _, u := range catalog.Uploads {
		tasks = append(tasks, Task{Name: "import" + upperFirst(u.Name), Kind: TaskUpload, Target: u.Name})
	}
	return tasks
}

// SelectTasks resolves a comma separated list of task names. Selected tasks
// keep run order whatever order they were given in; unknown names are
// returned separately.
func SelectTasks(catalog *config.Catalog, list string) (selected []Task, unknown []string) {
	wanted := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			wanted[name] = true
		}
	}

	for _, t := range Tasks(catalog) {
		if wanted[t.Name] {
			selected = append(selected, t)
			delete(wanted, t.Name)
		}
	}
	// report unknown names in the order given
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if wanted[name] {
			unknown = append(unknown, name)
			delete(wanted, name)
		}
	}
	return selected, unknown
}

// RunOptions apply to every task of one run.
type RunOptions struct {
	Parameter string
	SinceLast bool
}

// Outcome is the result of one task.
type Outcome struct {
	Task    Task
	Records int
	Err     error
}

// Run executes tasks in order. A failing task is logged and the next one runs
// anyway; only an unrecognized response shape stops the run, and that error
// is returned.
func (s *Syncer) Run(ctx context.Context, tasks []Task, opts RunOptions) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		log := s.log.With(zap.String("task", t.Name))
		log.Info("task started")

		entry := s.journalStart(t)
		records, err := s.runTask(ctx, t, opts)
		s.journalFinish(entry, records, err)

		outcomes = append(outcomes, Outcome{Task: t, Records: records, Err: err})
		if err != nil {
			log.Error("task failed", zap.Int("records", records), zap.Error(err))
			if errors.Is(err, errors.ErrUnrecognizedShape) {
				return outcomes, err
			}
			continue
		}
		log.Info("task finished", zap.Int("records", records))
	}
	return outcomes, nil
}

func (s *Syncer) runTask(ctx context.Context, t Task, opts RunOptions) (int, error) {
	switch t.Kind {
	case TaskExport:
		exportOpts := ExportOptions{Parameter: opts.Parameter}
		if opts.SinceLast && opts.Parameter == "" {
			exportOpts.Since = s.lastSuccess(t)
		}
		return s.Export(ctx, t.Target, exportOpts)

	case TaskImport:
		result, err := s.Import(ctx, t.Target)
		if err != nil {
			if result != nil {
				return len(result.Responses), err
			}
			return 0, err
		}
		if failures := result.Failures(); len(failures) > 0 || result.StatusCode > 299 {
			return len(result.Responses), errors.WrapError(
				fmt.Errorf("%d of %d records rejected, worst status %d", len(failures), len(result.Responses), result.StatusCode),
				errors.ErrBatch,
				t.Name,
			)
		}
		return len(result.Responses), nil

	case TaskUpload:
		if _, err := s.Upload(ctx, t.Target, opts.Parameter); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, errors.WrapError(fmt.Errorf("unknown task kind %q", t.Kind), errors.ErrConfiguration, t.Name)
}

func (s *Syncer) lastSuccess(t Task) (since time.Time) {
	if s.journal == nil {
		return since
	}
	run, err := s.journal.LastSuccess(t.Name)
	if err != nil {
		s.log.Warn("journal lookup failed", zap.String("task", t.Name), zap.Error(err))
		return since
	}
	if run == nil {
		return since
	}
	started, err := run.Started()
	if err != nil {
		s.log.Warn("unreadable journal timestamp", zap.String("task", t.Name), zap.Error(err))
		return since
	}
	return started
}

func (s *Syncer) journalStart(t Task) int64 {
	if s.journal == nil {
		return 0
	}
	id, err := s.journal.Start(s.runID, t.Name, s.now())
	if err != nil {
		s.log.Warn("journal write failed", zap.String("task", t.Name), zap.Error(err))
		return 0
	}
	return id
}

func (s *Syncer) journalFinish(id int64, records int, taskErr error) {
	if s.journal == nil || id == 0 {
		return
	}
	status, message := journal.StatusOK, ""
	if taskErr != nil {
		status, message = journal.StatusFailed, taskErr.Error()
	}
	if err := s.journal.Finish(id, status, records, message, s.now()); err != nil {
		s.log.Warn("journal write failed", zap.Int64("id", id), zap.Error(err))
	}
}

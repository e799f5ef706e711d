// Package core runs exports and imports of catalog resources between the PIM
// API and the .vac files of the export directory.
package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/batch"
	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/journal"
	"github.com/saturnines/vacsync/pkg/pagination"
	"github.com/saturnines/vacsync/pkg/store"
)

// Client is everything the syncer needs from the PIM transport.
type Client interface {
	pagination.Getter
	batch.Patcher
	Upload(ctx context.Context, endpoint, codeHeader, filename string, content io.Reader) (string, error)
}

// Journal records task runs.
type Journal interface {
	Start(runID, task string, at time.Time) (int64, error)
	Finish(id int64, status string, records int, message string, at time.Time) error
	LastSuccess(task string) (*journal.Run, error)
}

// Syncer moves records between the API and the store.
type Syncer struct {
	catalog *config.Catalog
	client  Client
	store   *store.Store
	fetcher *pagination.Fetcher
	writer  *batch.Writer
	journal Journal

	patchLimit   int
	promiseLimit int
	chunkSize    int
	runID        string
	now          func() time.Time
	log          *zap.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPatchLimit sets the page size of exports and the batch size of imports.
func WithPatchLimit(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.patchLimit = n
		}
	}
}

// WithPromiseLimit sets how many batch sends a fan-out import runs at once.
func WithPromiseLimit(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.promiseLimit = n
		}
	}
}

// WithChunkSize sets how many records one fan-out window holds.
func WithChunkSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithJournal records every task run in j.
func WithJournal(j Journal) Option {
	return func(s *Syncer) {
		s.journal = j
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Syncer) {
		if id != "" {
			s.runID = id
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Syncer) {
		s.log = log
	}
}

// NewSyncer creates a Syncer for catalog.
func NewSyncer(catalog *config.Catalog, client Client, st *store.Store, opts ...Option) *Syncer {
	s := &Syncer{
		catalog:      catalog,
		client:       client,
		store:        st,
		patchLimit:   batch.DefaultLimit,
		promiseLimit: 16,
		chunkSize:    1600,
		runID:        uuid.NewString(),
		now:          time.Now,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With(zap.String("run_id", s.runID))
	s.fetcher = pagination.NewFetcher(client, pagination.WithLimit(s.patchLimit), pagination.WithLogger(s.log))
	s.writer = batch.NewWriter(client, batch.WithLimit(s.patchLimit), batch.WithLogger(s.log))
	return s
}

// RunID identifies this process run in logs and in the journal.
func (s *Syncer) RunID() string {
	return s.runID
}

// Package store keeps one JSON Lines file per resource in the export directory.
package store

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/jsonl"
)

// DefaultLoadTimeout is how long Load waits for the next line.
const DefaultLoadTimeout = 60 * time.Second

// Store is a directory of .vac files.
type Store struct {
	dir         string
	loadTimeout time.Duration
}

// New creates dir if needed.
func New(dir string, loadTimeout time.Duration) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("create export directory %s", dir))
	}
	return &Store{dir: dir, loadTimeout: loadTimeout}, nil
}

// Dir returns the export directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the location of file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Remove deletes file name. A missing file is not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("remove %s", name))
}

// Appender writes records to the end of one file.
type Appender struct {
	file *os.File
	w    *jsonl.Writer
	n    int
}

// Append opens file name for appending, creating it if needed.
func (s *Store) Append(name string) (*Appender, error) {
	f, err := os.OpenFile(s.Path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("open %s", name))
	}
	return &Appender{file: f, w: jsonl.NewWriter(f)}, nil
}

// Write appends one record as one line.
func (a *Appender) Write(record interface{}) error {
	if err := a.w.Write(record); err != nil {
		return errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("write %s", a.file.Name()))
	}
	a.n++
	return nil
}

// Count returns the number of records written through a.
func (a *Appender) Count() int {
	return a.n
}

// Close flushes and closes the file.
func (a *Appender) Close() error {
	flushErr := a.w.Flush()
	closeErr := a.file.Close()
	if flushErr != nil {
		return errors.WrapError(flushErr, errors.ErrStorage, fmt.Sprintf("flush %s", a.file.Name()))
	}
	if closeErr != nil {
		return errors.WrapError(closeErr, errors.ErrStorage, fmt.Sprintf("close %s", a.file.Name()))
	}
	return nil
}

// Exists reports whether file name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

type loadedLine struct {
	record map[string]interface{}
	err    error
}

// Load reads every record of file name in file order.
//
// The read fails if no line arrives within the load timeout; the timer is
// reset on every line.
func (s *Store) Load(ctx context.Context, name string) ([]map[string]interface{}, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrStorage, fmt.Sprintf("open %s", name))
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan loadedLine)
	go func() {
		defer close(lines)
		scanner := jsonl.NewScanner(bufio.NewReader(f))
		for scanner.Scan() {
			rec, err := jsonl.ParseRecord(scanner.Bytes())
			if err != nil {
				err = fmt.Errorf("line %d: %w", scanner.Line(), err)
			}
			select {
			case lines <- loadedLine{record: rec, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- loadedLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	timer := time.NewTimer(s.loadTimeout)
	defer timer.Stop()

	records := []map[string]interface{}{}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return records, nil
			}
			if line.err != nil {
				return nil, errors.WrapError(line.err, errors.ErrStorage, fmt.Sprintf("read %s", name))
			}
			records = append(records, line.record)
			timer.Reset(s.loadTimeout)
		case <-timer.C:
			return nil, errors.WrapError(
				fmt.Errorf("no data for %s", s.loadTimeout),
				errors.ErrStorage,
				fmt.Sprintf("read %s", name),
			)
		case <-ctx.Done():
			return nil, errors.WrapError(ctx.Err(), errors.ErrStorage, fmt.Sprintf("read %s", name))
		}
	}
}

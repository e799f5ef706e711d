package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// searchTimeLayout is the date format of the updated search filter.
const searchTimeLayout = "2006-01-02 15:04:05"

// ExportOptions narrows one export.
type ExportOptions struct {
	// Parameter is appended verbatim as a query string to resources that
	// accept one.
	Parameter string
	// Since limits incremental resources to records updated after it. The
	// file is replaced, so it then holds a delta, not the full resource.
	// Ignored when Parameter is set.
	Since time.Time
}

// Export writes the top-level resource name and all its descendants to their
// files, replacing earlier exports. It returns the number of records written.
func (s *Syncer) Export(ctx context.Context, name string, opts ExportOptions) (int, error) {
	r, parents, ok := s.catalog.Find(name)
	if !ok {
		return 0, errors.WrapError(fmt.Errorf("unknown resource %q", name), errors.ErrConfiguration, "export")
	}
	if len(parents) > 0 {
		return 0, errors.WrapError(
			fmt.Errorf("%s is exported with %s", name, parents[0].Name),
			errors.ErrConfiguration,
			"export",
		)
	}

	if err := s.removeFiles(r); err != nil {
		return 0, err
	}

	target := rest.AppendQuery(r.Path, rest.EncodeQuery(r.Query))
	switch {
	case r.AcceptsParameter && opts.Parameter != "":
		target = rest.AppendQuery(target, opts.Parameter)
	case r.Incremental && !opts.Since.IsZero():
		target = rest.AppendQuery(target, updatedSince(opts.Since))
		s.log.Warn("incremental export, file will hold changed records only",
			zap.String("resource", r.Name),
			zap.String("file", r.File),
			zap.Time("since", opts.Since),
		)
	}

	return s.exportResource(ctx, r, map[string]string{}, target)
}

// removeFiles deletes the files of r and of every descendant. Children are
// appended to once per parent, so they must start empty.
func (s *Syncer) removeFiles(r *config.Resource) error {
	if err := s.store.Remove(r.File); err != nil {
		s.log.Error("could not remove stale export", zap.String("file", r.File), zap.Error(err))
		return err
	}
	for i := range r.Children {
		if err := s.removeFiles(&r.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) exportResource(ctx context.Context, r *config.Resource, vars map[string]string, target string) (int, error) {
	out, err := s.store.Append(r.File)
	if err != nil {
		return 0, err
	}

	var parents []map[string]interface{}
	write := func(records []map[string]interface{}) error {
		for _, rec := range records {
			addScaffold(rec, vars)
			if err := out.Write(rec); err != nil {
				return err
			}
			if len(r.Children) > 0 {
				parents = append(parents, rec)
			}
		}
		return nil
	}

	var fetchErr error
	if r.Stream {
		_, fetchErr = s.fetcher.Fetch(ctx, target, write)
	} else {
		var records []map[string]interface{}
		records, fetchErr = s.fetcher.Fetch(ctx, target, nil)
		if fetchErr == nil {
			fetchErr = write(records)
		}
	}

	written := out.Count()
	if err := out.Close(); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		if status := errors.StatusCode(fetchErr); status != 0 && r.Tolerates(status) {
			s.log.Debug("nothing to export",
				zap.String("resource", r.Name),
				zap.String("url", target),
				zap.Int("status_code", status),
			)
			return written, nil
		}
		return written, fetchErr
	}

	s.log.Info("exported",
		zap.String("resource", r.Name),
		zap.String("file", r.File),
		zap.Int("records", written),
	)

	total := written
	for _, parent := range parents {
		code := recordKey(parent, r.Key)
		if code == "" {
			s.log.Warn("record without key, children skipped", zap.String("resource", r.Name), zap.String("key", r.Key))
			continue
		}
		childVars := make(map[string]string, len(vars)+1)
		for k, v := range vars {
			childVars[k] = v
		}
		childVars[r.Param] = code

		for i := range r.Children {
			child := &r.Children[i]
			if !child.When.Matches(parent) {
				continue
			}
			childTarget, err := rest.Expand(child.Path, childVars)
			if err != nil {
				return total, err
			}
			childTarget = rest.AppendQuery(childTarget, rest.EncodeQuery(child.Query))

			n, err := s.exportResource(ctx, child, childVars, childTarget)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// updatedSince builds the search filter for records updated after since.
func updatedSince(since time.Time) string {
	filter := map[string][]map[string]string{
		"updated": {{"operator": ">", "value": since.UTC().Format(searchTimeLayout)}},
	}
	encoded, _ := json.Marshal(filter)
	return url.Values{"search": {string(encoded)}}.Encode()
}

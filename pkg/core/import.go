package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saturnines/vacsync/pkg/batch"
	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// endpointGroup is the records of one file that share an endpoint.
type endpointGroup struct {
	endpoint string
	records  []map[string]interface{}
}

// Import reads the file of resource name and writes its records back.
//
// API-level rejections are reported in the result, not as an error. Errors
// mean the import could not run to the end.
func (s *Syncer) Import(ctx context.Context, name string) (*batch.Result, error) {
	r, _, ok := s.catalog.Find(name)
	if !ok {
		return nil, errors.WrapError(fmt.Errorf("unknown resource %q", name), errors.ErrConfiguration, "import")
	}
	if !r.Importable() {
		return nil, errors.WrapError(fmt.Errorf("%s is export only", name), errors.ErrConfiguration, "import")
	}

	records, err := s.store.Load(ctx, r.File)
	if err != nil {
		return nil, err
	}

	groups, err := groupByEndpoint(r, records)
	if err != nil {
		return nil, err
	}

	result := &batch.Result{}
	for _, g := range groups {
		var res *batch.Result
		switch {
		case r.FanOut:
			res, err = s.importFanOut(ctx, r, g)
		case r.Import == config.ImportCollection:
			res, err = s.writer.Send(ctx, g.endpoint, g.records)
		case r.Import == config.ImportArray:
			res, err = s.writer.SendArray(ctx, g.endpoint, g.records)
		case r.Import == config.ImportSingle:
			res, err = s.importSingle(ctx, r, g)
		}
		result.Merge(res)
		if err != nil {
			return result, err
		}
	}

	s.log.Info("imported",
		zap.String("resource", r.Name),
		zap.Int("records", len(records)),
		zap.Int("rejected", len(result.Failures())),
		zap.Int("status_code", result.StatusCode),
	)
	return result, nil
}

// groupByEndpoint strips scaffold fields, expands the endpoint of every record
// and groups records per endpoint in first-seen order.
func groupByEndpoint(r *config.Resource, records []map[string]interface{}) ([]endpointGroup, error) {
	placeholders := rest.Placeholders(r.Path)

	var groups []endpointGroup
	index := make(map[string]int)
	for i, rec := range records {
		vars := stripScaffold(rec, placeholders)
		endpoint, err := rest.Expand(r.Path, vars)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrValidation, fmt.Sprintf("%s record %d", r.File, i+1))
		}

		pos, seen := index[endpoint]
		if !seen {
			pos = len(groups)
			index[endpoint] = pos
			groups = append(groups, endpointGroup{endpoint: endpoint})
		}
		groups[pos].records = append(groups[pos].records, rec)
	}
	return groups, nil
}

// importSingle PATCHes every record to <endpoint>/<key>, one at a time. A
// rejected line carries the record as sent in Data and the server answer in
// Errors.
func (s *Syncer) importSingle(ctx context.Context, r *config.Resource, g endpointGroup) (*batch.Result, error) {
	result := &batch.Result{}
	for i, rec := range g.records {
		code := recordKey(rec, r.Key)
		if code == "" {
			return result, errors.WrapError(
				fmt.Errorf("record %d has no %s", i+1, r.Key),
				errors.ErrValidation,
				fmt.Sprintf("import %s", r.Name),
			)
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return result, errors.WrapError(err, errors.ErrBatch, fmt.Sprintf("encode record %d", i+1))
		}

		target := strings.TrimRight(g.endpoint, "/") + "/" + url.PathEscape(code)
		resp, err := s.client.PatchJSON(ctx, target, json.RawMessage(payload))
		if err != nil {
			return result, err
		}

		line := batch.ResponseLine{Line: i + 1, Code: batch.Code(code), StatusCode: resp.StatusCode}
		if obj, ok := resp.Object(); ok && resp.StatusCode > 299 {
			line.Message = stringValue(obj["message"])
		}
		if resp.HTML != "" {
			line.Message = "non-JSON response"
		}
		if line.Failed() {
			line.Data = string(payload)
			if resp.Value != nil {
				line.Errors = json.RawMessage(resp.Body)
			}
			s.log.Warn("record rejected",
				zap.String("endpoint", target),
				zap.Int("status_code", resp.StatusCode),
				zap.String("message", line.Message),
			)
		}

		result.Merge(&batch.Result{Responses: []batch.ResponseLine{line}, StatusCode: resp.StatusCode, Batches: 1})
	}
	return result, nil
}

// importFanOut keys records by their key (later lines win), sorts the keys and
// sends windows of chunkSize records, each split round-robin over up to
// promiseLimit concurrent batch sends.
func (s *Syncer) importFanOut(ctx context.Context, r *config.Resource, g endpointGroup) (*batch.Result, error) {
	byKey := make(map[string]map[string]interface{}, len(g.records))
	for i, rec := range g.records {
		key := recordKey(rec, r.Key)
		if key == "" {
			s.log.Warn("record without key skipped", zap.String("resource", r.Name), zap.Int("line", i+1))
			continue
		}
		byKey[key] = rec
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := &batch.Result{}
	for start := 0; start < len(keys); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(keys) {
			end = len(keys)
		}

		lanes := make([][]map[string]interface{}, s.promiseLimit)
		for i, key := range keys[start:end] {
			lane := i % s.promiseLimit
			lanes[lane] = append(lanes[lane], byKey[key])
		}

		results := make([]*batch.Result, len(lanes))
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(s.promiseLimit)
		for i, lane := range lanes {
			if len(lane) == 0 {
				continue
			}
			i, lane := i, lane
			eg.Go(func() error {
				res, err := s.writer.Send(egCtx, g.endpoint, lane)
				results[i] = res
				return err
			})
		}
		err := eg.Wait()
		for _, res := range results {
			result.Merge(res)
		}
		if err != nil {
			return result, err
		}

		s.log.Debug("window sent",
			zap.String("resource", r.Name),
			zap.Int("from", start),
			zap.Int("to", end),
		)
	}
	return result, nil
}

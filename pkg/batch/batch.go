// Package batch writes records to collection endpoints as chunked JSON Lines
// PATCH requests and correlates the per-line report with the records sent.
package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/jsonl"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// DefaultLimit is the number of records per PATCH.
const DefaultLimit = 100

// Patcher sends one collection body, either as JSON Lines or as a JSON array.
type Patcher interface {
	Patch(ctx context.Context, target string, payload []byte) (*rest.Response, error)
	PatchJSON(ctx context.Context, target string, v interface{}) (*rest.Response, error)
}

// ResponseLine is one line of a collection PATCH report.
//
// Line is 1-based within the batch it belongs to. Data is set to the exact
// serialized record when the line carries both Line and Message.
type ResponseLine struct {
	Line       int             `json:"line,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Code       Code            `json:"code,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Errors     json.RawMessage `json:"errors,omitempty"`
	Data       string          `json:"data,omitempty"`
}

// Code is a record code. Request-level errors put a number there instead.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// Failed reports a line the server rejected.
func (l ResponseLine) Failed() bool {
	return l.Message != "" || l.StatusCode > 299
}

// Result aggregates every batch of one Send.
type Result struct {
	Responses []ResponseLine
	// StatusCode is the numerically highest status seen across batches.
	StatusCode int
	Batches    int
}

// Failures returns the rejected lines.
func (r *Result) Failures() []ResponseLine {
	var out []ResponseLine
	for _, l := range r.Responses {
		if l.Failed() {
			out = append(out, l)
		}
	}
	return out
}

// Merge folds other into r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Responses = append(r.Responses, other.Responses...)
	r.Batches += other.Batches
	if other.StatusCode > r.StatusCode {
		r.StatusCode = other.StatusCode
	}
}

// Writer sends records in fixed-size batches.
type Writer struct {
	client Patcher
	limit  int
	log    *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithLimit sets the batch size.
func WithLimit(limit int) Option {
	return func(w *Writer) {
		if limit > 0 {
			w.limit = limit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Writer) {
		w.log = log
	}
}

// NewWriter creates a Writer.
func NewWriter(client Patcher, opts ...Option) *Writer {
	w := &Writer{client: client, limit: DefaultLimit, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Limit returns the batch size.
func (w *Writer) Limit() int {
	return w.limit
}

// Send PATCHes records to endpoint as JSON Lines, limit records at a time,
// strictly in order.
//
// A batch whose report cannot be parsed stops the run: the batches already
// sent are returned together with an ErrBatch error. Transport failures stop
// it the same way. No records means no request.
func (w *Writer) Send(ctx context.Context, endpoint string, records []map[string]interface{}) (*Result, error) {
	return w.send(ctx, endpoint, records, w.flush)
}

// SendArray is Send for endpoints that take a JSON array per batch and answer
// with one report object per element, in order.
func (w *Writer) SendArray(ctx context.Context, endpoint string, records []map[string]interface{}) (*Result, error) {
	return w.send(ctx, endpoint, records, w.flushArray)
}

type flushFunc func(ctx context.Context, endpoint string, lines [][]byte) (*Result, error)

func (w *Writer) send(ctx context.Context, endpoint string, records []map[string]interface{}, flush flushFunc) (*Result, error) {
	result := &Result{}
	pending := make([][]byte, 0, w.limit)

	for i, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return result, errors.WrapError(err, errors.ErrBatch, fmt.Sprintf("encode record %d", i+1))
		}
		pending = append(pending, line)

		if (i+1)%w.limit != 0 && i+1 != len(records) {
			continue
		}

		batch, err := flush(ctx, endpoint, pending)
		if err != nil {
			return result, err
		}
		result.Merge(batch)
		pending = make([][]byte, 0, w.limit)
	}

	return result, nil
}

func (w *Writer) flush(ctx context.Context, endpoint string, lines [][]byte) (*Result, error) {
	resp, err := w.client.Patch(ctx, endpoint, jsonl.Join(lines))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrBatch, fmt.Sprintf("patch %s", endpoint))
	}

	batch := &Result{StatusCode: resp.StatusCode, Batches: 1}
	err = jsonl.Decode(resp.Body, func(raw []byte) error {
		var line ResponseLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return err
		}
		batch.Responses = append(batch.Responses, w.annotate(endpoint, line, lines))
		return nil
	})
	if err != nil {
		return nil, w.unreadable(endpoint, resp, err)
	}

	w.log.Debug("batch sent",
		zap.String("endpoint", endpoint),
		zap.Int("records", len(lines)),
		zap.Int("status_code", resp.StatusCode),
	)
	return batch, nil
}

func (w *Writer) flushArray(ctx context.Context, endpoint string, lines [][]byte) (*Result, error) {
	elements := make([]json.RawMessage, len(lines))
	for i, line := range lines {
		elements[i] = line
	}

	resp, err := w.client.PatchJSON(ctx, endpoint, elements)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrBatch, fmt.Sprintf("patch %s", endpoint))
	}

	batch := &Result{StatusCode: resp.StatusCode, Batches: 1}
	if len(resp.Body) == 0 {
		return batch, nil
	}

	var report []ResponseLine
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		// a whole-request error comes back as a single object
		var single ResponseLine
		if err2 := json.Unmarshal(resp.Body, &single); err2 != nil {
			return nil, w.unreadable(endpoint, resp, err)
		}
		report = []ResponseLine{single}
	} else {
		for i := range report {
			if report[i].Line == 0 {
				report[i].Line = i + 1
			}
		}
	}
	for _, line := range report {
		batch.Responses = append(batch.Responses, w.annotate(endpoint, line, lines))
	}

	w.log.Debug("batch sent",
		zap.String("endpoint", endpoint),
		zap.Int("records", len(lines)),
		zap.Int("status_code", resp.StatusCode),
	)
	return batch, nil
}

// annotate attaches the serialized record to a rejected line.
func (w *Writer) annotate(endpoint string, line ResponseLine, lines [][]byte) ResponseLine {
	if line.Line > 0 && line.Message != "" && line.Line <= len(lines) {
		line.Data = string(lines[line.Line-1])
	}
	if line.Failed() {
		w.log.Warn("record rejected",
			zap.String("endpoint", endpoint),
			zap.Int("line", line.Line),
			zap.Int("status_code", line.StatusCode),
			zap.String("message", line.Message),
			zap.ByteString("errors", line.Errors),
			zap.String("data", line.Data),
		)
	}
	return line
}

func (w *Writer) unreadable(endpoint string, resp *rest.Response, cause error) error {
	w.log.Error("unreadable batch report",
		zap.String("endpoint", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.ByteString("body", resp.Body),
	)
	return errors.WrapError(
		&errors.ResponseError{StatusCode: resp.StatusCode, Header: resp.Header, HTML: string(resp.Body)},
		errors.ErrBatch,
		fmt.Sprintf("parse report of %s: %v", endpoint, cause),
	)
}

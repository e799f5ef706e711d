// Package jsonl reads and writes JSON Lines: one standalone JSON value per line.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineSize bounds a single line. Product records with many values can be large.
const MaxLineSize = 64 * 1024 * 1024

// Writer encodes one value per line.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer buffering into w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write marshals v and appends it as one line.
func (w *Writer) Write(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}
	return w.WriteRaw(line)
}

// WriteRaw appends an already encoded JSON value as one line.
func (w *Writer) WriteRaw(line []byte) error {
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Join encodes lines as a JSON Lines payload without a trailing newline.
func Join(lines [][]byte) []byte {
	return bytes.Join(lines, []byte("\n"))
}

// Scanner splits a stream into non-blank lines.
type Scanner struct {
	s    *bufio.Scanner
	line int
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Scanner{s: s}
}

// Scan advances to the next non-blank line.
func (s *Scanner) Scan() bool {
	for s.s.Scan() {
		s.line++
		if len(bytes.TrimSpace(s.s.Bytes())) > 0 {
			return true
		}
	}
	return false
}

// Bytes returns the current line. The slice is only valid until the next Scan.
func (s *Scanner) Bytes() []byte {
	return s.s.Bytes()
}

// Line returns the 1-based physical line number of the current line.
func (s *Scanner) Line() int {
	return s.line
}

// Err returns the first non-EOF error.
func (s *Scanner) Err() error {
	return s.s.Err()
}

// Decode calls fn with every non-blank line of data, in order.
func Decode(data []byte, fn func(line []byte) error) error {
	s := NewScanner(bytes.NewReader(data))
	for s.Scan() {
		if err := fn(s.Bytes()); err != nil {
			return err
		}
	}
	return s.Err()
}

// ReadRecords parses every line of r as a JSON object.
func ReadRecords(r io.Reader) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	s := NewScanner(r)
	for s.Scan() {
		rec, err := ParseRecord(s.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", s.Line(), err)
		}
		records = append(records, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ParseRecord parses one line as a JSON object. Numbers keep their literal form.
func ParseRecord(line []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]interface{}
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("line is not a JSON object")
	}
	return rec, nil
}

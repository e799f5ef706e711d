package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// recordingPatcher answers every PATCH with one report line per input line.
type recordingPatcher struct {
	payloads [][]byte
	// respond overrides the report for the n-th call (0-based)
	respond func(call int, lines []string) (int, string)
}

func (p *recordingPatcher) Patch(ctx context.Context, target string, payload []byte) (*rest.Response, error) {
	call := len(p.payloads)
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	lines := strings.Split(string(payload), "\n")

	status, body := http.StatusOK, ""
	if p.respond != nil {
		status, body = p.respond(call, lines)
	} else {
		report := make([]string, len(lines))
		for i := range lines {
			report[i] = fmt.Sprintf(`{"line":%d,"code":"c%d","status_code":204}`, i+1, i+1)
		}
		body = strings.Join(report, "\n")
	}
	return &rest.Response{StatusCode: status, Body: []byte(body)}, nil
}

// PatchJSON answers a JSON array body with a JSON array report.
func (p *recordingPatcher) PatchJSON(ctx context.Context, target string, v interface{}) (*rest.Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	p.payloads = append(p.payloads, payload)
	if p.respond != nil {
		status, body := p.respond(len(p.payloads)-1, nil)
		return &rest.Response{StatusCode: status, Body: []byte(body)}, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil {
		return nil, err
	}
	report := make([]string, len(elements))
	for i := range elements {
		report[i] = `{"code":"x","status_code":204}`
	}
	return &rest.Response{StatusCode: http.StatusOK, Body: []byte("[" + strings.Join(report, ",") + "]")}, nil
}

func (p *recordingPatcher) sizes() []int {
	out := make([]int, len(p.payloads))
	for i, payload := range p.payloads {
		out[i] = bytes.Count(payload, []byte("\n")) + 1
	}
	return out
}

func makeRecords(n int) []map[string]interface{} {
	records := make([]map[string]interface{}, n)
	for i := range records {
		records[i] = map[string]interface{}{"code": fmt.Sprintf("r%03d", i+1), "sort_order": i}
	}
	return records
}

func TestSendChunking(t *testing.T) {
	patcher := &recordingPatcher{}
	w := NewWriter(patcher, WithLimit(100))

	result, err := w.Send(context.Background(), "/api/rest/v1/categories", makeRecords(250))
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100, 50}, patcher.sizes())
	assert.Len(t, result.Responses, 250)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 200, result.StatusCode)

	// order is preserved across batches
	assert.True(t, strings.HasPrefix(string(patcher.payloads[1]), `{"code":"r101"`))
	assert.False(t, bytes.HasSuffix(patcher.payloads[2], []byte("\n")), "payload must not end with a newline")
}

func TestSendEmpty(t *testing.T) {
	patcher := &recordingPatcher{}
	result, err := NewWriter(patcher).Send(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Empty(t, patcher.payloads)
	assert.Equal(t, 0, result.StatusCode)
}

func TestSendLineCorrelation(t *testing.T) {
	patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
		if call == 1 {
			return http.StatusOK, "{\"line\":1,\"code\":\"r004\",\"status_code\":204}\n" +
				"{\"line\":2,\"code\":\"r005\",\"status_code\":204}\n" +
				"{\"line\":3,\"code\":\"r006\",\"status_code\":422,\"message\":\"invalid\",\"errors\":[{\"property\":\"labels\"}]}"
		}
		return http.StatusOK, `{"line":1,"status_code":204}`
	}}

	records := makeRecords(6)
	result, err := NewWriter(patcher, WithLimit(3)).Send(context.Background(), "/x", records)
	require.NoError(t, err)

	failures := result.Failures()
	require.Len(t, failures, 1)

	expected, _ := json.Marshal(records[5])
	assert.Equal(t, string(expected), failures[0].Data)
	assert.Equal(t, Code("r006"), failures[0].Code)
	assert.Equal(t, 422, failures[0].StatusCode)
	assert.JSONEq(t, `[{"property":"labels"}]`, string(failures[0].Errors))

	// lines without a message are not annotated
	for _, l := range result.Responses {
		if l.Message == "" {
			assert.Empty(t, l.Data)
		}
	}
}

func TestSendWorstStatus(t *testing.T) {
	patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
		if call == 1 {
			return http.StatusUnprocessableEntity, `{"line":1,"code":422,"message":"Invalid json message received"}`
		}
		return http.StatusOK, `{"line":1,"status_code":201}`
	}}

	result, err := NewWriter(patcher, WithLimit(2)).Send(context.Background(), "/x", makeRecords(5))
	require.NoError(t, err)
	assert.Equal(t, 422, result.StatusCode)
	assert.Equal(t, Code("422"), result.Responses[1].Code)
}

func TestSendUnreadableReportStops(t *testing.T) {
	patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
		if call == 1 {
			return http.StatusBadGateway, "<html>Bad Gateway</html>"
		}
		return http.StatusOK, `{"line":1,"status_code":204}`
	}}

	result, err := NewWriter(patcher, WithLimit(1)).Send(context.Background(), "/x", makeRecords(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBatch))
	assert.Equal(t, http.StatusBadGateway, errors.StatusCode(err))

	var re *errors.ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "<html>Bad Gateway</html>", re.HTML)

	assert.Len(t, patcher.payloads, 2, "no batch is sent after an unreadable report")
	assert.Len(t, result.Responses, 1, "batches already sent are returned")
}

func TestSendOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, rest.CollectionContentType, r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		lines := strings.Split(string(body), "\n")
		for i := range lines {
			if i > 0 {
				w.Write([]byte("\n"))
			}
			fmt.Fprintf(w, `{"line":%d,"code":"x","status_code":201}`, i+1)
		}
	}))
	defer server.Close()

	client := rest.NewClient(server.URL, rest.WithHTTPClient(server.Client()))
	result, err := NewWriter(client, WithLimit(2)).Send(context.Background(), "/api/rest/v1/channels", makeRecords(3))
	require.NoError(t, err)
	assert.Len(t, result.Responses, 3)
	assert.Empty(t, result.Failures())
}

func TestSendBatchSizesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("every batch is full except possibly the last", prop.ForAll(
		func(n, limit int) bool {
			patcher := &recordingPatcher{}
			result, err := NewWriter(patcher, WithLimit(limit)).Send(context.Background(), "/x", makeRecords(n))
			if err != nil {
				return false
			}

			sizes := patcher.sizes()
			want := (n + limit - 1) / limit
			if len(sizes) != want || result.Batches != want {
				return false
			}
			total := 0
			for i, size := range sizes {
				if i < len(sizes)-1 && size != limit {
					return false
				}
				if size < 1 || size > limit {
					return false
				}
				total += size
			}
			return total == n && len(result.Responses) == n
		},
		gen.IntRange(0, 400),
		gen.IntRange(1, 120),
	))

	properties.TestingRun(t)
}

func TestSendArray(t *testing.T) {
	t.Run("Chunking", func(t *testing.T) {
		patcher := &recordingPatcher{}
		result, err := NewWriter(patcher, WithLimit(2)).SendArray(context.Background(), "/api/rest/v1/reference-entities/brand/records", makeRecords(3))
		require.NoError(t, err)
		require.Len(t, patcher.payloads, 2)
		assert.True(t, strings.HasPrefix(string(patcher.payloads[0]), `[{"code":"r001"`))
		assert.Len(t, result.Responses, 3)
		assert.Equal(t, 2, result.Responses[1].Line, "array reports are numbered by position")
	})

	t.Run("PositionCorrelation", func(t *testing.T) {
		patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
			return http.StatusOK, `[{"code":"r001","status_code":204},{"code":"r002","status_code":422,"message":"Property values does not exist"}]`
		}}
		records := makeRecords(2)
		result, err := NewWriter(patcher).SendArray(context.Background(), "/x", records)
		require.NoError(t, err)

		failures := result.Failures()
		require.Len(t, failures, 1)
		expected, _ := json.Marshal(records[1])
		assert.Equal(t, string(expected), failures[0].Data)
	})

	t.Run("WholeRequestError", func(t *testing.T) {
		patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
			return http.StatusRequestEntityTooLarge, `{"code":413,"message":"Too many resources to process, 100 is the maximum allowed."}`
		}}
		result, err := NewWriter(patcher).SendArray(context.Background(), "/x", makeRecords(1))
		require.NoError(t, err)
		assert.Equal(t, http.StatusRequestEntityTooLarge, result.StatusCode)
		require.Len(t, result.Responses, 1)
		assert.Equal(t, Code("413"), result.Responses[0].Code)
	})

	t.Run("Unreadable", func(t *testing.T) {
		patcher := &recordingPatcher{respond: func(call int, lines []string) (int, string) {
			return http.StatusInternalServerError, "<html>oops</html>"
		}}
		_, err := NewWriter(patcher).SendArray(context.Background(), "/x", makeRecords(1))
		assert.True(t, errors.Is(err, errors.ErrBatch))
	})
}

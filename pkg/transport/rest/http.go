package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
)

// CollectionContentType is the media type of a JSON Lines collection PATCH.
const CollectionContentType = "application/vnd.akeneo.collection+json"

// HTTPDoer is a minimal interface for HTTP clients
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues single request/response cycles against the PIM base URL.
// Authentication is the job of the HTTPDoer (see auth.Transport).
type Client struct {
	doer    HTTPDoer
	baseURL string
	headers map[string]string
	log     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTPDoer used for every request.
func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithTimeout bounds every request. Zero means no timeout. Only applies to
// the default doer.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if hc, ok := c.doer.(*http.Client); ok {
			hc.Timeout = d
		}
	}
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		doer:    &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{"Accept": "application/json"},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the root every relative target is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is one buffered HTTP response.
//
// A non-empty JSON body is decoded into Value (numbers as json.Number). A body
// that is not JSON is kept verbatim in HTML. An empty body only sets StatusCode.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Value      interface{}
	HTML       string
}

// OK reports a 2xx response that carried JSON or nothing at all.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299 && r.HTML == ""
}

// Err returns the response as a *errors.ResponseError when it is not OK.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &errors.ResponseError{
		StatusCode: r.StatusCode,
		Header:     r.Header,
		HTML:       r.HTML,
		Body:       r.Body,
	}
}

// Object returns Value as a JSON object.
func (r *Response) Object() (map[string]interface{}, bool) {
	obj, ok := r.Value.(map[string]interface{})
	return obj, ok
}

// Resolve turns target into a full URL. Absolute targets are used verbatim.
func (c *Client) Resolve(target string) string {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return c.baseURL + target
}

// Do performs one request and buffers the whole response.
//
// Only transport failures are returned as errors. A status above 299 is logged
// and handed back like any other response; callers inspect it.
func (c *Client) Do(ctx context.Context, method, target string, header http.Header, body []byte) (*Response, error) {
	fullURL := c.Resolve(target)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrHTTPRequest, "build request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	// If body is present and nobody said otherwise, assume JSON
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrHTTPRequest, fmt.Sprintf("%s %s", method, fullURL))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrHTTPRequest, "read response body")
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		value, err := decode(raw)
		if err != nil {
			out.HTML = string(raw)
		} else {
			out.Value = value
		}
	}

	if resp.StatusCode > 299 {
		c.log.Warn("unexpected response status",
			zap.String("method", method),
			zap.String("url", fullURL),
			zap.Int("status_code", resp.StatusCode),
			zap.Bool("html", out.HTML != ""),
		)
	}

	return out, nil
}

// Get fetches target.
func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, target, nil, nil)
}

// Patch sends a JSON Lines collection body to target.
func (c *Client) Patch(ctx context.Context, target string, payload []byte) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", CollectionContentType)
	return c.Do(ctx, http.MethodPatch, target, header, payload)
}

// PatchJSON sends one JSON object to target.
func (c *Client) PatchJSON(ctx context.Context, target string, v interface{}) (*Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrHTTPRequest, "encode request body")
	}
	return c.Do(ctx, http.MethodPatch, target, nil, payload)
}

func decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// trailing content means this was not a single JSON document
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

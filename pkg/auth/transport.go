package auth

import (
	"fmt"
	"net/http"
)

// Transport is an http.RoundTripper that authenticates every outgoing request
// with a Handler. It never retries: a 401 is returned to the caller as is.
type Transport struct {
	base    http.RoundTripper
	handler Handler
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, handler Handler) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, handler: handler}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	reqCopy := req.Clone(req.Context())

	if err := t.handler.ApplyAuth(reqCopy); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("failed to apply auth: %w", err)
	}

	return t.base.RoundTrip(reqCopy)
}

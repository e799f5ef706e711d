// Package auth authenticates requests against the PIM API: HTTP basic for the
// token endpoint and a cached bearer token for everything else.
package auth

import (
	"net/http"
)

// Handler defines the interface for auth handlers
type Handler interface {
	ApplyAuth(req *http.Request) error
}

// HTTPDoer is the subset of *http.Client used for token requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

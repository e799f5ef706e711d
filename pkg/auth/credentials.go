package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/saturnines/vacsync/pkg/errors"
)

// ClientCredentials authenticates the API client itself (not the user) at the
// token endpoint with HTTP basic auth.
type ClientCredentials struct {
	ClientID string
	Secret   string
}

// ApplyAuth sets "Authorization: Basic base64(id:secret)". An empty secret is
// sent as is.
func (c ClientCredentials) ApplyAuth(req *http.Request) error {
	if c.ClientID == "" {
		return errors.WrapError(fmt.Errorf("client id is required"), errors.ErrConfiguration, "apply client credentials")
	}
	pair := base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.Secret))
	req.Header.Set("Authorization", "Basic "+pair)
	return nil
}

func (c ClientCredentials) String() string {
	return fmt.Sprintf("ClientCredentials(client_id: %s)", c.ClientID)
}

// BearerToken is an access token as handed out by the token endpoint.
type BearerToken string

// ApplyAuth sets "Authorization: Bearer <token>".
func (t BearerToken) ApplyAuth(req *http.Request) error {
	if t == "" {
		return errors.WrapError(fmt.Errorf("empty access token"), errors.ErrAuthentication, "apply bearer token")
	}
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

func (t BearerToken) String() string {
	return "BearerToken([REDACTED])"
}

package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saturnines/vacsync/pkg/errors"
)

// Helper functions for tests
func assertHeader(t *testing.T, req *http.Request, header, expected string) {
	t.Helper()
	if value := req.Header.Get(header); value != expected {
		t.Errorf("Expected %s header '%s', got '%s'", header, expected, value)
	}
}

func assertErrorContains(t *testing.T, err error, expected string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error containing '%s', got nil", expected)
		return
	}
	if !strings.Contains(err.Error(), expected) {
		t.Errorf("Expected error containing '%s', got '%s'", expected, err.Error())
	}
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokenServer hands out tok-1, tok-2, ... and counts requests
func tokenServer(t *testing.T, expiresIn int, count *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(count, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d,"token_type":"bearer","refresh_token":"r"}`, n, expiresIn)
	}))
}

func TestClientCredentials(t *testing.T) {
	t.Run("BasicHeader", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "https://pim.example.com/api/oauth/v1/token", nil)
		if err := (ClientCredentials{ClientID: "client", Secret: "secret"}).ApplyAuth(req); err != nil {
			t.Fatalf("ApplyAuth failed: %v", err)
		}
		encoded := base64.StdEncoding.EncodeToString([]byte("client:secret"))
		assertHeader(t, req, "Authorization", "Basic "+encoded)
	})

	t.Run("MissingClientID", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "https://pim.example.com", nil)
		err := ClientCredentials{Secret: "secret"}.ApplyAuth(req)
		assertErrorContains(t, err, "client id is required")
		if !errors.Is(err, errors.ErrConfiguration) {
			t.Errorf("Expected configuration error, got %v", err)
		}
	})

	t.Run("StringHidesSecret", func(t *testing.T) {
		if str := (ClientCredentials{ClientID: "client", Secret: "secret"}).String(); strings.Contains(str, "secret") {
			t.Errorf("String() leaked the secret: %s", str)
		}
	})
}

func TestBearerToken(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://pim.example.com/api/rest/v1/products", nil)
	if err := BearerToken("abc").ApplyAuth(req); err != nil {
		t.Fatalf("ApplyAuth failed: %v", err)
	}
	assertHeader(t, req, "Authorization", "Bearer abc")

	empty, _ := http.NewRequest("GET", "https://pim.example.com", nil)
	assertErrorContains(t, BearerToken("").ApplyAuth(empty), "empty access token")
	if strings.Contains(BearerToken("abc").String(), "abc") {
		t.Errorf("String() leaked the token")
	}
}

func TestTokenCache(t *testing.T) {
	t.Run("PasswordGrantRequest", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "POST" {
				t.Errorf("Expected POST request, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("Expected form content type, got '%s'", ct)
			}
			encoded := base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
			assertHeader(t, r, "Authorization", "Basic "+encoded)

			if err := r.ParseForm(); err != nil {
				t.Fatalf("Failed to parse form: %v", err)
			}
			if v := r.FormValue("grant_type"); v != "password" {
				t.Errorf("Expected grant_type 'password', got '%s'", v)
			}
			if v := r.FormValue("username"); v != "admin@example.com" {
				t.Errorf("Expected username 'admin@example.com', got '%s'", v)
			}
			if v := r.FormValue("password"); v != "p&ss word" {
				t.Errorf("Expected password 'p&ss word', got '%s'", v)
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"mock-access-token","expires_in":3600,"token_type":"bearer","refresh_token":"r"}`))
		}))
		defer mockServer.Close()

		cache, err := NewTokenCache(mockServer.URL, "client-id", "client-secret", "admin@example.com", "p&ss word")
		if err != nil {
			t.Fatalf("NewTokenCache failed: %v", err)
		}

		req, _ := http.NewRequest("GET", "https://pim.example.com/api/rest/v1/products", nil)
		if err := cache.ApplyAuth(req); err != nil {
			t.Fatalf("ApplyAuth failed: %v", err)
		}
		assertHeader(t, req, "Authorization", "Bearer mock-access-token")
	})

	t.Run("TokenReuse", func(t *testing.T) {
		var count int32
		mockServer := tokenServer(t, 3600, &count)
		defer mockServer.Close()

		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p", WithClock(clock.Now))

		first, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("first Token failed: %v", err)
		}
		clock.Advance(30 * time.Minute)
		second, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("second Token failed: %v", err)
		}

		if first != second {
			t.Errorf("Expected cached token to be reused, got %s then %s", first, second)
		}
		if count != 1 {
			t.Errorf("Expected 1 token request, got %d", count)
		}
		if want := clock.now.Add(-30 * time.Minute).Add(time.Hour); !cache.ExpiresAt().Equal(want) {
			t.Errorf("Expected expiry %v, got %v", want, cache.ExpiresAt())
		}
	})

	t.Run("RefreshAtMarginBoundary", func(t *testing.T) {
		var count int32
		mockServer := tokenServer(t, 3600, &count)
		defer mockServer.Close()

		clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p", WithClock(clock.Now))

		first, _ := cache.Token(context.Background())

		// one nanosecond before now+5min reaches expiry: still valid
		clock.Advance(55*time.Minute - time.Nanosecond)
		if tok, _ := cache.Token(context.Background()); tok != first || count != 1 {
			t.Fatalf("Expected token reuse just inside the margin, got %s after %d requests", tok, count)
		}

		// now+5min == expiresAt: must refresh exactly once
		clock.Advance(time.Nanosecond)
		refreshed, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if refreshed == first {
			t.Errorf("Expected a new token at the margin boundary")
		}
		if count != 2 {
			t.Errorf("Expected 2 token requests, got %d", count)
		}

		again, _ := cache.Token(context.Background())
		if again != refreshed || count != 2 {
			t.Errorf("Expected the refreshed token to be reused")
		}
	})

	t.Run("ConcurrentCallersShareRefresh", func(t *testing.T) {
		var count int32
		mockServer := tokenServer(t, 3600, &count)
		defer mockServer.Close()

		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := cache.Token(context.Background()); err != nil {
					t.Errorf("Token failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if count != 1 {
			t.Errorf("Expected 1 token request, got %d", count)
		}
	})

	t.Run("HTMLErrorPage", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html><body>Bad Gateway</body></html>`))
		}))
		defer mockServer.Close()

		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p")
		_, err := cache.Token(context.Background())
		if !errors.Is(err, errors.ErrAuthentication) {
			t.Fatalf("Expected authentication error, got %v", err)
		}

		var re *errors.ResponseError
		if !errors.As(err, &re) {
			t.Fatalf("Expected ResponseError envelope, got %T", err)
		}
		if re.StatusCode != http.StatusBadGateway || !strings.Contains(re.HTML, "Bad Gateway") {
			t.Errorf("Unexpected envelope: %+v", re)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"token_type":"bearer"}`))
		}))
		defer mockServer.Close()

		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p")
		if _, err := cache.Token(context.Background()); err == nil {
			t.Fatal("Expected error for response without access_token")
		}
	})

	t.Run("RejectedCredentials", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"code":422,"message":"This combination of username and password is invalid."}`))
		}))
		defer mockServer.Close()

		cache, _ := NewTokenCache(mockServer.URL, "c", "s", "u", "p")
		_, err := cache.Token(context.Background())
		assertErrorContains(t, err, "username and password is invalid")
		if errors.StatusCode(err) != http.StatusUnprocessableEntity {
			t.Errorf("Expected status 422, got %d", errors.StatusCode(err))
		}
	})

	t.Run("MissingConfiguration", func(t *testing.T) {
		if _, err := NewTokenCache("", "c", "s", "u", "p"); !errors.Is(err, errors.ErrConfiguration) {
			t.Errorf("Expected configuration error, got %v", err)
		}
	})
}

func TestTransport(t *testing.T) {
	var count int32
	tokens := tokenServer(t, 3600, &count)
	defer tokens.Close()

	var seen []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	cache, _ := NewTokenCache(tokens.URL, "c", "s", "u", "p")
	client := &http.Client{Transport: NewTransport(nil, cache)}

	req, _ := http.NewRequest("GET", api.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Errorf("Transport must not modify the caller's request")
	}
	if len(seen) != 1 || seen[0] != "Bearer tok-1" {
		t.Errorf("Expected exactly one authenticated attempt, got %v", seen)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 to be returned without retry, got %d", resp.StatusCode)
	}
}

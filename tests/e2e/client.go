package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Browser-looking user agent so the device fingerprinting has something to chew on
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Do fires a request with browser-ish headers and returns the response with its body read
func Do(t *testing.T, method string, url string, body string, mutate ...func(*http.Request)) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return resp, string(respBody)
}

func WithBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func WithCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

// Register creates the user over the API and fails the test if it can't
func Register(t *testing.T, srvURL string, username string, password string) {
	t.Helper()

	body := fmt.Sprintf(`{"username": %q, "email": "%s@clinic.example", "password": %q}`, username, username, password)
	resp, respBody := Do(t, "POST", srvURL+"/api/auth/register", body)
	require.Equalf(t, http.StatusCreated, resp.StatusCode, "register failed. Body: %s", respBody)
}

// Login authenticates and returns the access token with the refresh cookie
func Login(t *testing.T, srvURL string, username string, password string) (string, *http.Cookie) {
	t.Helper()

	body := fmt.Sprintf(`{"username": %q, "password": %q}`, username, password)
	resp, respBody := Do(t, "POST", srvURL+"/api/auth/login", body)
	require.Equalf(t, http.StatusOK, resp.StatusCode, "login failed. Body: %s", respBody)

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal([]byte(respBody), &parsed))
	require.NotEmpty(t, parsed.AccessToken)

	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			return parsed.AccessToken, c
		}
	}
	t.Fatal("refresh_token cookie not set on login")
	return "", nil
}

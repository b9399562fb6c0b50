// Package client talks to the weatherdash-api backend over HTTP.
//
// A Client is both the remote settings store and the identity source of a
// preferences.Store, and additionally exposes the weather proxy endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/preferences"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrUnauthorized reports a missing, expired or rejected session token.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrNotFound reports a 404 from the backend.
	ErrNotFound = errors.New("client: not found")
	// ErrNotSignedIn reports a call that needs a session while none is held.
	ErrNotSignedIn = errors.New("client: not signed in")

	errMissingBaseURL = errors.New("client: base url is required")
)

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("client: backend returned %d %s (%s)", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("client: backend returned %d %s", e.StatusCode, e.Code)
}

// Unwrap maps the status onto the sentinel callers match with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return preferences.ErrPermissionDenied
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Config describes how to reach the backend.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Local persists the session token between runs; nil disables restore.
	Local  preferences.LocalStore
	Logger *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	local      preferences.LocalStore
	logger     *zap.Logger

	mu          sync.Mutex
	session     *session
	subscribers map[int]chan *preferences.Identity
	nextID      int
}

// New validates cfg and returns a signed-out Client.
func New(cfg Config) (*Client, error) {
	rawURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawURL == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", rawURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     rawURL,
		httpClient:  httpClient,
		local:       cfg.Local,
		logger:      logger,
		subscribers: make(map[int]chan *preferences.Identity),
	}, nil
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// endpoint joins an already escaped path onto the base url.
func (c *Client) endpoint(path string, query url.Values) string {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// do sends a request and decodes a JSON response into out when it is non-nil.
// authenticated requests fail with ErrNotSignedIn before any I/O when no
// session is held.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, authenticated bool) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		token := c.token()
		if token == "" {
			return ErrNotSignedIn
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(response)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	var payload errorPayload
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Detail = payload.Code
		return apiErr
	}
	apiErr.Code = strings.TrimSpace(string(raw))
	return apiErr
}

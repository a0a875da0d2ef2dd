// Package creds retrieves mount credentials from the secret store and
// screens caller tokens.
//
// UserFS targets carry a credential reference: a URL into a
// Barbican-style secret store. The payload behind it is a JSON object of
// driver settings that becomes the user-fs child's environment. The
// daemon never persists credentials; they live for the duration of one
// mount operation.
package creds

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/mountd/internal/logger"
)

// Common errors for credential retrieval.
var (
	// ErrAuthFailed means the secret store rejected the caller's token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrCredentialNotFound means the credential reference points at
	// nothing.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrFetchFailed covers every other way the secret store can let us
	// down: connection errors, timeouts, unexpected statuses, bad JSON.
	ErrFetchFailed = errors.New("credential fetch failed")
)

const (
	// DefaultFetchTimeout bounds each secret-store request.
	DefaultFetchTimeout = 10 * time.Second

	// maxSecretSize caps how much of a secret response is read. Real
	// credential payloads are a few hundred bytes.
	maxSecretSize = 1 << 20
)

// Credentials is the flat key/value credential payload. Values are
// strings because they end up in a child process environment.
type Credentials map[string]string

// Source fetches the credentials behind a target's credential reference.
type Source interface {
	Fetch(ctx context.Context, credentialRef, token string) (Credentials, error)
}

// HTTPConfig configures the HTTP credential source.
type HTTPConfig struct {
	// Timeout bounds each request to the secret store. Default: 10s.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification, for
	// secret stores running with self-signed certificates.
	InsecureSkipVerify bool
}

// HTTPSource fetches credentials from a Barbican-style secret store in
// two steps: secret metadata at the credential reference, then the
// payload at <ref>/payload, both authorized by the caller's token.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates the HTTP credential source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPSource{
		client: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// secretMetadata is the slice of the metadata document we care about.
type secretMetadata struct {
	ContentTypes map[string]string `json:"content_types"`
}

// Fetch retrieves and parses the credential payload behind credentialRef.
func (s *HTTPSource) Fetch(ctx context.Context, credentialRef, token string) (Credentials, error) {
	if credentialRef == "" {
		return nil, fmt.Errorf("%w: credential reference is empty", ErrFetchFailed)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: auth token is required", ErrAuthFailed)
	}

	logger.DebugCtx(ctx, "fetching credentials", "credential_ref", credentialRef)

	body, err := s.get(ctx, credentialRef, token, "application/json")
	if err != nil {
		return nil, err
	}

	var metadata secretMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("%w: bad secret metadata: %v", ErrFetchFailed, err)
	}
	accept := metadata.ContentTypes["default"]
	if accept == "" {
		accept = "application/octet-stream"
	}

	payload, err := s.get(ctx, credentialRef+"/payload", token, accept)
	if err != nil {
		return nil, err
	}

	creds, err := parsePayload(payload, accept)
	if err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "credentials retrieved", "keys", len(creds))
	return creds, nil
}

// get performs one authorized request and maps error statuses onto the
// package sentinels.
func (s *HTTPSource) get(ctx context.Context, url, token, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("X-Auth-Token", token)
	req.Header.Set("Accept", accept)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSecretSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrFetchFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: secret store rejected the token", ErrAuthFailed)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: access to secret denied, check token scope", ErrAuthFailed)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: nothing at %s", ErrCredentialNotFound, url)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: secret store returned %s: %s",
			ErrFetchFailed, resp.Status, firstBytes(body, 200))
	}
	return body, nil
}

// parsePayload turns the secret payload into credentials. JSON objects
// become the key/value map; anything else is preserved whole under
// raw_payload so non-JSON secrets still reach the driver.
func parsePayload(payload []byte, contentType string) (Credentials, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: secret payload is empty", ErrFetchFailed)
	}

	looksJSON := strings.Contains(strings.ToLower(contentType), "json") ||
		strings.HasPrefix(text, "{")
	if !looksJSON {
		return Credentials{"raw_payload": text}, nil
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		logger.Warn("credential payload is not valid JSON, passing through raw",
			"error", err)
		return Credentials{"raw_payload": text}, nil
	}

	creds := make(Credentials, len(raw))
	for key, value := range raw {
		creds[key] = stringifyValue(value)
	}
	return creds, nil
}

// stringifyValue renders a decoded JSON value as the string the child
// environment will carry.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func firstBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return strings.TrimSpace(string(b))
}

// StaticSource serves fixed credentials, ignoring the reference and the
// token. The CLI uses it to test-mount targets from a local credentials
// file; tests use it to skip the secret store.
type StaticSource struct {
	Credentials Credentials
}

// Fetch returns the fixed credentials.
func (s *StaticSource) Fetch(context.Context, string, string) (Credentials, error) {
	return s.Credentials, nil
}

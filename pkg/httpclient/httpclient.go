// Package httpclient is a small JSON-over-HTTP helper shared by the API clients.
//
// Every call goes through Do, parameterized by an Endpoint descriptor, so the
// clients only describe requests and never duplicate transport logic.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
)

// maxErrorBody caps how much of an unexpected response is kept on a StatusError.
const maxErrorBody = 4 << 10

// Endpoint describes a single request against a base URL.
type Endpoint struct {
	Method string
	Path   string
	Query  url.Values
	// Body is sent verbatim. Callers that sign requests need the exact bytes,
	// so encoding happens before the request is described.
	Body   []byte
	Header http.Header
	// Accepted lists the status codes that are decoded into the result.
	// Defaults to 200.
	Accepted []int
}

// StatusError is returned when the server answers with a status that is not accepted.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, bytes.TrimSpace(e.Body))
}

// Temporary reports whether the status suggests the server never processed the request fully.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// JSONBody encodes v for use as Endpoint.Body.
func JSONBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode request body: %w", err)
	}
	return b, nil
}

// Do executes the request described by e and decodes the JSON response into T.
// An empty response body leaves T at its zero value.
func Do[T any](ctx context.Context, client *http.Client, baseURL string, e Endpoint) (T, error) {
	var zero T

	method := e.Method
	if method == "" {
		method = http.MethodGet
	}

	u := baseURL + e.Path
	if len(e.Query) > 0 {
		u += "?" + e.Query.Encode()
	}

	var body io.Reader
	if e.Body != nil {
		body = bytes.NewReader(e.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return zero, fmt.Errorf("couldn't create request: %w", err)
	}
	for k, vs := range e.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if e.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("couldn't send request %s %s: %w", method, e.Path, err)
	}
	defer resp.Body.Close()

	accepted := e.Accepted
	if len(accepted) == 0 {
		accepted = []int{http.StatusOK}
	}
	if !slices.Contains(accepted, resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return zero, &StatusError{
			Method:     method,
			URL:        u,
			StatusCode: resp.StatusCode,
			Body:       b,
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("couldn't read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("couldn't decode response of %s %s: %w", method, e.Path, err)
	}
	return out, nil
}

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
)

const (
	maxResponseBytes = 1 << 20
	queryMaxTries    = 3
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Code, truncate(e.Body, 200))
}

// PostForm sends a form-encoded POST and returns the response body.
func PostForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, header http.Header) ([]byte, error) {
	return do(ctx, client, endpoint, "application/x-www-form-urlencoded", []byte(form.Encode()), header)
}

// PostJSON marshals payload and POSTs it, returning the response body.
func PostJSON(ctx context.Context, client *http.Client, endpoint string, payload any, header http.Header) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return do(ctx, client, endpoint, "application/json", body, header)
}

func do(ctx context.Context, client *http.Client, endpoint, contentType string, body []byte, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", redact(endpoint), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// RetryQuery runs an idempotent upstream read with exponential backoff. Client
// errors (4xx) are not retried.
func RetryQuery[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
				return v, backoff.Permanent(err)
			}
			return v, err
		}
		return v, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(queryMaxTries))
}

// Endpoint joins a base URL and a path.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "upstream"
	}
	u.RawQuery = ""
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

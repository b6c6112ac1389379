package outbound

import (
	"fmt"
	"io"
	"net/http"

	"github.com/teranos/proofchain/errors"
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CheckResponse returns nil for 2xx. Other statuses become a *StatusError,
// wrapped as Permanent unless the status is retryable. The body is drained.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{URL: resp.Request.URL.Redacted(), Code: resp.StatusCode, Body: string(body)}
	if statusErr.Retryable() {
		return statusErr
	}
	return Permanent(statusErr)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

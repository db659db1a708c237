package postman

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is returned for any non-success response from the remote API. The
// full response body is preserved so operators can diagnose vendor-side
// rejections from the log line alone.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		body = "<empty body>"
	}
	return fmt.Sprintf("postman api: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsNotFound reports whether err is an APIError with a 404 status.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

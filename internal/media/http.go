package media

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// statusError classifies a non-2xx provider response, keeping a short
// excerpt of the body for the log.
func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = resp.Status
	}
	return failure.FromStatus(op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
}

// transportError classifies a failed round trip. Everything short of a
// response is transient.
func transportError(op string, err error) error {
	return failure.Transient(op, err)
}

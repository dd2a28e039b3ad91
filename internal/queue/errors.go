// ABOUTME: Error types and transient/permanent classification for queue calls.
// ABOUTME: Pollers retry everything; the reporter retries only what IsTransient accepts.

package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMalformedResponse indicates the queue replied with something undecodable.
var ErrMalformedResponse = errors.New("malformed queue response")

// ErrMalformedRequest indicates a request body failed validation.
var ErrMalformedRequest = errors.New("malformed queue request")

// ErrUnknownTransport indicates an unsupported remote.transport value.
var ErrUnknownTransport = errors.New("unknown queue transport")

// StatusError is a non-2xx HTTP reply from the queue.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: queue returned %d %s", e.Op, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s: queue returned %d: %s", e.Op, e.Code, e.Message)
}

// IsTransient reports whether retrying err later could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

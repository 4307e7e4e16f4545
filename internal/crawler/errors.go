package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrFrontierClosed is returned by frontier operations after shutdown.
	ErrFrontierClosed = errors.New("frontier closed")
	// ErrPoolClosed is returned when a parse job is submitted to a closed pool.
	ErrPoolClosed = errors.New("parse pool closed")
	// ErrInvalidURL marks URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid crawl url")
	// ErrUnexpectedStatus marks responses outside the 2xx range.
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

// Error kinds reported in logs and progress events.
const (
	ErrorKindStatus   = "status"
	ErrorKindTimeout  = "timeout"
	ErrorKindNetwork  = "network"
	ErrorKindParse    = "parse"
	ErrorKindCanceled = "canceled"
	ErrorKindUnknown  = "unknown"
)

// FetchError reports a network failure, a timeout or a non-2xx response for
// one URL. StatusCode is zero when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports input the HTML parser could not degrade from.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusCodeOf returns the HTTP status carried by err, or zero.
func StatusCodeOf(err error) int {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}

// ErrorKind classifies err for logs and metrics labels.
func ErrorKind(err error) string {
	var (
		parseErr *ParseError
		netErr   net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		return ErrorKindParse
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case StatusCodeOf(err) != 0:
		return ErrorKindStatus
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	default:
		return ErrorKindUnknown
	}
}

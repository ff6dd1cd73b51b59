package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrHeaderExtractionIncomplete reports that no usable token set was found.
// Collection still proceeds with anonymous headers.
var ErrHeaderExtractionIncomplete = errors.New("header extraction incomplete")

// ErrRunInProgress is returned when a session already has an active run.
var ErrRunInProgress = errors.New("collection already running for this session")

// ErrAuthDenied indicates the order API rejected the credentials (HTTP 403).
type ErrAuthDenied struct {
	Err error
}

func (e ErrAuthDenied) Error() string {
	return fmt.Errorf("auth_denied: %w", e.Err).Error()
}

func (e ErrAuthDenied) Unwrap() error {
	return e.Err
}

// ErrConnectivity covers every other failed fetch: non-success statuses,
// transport failures once retries are spent, and undecodable bodies.
type ErrConnectivity struct {
	Offset int
	Err    error
}

func (e ErrConnectivity) Error() string {
	return fmt.Errorf("connectivity at offset %d: %w", e.Offset, e.Err).Error()
}

func (e ErrConnectivity) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Status int
	Err    error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server %d: %w", e.Status, e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, ErrRunInProgress) {
		return "run_in_progress"
	}
	if errors.Is(err, ErrHeaderExtractionIncomplete) {
		return "header_incomplete"
	}
	var auth ErrAuthDenied
	if errors.As(err, &auth) {
		return "auth_denied"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var connectivity ErrConnectivity
	if errors.As(err, &connectivity) {
		return "connectivity"
	}
	return "other"
}

// classifyError maps a transport error and HTTP status to the taxonomy.
// A nil error with a 2xx status classifies as nil.
func classifyError(err error, statusCode int) error {
	if err == nil && (statusCode == 0 || statusCode < http.StatusMultipleChoices) {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusMultipleChoices {
		wrapped := errors.Newf("http status %d", statusCode)
		switch {
		case statusCode == http.StatusForbidden:
			return ErrAuthDenied{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Status: statusCode, Err: wrapped}
		default:
			return wrapped
		}
	}
	return err
}

// transient reports whether err is worth retrying at the same offset.
func transient(err error) bool {
	var (
		timeout     ErrTimeout
		conn        ErrConnection
		rateLimited ErrRateLimited
		server      ErrServer
	)
	return errors.As(err, &timeout) ||
		errors.As(err, &conn) ||
		errors.As(err, &rateLimited) ||
		errors.As(err, &server)
}

// terminalError lifts a fetch failure into one of the two public failure
// classes and attaches the remedy as a hint.
func terminalError(err error, offset int) error {
	var auth ErrAuthDenied
	if errors.As(err, &auth) {
		return errors.WithHint(auth,
			"Log in to the site in your browser again and refresh the session cookie.")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) && !isTimeout(err) {
		return err
	}
	return errors.WithHint(ErrConnectivity{Offset: offset, Err: err},
		"Check your network connection and that the site is reachable, then retry.")
}

func isTimeout(err error) bool {
	var timeout ErrTimeout
	return errors.As(err, &timeout)
}

// UserMessage turns a run failure into a short message with its remedy.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var headline string
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !isTimeout(err):
		return "Collection cancelled. Pages collected so far are kept."
	case errors.Is(err, ErrRunInProgress):
		return "A collection is already running for this session. Wait for it to finish."
	case errors.Is(err, ErrHeaderExtractionIncomplete):
		headline = "Could not find the security tokens in the session cookie; continuing with anonymous headers."
		err = errors.WithHint(err, "If the next request is denied, open the order history page while logged in and copy the cookie again.")
	default:
		var auth ErrAuthDenied
		var connectivity ErrConnectivity
		switch {
		case errors.As(err, &auth):
			headline = "Access denied (HTTP 403). Your session is missing or expired."
		case errors.As(err, &connectivity):
			headline = fmt.Sprintf("Could not load orders at offset %d: %s.", connectivity.Offset, describe(connectivity.Err))
		default:
			headline = "Collection failed: " + err.Error()
		}
	}
	if hint := errors.FlattenHints(err); hint != "" {
		return headline + " " + hint
	}
	return headline
}

func describe(err error) string {
	switch errorTypeLabel(err) {
	case "timeout":
		return "the request timed out"
	case "connection":
		return "the connection failed"
	case "rate_limited":
		return "the site is rate limiting requests"
	case "server":
		return "the site returned a server error"
	default:
		return "the site returned an unexpected response"
	}
}

// NoDataMessage is the progress text for a run that found no orders.
func NoDataMessage(filter string) string {
	if filter == "" || filter == "all" {
		return "No orders found. Make sure you are logged in and have placed orders."
	}
	return fmt.Sprintf("No orders found for %s. Try another year or \"all\".", filter)
}

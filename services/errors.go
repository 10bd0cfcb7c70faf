package services

import (
	"context"
	"errors"
	"fmt"
)

// NoDataStat is the status the exchange returns for a date without trading data
const NoDataStat = "很抱歉，沒有符合條件的資料!"

var (
	// ErrNoTradingData reports a non-trading day. It is informational and never retried.
	ErrNoTradingData = errors.New("no trading data")

	// ErrDateNotFound reports an OK response that does not contain the requested date
	ErrDateNotFound = errors.New("requested date not in response")
)

// UpstreamStatusError is a stat field that is neither OK nor the no-data sentinel
type UpstreamStatusError struct {
	Operation string
	Stat      string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %q", e.Operation, e.Stat)
}

// TransportError covers network failures, non-2xx responses and undecodable bodies
type TransportError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedRecordError reports one positional row that failed to decode
type MalformedRecordError struct {
	Operation string
	Row       int
	Field     string
	Value     string
	Err       error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s: row %d field %s (%q): %v", e.Operation, e.Row, e.Field, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// MalformedBatchError invalidates a whole batch because one of its rows failed to decode
type MalformedBatchError struct {
	Operation string
	Batch     string
	Err       error
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("%s: batch %s discarded: %v", e.Operation, e.Batch, e.Err)
}

func (e *MalformedBatchError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned once a retry policy runs out of attempts
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth another attempt.
// No-data results, malformed single rows and context cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoTradingData) {
		return false
	}
	var statusErr *UpstreamStatusError
	var transportErr *TransportError
	var batchErr *MalformedBatchError
	switch {
	case errors.As(err, &statusErr):
		return true
	case errors.As(err, &batchErr):
		return true
	case errors.As(err, &transportErr):
		// a cancelled request is not the upstream's fault
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	case errors.Is(err, ErrDateNotFound):
		return true
	}
	return false
}

// errorType is the metrics label for an upstream error
func errorType(err error) string {
	var statusErr *UpstreamStatusError
	var transportErr *TransportError
	var recordErr *MalformedRecordError
	var batchErr *MalformedBatchError
	switch {
	case errors.Is(err, ErrNoTradingData):
		return "no_data"
	case errors.Is(err, ErrDateNotFound):
		return "date_not_found"
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &batchErr):
		return "malformed_batch"
	case errors.As(err, &recordErr):
		return "malformed_record"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}

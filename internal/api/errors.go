package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkFailure matches every NetworkError
	ErrNetworkFailure = errors.New("network failure")
	// ErrBackendRejection matches every RejectionError
	ErrBackendRejection = errors.New("backend rejected request")
)

// NetworkError means the backend could not be reached or its reply could not
// be understood: transport failure, timeout, or an undecodable body.
type NetworkError struct {
	Op         string
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetworkFailure }

// RejectionError is a well-formed backend reply whose status is not
// "success", e.g. "Must start a PI first".
type RejectionError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RejectionError) Is(target error) bool { return target == ErrBackendRejection }

// UserMessage returns the text to show the user for err.
func UserMessage(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		return "Could not reach the simulation server: " + nerr.Err.Error()
	}
	return err.Error()
}

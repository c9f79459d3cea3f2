package dhan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRestUnavailable marks failures where retrying later may help:
	// transport errors, rate limiting and 5xx responses.
	ErrRestUnavailable = errors.New("broker REST unavailable")
	// ErrCredentialsMissing is returned by write calls made without credentials.
	ErrCredentialsMissing = errors.New("broker credentials missing")
	// ErrInvalidOrder is returned when an order request fails local validation.
	ErrInvalidOrder = errors.New("invalid order")
)

// APIError is a failed REST call. Status 0 means no response was received.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Type    string // errorType from the body, if any
	Code    string // errorCode from the body, if any
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("dhan %s %s: %s", e.Method, e.Path, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("dhan %s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("dhan %s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap exposes ErrRestUnavailable for retryable failures.
func (e *APIError) Unwrap() error {
	if e.Retryable() {
		return ErrRestUnavailable
	}
	return nil
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type errorBody struct {
	ErrorType    string `json:"errorType"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func newAPIError(method, path string, status int, raw []byte) *APIError {
	e := &APIError{Method: method, Path: path, Status: status}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && (body.ErrorCode != "" || body.ErrorMessage != "") {
		e.Type, e.Code, e.Message = body.ErrorType, body.ErrorCode, body.ErrorMessage
		return e
	}
	e.Message = http.StatusText(status)
	return e
}

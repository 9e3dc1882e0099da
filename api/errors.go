package api

import "fmt"

// Error codes classifying failed store calls.
const (
	// ErrCodeTransport covers network failures and empty response bodies.
	ErrCodeTransport = "transport_error"
	// ErrCodeDecode covers response bodies that did not decode.
	ErrCodeDecode = "decode_error"
	// ErrCodeBackend covers failures the backend itself reported.
	ErrCodeBackend = "backend_failure"
)

// StoreError is one classified store failure.
type StoreError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Err converts a failure response into a typed error, nil on success.
func (r *Response) Err() *StoreError {
	switch {
	case r.Success():
		return nil
	case r.Status == StatusRequestError:
		return &StoreError{Code: ErrCodeTransport, Message: r.Message}
	case r.Status == StatusJSONError:
		return &StoreError{Code: ErrCodeDecode, Message: r.Message}
	default:
		return &StoreError{Code: ErrCodeBackend, Message: r.Message}
	}
}

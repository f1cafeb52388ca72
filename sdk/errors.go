package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error represents a non-2xx API response
type Error struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("status: %d, msg: %s", e.Status, e.Msg)
}

// NewError creates a new error
func NewError(status int, msg string) *Error {
	return &Error{Status: status, Msg: msg}
}

// errorBody covers the error shapes returned by the API and the storage service
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(status int, body []byte) *Error {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		if eb.Error != "" {
			return NewError(status, eb.Error)
		}
		if eb.Message != "" {
			return NewError(status, eb.Message)
		}
	}
	return NewError(status, http.StatusText(status))
}

// StatusOf returns the HTTP status carried by err, 0 if err is not an API error
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the API
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

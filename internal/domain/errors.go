package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAlreadyAttempted is returned when the student already completed the exam.
	ErrAlreadyAttempted = errors.New("exam already attempted")
	// ErrAttemptExpired is returned when the attempt's time window has closed.
	ErrAttemptExpired = errors.New("attempt expired")
	// ErrUnauthenticated indicates missing or unrefreshable credentials.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUploadRequired blocks a structured-exam submission without answer files.
	ErrUploadRequired = errors.New("upload at least one answer file before submitting")
	// ErrSessionClosed is returned by session commands after the loop has stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrFileTooLarge rejects answer files above the configured limit.
	ErrFileTooLarge = errors.New("answer file too large")
	// ErrSnapshotNotFound is returned by snapshot stores on a cache miss.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrExamNotFound indicates exam metadata could not be loaded.
	ErrExamNotFound = errors.New("exam not found")
)

// RequestError is a non-2xx response from the exam API.
type RequestError struct {
	Status    int
	Message   string
	AttemptID ID
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Unwrap maps the statuses the session special-cases onto sentinels.
func (e *RequestError) Unwrap() error {
	switch e.Status {
	case http.StatusConflict:
		return ErrAlreadyAttempted
	case http.StatusGone:
		return ErrAttemptExpired
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	}
	return nil
}

// UserMessage returns the best human-readable text for err, or fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

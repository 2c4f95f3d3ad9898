package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrExpired        = errors.New("expired")
	ErrEngineFailure  = errors.New("engine failure")
	ErrEmptyArtifact  = errors.New("empty artifact")
	ErrStorageFailure = errors.New("storage failure")
	ErrTimeout        = errors.New("timeout")
	ErrCancelled      = errors.New("cancelled")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrStorageFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Category returns the sentinel the error was tagged with, or nil when the
// error carries none of the known markers.
func Category(err error) error {
	for _, marker := range []error{
		ErrInvalidRequest,
		ErrNotFound,
		ErrExpired,
		ErrTimeout,
		ErrCancelled,
		ErrEmptyArtifact,
		ErrEngineFailure,
		ErrStorageFailure,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

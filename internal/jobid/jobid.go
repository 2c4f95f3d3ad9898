// Package jobid generates and validates job identifiers.
//
// A job id is a random (version 4) UUID in canonical lowercase text form. The
// same string names the artifact on disk, so Parse is the only gate between
// client input and filesystem paths.
package jobid

import (
	"fmt"

	"github.com/google/uuid"

	"shuttle/internal/services"
)

// Length is the size of a canonical job id.
const Length = 36

// New returns a fresh random job id.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

// Parse validates raw as a canonical job id. Anything other than 36
// characters of lowercase hex in 8-4-4-4-12 groups is rejected, including the
// braced, URN and uppercase spellings uuid.Parse would otherwise accept.
func Parse(raw string) (string, error) {
	if !Valid(raw) {
		return "", services.Wrap(services.ErrInvalidRequest, "jobid", "parse", "invalid job id", nil)
	}
	return raw, nil
}

// Valid reports whether raw is a canonical job id.
func Valid(raw string) bool {
	if len(raw) != Length {
		return false
	}
	for i := 0; i < Length; i++ {
		c := raw[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isLowerHex(c) {
				return false
			}
		}
	}
	id, err := uuid.Parse(raw)
	return err == nil && id.String() == raw
}

func isLowerHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

package services

import (
	"errors"
	"regexp"
	"strings"
)

// MaxPublicMessageLength bounds error text exposed to API clients.
const MaxPublicMessageLength = 200

// DetailError attaches a client-safe detail to an error chain. Only the
// Detail string ever reaches API responses; Err is kept for logs.
type DetailError struct {
	Err    error
	Detail string
}

func (e *DetailError) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	return e.Err.Error()
}

func (e *DetailError) Unwrap() error { return e.Err }

// WithDetail wraps err with a client-safe detail.
func WithDetail(err error, detail string) error {
	if err == nil {
		return nil
	}
	return &DetailError{Err: err, Detail: detail}
}

var (
	enginePrefixPattern = regexp.MustCompile(`(?i)^(error|warning):\s*`)
	bracketTagPattern   = regexp.MustCompile(`^\[[^\]]+\]\s*(\S+:\s+)?`)
	absPathPattern      = regexp.MustCompile(`(^|[\s'"(])(?:[A-Za-z]:)?[/\\][^\s'"]*[/\\][^\s'"]*`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
)

// PublicMessage renders err for API clients: a category phrase plus an
// optional sanitised detail, never local paths or raw engine output.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var phrase string
	switch Category(err) {
	case ErrInvalidRequest:
		phrase = "invalid request"
	case ErrNotFound:
		phrase = "not found"
	case ErrExpired:
		phrase = "expired"
	case ErrTimeout:
		phrase = "fetch timed out"
	case ErrCancelled:
		phrase = "cancelled"
	case ErrEmptyArtifact:
		phrase = "engine produced no output"
	case ErrEngineFailure:
		phrase = "video not available or restricted"
	case ErrStorageFailure:
		phrase = "storage failure"
	default:
		phrase = "internal error"
	}

	var detailed *DetailError
	if errors.As(err, &detailed) {
		if detail := Sanitize(detailed.Detail); detail != "" {
			return truncate(phrase + ": " + detail)
		}
	}
	return phrase
}

// Sanitize strips engine log prefixes and filesystem paths from text and
// collapses whitespace.
func Sanitize(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		for {
			next := enginePrefixPattern.ReplaceAllString(line, "")
			next = bracketTagPattern.ReplaceAllString(next, "")
			if next == line {
				break
			}
			line = next
		}
		line = absPathPattern.ReplaceAllString(line, "${1}<path>")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	joined := whitespacePattern.ReplaceAllString(strings.Join(cleaned, " "), " ")
	return truncate(strings.TrimSpace(joined))
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxPublicMessageLength {
		return text
	}
	return string(runes[:MaxPublicMessageLength-3]) + "..."
}

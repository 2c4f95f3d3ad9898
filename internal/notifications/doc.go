// Package notifications posts job outcomes to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to nil-check. Delivery errors are logged and swallowed.
package notifications

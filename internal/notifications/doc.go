// Package notifications publishes conversion events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Reporter
// adapts a Service to the processor's failure hook.
package notifications

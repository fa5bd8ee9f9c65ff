// Package processor drains the queued image collection.
//
// A Processor runs a single background goroutine. Each iteration converts
// every eligible queued entity one at a time through a stage handler, then
// idles for the poll interval or until the store signals new queued work.
// Cancellation is checked between entities, so Stop never abandons a
// half-committed conversion. Failed conversions are logged with entity
// attribution, handed to an optional FailureReporter, and recorded by an
// optional Recorder; the loop keeps running.
//
// Step performs one unit of work synchronously and is the entry point for
// tests and one-shot callers that do not want a background goroutine.
package processor

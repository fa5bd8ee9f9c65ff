// Package pipeline wires the conversion components into a Session.
//
// A Session is constructed once per run and passed explicitly to whatever
// drives it. It owns the image store, decoder, thumbnail generator, conversion
// engine, processor, archive builder, download writer, and the optional
// journal. Callers ingest files, select and queue them through the store, let
// the processor drain the queue (in the background via Start or on the
// calling goroutine via Drain), then Export the selected outputs.
//
// Every log line and journal row written on behalf of a session carries its
// correlation identifier.
package pipeline

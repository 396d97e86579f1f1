// Package telemetry publishes engine lifecycle events to pluggable sinks.
//
// Emission is fire and forget: events are queued on a buffered channel and
// delivered by a single background goroutine. A full queue drops the event,
// and a failing or panicking sink is logged and skipped. Nothing a sink does
// can change a task outcome.
package telemetry

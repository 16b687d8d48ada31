// Package sinks provides audit.Sink implementations: a zap log sink and a
// Postgres sink that bulk-copies decisions into an append-only table.
package sinks

// Package service implements the operations gearboxd exposes over its
// transports.
//
// GearboxService coordinates between the transports (HTTP, NATS) and the
// running datastore and reconciliation engine: commits go through the
// datastore, which drives the engine's validate and apply phases, while
// operational queries and resyncs go to the engine directly.
//
// # Event System
//
// The service and the engine publish events via EventBus for real-time
// updates to connected clients via Server-Sent Events (SSE). Event types
// cover module readiness, malfunctioning modules, committed and aborted
// transactions and completed reconciliation runs.
package service

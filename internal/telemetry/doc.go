// Package telemetry fans bridge events out to host subscribers.
//
// The hub assigns monotonic event ids, keeps the most recent events for
// Last-Event-ID replay and serves them over Server-Sent Events and
// WebSocket. Subscribers may narrow their stream with a jq filter.
package telemetry

// Package api exposes the bridge to host runtimes over HTTP.
//
// Commands are JSON requests answered once the matching bridge promise
// settles; events stream over SSE or WebSocket from the telemetry hub.
// Every JSON response uses one envelope:
//
//	{"result":"ok"|"error","data":...,"code":...,"message":...,"correlationId":...}
package api

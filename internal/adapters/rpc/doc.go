// Package rpc exposes the daemon service over JSON-RPC 2.0 on a
// loopback HTTP listener. POST /rpc carries request/response calls with
// positional params, GET /rpc/stream feeds notifications over SSE with
// cursor replay, and GET /healthz answers liveness probes. Auth is a
// shared token (X-UMBRA-RPC-Token or Bearer), required outside dev
// environments.
package rpc

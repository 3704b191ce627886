package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type rpcRequest struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         json.RawMessage `json:"id"`
	Method     string          `json:"method"`
	APIVersion *int            `json:"api_version,omitempty"`
	Params     json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const maxRPCBodyBytes int64 = 1 << 20 // 1 MiB
const (
	maxMessageListLimit  = 1000
	maxMessageListOffset = 1_000_000
)

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := s.extractRPCToken(r)
	if !s.rpcLimiter.Allow(rpcRateLimitKey(r, token), time.Now()) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	reqID := responseRequestID(r, req.ID)
	w.Header().Set("X-UMBRA-Request-ID", reqID)
	started := time.Now()
	slog.Default().Info("rpc request", "request_id", reqID, "method", req.Method)

	idemKey := r.Header.Get(rpcIdempotencyHeader)
	resp := s.serveRPCRequest(req, token, idemKey, time.Now())
	if resp.Error != nil {
		slog.Default().Error("rpc failed", "request_id", reqID, "method", req.Method, "rpc_code", resp.Error.Code, "latency_ms", time.Since(started).Milliseconds())
	} else {
		slog.Default().Info("rpc response", "request_id", reqID, "method", req.Method, "latency_ms", time.Since(started).Milliseconds())
	}
	writeRPC(w, resp)
}

// serveRPCRequest runs version gating, the idempotency cache and dispatch
// for one decoded request. rpc.version and rpc.capabilities answer even
// before the daemon service exists so clients can negotiate first.
func (s *Server) serveRPCRequest(req rpcRequest, token, idemKey string, now time.Time) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr := validateRPCAPIVersion(req.APIVersion); rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	switch req.Method {
	case "rpc.version":
		resp.Result = rpcVersionInfo()
		return resp
	case "rpc.capabilities":
		resp.Result = rpcCapabilities()
		return resp
	}
	if s.service == nil {
		resp.Error = &rpcError{Code: -32099, Message: "service is not initialized"}
		return resp
	}

	cacheKey := rpcIdempotencyKey(idemKey, token)
	requestHash := ""
	if cacheKey != "" {
		requestHash = rpcRequestHash(req)
		cached, hit, conflict := s.idempotency.get(cacheKey, requestHash, now)
		if conflict {
			resp.Error = &rpcError{Code: -32082, Message: "idempotency key was already used for a different request"}
			return resp
		}
		if hit {
			cached.ID = req.ID
			return cached
		}
	}

	resp.Result, resp.Error = s.dispatchRPC(req.Method, req.Params)
	// Only successes replay; a retry after a failure runs the call again.
	if cacheKey != "" && resp.Error == nil {
		s.idempotency.set(cacheKey, requestHash, resp, now)
	}
	return resp
}

func (s *Server) dispatchRPC(method string, rawParams json.RawMessage) (any, *rpcError) {
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := s.dispatchIdentityRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchHandshakeRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchMessageRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchNetworkRPC(method); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: -32600, Message: "invalid request"},
	})
}

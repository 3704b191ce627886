package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const rpcRequestIDHeader = "X-UMBRA-Request-ID"

// responseRequestID picks the correlation id echoed back on every RPC
// response: the client-supplied header when present, otherwise one
// derived from the JSON-RPC id, otherwise a fresh server-side id.
func responseRequestID(r *http.Request, rpcID json.RawMessage) string {
	if supplied := strings.TrimSpace(r.Header.Get(rpcRequestIDHeader)); supplied != "" {
		return supplied
	}
	if raw := strings.TrimSpace(string(rpcID)); raw != "" && raw != "null" {
		return "rpc." + sanitizeCorrelationToken(raw)
	}
	return fmt.Sprintf("rpc_%d", time.Now().UnixNano())
}

func sanitizeCorrelationToken(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

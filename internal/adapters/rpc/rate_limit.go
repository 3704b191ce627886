package rpc

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"umbra-chat/go-backend/internal/platform/ratelimiter"
)

const (
	rpcRateLimitEnabledEnv = "UMBRA_RPC_RATE_LIMIT_ENABLED"
	rpcRateLimitRPSEnv     = "UMBRA_RPC_RATE_LIMIT_RPS"
	rpcRateLimitBurstEnv   = "UMBRA_RPC_RATE_LIMIT_BURST"

	rpcRateLimitIdleTTL = 10 * time.Minute
)

type rpcRateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

func loadRPCRateLimitConfig() rpcRateLimitConfig {
	cfg := rpcRateLimitConfig{
		Enabled: true,
		RPS:     30,
		Burst:   60,
	}
	if env, ok := parseBoolEnv(rpcRateLimitEnabledEnv); ok {
		cfg.Enabled = env
	} else {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("UMBRA_ENV"))) {
		case "test", "testing":
			cfg.Enabled = false
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rpcRateLimitRPSEnv)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.RPS = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rpcRateLimitBurstEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Burst = parsed
		}
	}
	return cfg
}

func newRPCRateLimiter(cfg rpcRateLimitConfig) *ratelimiter.MapLimiter {
	if !cfg.Enabled {
		return nil
	}
	return ratelimiter.New(cfg.RPS, cfg.Burst, rpcRateLimitIdleTTL)
}

// rpcRateLimitKey buckets authenticated clients by token and everyone else
// by remote host.
func rpcRateLimitKey(r *http.Request, token string) string {
	if strings.TrimSpace(token) != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

// Package doctor runs preflight checks for the daemon environment: config,
// transport, data dir and RPC listen address. It never mutates daemon state
// beyond a probe file that is removed again.
package doctor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"umbra-chat/go-backend/internal/bootstrap/nodeconfig"
	daemoncomposition "umbra-chat/go-backend/internal/composition/daemon"
	"umbra-chat/go-backend/internal/onion"
)

type Input struct {
	ConfigPath string
	DataDir    string
	RPCAddr    string
}

type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type Runner struct {
	now      func() time.Time
	lookPath func(string) (string, error)
}

func New() *Runner {
	return &Runner{
		now:      func() time.Time { return time.Now().UTC() },
		lookPath: exec.LookPath,
	}
}

func (r *Runner) Run(input Input) Report {
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 8),
		CheckedAt: r.now(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, Check{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	if strings.TrimSpace(input.ConfigPath) != "" {
		if err := checkConfigReadable(input.ConfigPath); err != nil {
			appendCheck("config_readable", false, err.Error())
		} else {
			appendCheck("config_readable", true, "")
		}
	}

	cfg := nodeconfig.LoadFromPath(input.ConfigPath)
	transportSupported := cfg.Transport == onion.TransportTor || cfg.Transport == onion.TransportMock
	appendCheck("transport_supported", transportSupported,
		failReason(!transportSupported, fmt.Sprintf("transport must be %q or %q, got %q", onion.TransportTor, onion.TransportMock, cfg.Transport)))

	if cfg.Transport == onion.TransportTor {
		if _, err := r.lookPath("tor"); err != nil {
			appendCheck("tor_binary_present", false, "tor binary is not on PATH")
		} else {
			appendCheck("tor_binary_present", true, "")
		}
	}

	dataDir := strings.TrimSpace(input.DataDir)
	if dataDir == "" {
		dataDir = daemoncomposition.DefaultDataDir
	}
	if err := checkDataDirWritable(dataDir); err != nil {
		appendCheck("data_dir_writable", false, err.Error())
	} else {
		appendCheck("data_dir_writable", true, "")
	}

	if err := validateLoopbackRPCAddr(input.RPCAddr); err != nil {
		appendCheck("rpc_addr_loopback", false, err.Error())
	} else {
		appendCheck("rpc_addr_loopback", true, "")
		if err := checkAddrAvailable(input.RPCAddr); err != nil {
			appendCheck("rpc_port_available", false, err.Error())
		} else {
			appendCheck("rpc_port_available", true, "")
		}
	}

	tokenSet := strings.TrimSpace(os.Getenv("UMBRA_RPC_TOKEN")) != ""
	appendCheck("rpc_token_configured", tokenSet || nonProdEnv(),
		failReason(!(tokenSet || nonProdEnv()), "set UMBRA_RPC_TOKEN (a value of auto generates one) before production use"))

	return report
}

func failReason(failed bool, reason string) string {
	if !failed {
		return ""
	}
	return reason
}

func checkConfigReadable(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config %s is not readable: %w", path, err)
	}
	var parsed nodeconfig.DaemonConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config %s does not parse: %w", path, err)
	}
	return nil
}

func checkDataDirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("data dir %s is not creatable: %w", dir, err)
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data dir %s is not writable: %w", dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("data dir %s probe cleanup failed: %w", dir, err)
	}
	return nil
}

func validateLoopbackRPCAddr(raw string) error {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return errors.New("rpc listen address is empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("rpc listen address is invalid: %q", raw)
	}
	if p, convErr := strconv.Atoi(strings.TrimSpace(port)); convErr != nil || p < 0 || p > 65535 {
		return fmt.Errorf("rpc listen port is invalid: %q", port)
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("rpc listen host %q is not loopback", host)
	}
	return nil
}

func checkAddrAvailable(addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("rpc address %s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

func nonProdEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("UMBRA_ENV"))) {
	case "test", "testing", "dev", "development", "local":
		return true
	default:
		return false
	}
}

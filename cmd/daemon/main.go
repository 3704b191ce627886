package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"umbra-chat/go-backend/internal/composition/daemonserver"
	"umbra-chat/go-backend/internal/doctor"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	doctorMode := flag.Bool("doctor", false, "run environment preflight checks and exit")
	rpcAddr := flag.String("rpc-addr", "127.0.0.1:8787", "JSON-RPC listen address")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-UMBRA-RPC-Token (optional)")
	transport := flag.String("transport", "", "Network transport override: tor | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("umbra-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	if *rpcToken != "" {
		_ = os.Setenv("UMBRA_RPC_TOKEN", *rpcToken)
	}
	if *transport != "" {
		_ = os.Setenv("UMBRA_NETWORK_TRANSPORT", *transport)
	}

	if *doctorMode {
		report := doctor.New().Run(doctor.Input{
			ConfigPath: *configPath,
			DataDir:    *dataDir,
			RPCAddr:    *rpcAddr,
		})
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("umbra-daemon doctor failed: %v", err)
		}
		fmt.Println(string(out))
		if !report.Ready {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := daemonserver.NewRPCServerWithOptions(*rpcAddr, *configPath, *dataDir)
	if err != nil {
		log.Fatalf("umbra-daemon failed to initialize: %v", err)
	}

	log.Println("umbra-daemon starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("umbra-daemon failed: %v", err)
	}
	log.Println("umbra-daemon stopped")
}

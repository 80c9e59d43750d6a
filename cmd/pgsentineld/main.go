package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dplane/pgsentineld/internal/action"
	"github.com/dplane/pgsentineld/internal/cluster"
	"github.com/dplane/pgsentineld/internal/config"
	"github.com/dplane/pgsentineld/internal/handler"
	"github.com/dplane/pgsentineld/internal/logging"
	"github.com/dplane/pgsentineld/internal/monitor"
	"github.com/dplane/pgsentineld/internal/probe"
)

func main() {
	configPath := flag.String("config", "/etc/pgsentineld/config.yaml", "Path to the controller's YAML configuration file")
	flag.Parse()

	startupLogger := logging.New("startup")
	cfg := config.Load(*configPath, startupLogger)

	local := cluster.NodeID(cfg.Node.HostName)

	order := make([]cluster.NodeID, 0, len(cfg.ClusterOrder()))
	for _, name := range cfg.ClusterOrder() {
		order = append(order, cluster.NodeID(name))
	}
	connStrs := make(map[cluster.NodeID]string, len(cfg.Cluster))
	for name, dsn := range cfg.Cluster {
		connStrs[cluster.NodeID(name)] = dsn
	}

	snapLogger := logging.New("cluster")
	nodeProbe := probe.New(logging.New("probe"))
	snap := cluster.New(order, connStrs, nodeProbe, snapLogger)

	localDSN, ok := connStrs[local]
	if !ok {
		startupLogger.Fatalf("local node %q has no entry in the cluster section after config load, cannot continue", local)
	}
	actions := action.New(cfg.Commands, localDSN, cfg.ResyncVerifyDelay(), logging.New("action"))

	primary := handler.NewPrimaryHandler(actions, cfg.DowngradeTimeout(), logging.New("primary"))
	replica := handler.NewReplicaHandler(actions, cfg.FailoverTimeout(), logging.New("replica"))

	loop := monitor.New(snap, local, actions, primary, replica, cfg.ScanPeriod(), logging.New("monitor"))

	addr := net.JoinHostPort(cfg.Webserver.Address, fmt.Sprintf("%d", cfg.Webserver.Port))
	statusServer := monitor.NewStatusServer(addr, snap, logging.New("webserver"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go loop.Run(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		startupLogger.Printf("status endpoint listening on %s", addr)
		serveErrCh <- statusServer.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		startupLogger.Printf("received shutdown signal, stopping")
	case err := <-serveErrCh:
		startupLogger.Printf("status endpoint exited unexpectedly: %v", err)
		exitCode = 1
	}

	loop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		startupLogger.Printf("status endpoint shutdown: %v", err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

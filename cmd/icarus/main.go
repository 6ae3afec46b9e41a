// Command icarus is the Orchestrator + Sentinel control plane process:
// it loads configuration, wires the Store, Sandbox Driver, Sentinel,
// Job Engine, and API Gateway together, and serves until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jacob-bach/Icarus/icarus/go/config"
	"github.com/Jacob-bach/Icarus/icarus/go/engine"
	"github.com/Jacob-bach/Icarus/icarus/go/gateway"
	"github.com/Jacob-bach/Icarus/icarus/go/sandbox"
	"github.com/Jacob-bach/Icarus/icarus/go/sentinel"
	"github.com/Jacob-bach/Icarus/icarus/go/store"
	"github.com/Jacob-bach/Icarus/icarus/go/vcs"
)

var (
	configPath string
	local      bool
)

const shutdownGrace = 30 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:   "icarus",
		Short: "ICARUS orchestrator and sentinel control plane",
		RunE:  run,
	}
	cmd.Flags().StringVar(&configPath, "config", "config/icarus.yaml", "path to the YAML config file")
	cmd.Flags().BoolVar(&local, "local", false, "running on a developer machine rather than in production")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(local bool) *zap.SugaredLogger {
	if local {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l.Sugar()
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

func run(*cobra.Command, []string) error {
	log := newLogger(local)
	defer log.Sync() //nolint:errcheck

	file, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config %s: %s", configPath, err)
	}

	st, err := store.Open(file.Orchestrator.DBPath)
	if err != nil {
		log.Fatalf("opening store at %s: %s", file.Orchestrator.DBPath, err)
	}
	defer st.Close()

	driver, err := sandbox.NewDockerDriver(log)
	if err != nil {
		log.Fatalf("connecting to docker: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eng *engine.Engine
	sent := sentinel.New(driver, file.SentinelConfig(), func(l sentinel.Level) {
		eng.OnSentinelLevelChange(l)
	}, log)

	eng = engine.New(st, driver, sent, vcs.NewGitCommitter(), file.EngineConfig(), log)

	if err := sent.Start(ctx); err != nil {
		log.Fatalf("starting sentinel: %s", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("starting engine: %s", err)
	}

	gw := gateway.New(eng, file.Orchestrator.MaxTaskLength, log)

	metricsAddr := ":" + strconv.Itoa(file.Orchestrator.MetricsPort)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Infof("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil { //nolint:gosec
			log.Errorf("metrics server stopped: %s", err)
		}
	}()

	addr := file.Orchestrator.Host + ":" + strconv.Itoa(file.Orchestrator.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- gw.ListenAndServe(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Errorf("gateway stopped: %s", err)
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	eng.Stop(shutdownCtx)
	return nil
}

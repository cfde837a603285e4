// Package main boots the orchestrator: the State Store, Message Bus,
// identity token store, Agent Adapter (driving one downstream child),
// Comms Service (an embedded loopback HTTP server the child calls
// back into), operator-facing operations, Dispatcher, Mission Engine,
// and Steering, wired into the Operator Surface's stdio request loop.
// Grounded on cmd/agent-manager/main.go's numbered-step bootstrap and
// signal-based graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentorch/internal/adapter"
	"github.com/kandev/agentorch/internal/bus"
	"github.com/kandev/agentorch/internal/comms"
	"github.com/kandev/agentorch/internal/config"
	"github.com/kandev/agentorch/internal/dispatch"
	"github.com/kandev/agentorch/internal/identity"
	"github.com/kandev/agentorch/internal/logging"
	"github.com/kandev/agentorch/internal/mission"
	"github.com/kandev/agentorch/internal/operations"
	"github.com/kandev/agentorch/internal/operator"
	"github.com/kandev/agentorch/internal/state"
	"github.com/kandev/agentorch/internal/steering"
)

func main() {
	// 1. Load bootstrap configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting orchestrator")

	// 3. Root cancellation context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Core state: State Store, Message Bus, identity tokens.
	store := state.New()
	b := bus.New()
	tokens := identity.New()

	// 5. Comms Service, bound to an ephemeral loopback port resolved
	// before Serve so the Agent Adapter can embed the real URL in the
	// downstream child's mcp_servers entry.
	listener, err := net.Listen("tcp", cfg.Comms.BindHost+":0")
	if err != nil {
		log.Fatal("failed to bind comms service", zap.Error(err))
	}
	commsPort := listener.Addr().(*net.TCPAddr).Port

	commsSvc := comms.New(store, b, tokens)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	comms.SetupRoutes(router, comms.NewHandler(commsSvc, log))

	httpServer := &http.Server{Handler: router}
	go func() {
		log.Info("comms service listening", zap.Int("port", commsPort))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("comms service stopped unexpectedly", zap.Error(err))
		}
	}()

	mcpURL := func(agentID, token string) string {
		return fmt.Sprintf("http://%s:%d/mcp?agent=%s&token=%s", cfg.Comms.BindHost, commsPort, agentID, token)
	}

	// 6. Agent Adapter, driving the configured downstream child command.
	launcher := adapter.ProcessLauncher{Command: cfg.Downstream.Command, Args: cfg.Downstream.Args}
	ad := adapter.New(store, tokens, mcpURL, launcher, log)
	if err := ad.Connect(ctx); err != nil {
		log.Fatal("failed to connect to downstream agent process", zap.Error(err))
	}
	log.Info("connected to downstream agent process", zap.String("command", cfg.Downstream.Command))

	// 7. Operator-facing building blocks.
	ops := operations.New(store, ad)
	d := dispatch.New(store, b, ad, log)
	m := mission.New(store, b, ad, log)
	st := steering.New(store, b, ad)

	// 8. Operator Surface, reading one JSON request per stdin line.
	srv := operator.New(store, b, ops, d, m, st, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, os.Stdin, os.Stdout)
	}()

	// 9. Wait for a shutdown signal or the operator loop exiting on its own.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("operator loop exited with error", zap.Error(err))
		} else {
			log.Info("operator loop reached end of input")
		}
	}

	// 10. Graceful shutdown: stop accepting new operator requests, await
	// every tracked adapter background call, then close the comms server.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	ad.Shutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("comms service shutdown error", zap.Error(err))
	}

	log.Info("orchestrator stopped")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tunnelforge/relay/internal/config"
	"github.com/tunnelforge/relay/internal/logging"
)

// Version is set via -ldflags "-X main.Version=..." at release build
// time; it rides along in every AuthResponse so an agent can log a
// version mismatch.
var Version = "dev"

func main() {
	root := &cobra.Command{Use: "tfrelay", Short: "TunnelForge relay"}

	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	logger.Infof("tunnelforge relay %s starting on %s (mode=%s)", Version, cfg.Addr(), cfg.AppMode)

	srv := NewServer(cfg, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, srv)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	go func() {
		for {
			time.Sleep(cfg.StatsRefreshInterval)
			snap := srv.metrics.Snapshot()
			logger.Infof("agents=%d tunnels=%d sent=%d dropped=%d", snap.ActiveAgents, snap.ActiveTunnels, snap.FramesSent, snap.FramesDropped)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("listen: %v", err)
		}
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}
	return nil
}

func registerRoutes(mux *http.ServeMux, srv *Server) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return srv.cfg.AccessControlAllowOrigin == "*" || r.Header.Get("Origin") == srv.cfg.AccessControlAllowOrigin
		},
	}

	mux.HandleFunc("/api/nodes/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			srv.logger.Warnf("agent upgrade failed: %v", err)
			return
		}
		runAgentSession(srv, conn)
	})

	mux.HandleFunc("/api/web/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			srv.logger.Warnf("browser upgrade failed: %v", err)
			return
		}
		runBrowserSession(srv, conn)
	})

	mux.HandleFunc("/api/nodes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.listAgentSummaries())
	})

	mux.HandleFunc("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.registry.All())
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.metrics.Snapshot())
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": Version})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/AltairaLabs/mcpchat/internal/authz/groupsvc"
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
	"github.com/AltairaLabs/mcpchat/internal/transport"
)

const (
	appVersion      = "0.1.0"
	defaultGRPCPort = "50051"
	defaultHTTPPort = "8080"
	shutdownTimeout = 10 * time.Second
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	pretty     = flag.Bool("pretty", false, "Human-readable colored logs instead of JSON")
	httpMode   = flag.Bool("http", false, "Serve chat over WebSocket instead of stdio")
	configPath = flag.String("config", "", "Path to the YAML configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before configuration")
	sessionID  = flag.String("session", "local", "Session id used in stdio mode")
	userEmail  = flag.String("user", "local@localhost", "User identity used in stdio mode")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("mcpchat v%s\n", appVersion)
		os.Exit(0)
	}

	// Logs go to stderr; stdout carries the stdio chat stream
	logger := newLogger(os.Stderr, *debug, *pretty)
	slog.SetDefault(logger)

	if err := loadEnvFile(*envFile); err != nil {
		logger.Warn("Failed to load env file", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	grpcPort := envOr("GRPC_PORT", defaultGRPCPort)
	httpPort := envOr("HTTP_PORT", defaultHTTPPort)

	logger.Info("Starting mcpchat",
		"version", appVersion,
		"debug", *debug,
		"http_mode", *httpMode,
		"http_port", httpPort,
		"grpc_port", grpcPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		cancel()
		log.Fatalf("Failed to initialize: %v", err)
	}

	// gRPC hosts the health service and, with static groups, the group service
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if cfg.Groups.Backend == config.GroupsStatic {
		groupsvc.Register(grpcServer, groupsvc.NewServer(a.groups, logger))
	}

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", ":"+grpcPort)
	if err != nil {
		a.close(ctx)
		cancel()
		log.Fatalf("Failed to listen on port %s: %v", grpcPort, err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting gRPC server", "port", grpcPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
			cancel()
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var httpServer *http.Server
	if *httpMode {
		mux := http.NewServeMux()
		mux.Handle("/ws", transport.NewWebSocketServer(a.orch, a.conns, transport.WebSocketOptions{Logger: logger}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		httpServer = &http.Server{
			Addr:              ":" + httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting WebSocket chat server", "port", httpPort, "path", "/ws")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
				cancel()
			}
		}()
	} else {
		stdio := transport.NewStdioServer(a.orch, a.conns, *sessionID, *userEmail, logger)
		go func() {
			if err := stdio.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Stdio server error", "error", err)
			}
			cancel()
		}()
	}

	go a.runCleanup(ctx, config.DefaultSessionCleanupInterval, config.DefaultSessionMaxAge)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context canceled")
	}

	logger.Info("Shutting down gracefully")
	healthServer.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", "error", err)
		}
	}
	a.close(shutdownCtx)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Graceful shutdown timeout, forcing stop")
		grpcServer.Stop()
		<-stopped
	}

	logger.Info("mcpchat shutdown complete")
}

// loadEnvFile loads a dotenv file; a missing file is not an error
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

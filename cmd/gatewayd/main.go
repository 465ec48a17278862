// Command gatewayd is the agentgate entry point: it wires the Argument
// Builder, Process Supervisor, Stream-JSON Parser, Message Aggregator,
// Permission Coordinator, Session Manager, Delivery Queue, and Connection
// Gateway together behind a WebSocket endpoint, plus a small read-only
// diagnostic HTTP surface. Staged as: config -> logger -> event bus ->
// optional docker client -> core components -> orchestrator -> HTTP/WS
// server -> graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/agentcli"
	"github.com/agentgate/agentgate/internal/aggregator"
	"github.com/agentgate/agentgate/internal/common/config"
	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/delivery"
	"github.com/agentgate/agentgate/internal/events"
	"github.com/agentgate/agentgate/internal/events/bus"
	"github.com/agentgate/agentgate/internal/gateway"
	"github.com/agentgate/agentgate/internal/history"
	"github.com/agentgate/agentgate/internal/httpapi"
	"github.com/agentgate/agentgate/internal/mcpserver"
	"github.com/agentgate/agentgate/internal/orchestration"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/registry"
	"github.com/agentgate/agentgate/internal/session"
	"github.com/agentgate/agentgate/internal/supervisor"

	dockerclient "github.com/agentgate/agentgate/internal/agent/docker"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentgate gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Internal lifecycle event bus: in-process by default, NATS when
	// nats.url is configured (multi-replica deployments).
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS event bus", zap.Error(err))
		}
		defer natsBus.Close()
		eventBus = natsBus
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		defer eventBus.Close()
	}

	// 4. Process Supervisor runner: host subprocess by default, Docker
	// sandbox when agentCli.sandbox=docker.
	var runner supervisor.Runner
	if cfg.AgentCLI.Sandbox == "docker" {
		client, err := dockerclient.NewClient(cfg.Docker, log)
		if err != nil {
			log.Fatal("failed to initialize docker client", zap.Error(err))
		}
		defer client.Close()
		if err := client.Ping(ctx); err != nil {
			log.Fatal("failed to connect to docker daemon", zap.Error(err))
		}
		log.Info("agent cli running in docker sandbox mode", zap.String("image", cfg.Docker.Image))
		runner = supervisor.NewDockerRunner(client, cfg.Docker, log)
	} else {
		runner = supervisor.NewLocalRunner()
	}

	// 5. Delivery Queue and Connection Gateway are built before the
	// Supervisor's health observer and the Session Manager's emit
	// callback, since both publish through them (see PublishToClient).
	queue := delivery.New(cfg.Queue.TTL(), cfg.Queue.MaxPerSession, log)
	gw := gateway.New(cfg.Ping.Interval(), cfg.Ping.ActivityExempt(), log)

	healthObserver := orchestration.NewHealthObserver(queue, gw, eventBus, log)
	sup := supervisor.New(runner, healthObserver, log)

	sessions := session.New(session.Config{
		MaxConcurrent:   cfg.Session.MaxConcurrent,
		Timeout:         cfg.Session.Timeout(),
		WarningAt:       cfg.Session.WarningAt(),
		CleanupInterval: time.Duration(cfg.Session.CleanupInterval) * time.Second,
	}, sup, queue, func(ev events.Event) { orchestration.PublishToClient(queue, gw, ev) }, log)
	defer sessions.Stop()

	// 6. Core pipeline components.
	coord := permission.New(log)
	agg := aggregator.New(coord, log)
	reg := registry.New()

	resolver := agentcli.Resolver{
		Name:    cfg.AgentCLI.Name,
		Path:    cfg.AgentCLI.Path,
		EnvPass: cfg.AgentCLI.EnvPass,
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Fatal("failed to open history store", zap.Error(err))
		}
		defer hist.Close()
		log.Info("message history enabled", zap.String("path", cfg.History.Path))
	}

	// 7. Orchestration Layer: wires every component and registers itself
	// as the Connection Gateway's dispatch handler.
	orch := orchestration.New(cfg, sessions, sup, agg, coord, queue, gw, reg, resolver, hist, log)

	// 7a. Optional MCP tool server: gives the Agent CLI process a read-only
	// callback surface over session state and message history.
	if cfg.MCP.Enabled {
		mcpSrv := mcpserver.New(mcpserver.Config{
			Host:     cfg.MCP.Host,
			Port:     cfg.MCP.Port,
			Sessions: sessions,
			History:  hist,
		}, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("failed to start mcp server", zap.Error(err))
		}
		defer mcpSrv.Stop(context.Background())

		configDir := os.TempDir()
		configPath, err := mcpSrv.WriteAgentCLIConfig(configDir)
		if err != nil {
			log.Fatal("failed to write mcp config file", zap.Error(err))
		}
		orch.SetMCPConfigPath(configPath)
		log.Info("mcp server enabled", zap.String("endpoint", mcpSrv.StreamableHTTPEndpoint()))
	}

	// 8. Background queue expiry sweep.
	go func() {
		interval := time.Duration(cfg.Queue.SweepInterval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queue.Expire(time.Now())
			}
		}
	}()

	// 9. HTTP + WebSocket server.
	if strings.ToLower(cfg.Logging.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	httpapi.SetupRoutes(router, httpapi.NewHandler(sessions, log))
	router.GET("/ws", wsHandler(gw, cfg.Auth.Token, cfg.Session.MaxConcurrent, log))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 10. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentgate gateway")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("agentgate gateway stopped")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler upgrades /ws to a Connection Gateway client, enforcing bearer
// token authentication when auth.token is configured: the token may
// arrive as a query parameter or an `Authorization: Bearer <token>`
// header; a mismatch closes with WS code 1008 (policy violation).
func wsHandler(gw *gateway.Gateway, expectedToken string, maxSessions int, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedToken != "" {
			token := c.Query("token")
			if token == "" {
				auth := c.GetHeader("Authorization")
				token = strings.TrimPrefix(auth, "Bearer ")
			}
			if token != expectedToken {
				conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
				if err != nil {
					log.Warn("websocket upgrade failed", zap.Error(err))
					return
				}
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid or missing token")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				conn.Close()
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		gw.Accept(c.Request.Context(), conn, gateway.WelcomeData{
			ServerVersion: "1.0",
			Capabilities:  []string{"stream-json", "permission-coordinator", "delivery-queue"},
			MaxSessions:   maxSessions,
		})
	}
}

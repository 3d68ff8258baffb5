// Package app wires the archive, transport, coordinator, router and HTTP
// surfaces into one runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"livepoll/internal/api"
	"livepoll/internal/clock"
	"livepoll/internal/config"
	"livepoll/internal/coordinator"
	"livepoll/internal/database"
	"livepoll/internal/poll"
	"livepoll/internal/router"
	"livepoll/internal/websocket"
	"livepoll/pkg/interfaces"
)

// rateLimiterSweep is how often idle rate windows are dropped
const rateLimiterSweep = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	archive       *database.Manager // nil when the archive is disabled
	registry      *websocket.Registry
	coordinator   *coordinator.Coordinator
	commandRouter *router.Router
	apiServer     *api.Server
	httpServer    *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Archive → Registry → Coordinator → Router → Handler → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the archive. The session runs without one when disabled.
	var archiveManager *database.Manager
	var archive interfaces.Archive
	if cfg.Archive.Enabled {
		manager, err := database.NewManager(cfg.Archive.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		archiveManager = manager
		archive = manager
	} else {
		log.Println("Archive disabled; closed polls and chat are kept in memory only")
	}

	// STEP 2: Initialize WebSocket registry, the coordinator's transport
	registry := websocket.NewRegistry()

	// STEP 3: Initialize the session coordinator
	coordinatorConfig := coordinator.Config{
		QueueSize:      cfg.Poll.QueueSize,
		HistoryLimit:   cfg.Poll.HistoryLimit,
		ChatLimit:      cfg.Poll.ChatLimit,
		ChatMaxLength:  cfg.Poll.ChatMaxLength,
		NameMaxLength:  cfg.Poll.NameMaxLength,
		ArchiveTimeout: cfg.Archive.Timeout,
		Limits: poll.Limits{
			DefaultDuration: cfg.Poll.DefaultDuration,
			MinDuration:     cfg.Poll.MinDuration,
			MaxDuration:     cfg.Poll.MaxDuration,
			MinOptions:      cfg.Poll.MinOptions,
			MaxOptions:      cfg.Poll.MaxOptions,
		},
	}
	sessionCoordinator := coordinator.New(registry, archive, clock.System(), coordinatorConfig)

	// STEP 4: Initialize command router. It is also the disconnect notifier
	// so rate windows are dropped with the connection.
	commandRouter := router.NewRouter(sessionCoordinator, cfg.Poll.RateLimit)

	// STEP 5: Initialize WebSocket handler
	wsHandler := websocket.NewHandler(registry, commandRouter, commandRouter, websocket.HandlerConfig{
		AllowedOrigin:  cfg.HTTP.ClientOrigin,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: websocket.DefaultHandlerConfig().MaxMessageSize,
	})

	// STEP 6: Initialize the HTTP status surface
	apiServer := api.NewServer(sessionCoordinator, archive, registry, cfg.HTTP.ClientOrigin)

	// STEP 7: Setup HTTP server with both status and WebSocket endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		archive:       archiveManager,
		registry:      registry,
		coordinator:   sessionCoordinator,
		commandRouter: commandRouter,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// Start begins application execution
// The coordinator starts first so the first command finds it running,
// then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting livepoll on %s", app.httpServer.Addr)

	// Background work lives until Stop, not until the startup context ends
	runCtx, cancel := context.WithCancel(context.Background())

	// STEP 1: Start the session coordinator
	if err := app.coordinator.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	// STEP 2: Sweep idle rate windows
	app.done.Add(1)
	go func() {
		defer app.done.Done()
		app.commandRouter.RateLimiter().Run(runCtx, rateLimiterSweep)
	}()

	// STEP 3: Bind the listener so address errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		app.done.Wait()
		_ = app.coordinator.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = listener
	app.cancel = cancel
	app.mu.Unlock()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		_ = app.Stop(context.Background())
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("livepoll listening on %s", listener.Addr())
		return nil
	case <-ctx.Done():
		_ = app.Stop(context.Background())
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → connections → coordinator → archive
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down livepoll")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Hijacked WebSocket connections outlive Shutdown; close them
	if closed := app.registry.CloseAll(); closed > 0 {
		log.Printf("Closed %d WebSocket connections", closed)
	}

	// STEP 3: Stop the coordinator loop and wait for archive writes
	if err := app.coordinator.Stop(); err != nil && !errors.Is(err, coordinator.ErrCoordinatorNotRunning) {
		log.Printf("Coordinator shutdown error: %v", err)
	}
	app.mu.Lock()
	cancel := app.cancel
	app.cancel = nil
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	app.done.Wait()

	// STEP 4: Close the archive
	if app.archive != nil {
		if err := app.archive.Close(); err != nil {
			log.Printf("Archive shutdown error: %v", err)
		}
	}

	log.Printf("livepoll shutdown complete")
	return nil
}

// GetAddr returns the bound listener address once started, else the configured one
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the combined HTTP and WebSocket handler
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

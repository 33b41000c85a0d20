package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/ndkramer/one80learn-sub000/internal/api"
	"github.com/ndkramer/one80learn-sub000/internal/auth"
	"github.com/ndkramer/one80learn-sub000/internal/config"
	"github.com/ndkramer/one80learn-sub000/internal/coordinator"
	"github.com/ndkramer/one80learn-sub000/internal/database"
	"github.com/ndkramer/one80learn-sub000/internal/feed"
	"github.com/ndkramer/one80learn-sub000/internal/router"
	"github.com/ndkramer/one80learn-sub000/internal/session"
	"github.com/ndkramer/one80learn-sub000/internal/websocket"
	pkgdatabase "github.com/ndkramer/one80learn-sub000/pkg/database"
)

// maintenanceInterval paces rate limiter cleanup and stats logging
const maintenanceInterval = time.Minute

// ErrNotStarted is returned by Stop before a successful Start
var ErrNotStarted = errors.New("application not started")

// Application coordinates all system components
// Initialization order: Database → Feed → Session → Auth → Registry → Router → WebSocket → API → HTTP
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	transport      *feed.Transport
	sessionManager *session.Manager
	checker        *auth.Checker
	registry       *websocket.Registry
	messageRouter  *router.Router
	wsHandler      *websocket.Handler
	apiServer      *api.Server
	httpServer     *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database and schema
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
	if err := dbConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: Change feed
	// TECHNICAL DISCOVERY: The memory hub outlives any request context, so it
	// runs on Background and stops through transport.Close
	transport, err := feed.New(context.Background(), feed.Options{
		Driver:        cfg.Feed.Driver,
		RedisAddr:     cfg.Feed.RedisAddr,
		RedisPassword: cfg.Feed.RedisPassword,
		RedisDB:       cfg.Feed.RedisDB,
		BufferSize:    cfg.Feed.BufferSize,
	})
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to start change feed: %w", err)
	}
	log.Printf("Change feed ready: driver=%s", cfg.Feed.Driver)

	// STEP 3: Session layer over store and feed
	sessionManager := session.NewManager(dbManager, transport.Feed())
	if err := sessionManager.LoadActiveSessions(context.Background()); err != nil {
		_ = transport.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 4: Edges
	checker := auth.NewChecker(dbManager)
	registry := websocket.NewRegistry()
	messageRouter := router.NewRouter(cfg.RateLimit.CommandsPerMinute)
	opts := coordinatorOptions(cfg.Sync)
	factory := func(cb coordinator.Callbacks) *coordinator.Coordinator {
		return coordinator.New(sessionManager, transport.Feed(), checker, opts, cb)
	}
	wsHandler := websocket.NewHandler(registry, messageRouter, factory, websocket.Settings{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})
	apiServer := api.NewServer(sessionManager, dbManager, registry)

	// STEP 5: HTTP surface
	root := mux.NewRouter()
	root.HandleFunc("/ws", wsHandler.HandleWebSocket)
	root.Handle("/health", apiServer)
	root.PathPrefix("/api/").Handler(apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      root,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		transport:      transport,
		sessionManager: sessionManager,
		checker:        checker,
		registry:       registry,
		messageRouter:  messageRouter,
		wsHandler:      wsHandler,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

func coordinatorOptions(sync *config.SyncConfig) coordinator.Options {
	opts := coordinator.DefaultOptions()
	opts.CourseSessions = sync.CourseSessions
	opts.JoinRetry = coordinator.RetryPolicy{
		MaxAttempts: sync.JoinRetryAttempts,
		Interval:    sync.JoinRetryInterval,
		Multiplier:  sync.JoinRetryMultiplier,
		MaxInterval: sync.JoinRetryMaxInterval,
	}
	opts.Reconnect.MaxAttempts = sync.ReconnectAttempts
	opts.Reconnect.Interval = sync.ReconnectInterval
	opts.StoreTimeout = sync.StoreTimeout
	return opts
}

// Handler exposes the HTTP surface without a listener
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Start binds the listener and serves in the background
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve serves on an existing listener in the background
// ARCHITECTURAL DISCOVERY: The errgroup context ends when ctx is cancelled,
// Stop is called, or the HTTP server fails; Run waits on it
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	if app.group != nil {
		return errors.New("application already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	app.listener = ln
	app.cancel = cancel
	app.group = g
	app.groupCtx = gctx

	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.maintain(gctx)
		return nil
	})

	log.Printf("Slide sync server listening on %s", ln.Addr())
	return nil
}

// maintain prunes idle rate limit buckets until ctx ends
func (app *Application) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.messageRouter.Cleanup()
			stats := app.registry.GetStats()
			log.Printf("Stats: connections=%d sessions=%d", stats["total_connections"], stats["active_sessions"])
		}
	}
}

// Run serves until ctx is cancelled or the server fails, then shuts down
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		if closeErr := app.Close(); closeErr != nil {
			log.Printf("Cleanup after failed start: %v", closeErr)
		}
		return err
	}
	<-app.groupCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()
	return app.Stop(shutdownCtx)
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Tabs → Feed → Database
func (app *Application) Stop(ctx context.Context) error {
	if app.group == nil {
		return ErrNotStarted
	}
	log.Printf("Shutting down slide sync server")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	app.cancel()

	// STEP 2: Hijacked sockets are not covered by Shutdown
	app.registry.CloseAll()
	app.wsHandler.Wait()

	runErr := app.group.Wait()

	// STEP 3: Feed then database
	if err := app.transport.Close(); err != nil {
		log.Printf("Change feed shutdown error: %v", err)
	}
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Slide sync server shutdown complete")
	return runErr
}

// Close releases resources of an application that was never started
func (app *Application) Close() error {
	if app.group != nil {
		return errors.New("application is running, use Stop")
	}
	feedErr := app.transport.Close()
	dbErr := app.dbManager.Close()
	return errors.Join(feedErr, dbErr)
}

// GetAddr returns the bound address once serving, else the configured one
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quote_alert_backend/config"
	"quote_alert_backend/middleware"
	"quote_alert_backend/routes"
	"quote_alert_backend/scheduler"
	"quote_alert_backend/services/alerts"
	"quote_alert_backend/services/archive"
	"quote_alert_backend/services/entitlement"
	"quote_alert_backend/services/notify"
	"quote_alert_backend/services/quotes"
	"quote_alert_backend/services/realtime"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"
)

// application holds the long-lived components that need shutting down
type application struct {
	db        *gorm.DB
	realtime  *realtime.Service
	scheduler *scheduler.Scheduler
	archive   *archive.TriggerArchive
	natsConn  *nats.Conn
	stop      context.CancelFunc
}

func main() {
	log.Println("==============================================")
	log.Println("  Quote Alert Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("ERROR: Config load failed: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(requestLogger())

	var app *application
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Printf("ERROR: Database connection failed: %v", err)
		log.Println("Service will continue in limited mode (health check only)")
	} else {
		log.Println("Running database migrations...")
		if err := config.Migrate(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}
		app = newApplication(cfg, db, router)
	}

	routes.SetupHealthRoutes(router, db)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	gracefulShutdown(server, app)
}

// newApplication wires services, routes and the scheduler
func newApplication(cfg *config.Config, db *gorm.DB, router *gin.Engine) *application {
	ctx, stop := context.WithCancel(context.Background())
	app := &application{db: db, stop: stop}

	if cfg.JWTSecret == "" {
		log.Println("Warning: JWT_SECRET not set, every token will be rejected")
	}
	verifier := middleware.NewTokenVerifier(cfg.JWTSecret)
	resolver := entitlement.NewDBPlanResolver(db)
	gate := entitlement.NewGate(verifier, resolver, cfg.RequiredPlan)
	provider := quotes.NewHTTPProvider(cfg.QuoteAPIURL, cfg.QuoteAPIKey, 10*time.Second)

	app.realtime = realtime.NewService(provider, gate, realtime.Options{
		PollInterval:   cfg.PollInterval(),
		MaxConnections: cfg.MaxConnections,
	})

	app.archive = archive.NewTriggerArchive(cfg.MongoURI, "")
	if err := app.archive.Connect(ctx); err != nil {
		log.Printf("Warning: MongoDB archive unavailable: %v", err)
	}
	var sink alerts.HistorySink
	if app.archive.IsConfigured() {
		sink = app.archive
	}

	transports, natsConn := buildTransports(cfg)
	app.natsConn = natsConn

	store := alerts.NewStore(db)
	pipeline := alerts.NewPipeline(store, provider, nil, notify.NewDispatcher(transports), sink)

	limiter := middleware.NewRateLimiter(cfg.HandshakesPerMinute, time.Minute)
	go limiter.StartCleanup(ctx)

	routes.SetupRoutes(router, routes.Dependencies{
		Config:    cfg,
		Verifier:  verifier,
		Resolver:  resolver,
		Store:     store,
		Realtime:  app.realtime,
		Archive:   app.archive,
		WSLimiter: limiter,
	})

	retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
	app.scheduler = scheduler.NewScheduler(pipeline, store, cfg.AlertInterval(), retention)
	if err := app.scheduler.Start(); err != nil {
		log.Printf("ERROR: Scheduler failed to start: %v", err)
	}

	log.Println("Application fully initialized with database")
	return app
}

// buildTransports picks a transport per channel, falling back to logging
func buildTransports(cfg *config.Config) (map[notify.Channel]notify.Transport, *nats.Conn) {
	transports := map[notify.Channel]notify.Transport{
		notify.ChannelEmail: notify.LogTransport{Channel: notify.ChannelEmail},
		notify.ChannelPush:  notify.LogTransport{Channel: notify.ChannelPush},
		notify.ChannelSMS:   notify.LogTransport{Channel: notify.ChannelSMS},
	}

	if cfg.EmailWebhookURL != "" {
		transports[notify.ChannelEmail] = notify.NewWebhookTransport(notify.ChannelEmail, cfg.EmailWebhookURL)
	}
	if cfg.SMSWebhookURL != "" {
		transports[notify.ChannelSMS] = notify.NewWebhookTransport(notify.ChannelSMS, cfg.SMSWebhookURL)
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		conn, err := notify.ConnectNATS(cfg.NATSURL, "quote-alert-backend")
		if err != nil {
			log.Printf("Warning: push notifications fall back to logging: %v", err)
		} else {
			natsConn = conn
			transports[notify.ChannelPush] = notify.NewNATSTransport(conn, "")
		}
	}
	return transports, natsConn
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks and the long-lived websocket
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/ws/quotes" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, app *application) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	if app != nil {
		// Stop scheduler first so no batch starts mid-shutdown
		app.scheduler.Stop()
		app.realtime.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if app != nil {
		app.stop()
		if app.natsConn != nil {
			if err := app.natsConn.Drain(); err != nil {
				log.Printf("Warning: NATS drain failed: %v", err)
			}
		}
		if err := app.archive.Close(); err != nil {
			log.Printf("Warning: MongoDB disconnect failed: %v", err)
		}
		if sqlDB, err := app.db.DB(); err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}

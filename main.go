package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/ledgerfolio/backend/src/config"
	"github.com/username/ledgerfolio/backend/src/database"
	"github.com/username/ledgerfolio/backend/src/handlers"
	"github.com/username/ledgerfolio/backend/src/logger"
	"github.com/username/ledgerfolio/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Ledgerfolio reconciliation engine starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	db, err := database.InitDB(config.Cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewStore(db)
	logger.L.Info("Database initialized successfully.")

	resultCache := cache.New(config.Cfg.CacheTTL, config.Cfg.CacheCleanup)

	payloadDir := os.Getenv("PAYLOAD_DIR")
	if payloadDir == "" {
		payloadDir = "./payloads"
	}
	source := services.NewFileSource(payloadDir)

	reconcileService := services.NewReconcileService(store, source, services.ServiceConfig{
		BaseCurrency: config.Cfg.BaseCurrency,
		FetchTimeout: config.Cfg.FetchTimeout,
		FetchRate:    config.Cfg.FetchRate,
		FetchBurst:   config.Cfg.FetchBurst,
	}, resultCache)

	reconcileHandler := handlers.NewReconcileHandler(reconcileService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/reconcile", reconcileHandler.HandleRun)
	apiRouter.HandleFunc("GET /api/trades/completed", reconcileHandler.HandleGetCompletedTrades)
	apiRouter.HandleFunc("GET /api/trades/incomplete", reconcileHandler.HandleGetIncompleteTrades)
	apiRouter.HandleFunc("GET /api/lots/open", reconcileHandler.HandleGetOpenLots)
	apiRouter.HandleFunc("GET /api/flows/timeline", reconcileHandler.HandleGetFlowTimeline)
	apiRouter.HandleFunc("GET /api/metrics/summary", reconcileHandler.HandleGetSummary)

	rootMux.Handle("/api/", apiRouter)
	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Ledgerfolio reconciliation engine is running"})
			return
		}
		http.NotFound(w, r)
	})

	finalHandler := rateLimitMiddleware(rootMux)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // reconciliation runs can be slow
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	}
	logger.L.Info("Server stopped gracefully.")
}

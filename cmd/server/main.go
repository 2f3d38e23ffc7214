package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"filamu/config"
	"filamu/handlers"
	"filamu/internal/database"
	"filamu/services/catalog"
	"filamu/services/collection"
	"filamu/services/payments"
	"filamu/services/purchase"
	"filamu/services/screenings"
	"filamu/utils"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	settingsPath := os.Getenv("FILAMU_SETTINGS")
	if settingsPath == "" {
		settingsPath = "data/settings.json"
	}

	cfg := config.NewManager(settingsPath)
	settings, err := cfg.Load()
	if err != nil {
		log.Fatalf("[server] load settings: %v", err)
	}

	if settings.Server.LogPath != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   settings.Server.LogPath,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	db, err := database.NewDB(database.Config{DatabasePath: settings.Collection.DatabasePath})
	if err != nil {
		log.Fatalf("[server] open collection store: %v", err)
	}
	defer db.Close()

	catalogSvc := catalog.NewService(
		settings.Catalog.FeedURL,
		time.Duration(settings.Catalog.TimeoutSeconds)*time.Second,
		settings.Catalog.RelatedLimit,
		settings.Catalog.ReadRetries,
	)

	registry := payments.NewRegistry(
		settings.Payments.GatewayURL,
		time.Duration(settings.Payments.TimeoutSeconds)*time.Second,
		settings.Payments.ReadRetries,
	)
	charges := payments.NewChargeClient(
		settings.Payments.GatewayURL,
		time.Duration(settings.Payments.TimeoutSeconds)*time.Second,
	)
	mpesa := payments.NewMpesaClient(
		settings.Mpesa.BaseURL,
		time.Duration(settings.Mpesa.TimeoutSeconds)*time.Second,
	)

	collectionSvc := collection.NewService(db.Repository)
	orchestrator := payments.NewOrchestrator(charges, mpesa, collectionSvc, collectionSvc, db.Repository, settings.Mpesa.PollAttempts)
	checkout := purchase.NewService(registry, orchestrator, collectionSvc)
	intake := screenings.NewClient(
		settings.Screenings.IntakeURL,
		time.Duration(settings.Screenings.TimeoutSeconds)*time.Second,
	)

	sessions := handlers.NewSessionStore()

	catalogHandler := handlers.NewCatalogHandler(catalogSvc)
	purchaseHandler := handlers.NewPurchaseHandler(catalogSvc, checkout, registry, orchestrator, db.Repository, sessions)
	collectionHandler := handlers.NewCollectionHandler(collectionSvc)
	screeningsHandler := handlers.NewScreeningsHandler(intake, sessions)

	router := utils.NewRouter()
	router.HandleFunc("/api/titles", catalogHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/api/titles/{id}", catalogHandler.Detail).Methods(http.MethodGet)
	router.HandleFunc("/api/payment/methods/{accountId}", purchaseHandler.ListMethods).Methods(http.MethodGet)
	router.HandleFunc("/api/purchase", purchaseHandler.Submit).Methods(http.MethodPost)
	router.HandleFunc("/api/purchase/{id}", purchaseHandler.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/purchase/{id}/resolve", purchaseHandler.Resolve).Methods(http.MethodPost)
	router.HandleFunc("/api/collection/{accountId}", collectionHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/api/screenings", screeningsHandler.Submit).Methods(http.MethodPost)

	// Warm the catalog so first lookups don't pay the fetch; failures here
	// are retried lazily by the handlers.
	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := catalogSvc.Refresh(warmCtx); err != nil {
		log.Printf("[server] initial catalog refresh failed: %v", err)
	}
	cancel()

	server := &http.Server{
		Addr:         settings.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("[server] listening on %s", settings.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[server] listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[server] shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown: %v", err)
	}
}

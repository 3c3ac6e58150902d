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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	cataloghandler "github.com/pharmstock/pharmstock-backend/internal/catalog/handler"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	catalogservice "github.com/pharmstock/pharmstock-backend/internal/catalog/service"
	reqevents "github.com/pharmstock/pharmstock-backend/internal/requisition/events"
	reqhandler "github.com/pharmstock/pharmstock-backend/internal/requisition/handler"
	reqrepo "github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	reqservice "github.com/pharmstock/pharmstock-backend/internal/requisition/service"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	"github.com/pharmstock/pharmstock-backend/internal/stock/handler"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("pharmacy-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("pharmacy-service", cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publishers
	stockPublisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock event publisher")
	}
	requisitionPublisher, err := reqevents.NewRequisitionEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create requisition event publisher")
	}

	// Initialize repositories
	medicineRepo := catalogrepo.NewMedicineRepository(db)
	lotRepo := repository.NewLotRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	dispenseRepo := repository.NewDispenseRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	requisitionRepo := reqrepo.NewRequisitionRepository(db)

	// Initialize services
	medicineService := catalogservice.NewMedicineService(medicineRepo, log)
	dispenseService := service.NewDispenseService(db, medicineRepo, lotRepo, ledgerRepo, dispenseRepo, sequenceRepo, stockPublisher, log)
	receiptService := service.NewReceiptService(db, medicineRepo, lotRepo, ledgerRepo, receiptRepo, sequenceRepo, requisitionRepo, stockPublisher, requisitionPublisher, log)
	inventoryService := service.NewInventoryService(medicineRepo, lotRepo, ledgerRepo, requisitionRepo, log)
	requisitionService := reqservice.NewRequisitionService(db, medicineRepo, requisitionRepo, sequenceRepo, requisitionPublisher, log)

	// Initialize handlers
	medicineHandler := cataloghandler.NewMedicineHandler(medicineService, log)
	dispenseHandler := handler.NewDispenseHandler(dispenseService, log)
	receiptHandler := handler.NewReceiptHandler(receiptService, log)
	inventoryHandler := handler.NewInventoryHandler(inventoryService, log)
	requisitionHandler := reqhandler.NewRequisitionHandler(requisitionService, log)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "http://localhost:3000" || origin == "http://localhost:5173" {
				return true
			}
			return strings.HasSuffix(origin, ".pharmstock.app")
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.JWTAuth(cfg.JWT.Secret))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "pharmacy-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/pharmacy", func(r chi.Router) {
		// Medicine catalog
		r.Route("/medicines", func(r chi.Router) {
			r.Get("/", medicineHandler.List)
			r.Post("/", medicineHandler.Create)
			r.Get("/search", medicineHandler.Search)
			r.Get("/{id}", medicineHandler.Get)
			r.Put("/{id}", medicineHandler.Update)
			r.Delete("/{id}", medicineHandler.Deactivate)
			r.Get("/{id}/lots", inventoryHandler.Lots)
			r.Get("/{id}/history", inventoryHandler.History)
		})

		// Stock queries
		r.Route("/stock", func(r chi.Router) {
			r.Get("/summary", inventoryHandler.Summary)
			r.Get("/expiring", inventoryHandler.ExpiringLots)
		})

		// Dispense documents
		r.Route("/dispenses", func(r chi.Router) {
			r.Get("/", dispenseHandler.List)
			r.Post("/", dispenseHandler.Create)
			r.Post("/import", dispenseHandler.ImportBulk)
			r.Post("/import/preview", dispenseHandler.PreviewUpload)
			r.Get("/{id}", dispenseHandler.Get)
			r.Put("/{id}", dispenseHandler.UpdateHeader)
			r.Post("/{id}/cancel", dispenseHandler.Cancel)
			r.Delete("/{id}", dispenseHandler.Delete)
		})

		// Goods received vouchers
		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", receiptHandler.List)
			r.Post("/", receiptHandler.Create)
			r.Get("/{id}", receiptHandler.Get)
			r.Put("/{id}", receiptHandler.UpdateHeader)
			r.Delete("/{id}", receiptHandler.Delete)
		})

		// Requisition workflow
		r.Route("/requisitions", func(r chi.Router) {
			r.Get("/", requisitionHandler.List)
			r.Post("/", requisitionHandler.Create)
			r.Get("/pending", requisitionHandler.PendingApprovals)
			r.Get("/suggest", requisitionHandler.SuggestReorder)
			r.Get("/{id}", requisitionHandler.Get)
			r.Post("/{id}/process", requisitionHandler.ProcessApproval)
			r.Delete("/{id}", requisitionHandler.Cancel)
		})

		// Dashboard
		r.Get("/dashboard/summary", inventoryHandler.Dashboard)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

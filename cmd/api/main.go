package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mainamwangi/gariyetu-backend/internal/database"
	"github.com/mainamwangi/gariyetu-backend/internal/handlers"
	"github.com/mainamwangi/gariyetu-backend/internal/middleware"
	"github.com/mainamwangi/gariyetu-backend/internal/services"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
)

func envDuration(name string, unit time.Duration, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * unit
		}
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize database with better error handling
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Get underlying SQL DB instance
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Initialize Redis
	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Initialize Firebase (optional - will log warning if not configured)
	if err := services.InitFirebase(); err != nil {
		log.Printf("Firebase initialization warning: %v", err)
	}

	// Initialize Storage (S3 or local fallback)
	if err := services.InitStorage(); err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize payment processor
	if err := services.InitProcessor(); err != nil {
		log.Fatalf("Failed to initialize payment processor: %v", err)
	}
	processor := services.NewStripeProcessor()

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	// Wire the event applier, scheduler and reconciler together. They share
	// the same transition code so every path converges to the same state.
	scheduler := services.NewScheduler(db, processor,
		envDuration("SCHEDULER_POLL_SECONDS", time.Second, 30*time.Second))
	events := services.NewPaymentEvents(db, processor, scheduler, hub)
	scheduler.Events = events
	reconciler := services.NewReconciler(db, processor, events,
		envDuration("SWEEP_STALE_MINUTES", time.Minute, 30*time.Minute))

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go scheduler.Run(workerCtx)
	go reconciler.Run(workerCtx, envDuration("SWEEP_INTERVAL_MINUTES", time.Minute, 15*time.Minute))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		stopWorkers()
		os.Exit(0)
	}()

	// Initialize router
	r := gin.Default()

	// APM is optional; enabled only when a license key is configured.
	if key := os.Getenv("NEW_RELIC_LICENSE_KEY"); key != "" {
		app, err := newrelic.NewApplication(
			newrelic.ConfigAppName("gariyetu-backend"),
			newrelic.ConfigLicense(key),
		)
		if err != nil {
			log.Printf("New Relic initialization warning: %v", err)
		} else {
			r.Use(nrgin.Middleware(app))
		}
	}

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Stripe-Signature"}
	r.Use(cors.New(config))

	// Serve static files
	r.Static("/uploads", "/app/uploads")

	// Routes
	api := r.Group("/api")
	{
		// Public routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		api.GET("/cars", handlers.BrowseCars(db))
		api.GET("/cars/:id", handlers.GetCar(db))
		api.POST("/quotes", handlers.GetQuote(db))

		// Processor notifications; authenticated by signature, not JWT
		api.POST("/webhooks/stripe", handlers.StripeWebhook(events, reconciler))

		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// User routes
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile(db))
			}

			// Host listing management
			host := protected.Group("/host")
			{
				host.POST("/cars", handlers.CreateCar(db))
				host.PATCH("/cars/:id", handlers.UpdateCar(db))
				host.GET("/cars", handlers.GetMyCars(db))
				host.GET("/bookings", handlers.GetHostBookings(db))
				host.POST("/account", handlers.LinkProcessorAccount(db, processor))
				host.GET("/payout-status", handlers.GetPayoutStatus(db, processor))
				host.POST("/payouts/:id/retry", handlers.RetryPayout(db, scheduler))
				host.GET("/payout-report", handlers.DownloadPayoutReport(db))
			}

			// Bookings routes
			bookings := protected.Group("/bookings")
			{
				bookings.POST("", handlers.CreateBooking(db, processor))
				bookings.GET("/:id", handlers.GetBookingDetails(db))
				bookings.GET("", handlers.GetMyTrips(db))
				bookings.POST("/:id/cancel", handlers.CancelBooking(db, scheduler))
				bookings.POST("/:id/handover", handlers.ConfirmHandover(db))
			}

			// Redirect landing after the external payment flow
			protected.GET("/checkout/confirm", handlers.ConfirmCheckout(reconciler))

			// Deposit case routes
			cases := protected.Group("/deposit-cases")
			{
				cases.POST("", handlers.FileDepositCase(db))
				cases.GET("", handlers.ListMyDepositCases(db))
				cases.GET("/:id", handlers.GetDepositCase(db))
			}

			// Notification routes
			notifications := protected.Group("/notifications")
			{
				notifications.POST("/register-token", handlers.RegisterFCMToken(db))
				notifications.DELETE("/remove-token", handlers.RemoveFCMToken(db))
			}

			// Support tooling
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireSupport())
			{
				admin.POST("/sweep", handlers.RunStaleSweep(reconciler))
				admin.GET("/payments/:id/actions", handlers.ListScheduledActions(db))
				admin.GET("/deposit-cases", handlers.ListDepositCases(db))
				admin.POST("/deposit-cases/:id/resolve", handlers.ResolveDepositCase(db, scheduler))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

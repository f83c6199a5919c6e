package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"

	"taitest/config"
	"taitest/db"
	"taitest/handlers"
	"taitest/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Initialize database connection pool
	pool, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	// Ensure database schema is set up
	if err := db.CreateSchema(pool); err != nil {
		log.Fatalf("Error creating database schema: %v", err)
	}

	// Set Gin mode
	gin.SetMode(cfg.GinMode)

	// Initialize Gin router
	router := gin.Default()

	// Load HTML templates for admin UI
	renderer := multitemplate.NewRenderer()
	renderer.AddFromFiles("admin_dashboard", "templates/layout.html", "templates/admin_dashboard.html")
	router.HTMLRender = renderer

	// Middleware
	router.Use(middleware.Logger())

	// OAuth-issued JWT authentication for API and admin routes
	authMiddleware := middleware.AuthMiddleware(cfg.JWT.SigningKey, cfg.JWT.Issuer)

	// API Routes (version 1)
	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware)
	{
		apiV1.POST("/results", handlers.CreateTestResult(pool))
		apiV1.GET("/results", handlers.ListTestResults(pool))
		apiV1.GET("/results/:id", handlers.GetTestResult(pool))
		apiV1.GET("/blocks/:block_id/results", handlers.GetBlockResults(pool))
		apiV1.GET("/stats", handlers.GetUserStats(pool))
		apiV1.POST("/sync_events", handlers.RecordSyncEvent(pool))
		apiV1.GET("/sync_events", handlers.GetSyncLog(pool))
		apiV1.GET("/sync_events/last", handlers.GetLastSyncTime(pool))
	}

	// Admin UI Routes
	admin := router.Group("/admin")
	admin.Use(authMiddleware)
	admin.Use(middleware.RoleCheckMiddleware([]string{"admin"}))
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
	}

	// Background job: nightly full recompute of every user's stats row. An
	// upload whose recompute failed heals here.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			log.Println("Running daily user stats recompute...")
			userIDs, err := db.GetAllUserIDs(pool)
			if err != nil {
				log.Printf("Error getting user ids for stats recompute: %v", err)
				continue
			}
			for _, userID := range userIDs {
				if err := db.RecomputeUserStats(pool, userID); err != nil {
					log.Printf("Error recomputing stats for user %s: %v", userID, err)
				}
			}
			log.Printf("Finished stats recompute for %d users.", len(userIDs))
		}
	}()

	// Start the server
	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	// Goroutine to gracefully shut down the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("TAI sync server starting on %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server startup error: %v", err)
	}
	log.Println("Server exited gracefully.")
}

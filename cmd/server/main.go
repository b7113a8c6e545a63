// @title           Certificate Generation Backend API
// @version         1.0.0
// @description     Backend API for batch certificate generation. Renders recipient data onto PDF and image templates, issues verification tokens and QR codes, and stores artifacts in Supabase Storage.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"certgen-backend/docs"
	"certgen-backend/internal/config"
	"certgen-backend/internal/database"
	"certgen-backend/internal/handlers"
	"certgen-backend/internal/middleware"
	"certgen-backend/internal/services"
	"certgen-backend/internal/supabase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Update Swagger docs with dynamic base URL
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(cfg.BaseURL)
		if err == nil {
			docs.SwaggerInfo.Host = baseURL.Host
			if baseURL.Scheme == "https" {
				docs.SwaggerInfo.Schemes = []string{"https", "http"}
			} else {
				docs.SwaggerInfo.Schemes = []string{"http", "https"}
			}
		}
	}

	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		log.Println("Warning: DATABASE_URL not set. Migrations will be skipped.")
		log.Println("Please set DATABASE_URL environment variable with your Supabase PostgreSQL connection string")
	}

	// Initialize Supabase clients
	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}

	storageClient := supabase.NewStorageClient(supabaseClient, cfg.SupabaseStorageBucket)

	realtimeClient := supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabasePublishableKey)

	// Create database client for direct queries
	var dbClient *supabase.DatabaseClient
	if dbURL != "" {
		var err error
		dbClient, err = supabase.NewDatabaseClient(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize database client: %v", err)
			log.Println("Database operations will be limited. Please configure DATABASE_URL properly.")
		} else {
			defer dbClient.Close()

			// Run migrations
			migrator, err := database.NewMigrator(dbURL)
			if err != nil {
				log.Printf("Warning: Failed to initialize migrator: %v", err)
			} else {
				defer migrator.Close()
				if err := migrator.Run(); err != nil {
					log.Printf("Warning: Migration failed: %v", err)
				} else {
					log.Println("Migrations completed successfully")
				}
			}
		}
	}

	rasterizer := services.NewRasterizer(cfg.PdftoppmPath)

	// Initialize services (only if dbClient is available)
	var generationService *services.GenerationService
	var previewService *services.PreviewService
	if dbClient != nil {
		generationService = services.NewGenerationService(dbClient, storageClient, realtimeClient, rasterizer, cfg.AppBaseURL, cfg.BatchTimeout)
		previewService = services.NewPreviewService(dbClient, storageClient, rasterizer)
	}

	// Initialize handlers (dbClient might be nil, handlers should handle this)
	generateHandler := handlers.NewGenerateHandler(generationService)
	jobsHandler := handlers.NewJobsHandler(dbClient, storageClient)
	previewHandler := handlers.NewPreviewHandler(previewService)
	verifyHandler := handlers.NewVerifyHandler(dbClient)

	// Setup router
	router := gin.Default()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// Public verification endpoint (the token is the credential)
	router.GET("/verify/:token", verifyHandler.Verify)

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	// Generation
	api.POST("/templates/:template_id/generate", generateHandler.Generate)
	api.POST("/templates/:template_id/preview", previewHandler.Preview)

	// Jobs
	api.GET("/jobs", jobsHandler.ListJobs)
	api.GET("/jobs/:job_id", jobsHandler.GetJob)
	api.GET("/jobs/:job_id/certificates", jobsHandler.ListJobCertificates)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

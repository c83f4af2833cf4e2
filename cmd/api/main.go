package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zombar/imageharvest"
	"github.com/zombar/imageharvest/api"
	"github.com/zombar/imageharvest/db"
	"github.com/zombar/imageharvest/fetcher"
	"github.com/zombar/imageharvest/metrics"
	"github.com/zombar/imageharvest/ollama"
	"github.com/zombar/imageharvest/storage"
	"github.com/zombar/imageharvest/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("imageharvest service initializing", "version", "1.0.0")

	// Initialize tracing
	shutdownTracer, err := tracing.InitTracer(context.Background(), "imageharvest")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultFetcherURL := getEnv("FETCHER_URL", "http://localhost:3002")
	defaultFetcherAPIKey := getEnv("FETCHER_API_KEY", "")
	defaultOllamaURL := getEnv("OLLAMA_URL", ollama.DefaultBaseURL)
	defaultOllamaModel := getEnv("OLLAMA_MODEL", ollama.DefaultModel)
	defaultCacheDir := getEnv("CACHE_DIR", "./cache")
	defaultMaxImages := getEnv("MAX_IMAGES", "50")

	// Parse max images cap
	maxImages, err := strconv.Atoi(defaultMaxImages)
	if err != nil || maxImages < 1 {
		logger.Warn("invalid MAX_IMAGES value, using default",
			"provided", defaultMaxImages,
			"default", 50,
		)
		maxImages = 50
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	fetcherURL := flag.String("fetcher-url", defaultFetcherURL, "Page-fetch service base URL")
	ollamaURL := flag.String("ollama-url", defaultOllamaURL, "Ollama base URL")
	ollamaModel := flag.String("ollama-model", defaultOllamaModel, "Ollama model to use")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	strictFormats := flag.Bool("strict-formats", false, "Reject unknown image formats instead of keeping them")
	strictProbes := flag.Bool("strict-probes", false, "Drop images whose dimensions cannot be probed")
	flag.Parse()

	// Pipeline configuration
	config := imageharvest.DefaultConfig()
	config.MaxImages = maxImages
	config.StrictFormats = *strictFormats
	config.StrictProbeFailures = *strictProbes

	// Page cache: S3-compatible object storage when configured,
	// filesystem otherwise
	var store storage.Store
	if bucket := getEnv("S3_BUCKET", ""); bucket != "" {
		s3Store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          bucket,
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "") == "true",
		})
		if err != nil {
			logger.Error("failed to initialize S3 cache", "error", err)
			os.Exit(1)
		}
		store = s3Store
		logger.Info("using S3 page cache", "bucket", bucket)
	} else {
		fileStore, err := storage.New(storage.Config{BasePath: defaultCacheDir})
		if err != nil {
			logger.Error("failed to initialize filesystem cache", "error", err)
			os.Exit(1)
		}
		store = fileStore
		logger.Info("using filesystem page cache", "dir", defaultCacheDir)
	}

	// PostgreSQL persistence (optional)
	var database *db.DB
	if dbHost := getEnv("DB_HOST", ""); dbHost != "" {
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "imageharvest")
		dbPassword := getEnv("DB_PASSWORD", "imageharvest_dev_pass")
		dbName := getEnv("DB_NAME", "imageharvest")

		database, err = db.New(db.Config{
			DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				dbHost, dbPort, dbUser, dbPassword, dbName),
		})
		if err != nil {
			logger.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		logger.Info("using PostgreSQL job persistence", "host", dbHost, "database", dbName)

		// Periodic connection-pool and job metrics
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.Default().UpdateDBStats(database.DB())
			}
		}()
	} else {
		logger.Info("DB_HOST not set, job persistence disabled")
	}

	fetchClient := fetcher.New(fetcher.Config{
		BaseURL: *fetcherURL,
		APIKey:  defaultFetcherAPIKey,
		Timeout: 60 * time.Second,
	})
	llmClient := ollama.NewClient(*ollamaURL, *ollamaModel)

	var jobDB imageharvest.DB
	var jobStore api.JobStore
	if database != nil {
		jobDB = database
		jobStore = database
	}

	pipeline := imageharvest.New(config, fetchClient, llmClient, store, jobDB)

	server := api.NewServer(api.Config{
		Addr:        ":" + *port,
		CORSEnabled: !*disableCORS,
	}, pipeline, jobStore)

	// Start server in a goroutine
	go func() {
		logger.Info("imageharvest service starting",
			"port", *port,
			"fetcher_url", *fetcherURL,
			"ollama_url", *ollamaURL,
			"ollama_model", *ollamaModel,
			"max_images", maxImages,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}
	if database != nil {
		if err := database.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

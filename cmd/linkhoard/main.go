package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"linkhoard/internal/ai"
	"linkhoard/internal/config"
	"linkhoard/internal/database"
	"linkhoard/internal/enrich"
	"linkhoard/internal/favicon"
	"linkhoard/internal/metadata"
	"linkhoard/internal/search"
	"linkhoard/internal/server"
)

var (
	// Version will be set during build
	Version = "dev"

	// Command line flags
	port     = flag.Int("port", 0, "Port to run the server on (default: 8080 or LINKHOARD_PORT)")
	dbPath   = flag.String("db", "", "Path to database file (default: data/linkhoard.db or LINKHOARD_DB_PATH)")
	dataPath = flag.String("data", "", "Path to data directory (default: data or LINKHOARD_DATA_PATH)")
	version  = flag.Bool("version", false, "Print version information")
	prodMode = flag.Bool("prod", false, "Enable production mode (secure cookies, quiet request logging)")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Linkhoard version %s\n", Version)
		return
	}

	logger := log.New(os.Stdout, "linkhoard: ", log.LstdFlags|log.Lshortfile)

	// Get base configuration from environment
	cfg := config.GetConfig()

	// Override with command line flags if provided
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}
	cfg.ProductionMode = *prodMode

	logger.Printf("Starting Linkhoard v%s", Version)
	logger.Printf("Port: %d", cfg.Port)
	logger.Printf("Database: %s", cfg.DBPath)
	logger.Printf("Data directory: %s", cfg.DataPath)
	logger.Printf("Mode: %s", map[bool]string{true: "production", false: "development"}[cfg.ProductionMode])

	if cfg.TokenSecret == "" || cfg.SecretKey == "" {
		logger.Fatal("LINKHOARD_TOKEN_SECRET and LINKHOARD_SECRET_KEY must be set")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Printf("GEMINI_API_KEY is not set; AI features need per-user keys")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDB(cfg.DBPath, database.DefaultConfig())
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	faviconDir := filepath.Join(cfg.DataPath, "favicons")
	faviconSvc, err := favicon.NewService(faviconDir)
	if err != nil {
		logger.Fatalf("Failed to initialize favicon service: %v", err)
	}

	aiClient := ai.NewClient(cfg.GeminiAPIKey, logger)
	searcher := search.NewService(db, logger)

	enricher := enrich.NewService(
		db,
		metadata.NewScraper(logger),
		enrich.GeminiProvider{Client: aiClient},
		searcher,
		cfg.SecretKey,
		logger,
	)
	enricher.UseFaviconCache(faviconSvc)
	enricher.Start()
	defer enricher.Stop()

	srv := server.NewServer(db, logger, enricher, searcher, server.Config{
		SessionTTL:     time.Duration(cfg.SessionTTL) * time.Hour,
		TokenSecret:    cfg.TokenSecret,
		SecretKey:      cfg.SecretKey,
		FaviconDir:     faviconDir,
		UseHTTPS:       cfg.ProductionMode,
		ProductionMode: cfg.ProductionMode,
	})

	if err := srv.Start(cfg.GetAddress()); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

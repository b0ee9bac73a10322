// HTTP API for the linkhoard bookmark manager.
package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"linkhoard/internal/bookmark"
	"linkhoard/internal/database"
	"linkhoard/internal/enrich"
	"linkhoard/internal/feedimport"
	"linkhoard/internal/search"
)

type Config struct {
	SessionTTL     time.Duration
	TokenSecret    string
	SecretKey      string
	FaviconDir     string
	UseHTTPS       bool
	ProductionMode bool
}

type Server struct {
	db       *database.DB
	logger   *log.Logger
	config   Config
	ingestor *bookmark.Ingestor
	enricher *enrich.Service
	importer *feedimport.Importer
	searcher *search.Service
}

func NewServer(db *database.DB, logger *log.Logger, enricher *enrich.Service, searcher *search.Service, config Config) *Server {
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	return &Server{
		db:       db,
		logger:   logger,
		config:   config,
		ingestor: bookmark.NewIngestor(db, logger),
		enricher: enricher,
		importer: feedimport.NewImporter(),
		searcher: searcher,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	if s.config.FaviconDir != "" {
		fileServer := http.FileServer(http.Dir(s.config.FaviconDir))
		mux.Handle("GET /favicons/", http.StripPrefix("/favicons/", fileServer))
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))

	mux.HandleFunc("GET /api/bookmarks", s.requireAuth(s.handleListBookmarks))
	mux.HandleFunc("POST /api/bookmarks", s.requireAuth(s.handleAddBookmark))
	mux.HandleFunc("DELETE /api/bookmarks/{id}", s.requireAuth(s.handleDeleteBookmark))
	mux.HandleFunc("POST /api/bookmarks/{id}/read", s.requireAuth(s.handleSetRead))
	mux.HandleFunc("POST /api/bookmarks/{id}/move", s.requireAuth(s.handleMoveBookmark))

	mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleListCategories))
	mux.HandleFunc("POST /api/categories", s.requireAuth(s.handleEnsureCategory))
	mux.HandleFunc("POST /api/categories/suggest", s.requireAuth(s.handleSuggestCategories))

	mux.HandleFunc("POST /api/import/file", s.requireAuth(s.handleFileImport))
	mux.HandleFunc("POST /api/import/feed", s.requireAuth(s.handleFeedImport))

	mux.HandleFunc("POST /api/extension/token", s.requireAuth(s.handleIssueToken))
	mux.HandleFunc("POST /api/extension/sync", s.requireToken(s.handleExtensionSync))

	mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))

	mux.HandleFunc("GET /api/settings/api-key", s.requireAuth(s.handleGetAPIKey))
	mux.HandleFunc("POST /api/settings/api-key", s.requireAuth(s.handleSetAPIKey))
	mux.HandleFunc("DELETE /api/settings/api-key", s.requireAuth(s.handleDeleteAPIKey))

	return s.withCommon(mux)
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Printf("Starting server on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// matchCount reads the configured number of chat results, defaulting to 8.
func (s *Server) matchCount(ctx context.Context) int {
	value, err := s.db.GetSetting(ctx, "match_count")
	if err != nil {
		return 8
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 8
	}
	return n
}

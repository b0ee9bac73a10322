// Package enrich runs the background worker that fills in bookmark
// descriptions, favicons and embedding vectors after ingestion. Enrichment
// is strictly best-effort: a failed job is logged and dropped, the bookmark
// itself is already saved.
package enrich

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"linkhoard/internal/ai"
	"linkhoard/internal/auth"
	"linkhoard/internal/database"
	"linkhoard/internal/favicon"
	"linkhoard/internal/metadata"
	"linkhoard/internal/search"
)

// AI is the slice of the Gemini client the worker and its callers need.
type AI interface {
	Summarize(ctx context.Context, pageURL, title, description string) string
	Embed(ctx context.Context, text string) ([]float32, error)
	SuggestCategories(ctx context.Context, bookmarks []ai.SummaryInput) ([]ai.CategorySuggestion, error)
}

// AIProvider hands out a client for a given API key. An empty key means
// "use the server default".
type AIProvider interface {
	For(apiKey string) AI
}

// GeminiProvider adapts *ai.Client to AIProvider, switching to the user's
// own key when one is supplied.
type GeminiProvider struct {
	Client *ai.Client
}

func (p GeminiProvider) For(apiKey string) AI {
	if apiKey == "" {
		return p.Client
	}
	return p.Client.WithKey(apiKey)
}

// Scraper fetches page metadata. *metadata.Scraper satisfies this.
type Scraper interface {
	Fetch(ctx context.Context, pageURL string) metadata.PageMetadata
}

// Job is one bookmark awaiting enrichment.
type Job struct {
	BookmarkID int64
	UserID     string
	URL        string
	Title      string
}

const (
	queueSize  = 256
	jobTimeout = 45 * time.Second
)

type Service struct {
	db       *database.DB
	scraper  Scraper
	provider AIProvider
	searcher *search.Service
	favicons *favicon.Service
	secret   string
	logger   *log.Logger
	queue    chan Job
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewService(db *database.DB, scraper Scraper, provider AIProvider, searcher *search.Service, secret string, logger *log.Logger) *Service {
	return &Service{
		db:       db,
		scraper:  scraper,
		provider: provider,
		searcher: searcher,
		secret:   secret,
		logger:   logger,
		queue:    make(chan Job, queueSize),
		done:     make(chan struct{}),
	}
}

// UseFaviconCache makes the worker store icons locally instead of keeping
// third-party icon URLs. Cached icons are served under /favicons/.
func (s *Service) UseFaviconCache(fs *favicon.Service) {
	s.favicons = fs
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.runLoop()
}

func (s *Service) Stop() {
	close(s.done)
	s.wg.Wait()
}

// Enqueue schedules a bookmark for enrichment. Never blocks: when the queue
// is full the job is dropped and logged.
func (s *Service) Enqueue(job Job) {
	select {
	case s.queue <- job:
	default:
		s.logger.Printf("Enrichment queue full, dropping bookmark %d", job.BookmarkID)
	}
}

func (s *Service) concurrencyLimit() int {
	value, err := s.db.GetSetting(context.Background(), "enrich_concurrency")
	if err != nil {
		return 4
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 4
	}
	return n
}

// runLoop holds the WaitGroup slot taken by Start, so every job goroutine's
// Add happens while the counter is still nonzero and Stop cannot return
// before an in-flight job finishes.
func (s *Service) runLoop() {
	defer s.wg.Done()
	s.logger.Printf("Starting enrichment worker")
	sem := make(chan struct{}, s.concurrencyLimit())

	for {
		select {
		case job := <-s.queue:
			sem <- struct{}{}
			s.wg.Add(1)
			go func(job Job) {
				defer s.wg.Done()
				defer func() { <-sem }()
				ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				defer cancel()
				s.process(ctx, job)
			}(job)

		case <-s.done:
			s.logger.Printf("Enrichment worker shutting down")
			return
		}
	}
}

// ClientFor returns the AI client to use for a user, preferring their
// stored key over the server-wide one.
func (s *Service) ClientFor(ctx context.Context, userID string) AI {
	return s.provider.For(s.userKey(ctx, userID))
}

// process runs one enrichment job end to end.
func (s *Service) process(ctx context.Context, job Job) {
	client := s.ClientFor(ctx, job.UserID)

	md := s.scraper.Fetch(ctx, job.URL)
	title := job.Title
	if title == "" || title == job.URL {
		title = md.Title
	}

	faviconURL := md.Favicon
	if s.favicons != nil {
		if name, err := s.favicons.Cache(job.URL, md.Favicon); err == nil && name != favicon.DefaultIcon {
			faviconURL = "/favicons/" + name
		}
	}

	summary := client.Summarize(ctx, job.URL, title, md.Description)
	if err := s.db.UpdateBookmarkEnrichment(ctx, job.BookmarkID, summary, faviconURL); err != nil {
		s.logger.Printf("Failed to store enrichment for bookmark %d: %v", job.BookmarkID, err)
		return
	}

	if err := s.searcher.Index(ctx, client, job.BookmarkID, title+"\n"+summary); err != nil {
		s.logger.Printf("Failed to index bookmark %d: %v", job.BookmarkID, err)
	}
}

// userKey returns the user's decrypted Gemini key, or "" to fall back to
// the server-wide key.
func (s *Service) userKey(ctx context.Context, userID string) string {
	enc, err := s.db.GetUserAPIKey(ctx, userID)
	if err != nil || enc == "" {
		return ""
	}
	key, err := auth.DecryptSecret(s.secret, enc)
	if err != nil {
		s.logger.Printf("Failed to decrypt API key for user %s: %v", userID, err)
		return ""
	}
	return key
}

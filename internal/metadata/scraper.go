// Package metadata fetches page titles, descriptions and favicon links for
// newly added bookmarks. Everything here is best-effort: on any failure the
// caller gets fallback values, never an error that would block ingestion.
package metadata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"linkhoard/internal/security/netutil"
)

// PageMetadata is what could be scraped from a page.
type PageMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Favicon     string `json:"favicon,omitempty"`
}

type Scraper struct {
	client *http.Client
	logger *log.Logger
}

const (
	fetchTimeout = 12 * time.Second
	maxPageBytes = 2 << 20
	userAgent    = "Mozilla/5.0 (compatible; Linkhoard/1.0)"
)

func NewScraper(logger *log.Logger) *Scraper {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Scraper{
		client: &http.Client{
			Timeout:   fetchTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				// Redirects can bounce into private space (loopback is
				// allowed for local testing).
				if ip := net.ParseIP(req.URL.Hostname()); ip != nil {
					if netutil.IsPrivateIP(ip) && !ip.IsLoopback() {
						return fmt.Errorf("redirect to private address")
					}
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Fetch returns the page's metadata, falling back to the URL itself as title
// when the page cannot be fetched or parsed.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) PageMetadata {
	fallback := PageMetadata{Title: pageURL}

	md, err := s.fetch(ctx, pageURL)
	if err != nil {
		s.logger.Printf("Metadata fetch failed for %s: %v", pageURL, err)
		return fallback
	}
	if md.Title == "" {
		md.Title = pageURL
	}
	return md
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (PageMetadata, error) {
	var md PageMetadata

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return md, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	// Resolve and block private/reserved destinations (loopback is allowed
	// for local testing).
	if host := req.URL.Hostname(); host != "" {
		if ip := net.ParseIP(host); ip != nil {
			if netutil.IsPrivateIP(ip) && !ip.IsLoopback() {
				return md, fmt.Errorf("destination is a private/reserved address")
			}
		} else if addrs, err := net.LookupIP(host); err == nil {
			for _, a := range addrs {
				if netutil.IsPrivateIP(a) && !a.IsLoopback() {
					return md, fmt.Errorf("destination resolves to private/reserved address")
				}
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return md, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return md, fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return md, fmt.Errorf("parsing page: %w", err)
	}

	md.Title = firstNonEmpty(
		doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		doc.Find("title").First().Text(),
	)
	md.Description = firstNonEmpty(
		doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
		doc.Find(`meta[name="description"]`).AttrOr("content", ""),
	)

	if href, ok := doc.Find(`link[rel="icon"]`).Attr("href"); ok {
		md.Favicon = href
	} else if href, ok := doc.Find(`link[rel="shortcut icon"]`).Attr("href"); ok {
		md.Favicon = href
	}
	if md.Favicon != "" {
		if resolved, err := req.URL.Parse(md.Favicon); err == nil {
			md.Favicon = resolved.String()
		}
	}

	md.Title = strings.TrimSpace(md.Title)
	md.Description = strings.TrimSpace(md.Description)
	return md, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Package feedimport turns an RSS/Atom feed into a batch of bookmarks. Feed
// entries go through the same ingestion pipeline as any other import, filed
// under a folder named after the feed.
package feedimport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"linkhoard/internal/bookmark"
	securitynet "linkhoard/internal/security/netutil"
)

var (
	ErrInvalidURL = errors.New("invalid feed URL")
	ErrNotAFeed   = errors.New("URL does not point to a valid feed")
)

const (
	fetchTimeout = 15 * time.Second
	maxItems     = 200
	folderPrefix = "Feeds"
)

type Importer struct {
	parser *gofeed.Parser
}

func NewImporter() *Importer {
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
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: fetchTimeout, Transport: transport}
	return &Importer{parser: parser}
}

// validateFeedURL applies the same scheme and address checks as bookmark
// URLs, but resolves hostnames too since we fetch immediately (loopback is
// allowed for local testing).
func validateFeedURL(feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: must use HTTP or HTTPS", ErrInvalidURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if securitynet.IsPrivateIP(ip) && !ip.IsLoopback() {
			return fmt.Errorf("%w: URL resolves to private/reserved address", ErrInvalidURL)
		}
	} else if addrs, err := net.LookupIP(host); err == nil {
		for _, a := range addrs {
			if securitynet.IsPrivateIP(a) && !a.IsLoopback() {
				return fmt.Errorf("%w: URL resolves to private/reserved address", ErrInvalidURL)
			}
		}
	}
	return nil
}

// Fetch downloads and parses the feed, returning its entries as a batch
// ready for ingestion plus the feed's title.
func (im *Importer) Fetch(ctx context.Context, feedURL string) (string, []bookmark.IngestBookmark, error) {
	if err := validateFeedURL(feedURL); err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := im.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotAFeed, err)
	}

	title := strings.TrimSpace(feed.Title)
	if title == "" {
		title = feedURL
	}
	folder := folderPrefix + "/" + sanitizeFolderName(title)

	items := feed.Items
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	batch := make([]bookmark.IngestBookmark, 0, len(items))
	for _, item := range items {
		if item.Link == "" {
			continue
		}
		b := bookmark.IngestBookmark{
			URL:         item.Link,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			FolderPath:  folder,
			Source:      "feed",
		}
		if item.PublishedParsed != nil {
			b.DateAdded = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		batch = append(batch, b)
	}
	return title, batch, nil
}

// sanitizeFolderName keeps feed titles from injecting extra hierarchy
// levels into the category path.
func sanitizeFolderName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.TrimSpace(name)
	if name == "" {
		return "Feed"
	}
	return name
}

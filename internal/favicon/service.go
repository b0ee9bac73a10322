// Package favicon caches bookmark site icons on local disk so the UI never
// hotlinks third-party servers. Files are named by a hash of the host, one
// icon per host.
package favicon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	maxIconBytes = 512 << 10
	DefaultIcon  = "default.ico"
)

type Service struct {
	client      *http.Client
	storageDir  string
	failedHosts sync.Map
}

func NewService(storageDir string) (*Service, error) {
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create favicon storage directory: %w", err)
	}

	return &Service{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		storageDir: storageDir,
	}, nil
}

// Cache downloads the icon for a bookmark and returns the local filename to
// serve. iconURL is the icon discovered by the metadata scraper; when empty,
// the site root's /favicon.ico is tried. Hosts that failed once are not
// retried for the lifetime of the process.
func (s *Service) Cache(siteURL, iconURL string) (string, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return DefaultIcon, nil
	}

	if _, failed := s.failedHosts.Load(u.Host); failed {
		return DefaultIcon, nil
	}

	hash := sha256.Sum256([]byte(u.Host))
	filename := hex.EncodeToString(hash[:8]) + ".ico"
	path := filepath.Join(s.storageDir, filename)

	if _, err := os.Stat(path); err == nil {
		return filename, nil
	}

	if iconURL == "" {
		iconURL = fmt.Sprintf("%s://%s/favicon.ico", u.Scheme, u.Host)
	}

	data, err := s.download(iconURL)
	if err != nil {
		s.failedHosts.Store(u.Host, true)
		return DefaultIcon, fmt.Errorf("failed to fetch favicon for %s: %w", u.Host, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		s.failedHosts.Store(u.Host, true)
		return DefaultIcon, fmt.Errorf("failed to save favicon: %w", err)
	}

	return filename, nil
}

func (s *Service) download(iconURL string) ([]byte, error) {
	resp, err := s.client.Get(iconURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("got status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	if len(data) > maxIconBytes {
		return nil, fmt.Errorf("icon exceeds %d bytes", maxIconBytes)
	}
	return data, nil
}

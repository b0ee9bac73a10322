// Package ai wraps the Gemini REST API for summaries, embeddings and
// category suggestions. All calls are bounded by timeouts and most callers
// treat failures as degradable: a bookmark is never lost because the AI
// layer was down or unconfigured.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

var ErrNoAPIKey = errors.New("gemini API key is not configured")

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	// embedTextLimit caps the text sent to the embedding endpoint.
	embedTextLimit = 2048
)

type Client struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	logger         *log.Logger
	summaryModel   string
	embeddingModel string
}

func NewClient(apiKey string, logger *log.Logger) *Client {
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
	return &Client{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		client:         &http.Client{Timeout: 30 * time.Second, Transport: transport},
		logger:         logger,
		summaryModel:   "gemini-1.5-flash",
		embeddingModel: "text-embedding-004",
	}
}

// WithKey returns a copy of the client using the given API key, sharing the
// underlying HTTP client. Used when a user has stored their own key.
func (c *Client) WithKey(apiKey string) *Client {
	copied := *c
	copied.apiKey = apiKey
	return &copied
}

// Configured reports whether the client has an API key at all.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the embedding vector for the given text, truncated to the
// API's input limit.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	runes := []rune(text)
	if len(runes) > embedTextLimit {
		text = string(runes[:embedTextLimit])
	}

	var resp embedResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:embedText?key=%s", c.baseURL, c.embeddingModel, c.apiKey)
	if err := c.post(ctx, url, embedRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("invalid embedding response")
	}
	return resp.Embedding.Values, nil
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Summarize produces a 1-2 sentence summary for a URL. Best-effort: any
// failure falls back to the description, then the title.
func (c *Client) Summarize(ctx context.Context, pageURL, title, description string) string {
	fallback := description
	if fallback == "" {
		fallback = title
	}
	if fallback == "" {
		fallback = "No description available"
	}
	if c.apiKey == "" {
		return fallback
	}

	prompt := fmt.Sprintf(`You are organizing a personal toolbox of web links. Summarize this URL in 1-2 sentences for quick scanning.

Title: %s
Description: %s
URL: %s

Provide a concise, helpful summary:`, orNA(title), orNA(description), pageURL)

	req := generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: 100, Temperature: 0.3},
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.summaryModel, c.apiKey)
	if err := c.post(ctx, url, req, &resp); err != nil {
		c.logger.Printf("Summary request failed for %s: %v", pageURL, err)
		return fallback
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return fallback
	}
	summary := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if summary == "" {
		return fallback
	}
	return summary
}

// SummaryInput identifies a bookmark handed to SuggestCategories.
type SummaryInput struct {
	ID          int64
	Title       string
	Description string
	URL         string
}

// CategorySuggestion is one thematic cluster proposed by the model.
type CategorySuggestion struct {
	Category    string  `json:"category"`
	BookmarkIDs []int64 `json:"bookmarkIds"`
	Rationale   string  `json:"rationale,omitempty"`
}

// SuggestCategories asks the model to cluster bookmarks into thematic
// categories. Returns an empty slice when the response has no usable JSON.
func (c *Client) SuggestCategories(ctx context.Context, bookmarks []SummaryInput) ([]CategorySuggestion, error) {
	if len(bookmarks) == 0 {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	var sb strings.Builder
	sb.WriteString(`Cluster the following bookmarks into thematic categories. Respond only with JSON in the form [{"category": string, "bookmarkIds": number[], "rationale": string}].` + "\n\n")
	for i, b := range bookmarks {
		fmt.Fprintf(&sb, "Bookmark #%d\nID: %d\nTitle: %s\n", i+1, b.ID, orNA(b.Title))
		if b.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", b.Description)
		}
		if b.URL != "" {
			fmt.Fprintf(&sb, "URL: %s\n", b.URL)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Group similar bookmarks under meaningful category names and cite the bookmark IDs in each group.")

	req := generateRequest{
		Contents:         []content{{Parts: []part{{Text: sb.String()}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: 512, Temperature: 0.2},
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.summaryModel, c.apiKey)
	if err := c.post(ctx, url, req, &resp); err != nil {
		return nil, fmt.Errorf("category suggestion request: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, nil
	}

	var parsed []CategorySuggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		c.logger.Printf("Failed to parse category suggestions: %v", err)
		return nil, nil
	}

	kept := parsed[:0]
	for _, s := range parsed {
		if s.Category != "" && len(s.BookmarkIDs) > 0 {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

func (c *Client) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// CosineSimilarity computes the cosine of the angle between two vectors,
// using the shorter length when they differ. Zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

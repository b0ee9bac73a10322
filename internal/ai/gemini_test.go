package ai

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", log.New(io.Discard, "", 0))
	c.baseURL = srv.URL
	return c, srv
}

func TestEmbed(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "text-embedding-004:embedText") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing API key in query")
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Text != "hello world" {
			t.Errorf("text = %q", req.Text)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{0.1, 0.2, 0.3}},
		})
	})

	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbed_TruncatesLongText(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if got := len([]rune(req.Text)); got != embedTextLimit {
			t.Errorf("text length = %d, want %d", got, embedTextLimit)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{1}},
		})
	})

	long := strings.Repeat("x", embedTextLimit*2)
	if _, err := c.Embed(context.Background(), long); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
}

func TestEmbed_NoKey(t *testing.T) {
	c := NewClient("", log.New(io.Discard, "", 0))
	if _, err := c.Embed(context.Background(), "x"); err != ErrNoAPIKey {
		t.Errorf("Embed without key = %v, want ErrNoAPIKey", err)
	}
}

func TestSummarize(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-1.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": "  A concise summary. "}}}},
			},
		})
	})

	got := c.Summarize(context.Background(), "https://example.com", "Title", "Desc")
	if got != "A concise summary." {
		t.Errorf("summary = %q", got)
	}
}

func TestSummarize_FallsBackOnError(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	if got := c.Summarize(context.Background(), "https://example.com", "Title", "Desc"); got != "Desc" {
		t.Errorf("summary = %q, want description fallback", got)
	}
	if got := c.Summarize(context.Background(), "https://example.com", "Title", ""); got != "Title" {
		t.Errorf("summary = %q, want title fallback", got)
	}
	if got := c.Summarize(context.Background(), "https://example.com", "", ""); got != "No description available" {
		t.Errorf("summary = %q, want default fallback", got)
	}
}

func TestSuggestCategories_ParsesJSONFromProse(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		text := `Here are the clusters:
[{"category": "Go", "bookmarkIds": [1, 2], "rationale": "language docs"},
 {"category": "", "bookmarkIds": [3]}]
Hope this helps!`
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
			},
		})
	})

	got, err := c.SuggestCategories(context.Background(), []SummaryInput{
		{ID: 1, Title: "Go docs"},
		{ID: 2, Title: "Go blog"},
		{ID: 3, Title: "Other"},
	})
	if err != nil {
		t.Fatalf("SuggestCategories failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1 (empty category dropped)", len(got))
	}
	if got[0].Category != "Go" || len(got[0].BookmarkIDs) != 2 {
		t.Errorf("suggestion = %+v", got[0])
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("self similarity = %v, want 1", got)
	}
	if got := CosineSimilarity(a, []float32{0, 1, 0}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal similarity = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{-1, 0, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite similarity = %v, want -1", got)
	}
	if got := CosineSimilarity(a, nil); got != 0 {
		t.Errorf("empty vector similarity = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); got != 0 {
		t.Errorf("zero magnitude similarity = %v, want 0", got)
	}
}

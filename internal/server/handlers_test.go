package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"linkhoard/internal/ai"
	"linkhoard/internal/database"
	"linkhoard/internal/enrich"
	"linkhoard/internal/metadata"
	"linkhoard/internal/search"
)

type stubScraper struct{}

func (stubScraper) Fetch(_ context.Context, pageURL string) metadata.PageMetadata {
	return metadata.PageMetadata{Title: pageURL}
}

// stubAI embeds "go"-flavored text along one axis and everything else along
// the other, which is enough to exercise ranking.
type stubAI struct{}

func (stubAI) Summarize(_ context.Context, pageURL, title, description string) string {
	return "stub summary"
}

func (stubAI) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "go") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (stubAI) SuggestCategories(_ context.Context, bookmarks []ai.SummaryInput) ([]ai.CategorySuggestion, error) {
	ids := make([]int64, len(bookmarks))
	for i, b := range bookmarks {
		ids[i] = b.ID
	}
	return []ai.CategorySuggestion{{Category: "Everything", BookmarkIDs: ids}}, nil
}

type stubProvider struct{}

func (stubProvider) For(string) enrich.AI { return stubAI{} }

type testEnv struct {
	server *Server
	http   *httptest.Server
	client *http.Client
	db     *database.DB
	t      *testing.T
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := log.New(io.Discard, "", 0)
	searcher := search.NewService(db, logger)
	enricher := enrich.NewService(db, stubScraper{}, stubProvider{}, searcher, "server-secret", logger)

	s := NewServer(db, logger, enricher, searcher, Config{
		SessionTTL:  time.Hour,
		TokenSecret: "token-secret",
		SecretKey:   "server-secret",
	})

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}

	return &testEnv{
		server: s,
		http:   srv,
		client: &http.Client{Jar: jar},
		db:     db,
		t:      t,
	}
}

func (e *testEnv) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		e.t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) register(email string) string {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": "password123",
	})
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("register returned %d: %v", resp.StatusCode, body)
	}
	userID, _ := body["userId"].(string)
	if userID == "" {
		e.t.Fatal("register returned no user id")
	}
	return userID
}

func TestRegisterLoginLogout(t *testing.T) {
	e := newTestEnv(t)
	e.register("alice@example.com")

	// Session cookie from registration works.
	resp, _ := e.do(http.MethodGet, "/api/bookmarks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated list returned %d", resp.StatusCode)
	}

	resp, _ = e.do(http.MethodPost, "/api/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", resp.StatusCode)
	}
	resp, _ = e.do(http.MethodGet, "/api/bookmarks", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("list after logout returned %d, want 401", resp.StatusCode)
	}

	resp, _ = e.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}

	resp, _ = e.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login returned %d, want 401", resp.StatusCode)
	}
}

func TestAddBookmark(t *testing.T) {
	e := newTestEnv(t)
	e.register("bob@example.com")

	resp, body := e.do(http.MethodPost, "/api/bookmarks", map[string]string{
		"url":        "https://go.dev/blog",
		"title":      "The Go Blog",
		"folderPath": "Dev/Go",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add returned %d: %v", resp.StatusCode, body)
	}
	if body["title"] != "The Go Blog" {
		t.Errorf("title = %v", body["title"])
	}
	if body["folderPath"] != "Dev/Go" {
		t.Errorf("folderPath = %v", body["folderPath"])
	}

	// Same URL again is a conflict.
	resp, _ = e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://go.dev/blog"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate add returned %d, want 409", resp.StatusCode)
	}

	// Private destinations are rejected.
	resp, _ = e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "http://192.168.1.1/admin"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("private URL add returned %d, want 400", resp.StatusCode)
	}

	// Categories were materialized for the nested folder.
	resp, body = e.do(http.MethodGet, "/api/categories", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("categories returned %d", resp.StatusCode)
	}
	cats, _ := body["categories"].([]interface{})
	if len(cats) != 2 {
		t.Errorf("got %d categories, want 2 (Dev and Dev/Go)", len(cats))
	}
}

func TestBookmarkLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.register("carol@example.com")

	_, body := e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://example.com/a"})
	id := int64(body["id"].(float64))

	resp, body := e.do(http.MethodPost, fmt.Sprintf("/api/bookmarks/%d/read", id), map[string]bool{"isRead": true})
	if resp.StatusCode != http.StatusOK || body["isRead"] != true {
		t.Fatalf("read toggle returned %d: %v", resp.StatusCode, body)
	}

	resp, body = e.do(http.MethodPost, fmt.Sprintf("/api/bookmarks/%d/move", id), map[string]string{"folderPath": "/Archive//2023/"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move returned %d: %v", resp.StatusCode, body)
	}
	if body["folderPath"] != "Archive/2023" {
		t.Errorf("moved folderPath = %v, want normalized Archive/2023", body["folderPath"])
	}

	resp, _ = e.do(http.MethodDelete, fmt.Sprintf("/api/bookmarks/%d", id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}
	resp, _ = e.do(http.MethodDelete, fmt.Sprintf("/api/bookmarks/%d", id), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete returned %d, want 404", resp.StatusCode)
	}
}

func TestFileImport(t *testing.T) {
	e := newTestEnv(t)
	e.register("dave@example.com")

	export := `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<DL><p>
    <DT><H3>Work</H3>
    <DL><p>
        <DT><A HREF="https://example.com/wiki" ADD_DATE="1700000000">Team wiki</A>
    </DL><p>
    <DT><A HREF="https://example.com/news">News</A>
</DL><p>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "bookmarks.html")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	io.WriteString(part, export)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/import/file", &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("import returned %d: %s", resp.StatusCode, data)
	}
	var result struct {
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Imported != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 imported", result)
	}
}

func TestExtensionTokenAndSync(t *testing.T) {
	e := newTestEnv(t)
	e.register("erin@example.com")

	resp, body := e.do(http.MethodPost, "/api/extension/token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token issue returned %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in response")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"bookmarks": []map[string]string{
			{"url": "https://example.com/1", "title": "One", "folderPath": "Synced"},
			{"url": "https://example.com/2", "title": "Two", "folderPath": "Synced"},
		},
	})
	sync := func(auth string) (*http.Response, map[string]interface{}) {
		req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/extension/sync", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		// No cookie jar here: the extension endpoint must work without sessions.
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("sync request failed: %v", err)
		}
		defer resp.Body.Close()
		var decoded map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&decoded)
		return resp, decoded
	}

	resp2, _ := sync("")
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("sync without token returned %d, want 401", resp2.StatusCode)
	}

	resp2, result := sync("Bearer " + token)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("sync returned %d: %v", resp2.StatusCode, result)
	}
	if result["imported"] != float64(2) {
		t.Errorf("imported = %v, want 2", result["imported"])
	}

	// Re-sync of the same batch reports duplicates, imports nothing.
	resp2, result = sync("Bearer " + token)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("re-sync returned %d", resp2.StatusCode)
	}
	if result["imported"] != float64(0) {
		t.Errorf("re-sync imported = %v, want 0", result["imported"])
	}
	dups, _ := result["duplicates"].([]interface{})
	if len(dups) != 2 {
		t.Errorf("re-sync duplicates = %d, want 2", len(dups))
	}
}

func TestChat(t *testing.T) {
	e := newTestEnv(t)
	e.register("frank@example.com")

	_, goBody := e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://go.dev/doc", "title": "Go docs"})
	_, otherBody := e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://example.com/pasta", "title": "Pasta"})

	// Index both directly; the async enrichment worker is not running in tests.
	ctx := context.Background()
	if err := e.server.searcher.Index(ctx, stubAI{}, int64(goBody["id"].(float64)), "go docs"); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := e.server.searcher.Index(ctx, stubAI{}, int64(otherBody["id"].(float64)), "pasta"); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	resp, body := e.do(http.MethodPost, "/api/chat", map[string]string{"message": "go programming"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat returned %d: %v", resp.StatusCode, body)
	}
	matches, _ := body["bookmarks"].([]interface{})
	if len(matches) == 0 {
		t.Fatal("chat returned no bookmarks")
	}
	best, _ := matches[0].(map[string]interface{})
	if best["title"] != "Go docs" {
		t.Errorf("best match = %v, want Go docs", best["title"])
	}

	resp, _ = e.do(http.MethodPost, "/api/chat", map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty chat returned %d, want 400", resp.StatusCode)
	}
}

func TestEnsureCategory(t *testing.T) {
	e := newTestEnv(t)
	e.register("henry@example.com")

	resp, body := e.do(http.MethodPost, "/api/categories", map[string]string{"path": "/Projects//Go/"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ensure returned %d: %v", resp.StatusCode, body)
	}
	if body["path"] != "Projects/Go" {
		t.Errorf("path = %v, want normalized Projects/Go", body["path"])
	}
	if body["categoryId"] == nil {
		t.Error("no categoryId in response")
	}

	// Same path again returns the existing node.
	resp, again := e.do(http.MethodPost, "/api/categories", map[string]string{"path": "Projects/Go"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-ensure returned %d", resp.StatusCode)
	}
	if again["categoryId"] != body["categoryId"] {
		t.Errorf("re-ensure id = %v, want %v", again["categoryId"], body["categoryId"])
	}

	resp, _ = e.do(http.MethodPost, "/api/categories", map[string]string{"path": "///"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank path returned %d, want 400", resp.StatusCode)
	}
}

func TestSuggestCategories(t *testing.T) {
	e := newTestEnv(t)
	e.register("iris@example.com")

	resp, body := e.do(http.MethodPost, "/api/categories/suggest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggest on empty corpus returned %d", resp.StatusCode)
	}
	suggestions, _ := body["suggestions"].([]interface{})
	if len(suggestions) != 0 {
		t.Errorf("suggestions = %v, want none for empty corpus", suggestions)
	}

	e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://example.com/a", "title": "A"})
	e.do(http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://example.com/b", "title": "B"})

	resp, body = e.do(http.MethodPost, "/api/categories/suggest", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggest returned %d: %v", resp.StatusCode, body)
	}
	suggestions, _ = body["suggestions"].([]interface{})
	if len(suggestions) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(suggestions))
	}
	first, _ := suggestions[0].(map[string]interface{})
	if first["category"] != "Everything" {
		t.Errorf("category = %v", first["category"])
	}
	ids, _ := first["bookmarkIds"].([]interface{})
	if len(ids) != 2 {
		t.Errorf("bookmarkIds = %v, want both bookmarks", ids)
	}
}

func TestAPIKeySettings(t *testing.T) {
	e := newTestEnv(t)
	userID := e.register("grace@example.com")

	resp, body := e.do(http.MethodGet, "/api/settings/api-key", nil)
	if resp.StatusCode != http.StatusOK || body["configured"] != false {
		t.Fatalf("initial key state = %d %v", resp.StatusCode, body)
	}

	resp, body = e.do(http.MethodPost, "/api/settings/api-key", map[string]string{"key": "gemini-key"})
	if resp.StatusCode != http.StatusOK || body["configured"] != true {
		t.Fatalf("set key = %d %v", resp.StatusCode, body)
	}

	// Stored form must be encrypted, never the raw key.
	enc, err := e.db.GetUserAPIKey(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUserAPIKey failed: %v", err)
	}
	if enc == "" || enc == "gemini-key" {
		t.Errorf("stored key = %q, want encrypted value", enc)
	}

	resp, body = e.do(http.MethodDelete, "/api/settings/api-key", nil)
	if resp.StatusCode != http.StatusOK || body["configured"] != false {
		t.Fatalf("delete key = %d %v", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

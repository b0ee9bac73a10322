package bookmark

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
)

// fakeStore is an in-memory Store with fault injection for chunk tests.
type fakeStore struct {
	bookmarks  map[string]Record          // url -> record (single user per test)
	categories map[string]CategoryRecord  // path -> record
	ids        map[string]int64           // path -> id
	nextID     int64
	insertCall int
	failChunks map[int]bool // 1-based InsertBookmarks call numbers to fail
	failCats   bool
	catsFailed bool
	raceIDs    map[string]int64 // visible via ListCategoryPaths once an insert has failed
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bookmarks:  make(map[string]Record),
		categories: make(map[string]CategoryRecord),
		ids:        make(map[string]int64),
		failChunks: make(map[int]bool),
	}
}

func (s *fakeStore) FindBookmarkURLs(_ context.Context, _ string, urls []string) ([]string, error) {
	if len(urls) > lookupChunkSize {
		return nil, fmt.Errorf("lookup chunk too large: %d", len(urls))
	}
	var found []string
	for _, u := range urls {
		if _, ok := s.bookmarks[u]; ok {
			found = append(found, u)
		}
	}
	return found, nil
}

func (s *fakeStore) ListCategoryPaths(_ context.Context, _ string) (map[string]int64, error) {
	out := make(map[string]int64, len(s.ids))
	for p, id := range s.ids {
		out[p] = id
	}
	if s.catsFailed {
		for p, id := range s.raceIDs {
			out[p] = id
		}
	}
	return out, nil
}

func (s *fakeStore) InsertCategories(_ context.Context, records []CategoryRecord) (map[string]int64, error) {
	if s.failCats {
		s.catsFailed = true
		return nil, fmt.Errorf("constraint violation")
	}
	created := make(map[string]int64, len(records))
	for _, rec := range records {
		s.nextID++
		s.categories[rec.Path] = rec
		s.ids[rec.Path] = s.nextID
		created[rec.Path] = s.nextID
	}
	return created, nil
}

func (s *fakeStore) InsertBookmarks(_ context.Context, records []Record) error {
	s.insertCall++
	if s.failChunks[s.insertCall] {
		return fmt.Errorf("chunk write rejected")
	}
	for _, rec := range records {
		s.bookmarks[rec.URL] = rec
	}
	return nil
}

func testIngestor(s *fakeStore) *Ingestor {
	return NewIngestor(s, log.New(io.Discard, "", 0))
}

func TestIngest_EmptyBatch(t *testing.T) {
	in := testIngestor(newFakeStore())
	res, err := in.Ingest(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 0 || res.Failed != 0 || len(res.Duplicates) != 0 || len(res.Errors) != 0 {
		t.Errorf("unexpected result for empty batch: %+v", res)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	store := newFakeStore()
	in := testIngestor(store)

	batch := []IngestBookmark{
		{URL: "https://a.com", FolderPath: "Work/Tools"},
		{URL: "https://b.com", Title: "B"},
		{URL: "https://c.com/x", FolderPath: "Reading"},
	}

	first, err := in.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if first.Imported != 3 || first.Failed != 0 || len(first.Duplicates) != 0 {
		t.Fatalf("first run: got %+v, want 3 imported", first)
	}

	second, err := in.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if second.Imported != 0 {
		t.Errorf("second run imported = %d, want 0", second.Imported)
	}
	if len(second.Duplicates) != len(batch) {
		t.Errorf("second run duplicates = %d, want %d", len(second.Duplicates), len(batch))
	}
}

func TestIngest_CategoryTreeInvariant(t *testing.T) {
	store := newFakeStore()
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{
		{URL: "https://a.com", FolderPath: "A/B/C"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 1 {
		t.Fatalf("imported = %d, want 1", res.Imported)
	}

	for _, path := range []string{"A", "A/B", "A/B/C"} {
		if _, ok := store.ids[path]; !ok {
			t.Fatalf("category %q was not created", path)
		}
	}
	if store.categories["A"].ParentID != nil {
		t.Errorf("category A has parent %v, want nil", *store.categories["A"].ParentID)
	}
	if got := store.categories["A/B"].ParentID; got == nil || *got != store.ids["A"] {
		t.Errorf("A/B parent = %v, want id of A (%d)", got, store.ids["A"])
	}
	if got := store.categories["A/B/C"].ParentID; got == nil || *got != store.ids["A/B"] {
		t.Errorf("A/B/C parent = %v, want id of A/B (%d)", got, store.ids["A/B"])
	}

	rec := store.bookmarks["https://a.com"]
	if rec.CategoryID == nil || *rec.CategoryID != store.ids["A/B/C"] {
		t.Errorf("bookmark category = %v, want id of A/B/C", rec.CategoryID)
	}
}

func TestIngest_ChunkIsolation(t *testing.T) {
	store := newFakeStore()
	store.failChunks[2] = true
	in := testIngestor(store)

	batch := make([]IngestBookmark, 250)
	for i := range batch {
		batch[i] = IngestBookmark{URL: fmt.Sprintf("https://site-%03d.example.com/", i)}
	}

	res, err := in.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 200 {
		t.Errorf("imported = %d, want 200", res.Imported)
	}
	if res.Failed != 50 {
		t.Errorf("failed = %d, want 50", res.Failed)
	}
	var chunkErrs int
	for _, msg := range res.Errors {
		if strings.Contains(msg, "chunk 2") {
			chunkErrs++
		}
	}
	if chunkErrs != 1 || len(res.Errors) != 1 {
		t.Errorf("errors = %v, want exactly one entry for chunk 2", res.Errors)
	}
}

func TestIngest_IntraBatchDuplicate(t *testing.T) {
	store := newFakeStore()
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{
		{URL: "https://a.com", FolderPath: "Work/Tools"},
		{URL: "https://a.com", FolderPath: "Work/Tools"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 1 || res.Failed != 0 || len(res.Duplicates) != 0 {
		t.Errorf("got %+v, want imported=1, failed=0, duplicates=[]", res)
	}
}

func TestIngest_DefaultFolder(t *testing.T) {
	store := newFakeStore()
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{{URL: "https://b.com"}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 1 {
		t.Fatalf("imported = %d, want 1", res.Imported)
	}
	rec := store.bookmarks["https://b.com"]
	if rec.FolderPath != DefaultFolderPath {
		t.Errorf("folder path = %q, want %q", rec.FolderPath, DefaultFolderPath)
	}
	if _, ok := store.ids[DefaultFolderPath]; !ok {
		t.Errorf("category %q was not created", DefaultFolderPath)
	}
}

func TestIngest_InvalidURLs(t *testing.T) {
	store := newFakeStore()
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{
		{URL: "ftp://example.com"},
		{URL: "http://192.168.1.1/admin"},
		{URL: "https://ok.example.com"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 1 {
		t.Errorf("imported = %d, want 1", res.Imported)
	}
	if res.Failed != 2 {
		t.Errorf("failed = %d, want 2", res.Failed)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want 2 entries", res.Errors)
	}
}

func TestIngest_CategoryFailureDoesNotBlockInsert(t *testing.T) {
	store := newFakeStore()
	store.failCats = true
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{
		{URL: "https://a.com", FolderPath: "Broken/Path"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Imported != 1 {
		t.Errorf("imported = %d, want 1 (bookmark should land without a category)", res.Imported)
	}
	if len(res.Errors) == 0 {
		t.Error("expected a category creation error to be recorded")
	}
	if rec := store.bookmarks["https://a.com"]; rec.CategoryID != nil {
		t.Errorf("bookmark category = %v, want nil", rec.CategoryID)
	}
}

func TestIngest_CategoryRaceRecovery(t *testing.T) {
	// A concurrent import already created the node; the failed insert should
	// recover the winning id by re-reading the tree.
	store := newFakeStore()
	store.failCats = true
	store.raceIDs = map[string]int64{"Shared": 77}
	in := testIngestor(store)

	res, err := in.Ingest(context.Background(), "u1", []IngestBookmark{
		{URL: "https://a.com", FolderPath: "Shared"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none after race recovery", res.Errors)
	}
	rec := store.bookmarks["https://a.com"]
	if rec.CategoryID == nil || *rec.CategoryID != 77 {
		t.Errorf("bookmark category = %v, want recovered id 77", rec.CategoryID)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Work/Tools", "Work/Tools"},
		{"/Work/Tools/", "Work/Tools"},
		{"Work//Tools", "Work/Tools"},
		{"///", ""},
		{"", ""},
		{"  /A/B ", "A/B"},
		{"A", "A"},
	}
	for _, c := range cases {
		if got := NormalizePath(c.in); got != c.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

package bookmark

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

const (
	// lookupChunkSize bounds the number of URLs per existence query.
	lookupChunkSize = 200
	// insertChunkSize bounds the number of bookmarks per bulk insert.
	insertChunkSize = 100
)

// Store is the persistence surface the ingestion pipeline depends on.
// internal/database implements it over SQLite.
type Store interface {
	// FindBookmarkURLs returns the subset of urls already stored for the user.
	FindBookmarkURLs(ctx context.Context, userID string, urls []string) ([]string, error)
	// ListCategoryPaths returns the user's full path -> id map.
	ListCategoryPaths(ctx context.Context, userID string) (map[string]int64, error)
	// InsertCategories creates the given categories in one batch and returns
	// their path -> id pairs. The write is all-or-nothing.
	InsertCategories(ctx context.Context, records []CategoryRecord) (map[string]int64, error)
	// InsertBookmarks writes a chunk of bookmarks. The write is all-or-nothing.
	InsertBookmarks(ctx context.Context, records []Record) error
}

// Ingestor runs the ingestion pipeline: validate, deduplicate, resolve
// categories, bulk insert. One Ingest call is strictly linear and returns an
// aggregate result; recoverable failures never abort the whole batch.
type Ingestor struct {
	store  Store
	logger *log.Logger
}

func NewIngestor(store Store, logger *log.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Ingest validates, deduplicates, categorizes and persists a batch of
// incoming bookmarks for one user. It only returns a non-nil error when the
// store fails before any record could be processed; everything else is folded
// into the result.
func (in *Ingestor) Ingest(ctx context.Context, userID string, batch []IngestBookmark) (*IngestResult, error) {
	result := &IngestResult{
		Duplicates: []DuplicateURL{},
		Errors:     []string{},
	}
	if len(batch) == 0 {
		return result, nil
	}

	// 1. Validate, dropping intra-batch repeats (first occurrence wins).
	seen := make(map[string]bool, len(batch))
	valid := make([]IngestBookmark, 0, len(batch))
	for _, b := range batch {
		if b.URL == "" {
			continue
		}
		if _, err := ValidateURL(b.URL); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("invalid URL: %s", b.URL))
			continue
		}
		if seen[b.URL] {
			continue
		}
		seen[b.URL] = true
		valid = append(valid, b)
	}
	if len(valid) == 0 {
		return result, nil
	}

	// 2. Partition against the store in bounded chunks.
	urls := make([]string, len(valid))
	for i, b := range valid {
		urls[i] = b.URL
	}
	existing, err := in.findExisting(ctx, userID, urls)
	if err != nil {
		return nil, fmt.Errorf("checking existing bookmarks: %w", err)
	}

	toInsert := make([]IngestBookmark, 0, len(valid))
	for _, b := range valid {
		if existing[b.URL] {
			result.Duplicates = append(result.Duplicates, DuplicateURL{URL: b.URL})
			continue
		}
		toInsert = append(toInsert, b)
	}
	if len(toInsert) == 0 {
		return result, nil
	}

	// 3. Resolve categories for the whole batch at once.
	paths := make(map[string]bool)
	for i := range toInsert {
		p := NormalizePath(toInsert[i].FolderPath)
		if p == "" {
			p = DefaultFolderPath
		}
		toInsert[i].FolderPath = p
		paths[p] = true
	}
	categoryIDs, catErrs := in.ensureCategories(ctx, userID, paths)
	result.Errors = append(result.Errors, catErrs...)

	// 4. Build final records and insert in chunks.
	records := make([]Record, len(toInsert))
	now := time.Now().UTC()
	for i, b := range toInsert {
		records[i] = buildRecord(userID, b, categoryIDs, now)
	}
	in.insertChunked(ctx, records, result)

	return result, nil
}

// EnsureCategory materializes a single normalized folder path (with its
// ancestors) and returns the leaf's category id, or nil when creation failed.
func (in *Ingestor) EnsureCategory(ctx context.Context, userID, path string) (*int64, error) {
	path = NormalizePath(path)
	if path == "" {
		path = DefaultFolderPath
	}
	resolved, errs := in.ensureCategories(ctx, userID, map[string]bool{path: true})
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", errs[0])
	}
	if id, ok := resolved[path]; ok {
		categoryID := id
		return &categoryID, nil
	}
	return nil, nil
}

// findExisting looks up which of the given URLs are already stored, querying
// in chunks of lookupChunkSize to respect query-size limits.
func (in *Ingestor) findExisting(ctx context.Context, userID string, urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for i := 0; i < len(urls); i += lookupChunkSize {
		end := i + lookupChunkSize
		if end > len(urls) {
			end = len(urls)
		}
		found, err := in.store.FindBookmarkURLs(ctx, userID, urls[i:end])
		if err != nil {
			return nil, err
		}
		for _, u := range found {
			existing[u] = true
		}
	}
	return existing, nil
}

// ensureCategories materializes every path (and all its ancestors) in the
// user's category tree, creating missing nodes depth by depth so that a
// child's parent id is always resolved before the child is written. A failed
// batch at one depth is recorded and the walk continues; affected bookmarks
// fall back to a nil category rather than blocking the import.
func (in *Ingestor) ensureCategories(ctx context.Context, userID string, paths map[string]bool) (map[string]int64, []string) {
	var errs []string

	resolved, err := in.store.ListCategoryPaths(ctx, userID)
	if err != nil {
		in.logger.Printf("Error loading categories for user %s: %v", userID, err)
		errs = append(errs, fmt.Sprintf("loading categories: %v", err))
		resolved = make(map[string]int64)
	}

	// Expand every path into its full ancestor chain, grouped by depth.
	byDepth := make(map[int][]string)
	seen := make(map[string]bool)
	maxDepth := 0
	for path := range paths {
		parts := strings.Split(path, "/")
		if len(parts) > maxDepth {
			maxDepth = len(parts)
		}
		prefix := ""
		for i, part := range parts {
			if prefix == "" {
				prefix = part
			} else {
				prefix = prefix + "/" + part
			}
			if !seen[prefix] {
				seen[prefix] = true
				byDepth[i+1] = append(byDepth[i+1], prefix)
			}
		}
	}

	for depth := 1; depth <= maxDepth; depth++ {
		var missing []string
		for _, p := range byDepth[depth] {
			if _, ok := resolved[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			continue
		}
		sort.Strings(missing)

		records := make([]CategoryRecord, len(missing))
		for i, path := range missing {
			parts := strings.Split(path, "/")
			rec := CategoryRecord{
				UserID: userID,
				Name:   parts[len(parts)-1],
				Path:   path,
			}
			if len(parts) > 1 {
				parentPath := strings.Join(parts[:len(parts)-1], "/")
				if id, ok := resolved[parentPath]; ok {
					parentID := id
					rec.ParentID = &parentID
				}
			}
			records[i] = rec
		}

		created, err := in.store.InsertCategories(ctx, records)
		if err != nil {
			// A concurrent import may have won the race to create these
			// nodes. Re-read the tree to recover the winning ids before
			// giving up on this depth.
			if relisted, lerr := in.store.ListCategoryPaths(ctx, userID); lerr == nil {
				recoveredAll := true
				for _, p := range missing {
					if id, ok := relisted[p]; ok {
						resolved[p] = id
					} else {
						recoveredAll = false
					}
				}
				if recoveredAll {
					continue
				}
			}
			in.logger.Printf("Category creation failed at depth %d for user %s: %v", depth, userID, err)
			errs = append(errs, fmt.Sprintf("category creation failed at depth %d: %v", depth, err))
			continue
		}
		for p, id := range created {
			resolved[p] = id
		}
	}

	return resolved, errs
}

// insertChunked writes records sequentially in chunks of insertChunkSize. A
// failed chunk counts all of its records as failed and appends one error; the
// remaining chunks still run.
func (in *Ingestor) insertChunked(ctx context.Context, records []Record, result *IngestResult) {
	for i := 0; i < len(records); i += insertChunkSize {
		end := i + insertChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]
		if err := in.store.InsertBookmarks(ctx, chunk); err != nil {
			in.logger.Printf("Bookmark chunk %d insert failed: %v", i/insertChunkSize+1, err)
			result.Failed += len(chunk)
			result.Errors = append(result.Errors, fmt.Sprintf("bookmark chunk %d failed: %v", i/insertChunkSize+1, err))
			continue
		}
		result.Imported += len(chunk)
	}
}

func buildRecord(userID string, b IngestBookmark, categoryIDs map[string]int64, now time.Time) Record {
	rec := Record{
		UserID:      userID,
		Title:       b.Title,
		URL:         b.URL,
		Description: b.Description,
		FaviconURL:  b.FaviconURL,
		FolderPath:  b.FolderPath,
		Source:      b.Source,
		IsRead:      b.IsRead,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.Title == "" {
		rec.Title = b.URL
	}
	if rec.Source == "" {
		rec.Source = DefaultSource
	}
	if id, ok := categoryIDs[b.FolderPath]; ok {
		categoryID := id
		rec.CategoryID = &categoryID
	}
	if t, err := time.Parse(time.RFC3339, b.DateAdded); err == nil {
		rec.CreatedAt = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, b.DateGroupModified); err == nil {
		rec.UpdatedAt = t.UTC()
	}
	return rec
}

// NormalizePath strips leading/trailing slashes and collapses repeated
// slashes, returning the canonical folder path ("" for blank input).
func NormalizePath(p string) string {
	parts := strings.Split(strings.TrimSpace(p), "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

package bookmark

import (
	"time"
)

// Bookmark is a stored link owned by a user.
type Bookmark struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	FaviconURL  string    `json:"faviconUrl,omitempty"`
	CategoryID  *int64    `json:"categoryId,omitempty"`
	FolderPath  string    `json:"folderPath"`
	Source      string    `json:"source"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Category is a node in a user's folder hierarchy. Path is the slash-joined
// chain of ancestor names and is the node's natural key within a user's scope.
type Category struct {
	ID       int64  `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId,omitempty"`
	Path     string `json:"path"`
}

// IngestBookmark is one incoming descriptor handed to Ingest by the entry
// points (manual add, extension sync, file upload, feed import).
type IngestBookmark struct {
	URL               string `json:"url"`
	Title             string `json:"title,omitempty"`
	FolderPath        string `json:"folderPath,omitempty"`
	Description       string `json:"description,omitempty"`
	FaviconURL        string `json:"faviconUrl,omitempty"`
	Source            string `json:"source,omitempty"`
	IsRead            bool   `json:"isRead,omitempty"`
	DateAdded         string `json:"dateAdded,omitempty"`         // RFC 3339
	DateGroupModified string `json:"dateGroupModified,omitempty"` // RFC 3339
}

// DuplicateURL identifies a batch entry that already existed in the store.
type DuplicateURL struct {
	URL string `json:"url"`
}

// IngestResult summarizes one ingestion call. Recoverable per-record and
// per-chunk failures are folded in here rather than surfaced as errors.
type IngestResult struct {
	Imported   int            `json:"imported"`
	Failed     int            `json:"failed"`
	Duplicates []DuplicateURL `json:"duplicates"`
	Errors     []string       `json:"errors"`
}

// Record is a fully resolved bookmark ready for insertion: validated,
// deduplicated, with its category resolved and timestamps defaulted.
type Record struct {
	UserID      string
	Title       string
	URL         string
	Description string
	FaviconURL  string
	CategoryID  *int64
	FolderPath  string
	Source      string
	IsRead      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryRecord is a category to be created at a given depth during
// resolution. ParentID is nil for top-level nodes.
type CategoryRecord struct {
	UserID   string
	Name     string
	Path     string
	ParentID *int64
}

const (
	// DefaultFolderPath is used when an incoming descriptor carries no folder.
	DefaultFolderPath = "Imported"
	// DefaultSource marks bookmarks whose origin was not specified.
	DefaultSource = "import"
)

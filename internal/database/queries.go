package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkhoard/internal/bookmark"
)

// Error definitions
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Compile-time check that DB satisfies the ingestion pipeline's store surface.
var _ bookmark.Store = (*DB)(nil)

// Embedding pairs a bookmark with its stored vector blob.
type Embedding struct {
	BookmarkID int64
	Vector     []byte
}

// GetSetting retrieves a setting value
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?",
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// UpdateSetting upserts a setting
func (db *DB) UpdateSetting(ctx context.Context, key, value, valueType string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value, type, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		type = excluded.type,
		updated_at = CURRENT_TIMESTAMP`,
		key, value, valueType,
	)
	return err
}

// FindBookmarkURLs returns the subset of the given URLs that already exist
// for the user. Callers are expected to keep len(urls) within their chunk
// size; the query uses one placeholder per URL.
func (db *DB) FindBookmarkURLs(ctx context.Context, userID string, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(urls))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(urls)+1)
	args = append(args, userID)
	for _, u := range urls {
		args = append(args, u)
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT url FROM bookmarks WHERE user_id = ? AND url IN (%s)", placeholders),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		found = append(found, u)
	}
	return found, rows.Err()
}

// ListCategoryPaths returns the user's full path -> id map.
func (db *DB) ListCategoryPaths(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT path, id FROM categories WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]int64)
	for rows.Next() {
		var path string
		var id int64
		if err := rows.Scan(&path, &id); err != nil {
			return nil, err
		}
		paths[path] = id
	}
	return paths, rows.Err()
}

// InsertCategories creates the given categories in one transaction and
// returns their path -> id pairs. All-or-nothing: any failure rolls the
// whole batch back.
func (db *DB) InsertCategories(ctx context.Context, records []bookmark.CategoryRecord) (map[string]int64, error) {
	if len(records) == 0 {
		return map[string]int64{}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO categories (user_id, name, parent_id, path) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	created := make(map[string]int64, len(records))
	for _, rec := range records {
		var parentID interface{}
		if rec.ParentID != nil {
			parentID = *rec.ParentID
		}
		res, err := stmt.ExecContext(ctx, rec.UserID, rec.Name, parentID, rec.Path)
		if err != nil {
			return nil, fmt.Errorf("inserting category %q: %w", rec.Path, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		created[rec.Path] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// InsertBookmarks writes one chunk of bookmarks in a single transaction.
// All-or-nothing: a failure rolls back the whole chunk.
func (db *DB) InsertBookmarks(ctx context.Context, records []bookmark.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO bookmarks (
            user_id, title, url, description, favicon_url,
            category_id, folder_path, source, is_read, created_at, updated_at
        )
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		var categoryID interface{}
		if rec.CategoryID != nil {
			categoryID = *rec.CategoryID
		}
		var favicon interface{}
		if rec.FaviconURL != "" {
			favicon = rec.FaviconURL
		}
		_, err := stmt.ExecContext(ctx,
			rec.UserID, rec.Title, rec.URL, rec.Description, favicon,
			categoryID, rec.FolderPath, rec.Source, rec.IsRead,
			formatTimestamp(rec.CreatedAt), formatTimestamp(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting bookmark %s: %w", rec.URL, err)
		}
	}

	return tx.Commit()
}

// GetBookmarks returns a page of the user's bookmarks, newest first.
func (db *DB) GetBookmarks(ctx context.Context, userID string, limit, offset int) ([]bookmark.Bookmark, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, user_id, title, url, description, COALESCE(favicon_url, ''),
               category_id, folder_path, source, is_read, created_at, updated_at
        FROM bookmarks
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookmarks(rows)
}

// GetBookmarksByIDs returns the given bookmarks if they belong to the user.
func (db *DB) GetBookmarksByIDs(ctx context.Context, userID string, ids []int64) ([]bookmark.Bookmark, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
        SELECT id, user_id, title, url, description, COALESCE(favicon_url, ''),
               category_id, folder_path, source, is_read, created_at, updated_at
        FROM bookmarks
        WHERE user_id = ? AND id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookmarks(rows)
}

// GetBookmarkIDByURL returns the newest bookmark with the given URL, used to
// locate a record right after single-item ingestion.
func (db *DB) GetBookmarkIDByURL(ctx context.Context, userID, url string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		"SELECT id FROM bookmarks WHERE user_id = ? AND url = ? ORDER BY id DESC LIMIT 1",
		userID, url,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

// GetBookmark returns one bookmark owned by the user.
func (db *DB) GetBookmark(ctx context.Context, userID string, id int64) (*bookmark.Bookmark, error) {
	row := db.QueryRowContext(ctx, `
        SELECT id, user_id, title, url, description, COALESCE(favicon_url, ''),
               category_id, folder_path, source, is_read, created_at, updated_at
        FROM bookmarks
        WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	b, err := scanBookmark(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBookmark removes a bookmark owned by the user.
func (db *DB) DeleteBookmark(ctx context.Context, userID string, id int64) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM bookmarks WHERE user_id = ? AND id = ?",
		userID, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBookmarkRead toggles the read flag.
func (db *DB) SetBookmarkRead(ctx context.Context, userID string, id int64, isRead bool) error {
	res, err := db.ExecContext(ctx,
		"UPDATE bookmarks SET is_read = ? WHERE user_id = ? AND id = ?",
		isRead, userID, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveBookmark reassigns a bookmark's category and folder path.
func (db *DB) MoveBookmark(ctx context.Context, userID string, id int64, categoryID *int64, folderPath string) error {
	var cat interface{}
	if categoryID != nil {
		cat = *categoryID
	}
	res, err := db.ExecContext(ctx,
		"UPDATE bookmarks SET category_id = ?, folder_path = ? WHERE user_id = ? AND id = ?",
		cat, folderPath, userID, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBookmarkEnrichment stores the description produced by the
// enrichment worker, along with a favicon if one was discovered.
func (db *DB) UpdateBookmarkEnrichment(ctx context.Context, bookmarkID int64, description, faviconURL string) error {
	var favicon interface{}
	if faviconURL != "" {
		favicon = faviconURL
	}
	_, err := db.ExecContext(ctx,
		"UPDATE bookmarks SET description = ?, favicon_url = COALESCE(?, favicon_url) WHERE id = ?",
		description, favicon, bookmarkID,
	)
	return err
}

// ListCategories returns all of the user's categories ordered by path.
func (db *DB) ListCategories(ctx context.Context, userID string) ([]bookmark.Category, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_id, name, parent_id, path FROM categories WHERE user_id = ? ORDER BY path",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []bookmark.Category
	for rows.Next() {
		var c bookmark.Category
		var parentID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &parentID, &c.Path); err != nil {
			return nil, err
		}
		if parentID.Valid {
			id := parentID.Int64
			c.ParentID = &id
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// UpsertEmbedding stores the vector for a bookmark, replacing any previous one.
func (db *DB) UpsertEmbedding(ctx context.Context, bookmarkID int64, vector []byte) error {
	if len(vector) == 0 {
		return ErrInvalidInput
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO bookmark_embeddings (bookmark_id, vector, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(bookmark_id) DO UPDATE SET
        vector = excluded.vector,
        updated_at = CURRENT_TIMESTAMP`,
		bookmarkID, vector,
	)
	return err
}

// GetEmbeddingsByUser loads every stored vector belonging to the user's
// bookmarks. The corpus is small (hundreds to low thousands) so ranking
// happens in memory.
func (db *DB) GetEmbeddingsByUser(ctx context.Context, userID string) ([]Embedding, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT e.bookmark_id, e.vector
        FROM bookmark_embeddings e
        JOIN bookmarks b ON b.id = e.bookmark_id
        WHERE b.user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		if err := rows.Scan(&e.BookmarkID, &e.Vector); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetUserAPIKey stores the user's encrypted Gemini API key.
func (db *DB) SetUserAPIKey(ctx context.Context, userID, encrypted string) error {
	var value interface{}
	if encrypted != "" {
		value = encrypted
	}
	res, err := db.ExecContext(ctx,
		"UPDATE users SET gemini_key_enc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		value, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserAPIKey returns the user's encrypted Gemini API key ("" if unset).
func (db *DB) GetUserAPIKey(ctx context.Context, userID string) (string, error) {
	var enc sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT gemini_key_enc FROM users WHERE id = ?",
		userID,
	).Scan(&enc)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return enc.String, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBookmark(row rowScanner) (*bookmark.Bookmark, error) {
	var b bookmark.Bookmark
	var categoryID sql.NullInt64
	err := row.Scan(
		&b.ID, &b.UserID, &b.Title, &b.URL, &b.Description, &b.FaviconURL,
		&categoryID, &b.FolderPath, &b.Source, &b.IsRead, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		b.CategoryID = &id
	}
	return &b, nil
}

func scanBookmarks(rows *sql.Rows) ([]bookmark.Bookmark, error) {
	var out []bookmark.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

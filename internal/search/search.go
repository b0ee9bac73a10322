// Package search implements semantic search over bookmark embeddings. The
// per-user corpus is small, so vectors are loaded and cosine-ranked in
// memory rather than pushed into a vector store.
package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sort"

	"linkhoard/internal/ai"
	"linkhoard/internal/bookmark"
	"linkhoard/internal/database"
)

// Embedder turns text into a vector. *ai.Client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is a bookmark scored against a query.
type Match struct {
	bookmark.Bookmark
	Similarity float64 `json:"similarity"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB, logger *log.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Index embeds the given text and stores the vector for the bookmark,
// replacing any previous one.
func (s *Service) Index(ctx context.Context, embedder Embedder, bookmarkID int64, text string) error {
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding bookmark %d: %w", bookmarkID, err)
	}
	if err := s.db.UpsertEmbedding(ctx, bookmarkID, EncodeVector(vec)); err != nil {
		return fmt.Errorf("storing embedding for bookmark %d: %w", bookmarkID, err)
	}
	return nil
}

// Search embeds the query, ranks the user's stored vectors by cosine
// similarity and returns the top limit matches joined with their bookmarks,
// best first.
func (s *Service) Search(ctx context.Context, embedder Embedder, userID, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 8
	}

	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	embeddings, err := s.db.GetEmbeddingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	type scored struct {
		id         int64
		similarity float64
	}
	ranked := make([]scored, 0, len(embeddings))
	for _, e := range embeddings {
		vec, err := DecodeVector(e.Vector)
		if err != nil {
			s.logger.Printf("Skipping corrupt vector for bookmark %d: %v", e.BookmarkID, err)
			continue
		}
		ranked = append(ranked, scored{id: e.BookmarkID, similarity: ai.CosineSimilarity(queryVec, vec)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].similarity > ranked[j].similarity })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	bookmarks, err := s.db.GetBookmarksByIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading matched bookmarks: %w", err)
	}
	byID := make(map[int64]bookmark.Bookmark, len(bookmarks))
	for _, b := range bookmarks {
		byID[b.ID] = b
	}

	matches := make([]Match, 0, len(ranked))
	for _, r := range ranked {
		b, ok := byID[r.id]
		if !ok {
			continue
		}
		matches = append(matches, Match{Bookmark: b, Similarity: r.similarity})
	}
	return matches, nil
}

// EncodeVector serializes a vector as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}

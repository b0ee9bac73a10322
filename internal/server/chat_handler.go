package server

import (
	"fmt"
	"net/http"
	"strings"

	"linkhoard/internal/search"
)

type chatResponse struct {
	Message   string         `json:"message"`
	Bookmarks []search.Match `json:"bookmarks"`
}

// handleChat answers a natural-language query with the user's most relevant
// bookmarks, ranked by embedding similarity.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query := strings.TrimSpace(req.Message)
	if query == "" {
		RespondWithError(w, http.StatusBadRequest, "message is required")
		return
	}

	client := s.enricher.ClientFor(r.Context(), userID)
	matches, err := s.searcher.Search(r.Context(), client, userID, query, s.matchCount(r.Context()))
	if err != nil {
		s.logger.Printf("Chat search failed for user %s: %v", userID, err)
		RespondWithError(w, http.StatusBadGateway, "search is unavailable, check your API key")
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}

	message := fmt.Sprintf("Found %d relevant bookmarks for %q", len(matches), query)
	if len(matches) == 0 {
		message = fmt.Sprintf("No bookmarks matched %q", query)
	}
	RespondWithJSON(w, http.StatusOK, chatResponse{Message: message, Bookmarks: matches})
}

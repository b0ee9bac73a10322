package server

import (
	"net/http"
	"strconv"
	"time"

	"linkhoard/internal/ai"
	"linkhoard/internal/auth"
	"linkhoard/internal/bookmark"
	"linkhoard/internal/database"
	"linkhoard/internal/enrich"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := auth.CreateUser(s.db.DB, req.Email, req.Password)
	if err != nil {
		if err == auth.ErrEmailTaken {
			RespondWithError(w, http.StatusConflict, err.Error())
			return
		}
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := auth.Authenticate(s.db.DB, user.Email, req.Password, s.config.SessionTTL)
	if err != nil {
		s.logger.Printf("Post-registration login failed for %s: %v", user.Email, err)
		RespondWithError(w, http.StatusInternalServerError, "registration succeeded but login failed")
		return
	}
	s.setSessionCookie(w, session.ID, session.ExpiresAt)
	RespondWithJSON(w, http.StatusCreated, map[string]string{"userId": user.ID, "email": user.Email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := auth.Authenticate(s.db.DB, req.Email, req.Password, s.config.SessionTTL)
	if err != nil {
		if err == auth.ErrInvalidCredentials {
			RespondWithError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.logger.Printf("Login failed: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.setSessionCookie(w, session.ID, session.ExpiresAt)
	RespondWithJSON(w, http.StatusOK, map[string]string{"userId": session.UserID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := auth.InvalidateSession(s.db.DB, cookie.Value); err != nil {
			s.logger.Printf("Failed to invalidate session: %v", err)
		}
	}
	s.clearSessionCookie(w)
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	bookmarks, err := s.db.GetBookmarks(r.Context(), userID, limit, offset)
	if err != nil {
		s.logger.Printf("Failed to list bookmarks: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "could not load bookmarks")
		return
	}
	if bookmarks == nil {
		bookmarks = []bookmark.Bookmark{}
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"bookmarks": bookmarks})
}

type addBookmarkRequest struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	FolderPath string `json:"folderPath,omitempty"`
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req addBookmarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		RespondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), userID, []bookmark.IngestBookmark{{
		URL:        req.URL,
		Title:      req.Title,
		FolderPath: req.FolderPath,
		Source:     "manual",
	}})
	if err != nil {
		s.logger.Printf("Ingest failed for %s: %v", req.URL, err)
		RespondWithError(w, http.StatusInternalServerError, "could not save bookmark")
		return
	}
	if len(result.Duplicates) > 0 {
		RespondWithError(w, http.StatusConflict, "bookmark already exists")
		return
	}
	if result.Imported == 0 {
		msg := "bookmark was rejected"
		if len(result.Errors) > 0 {
			msg = result.Errors[0]
		}
		RespondWithError(w, http.StatusBadRequest, msg)
		return
	}

	id, err := s.db.GetBookmarkIDByURL(r.Context(), userID, req.URL)
	if err != nil {
		s.logger.Printf("Could not locate just-inserted bookmark %s: %v", req.URL, err)
		RespondWithJSON(w, http.StatusCreated, result)
		return
	}

	s.enricher.Enqueue(enrich.Job{
		BookmarkID: id,
		UserID:     userID,
		URL:        req.URL,
		Title:      req.Title,
	})

	b, err := s.db.GetBookmark(r.Context(), userID, id)
	if err != nil {
		RespondWithJSON(w, http.StatusCreated, result)
		return
	}
	RespondWithJSON(w, http.StatusCreated, b)
}

// pathID parses the {id} segment of the request path.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())
	id, ok := pathID(r)
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	if err := s.db.DeleteBookmark(r.Context(), userID, id); err != nil {
		if err == database.ErrNotFound {
			RespondWithError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.logger.Printf("Failed to delete bookmark %d: %v", id, err)
		RespondWithError(w, http.StatusInternalServerError, "could not delete bookmark")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())
	id, ok := pathID(r)
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	var req struct {
		IsRead bool `json:"isRead"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.db.SetBookmarkRead(r.Context(), userID, id, req.IsRead); err != nil {
		if err == database.ErrNotFound {
			RespondWithError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "could not update bookmark")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"isRead": req.IsRead})
}

func (s *Server) handleMoveBookmark(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())
	id, ok := pathID(r)
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	var req struct {
		FolderPath string `json:"folderPath"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	folder := bookmark.NormalizePath(req.FolderPath)
	if folder == "" {
		folder = bookmark.DefaultFolderPath
	}
	categoryID, err := s.ingestor.EnsureCategory(r.Context(), userID, folder)
	if err != nil {
		s.logger.Printf("Failed to resolve category %q: %v", folder, err)
		RespondWithError(w, http.StatusInternalServerError, "could not resolve category")
		return
	}

	if err := s.db.MoveBookmark(r.Context(), userID, id, categoryID, folder); err != nil {
		if err == database.ErrNotFound {
			RespondWithError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "could not move bookmark")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"folderPath": folder})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	cats, err := s.db.ListCategories(r.Context(), userID)
	if err != nil {
		s.logger.Printf("Failed to list categories: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "could not load categories")
		return
	}
	if cats == nil {
		cats = []bookmark.Category{}
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
}

// handleEnsureCategory materializes a folder path (with ancestors) so the UI
// can create empty folders ahead of any bookmark landing in them.
func (s *Server) handleEnsureCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := bookmark.NormalizePath(req.Path)
	if path == "" {
		RespondWithError(w, http.StatusBadRequest, "path is required")
		return
	}

	categoryID, err := s.ingestor.EnsureCategory(r.Context(), userID, path)
	if err != nil || categoryID == nil {
		s.logger.Printf("Failed to ensure category %q: %v", path, err)
		RespondWithError(w, http.StatusInternalServerError, "could not create category")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"categoryId": *categoryID,
		"path":       path,
	})
}

// handleSuggestCategories asks the model to cluster the user's most recent
// bookmarks into thematic folders.
func (s *Server) handleSuggestCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	bookmarks, err := s.db.GetBookmarks(r.Context(), userID, 50, 0)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "could not load bookmarks")
		return
	}
	if len(bookmarks) == 0 {
		RespondWithJSON(w, http.StatusOK, map[string]interface{}{"suggestions": []ai.CategorySuggestion{}})
		return
	}

	inputs := make([]ai.SummaryInput, len(bookmarks))
	for i, b := range bookmarks {
		inputs[i] = ai.SummaryInput{
			ID:          b.ID,
			Title:       b.Title,
			Description: b.Description,
			URL:         b.URL,
		}
	}

	client := s.enricher.ClientFor(r.Context(), userID)
	suggestions, err := client.SuggestCategories(r.Context(), inputs)
	if err != nil {
		s.logger.Printf("Category suggestion failed for user %s: %v", userID, err)
		RespondWithError(w, http.StatusBadGateway, "suggestions are unavailable, check your API key")
		return
	}
	if suggestions == nil {
		suggestions = []ai.CategorySuggestion{}
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	enc, err := s.db.GetUserAPIKey(r.Context(), userID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "could not read API key")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"configured": enc != ""})
}

func (s *Server) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Key == "" {
		RespondWithError(w, http.StatusBadRequest, "key is required")
		return
	}

	enc, err := auth.EncryptSecret(s.config.SecretKey, req.Key)
	if err != nil {
		s.logger.Printf("Failed to encrypt API key: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "could not store API key")
		return
	}
	if err := s.db.SetUserAPIKey(r.Context(), userID, enc); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "could not store API key")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"configured": true})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	if err := s.db.SetUserAPIKey(r.Context(), userID, ""); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "could not remove API key")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]bool{"configured": false})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	token, err := auth.IssueToken([]byte(s.config.TokenSecret), userID)
	if err != nil {
		s.logger.Printf("Failed to issue API token: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"issuedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

package server

import (
	"net/http"

	"linkhoard/internal/bookmark"
)

const maxUploadBytes = 10 << 20

// handleFileImport accepts a Netscape bookmark export ("file" form field)
// and runs its links through the ingestion pipeline.
func (s *Server) handleFileImport(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	root, err := bookmark.ParseNetscape(file)
	if err != nil {
		s.logger.Printf("Failed to parse bookmark file %s: %v", header.Filename, err)
		RespondWithError(w, http.StatusBadRequest, "could not parse bookmark file")
		return
	}
	batch := bookmark.FlattenNetscape(root)
	if len(batch) == 0 {
		RespondWithError(w, http.StatusBadRequest, "no bookmarks found in file")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), userID, batch)
	if err != nil {
		s.logger.Printf("File import failed for user %s: %v", userID, err)
		RespondWithError(w, http.StatusInternalServerError, "import failed")
		return
	}
	s.logger.Printf("File import for user %s: %d imported, %d failed, %d duplicates",
		userID, result.Imported, result.Failed, len(result.Duplicates))
	RespondWithJSON(w, http.StatusOK, result)
}

// handleFeedImport fetches an RSS/Atom feed and ingests its entries.
func (s *Server) handleFeedImport(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.URL == "" {
		RespondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	title, batch, err := s.importer.Fetch(r.Context(), req.URL)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(batch) == 0 {
		RespondWithError(w, http.StatusBadRequest, "feed has no entries")
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), userID, batch)
	if err != nil {
		s.logger.Printf("Feed import failed for %s: %v", req.URL, err)
		RespondWithError(w, http.StatusInternalServerError, "import failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"feedTitle": title,
		"result":    result,
	})
}

// handleExtensionSync ingests a batch sent by the browser extension. The
// extension retries whole batches, so duplicate reporting back to it is what
// keeps syncs idempotent.
func (s *Server) handleExtensionSync(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserID(r.Context())

	var req struct {
		Bookmarks []bookmark.IngestBookmark `json:"bookmarks"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Bookmarks) == 0 {
		RespondWithJSON(w, http.StatusOK, &bookmark.IngestResult{
			Duplicates: []bookmark.DuplicateURL{},
			Errors:     []string{},
		})
		return
	}

	for i := range req.Bookmarks {
		if req.Bookmarks[i].Source == "" {
			req.Bookmarks[i].Source = "extension"
		}
	}

	result, err := s.ingestor.Ingest(r.Context(), userID, req.Bookmarks)
	if err != nil {
		s.logger.Printf("Extension sync failed for user %s: %v", userID, err)
		RespondWithError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, result)
}

package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public storage configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	storageResp := map[string]any{
		"s3": map[string]any{
			"enabled":         false,
			"discovery_paths": []string{},
		},
	}

	if s.cfg.Storage.S3 != nil && s.cfg.Storage.S3.Enabled {
		storageResp["s3"] = map[string]any{
			"enabled":         true,
			"discovery_paths": s.cfg.Storage.S3.DiscoveryPaths,
		}
	}

	storageResp["local"] = map[string]any{
		"enabled":         false,
		"discovery_paths": []string{},
	}

	if s.cfg.Storage.Local != nil && s.cfg.Storage.Local.Enabled {
		// Return just the map keys (sorted for determinism) so the UI
		// treats local and S3 discovery paths identically.
		keys := make([]string, 0, len(s.cfg.Storage.Local.DiscoveryPaths))
		for k := range s.cfg.Storage.Local.DiscoveryPaths {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		storageResp["local"] = map[string]any{
			"enabled":         true,
			"discovery_paths": keys,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"storage":  storageResp,
		"indexing": s.indexStore != nil,
	})
}

// handleFileRequest serves files from local storage or generates a
// presigned S3 URL, depending on which backend is configured.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file path is required"})

		return
	}

	// Local file serving takes priority.
	if s.localServer != nil {
		if err := s.localServer.ServeFile(w, r, filePath); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"file not found"})
		}

		return
	}

	// Fall back to S3 presigned URL generation.
	if s.presigner != nil {
		// HEAD requests: return object metadata directly so the UI can
		// read Content-Length without presigned URL indirection.
		if r.Method == http.MethodHead {
			s.handleS3Head(w, r, filePath)

			return
		}

		url, err := s.presigner.GeneratePresignedURL(r.Context(), filePath)
		if err != nil {
			s.log.WithError(err).
				WithField("path", filePath).
				Warn("Failed to generate presigned URL")

			writeJSON(w, http.StatusForbidden,
				errorResponse{"path not allowed or presign failed"})

			return
		}

		// When redirect=true, issue a 302 redirect to the presigned URL.
		// This allows <a href="...?redirect=true"> and curl -L to download
		// files directly without the client needing to parse JSON.
		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, url, http.StatusFound)

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})

		return
	}

	writeJSON(w, http.StatusNotFound,
		errorResponse{"storage not configured"})
}

// handleS3Head retrieves object metadata from S3 and writes the
// Content-Length and Content-Type headers so the UI can determine
// file sizes without downloading the object.
func (s *server) handleS3Head(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) {
	result, err := s.presigner.HeadObject(r.Context(), filePath)
	if err != nil {
		s.log.WithError(err).
			WithField("path", filePath).
			Debug("S3 HeadObject failed")

		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set(
		"Content-Length", strconv.FormatInt(result.ContentLength, 10),
	)
	w.WriteHeader(http.StatusOK)
}

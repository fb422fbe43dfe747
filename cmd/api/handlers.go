package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/WessleyAI/imagesearch/engine/builder"
	"github.com/WessleyAI/imagesearch/engine/domain"
	"github.com/WessleyAI/imagesearch/engine/search"
)

// SearchResponse is the JSON response for GET /search.
type SearchResponse struct {
	Results []search.Hit `json:"results"`
	Query   string       `json:"query"`
}

// ImagesResponse is the JSON response for GET /images.
type ImagesResponse struct {
	Images []search.Image `json:"images"`
	Total  int            `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a search failure kind to an HTTP status.
func statusFor(kind search.Kind) int {
	switch kind {
	case search.KindInvalidQuery:
		return http.StatusBadRequest
	case search.KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case search.KindEmbeddingFailed, search.KindDimensionMismatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a service exists; the server only listens
// after the index is built.
func handleReady(svc *search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "records": svc.Len()})
	}
}

func handleSearch(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		k := -1
		if raw := q.Get("k"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
				return
			}
			k = n
		}

		text := q.Get("q")
		hits, err := svc.Search(r.Context(), text, k)
		if err != nil {
			var se *search.Error
			if !errors.As(err, &se) {
				logger.Error("search returned a foreign error", "err", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			writeError(w, statusFor(se.Kind), se.Message)
			return
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: hits, Query: text})
	}
}

func handleImages(svc *search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		imgs := svc.Images()
		writeJSON(w, http.StatusOK, ImagesResponse{Images: imgs, Total: len(imgs)})
	}
}

// handleImage serves the bytes of an indexed image. Names outside the
// <id>.jpg contract and ids that were not indexed are 404.
func handleImage(src *builder.DirSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ParseImageFilename(r.PathValue("name"))
		if err != nil {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		name, ok := src.Name(id)
		if !ok {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		http.ServeFileFS(w, r, src.FS(), name)
	}
}

func handleRoot(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "image search API",
			"endpoints": map[string]string{
				"search": "GET /search?q=<text>&k=<n>",
				"images": "GET /images",
				"image":  "GET " + prefix + "/<id>.jpg",
				"health": "GET /api/health",
				"ready":  "GET /api/ready",
			},
		})
	}
}

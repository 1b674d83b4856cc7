package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vbonduro/itemshelf/internal/domain"
	"github.com/vbonduro/itemshelf/internal/imagestore"
	"github.com/vbonduro/itemshelf/internal/store"
)

type itemResponse struct {
	Message string       `json:"message"`
	Item    *domain.Item `json:"item"`
}

type itemsResponse struct {
	Items []*domain.Item `json:"items"`
}

type categoriesResponse struct {
	Categories []*domain.Category `json:"categories"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, world!"})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	if _, ok := r.MultipartForm.Value["name"]; !ok {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	name := r.FormValue("name")
	category := r.FormValue("category")

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		s.logger.Error("read upload failed", "name", name, "error", err)
		return
	}

	item, err := s.service.CreateItem(r.Context(), name, category, imageData)
	if err != nil {
		s.writeServiceError(w, r, "create item", err)
		return
	}

	writeJSON(w, http.StatusOK, itemResponse{
		Message: "item received: " + item.Name,
		Item:    item,
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := s.service.GetItem(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("keyword") {
		writeError(w, http.StatusBadRequest, "keyword required")
		return
	}

	items, err := s.service.SearchItems(r.Context(), q.Get("keyword"))
	if err != nil {
		s.writeServiceError(w, r, "search items", err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: items})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list categories", err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: categories})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.service.GetImage(r.Context(), r.PathValue("image_name"))
	if err != nil {
		s.writeServiceError(w, r, "get image", err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	if img.Placeholder {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		// Content addressed: the bytes behind a name never change.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	if _, err := w.Write(img.Data); err != nil {
		s.logger.Error("write image failed", "image_name", img.Address, "error", err)
	}
}

// writeServiceError maps a service error onto an HTTP status. Server faults
// are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, imagestore.ErrMalformedAddress):
		writeError(w, http.StatusBadRequest, imagestore.ErrMalformedAddress.Error())
	case errors.Is(err, imagestore.ErrEmptyImage):
		writeError(w, http.StatusBadRequest, imagestore.ErrEmptyImage.Error())
	case errors.Is(err, store.ErrEmptyCategory):
		writeError(w, http.StatusBadRequest, store.ErrEmptyCategory.Error())
	case errors.Is(err, store.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "No item found with this id")
	case errors.Is(err, store.ErrCategoryConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "category is being created concurrently, retry")
		s.logger.Warn(op+" conflict", "error", err, "request_id", requestIDFrom(r.Context()))
	default:
		writeError(w, http.StatusInternalServerError, "failed to "+op)
		s.logger.Error(op+" failed", "error", err, "request_id", requestIDFrom(r.Context()))
	}
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func closeWithLog(c io.Closer, what string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "what", what, "error", err)
	}
}

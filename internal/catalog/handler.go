package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"librarium/internal/web"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the book endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/books", func(r chi.Router) {
		r.Post("/", h.handleAddBook)
		r.Get("/", h.handleSearch)
		r.Get("/{id}", h.handleGetBook)
		r.Put("/{id}", h.handleUpdateBook)
		r.Delete("/{id}", h.handleDeleteBook)
	})
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var in BookInput
	if err := web.Decode(r, &in); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), in)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusCreated, book)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	var patch BookPatch
	if err := web.Decode(r, &patch); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

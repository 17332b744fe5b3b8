// internal/library/handler.go
package library

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librelay/internal/domain"
	"librelay/internal/logger"
)

// Handler exposes the book and user services over HTTP. The frontend and
// admin variants differ only in mounted routes; semantics are shared.
type Handler struct {
	books  BookService
	users  UserService
	logger *logger.Logger
}

// NewHandler creates a handler over the given services.
func NewHandler(books BookService, users UserService, log *logger.Logger) *Handler {
	return &Handler{books: books, users: users, logger: log}
}

// FrontendRoutes mounts the reader-facing surface.
func (h *Handler) FrontendRoutes() chi.Router {
	r := chi.NewRouter()
	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.handleListAvailable)
		r.Get("/filter", h.handleFilter)
		r.Get("/borrowed", h.handleListBorrowed)
		r.Post("/borrow", h.handleBorrow)
		r.Post("/return", h.handleReturn)
		r.Get("/{uuid}", h.handleGetBook)
		r.Get("/{uuid}/availability", h.handleAvailability)
	})
	r.Route("/users", func(r chi.Router) {
		r.Post("/enroll", h.handleEnroll)
		r.Get("/{uuid}/borrowed", h.handleUserBorrowed)
	})
	return r
}

// AdminRoutes mounts the catalogue-management surface.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Route("/books", func(r chi.Router) {
		r.Post("/", h.handleAddBook)
		r.Get("/unavailable", h.handleListUnavailable)
		r.Get("/borrowed", h.handleListBorrowed)
		r.Get("/{uuid}", h.handleGetBook)
		r.Delete("/{uuid}", h.handleRemoveBook)
	})
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleListUsers)
		r.Get("/{uuid}/borrowed", h.handleUserBorrowed)
		r.Delete("/{uuid}", h.handleRemoveUser)
	})
	return r
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string `json:"title"`
		Publisher string `json:"publisher"`
		Category  string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	book, err := h.books.Add(r.Context(), req.Title, req.Publisher, req.Category)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	bookUUID, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.books.Remove(r.Context(), bookUUID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookUUID, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	book, err := h.books.Get(r.Context(), bookUUID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, book)
}

func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.ListAvailable(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, books)
}

func (h *Handler) handleListUnavailable(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.ListUnavailable(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, books)
}

func (h *Handler) handleFilter(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.Filter(r.Context(),
		r.URL.Query().Get("publisher"),
		r.URL.Query().Get("category"),
	)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, books)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	bookUUID, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	available, err := h.books.Availability(r.Context(), bookUUID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]bool{"availability_status": available})
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserUUID uuid.UUID `json:"user_uuid"`
		BookUUID uuid.UUID `json:"book_uuid"`
		Days     int       `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.books.Borrow(r.Context(), req.UserUUID, req.BookUUID, req.Days)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, record)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookUUID uuid.UUID `json:"book_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.books.Return(r.Context(), req.BookUUID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, record)
}

func (h *Handler) handleListBorrowed(w http.ResponseWriter, r *http.Request) {
	records, err := h.books.ListBorrowed(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, records)
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.Enroll(r.Context(), req.Email, req.Firstname, req.Lastname)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, user)
}

func (h *Handler) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.users.Remove(r.Context(), userUUID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, users)
}

func (h *Handler) handleUserBorrowed(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	records, err := h.users.Borrowed(r.Context(), userUUID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, records)
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		http.Error(w, "invalid UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// internal/library/handler.go
package library

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/identity"
)

type callerKey struct{}

type Handler struct {
	service  Service
	resolver address.Resolver
	health   func(context.Context) error
}

// NewHandler serves svc. resolver is only used to report record addresses.
func NewHandler(service Service, resolver address.Resolver) *Handler {
	return &Handler{service: service, resolver: resolver}
}

// WithHealthCheck makes /healthz report 503 while check fails.
func (h *Handler) WithHealthCheck(check func(context.Context) error) *Handler {
	h.health = check
	return h
}

// Routes returns the API router. Every library route requires a bearer token.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	r.Route("/libraries", func(r chi.Router) {
		r.Use(Authenticate)
		r.Post("/", h.handleCreateLibrary)
		r.Route("/{owner}", func(r chi.Router) {
			r.Get("/", h.handleGetLibrary)
			r.Get("/books", h.handleListBooks)
			r.Post("/books", h.handleAddBook)
			r.Delete("/books", h.handleRemoveBook)
			r.Post("/books/toggle", h.handleToggleAvailability)
			r.Get("/events", h.handleHistory)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Authenticate verifies the bearer token and stores the caller identity in the
// request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		caller, err := identity.VerifyToken(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// CallerFrom returns the identity stored by Authenticate.
func CallerFrom(ctx context.Context) (identity.Identity, bool) {
	caller, ok := ctx.Value(callerKey{}).(identity.Identity)
	return caller, ok
}

type libraryResponse struct {
	Address address.Address   `json:"address"`
	Owner   identity.Identity `json:"owner"`
	Name    string            `json:"name"`
	Books   []Book            `json:"books"`
}

func (h *Handler) newLibraryResponse(lib *Library) libraryResponse {
	return libraryResponse{
		Address: h.resolver.Resolve(lib.Owner),
		Owner:   lib.Owner,
		Name:    lib.Name,
		Books:   lib.ListBooks(),
	}
}

func (h *Handler) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	caller, _ := CallerFrom(r.Context())
	lib, err := h.service.CreateLibrary(r.Context(), caller, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.newLibraryResponse(lib))
}

func (h *Handler) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	lib, err := h.service.GetLibrary(r.Context(), caller, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.newLibraryResponse(lib))
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	books, err := h.service.ListBooks(r.Context(), caller, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Pages uint16 `json:"pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.AddBook(r.Context(), caller, owner, req.Name, req.Pages); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, Book{Name: req.Name, Pages: req.Pages, Available: true})
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if !query.Has("name") {
		http.Error(w, "missing book name", http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveBook(r.Context(), caller, owner, query.Get("name")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggleAvailability(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	available, err := h.service.ToggleAvailability(r.Context(), caller, owner, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Name      string `json:"name"`
		Available bool   `json:"available"`
	}{req.Name, available})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, owner, ok := h.parties(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), caller, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// parties extracts the authenticated caller and the owner named in the path.
func (h *Handler) parties(w http.ResponseWriter, r *http.Request) (identity.Identity, identity.Identity, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return identity.Identity{}, identity.Identity{}, false
	}
	owner, err := identity.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return identity.Identity{}, identity.Identity{}, false
	}
	return caller, owner, true
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrLibraryNotFound), errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLibraryExists), errors.Is(err, ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrNameTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

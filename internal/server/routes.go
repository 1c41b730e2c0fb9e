package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

// RegisterRoutes builds the router.
func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Owner-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(ownerMiddleware)

		r.Route("/stores", func(r chi.Router) {
			r.Post("/", s.createStoreHandler)
			r.Get("/", s.listStoresHandler)
			r.Delete("/", s.deleteAllStoresHandler)
			r.Get("/stream", s.streamStoresHandler)

			r.Route("/{storeID}", func(r chi.Router) {
				r.Get("/", s.getStoreHandler)
				r.Delete("/", s.deleteStoreHandler)

				r.Post("/items", s.addItemHandler)
				r.Get("/items", s.listItemsHandler)
				r.Get("/items/stream", s.streamItemsHandler)
				r.Delete("/items/completed", s.clearCompletedHandler)
			})
		})

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", s.getItemHandler)
			r.Delete("/", s.deleteItemHandler)
			r.Post("/toggle", s.toggleItemHandler)
		})
	})

	return r
}

// ownerMiddleware puts the caller's owner id on the request context. It is
// taken from "Authorization: Bearer <id>" or, failing that, X-Owner-ID.
// Requests without one reach the handlers and fail as unauthenticated.
func ownerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := stripBearer(r.Header.Get("Authorization"))
		if owner == "" {
			owner = strings.TrimSpace(r.Header.Get("X-Owner-ID"))
		}
		if owner != "" {
			r = r.WithContext(shopping.WithOwner(r.Context(), owner))
		}
		next.ServeHTTP(w, r)
	})
}

func stripBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

type titleRequest struct {
	Title string `json:"title"`
}

type toggleRequest struct {
	Completed *bool `json:"completed"`
}

type idResponse struct {
	ID string `json:"id"`
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) createStoreHandler(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.stores.CreateStore(r.Context(), req.Title, "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) listStoresHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.stores.ListStores(r.Context(), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	stores, err := b.Current(r.Context())
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stores)
}

func (s *Server) streamStoresHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.stores.ListStores(r.Context(), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	streamSnapshots(s, w, r, b)
}

func (s *Server) getStoreHandler(w http.ResponseWriter, r *http.Request) {
	store, err := s.stores.GetStore(r.Context(), chi.URLParam(r, "storeID"), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, store)
}

func (s *Server) deleteStoreHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.stores.DeleteStore(r.Context(), chi.URLParam(r, "storeID"), ""); err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAllStoresHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.stores.DeleteAllStores(r.Context(), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) addItemHandler(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.items.AddItem(r.Context(), chi.URLParam(r, "storeID"), "", req.Title)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) listItemsHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.items.ListItems(r.Context(), chi.URLParam(r, "storeID"), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	items, err := b.Current(r.Context())
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (s *Server) streamItemsHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.items.ListItems(r.Context(), chi.URLParam(r, "storeID"), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	streamSnapshots(s, w, r, b)
}

func (s *Server) clearCompletedHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.items.ClearCompleted(r.Context(), chi.URLParam(r, "storeID"), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) getItemHandler(w http.ResponseWriter, r *http.Request) {
	item, err := s.items.GetItem(r.Context(), chi.URLParam(r, "itemID"), "")
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, item)
}

func (s *Server) toggleItemHandler(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Completed == nil {
		respondWithError(w, http.StatusBadRequest, "Request body must contain the current \"completed\" value")
		return
	}
	if err := s.items.ToggleCompleted(r.Context(), chi.URLParam(r, "itemID"), *req.Completed); err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteItemHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.items.DeleteItem(r.Context(), chi.URLParam(r, "itemID"), ""); err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes the request body into dst, answering 400 on malformed
// input. It reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if err == nil {
		return true
	}

	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset))
	case errors.Is(err, io.ErrUnexpectedEOF):
		respondWithError(w, http.StatusBadRequest, "Request body contains badly-formed JSON")
	case errors.As(err, &unmarshalTypeError):
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		respondWithError(w, http.StatusBadRequest, "Request body contains unknown field "+strings.TrimPrefix(err.Error(), "json: unknown field "))
	case errors.Is(err, io.EOF):
		respondWithError(w, http.StatusBadRequest, "Request body must not be empty")
	default:
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
	}
	return false
}

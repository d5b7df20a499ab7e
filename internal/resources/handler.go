package resources

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keygate-io/keygate/internal/platform/httpx"
	"github.com/keygate-io/keygate/internal/shared"
)

// Handler wires HTTP endpoints for content resources.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers resource routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/comments", h.handleComments)
	r.Post("/{id}/comments", h.handleComment)
}

type createRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"max=20000"`
}

type commentRequest struct {
	Body string `json:"body" validate:"required,max=5000"`
}

type resourceResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type commentResponse struct {
	ID         string    `json:"id"`
	AuthorType string    `json:"author_type"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	resource, err := h.service.Create(r.Context(), principal, req.Title, req.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResourceResponse(resource))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	resource, err := h.service.Get(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResourceResponse(resource))
}

func (h *Handler) handleComments(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	comments, err := h.service.Comments(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentResponse{
			ID:         c.ID.String(),
			AuthorType: string(c.AuthorType),
			AuthorID:   c.AuthorID.String(),
			Body:       c.Body,
			CreatedAt:  c.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"comments": out})
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req commentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	comment, err := h.service.Comment(r.Context(), principal, id, req.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, commentResponse{
		ID:         comment.ID.String(),
		AuthorType: string(comment.AuthorType),
		AuthorID:   comment.AuthorID.String(),
		Body:       comment.Body,
		CreatedAt:  comment.CreatedAt,
	})
}

func toResourceResponse(resource *Resource) resourceResponse {
	return resourceResponse{
		ID:        resource.ID.String(),
		Title:     resource.Title,
		Body:      resource.Body,
		CreatedAt: resource.CreatedAt,
	}
}

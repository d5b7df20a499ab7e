package keys

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/keygate-io/keygate/internal/platform/httpx"
	"github.com/keygate-io/keygate/internal/shared"
)

// Handler wires HTTP endpoints for the key lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers key routes on the provided router. The router is
// expected to already authenticate the principal.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleMint)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/rotate", h.handleRotate)
	r.Post("/{id}/activate", h.handleActivate)
	r.Post("/{id}/deactivate", h.handleDeactivate)
}

type mintRequest struct {
	Variant     string   `json:"variant" validate:"required,oneof=primary secondary use"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
	Label       string   `json:"label" validate:"max=120"`
	UseLimit    *int32   `json:"use_limit"`
	DeviceLimit *int32   `json:"device_limit"`
}

type keyResponse struct {
	ID            string     `json:"id"`
	Variant       string     `json:"variant"`
	Label         string     `json:"label,omitempty"`
	Permissions   []string   `json:"permissions"`
	Active        bool       `json:"active"`
	IssuedBy      *string    `json:"issued_by,omitempty"`
	ParentID      *string    `json:"parent_id,omitempty"`
	InitialAuthor string     `json:"initial_author"`
	UseLimit      *int32     `json:"use_limit,omitempty"`
	UseCount      int32      `json:"use_count"`
	DeviceLimit   *int32     `json:"device_limit,omitempty"`
	RotatedFrom   *string    `json:"rotated_from,omitempty"`
	RotatedTo     *string    `json:"rotated_to,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type mintedResponse struct {
	Key      keyResponse `json:"key"`
	PublicID string      `json:"public_id"`
	// Secret is the one-time-revealed plaintext; it is never retrievable
	// again.
	Secret string `json:"secret"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	minted, err := h.service.Mint(r.Context(), principal, MintInput{
		Variant:     Variant(req.Variant),
		Permissions: req.Permissions,
		Label:       req.Label,
		UseLimit:    req.UseLimit,
		DeviceLimit: req.DeviceLimit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mintedResponse{
		Key:      toKeyResponse(minted.Key),
		PublicID: minted.PublicID,
		Secret:   minted.Secret,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	list, err := h.service.List(r.Context(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]keyResponse, 0, len(list))
	for _, key := range list {
		out = append(out, toKeyResponse(key))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	key, err := h.service.Get(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toKeyResponse(key))
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	minted, err := h.service.Rotate(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mintedResponse{
		Key:      toKeyResponse(minted.Key),
		PublicID: minted.PublicID,
		Secret:   minted.Secret,
	})
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.Activate(r.Context(), principal, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), principal, id, cascade); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(r *http.Request) (uuid.UUID, error) {
	return shared.ParseExternalID(chi.URLParam(r, "id"))
}

func toKeyResponse(key *Key) keyResponse {
	resp := keyResponse{
		ID:            key.ID.String(),
		Variant:       string(key.Variant),
		Label:         key.Label,
		Permissions:   key.Permissions.Names(),
		Active:        key.Active,
		InitialAuthor: key.InitialAuthor.String(),
		UseLimit:      key.UseLimit,
		UseCount:      key.UseCount,
		DeviceLimit:   key.DeviceLimit,
		CreatedAt:     key.CreatedAt,
	}
	if key.IssuedBy != nil {
		s := key.IssuedBy.String()
		resp.IssuedBy = &s
	}
	if key.ParentID != nil {
		s := key.ParentID.String()
		resp.ParentID = &s
	}
	if key.RotatedFrom != nil {
		s := key.RotatedFrom.String()
		resp.RotatedFrom = &s
	}
	if key.RotatedTo != nil {
		s := key.RotatedTo.String()
		resp.RotatedTo = &s
	}
	return resp
}

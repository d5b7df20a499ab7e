package access

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keygate-io/keygate/internal/platform/httpx"
	"github.com/keygate-io/keygate/internal/shared"
)

// Handler wires HTTP endpoints for sharing-grant management. Mounted under
// the resources subtree, behind authentication.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers grant routes on a router rooted at a resource id
// parameter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/grants", h.handleList)
	r.Put("/{id}/grants", h.handleGrant)
	r.Delete("/{id}/grants/{targetType}/{targetID}", h.handleRevoke)
}

type grantRequest struct {
	TargetType string   `json:"target_type" validate:"required,oneof=key group"`
	TargetID   string   `json:"target_id" validate:"required,uuid"`
	Bits       []string `json:"bits" validate:"required,min=1"`
}

type grantResponse struct {
	ID         string    `json:"id"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Bits       []string  `json:"bits"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	resourceID, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	targetID, err := shared.ParseExternalID(req.TargetID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bits, err := ParseBits(req.Bits)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	grant, err := h.service.Grant(r.Context(), principal, resourceID, TargetType(req.TargetType), targetID, bits)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGrantResponse(grant))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	resourceID, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	targetType := TargetType(chi.URLParam(r, "targetType"))
	if !targetType.Valid() {
		httpx.RespondError(w, shared.Invalid("target_type", "must be key or group"))
		return
	}
	targetID, err := shared.ParseExternalID(chi.URLParam(r, "targetID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.Revoke(r.Context(), principal, resourceID, targetType, targetID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	resourceID, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	list, err := h.service.List(r.Context(), principal, resourceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]grantResponse, 0, len(list))
	for _, grant := range list {
		out = append(out, toGrantResponse(grant))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": out})
}

func toGrantResponse(grant *Grant) grantResponse {
	return grantResponse{
		ID:         grant.ID.String(),
		TargetType: string(grant.TargetType),
		TargetID:   grant.TargetID.String(),
		Bits:       grant.Bits.Names(),
		UpdatedAt:  grant.UpdatedAt,
	}
}

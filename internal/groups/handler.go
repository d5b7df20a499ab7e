package groups

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

// Handler wires HTTP endpoints for group and keychain management. Routes
// are mounted behind owner-only authentication.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountGroupRoutes registers group routes.
func (h *Handler) MountGroupRoutes(r chi.Router) {
	r.Get("/", h.listGroups)
	r.Post("/", h.createGroup)
	r.Delete("/{id}", h.deleteGroup)
	r.Get("/{id}/members", h.groupMembers)
	r.Post("/{id}/members", h.addGroupMember)
	r.Delete("/{id}/members/{keyID}", h.removeGroupMember)
}

// MountKeychainRoutes registers keychain routes.
func (h *Handler) MountKeychainRoutes(r chi.Router) {
	r.Get("/", h.listKeychains)
	r.Post("/", h.createKeychain)
	r.Delete("/{id}", h.deleteKeychain)
	r.Get("/{id}/members", h.keychainMembers)
	r.Post("/{id}/members", h.addKeychainMember)
	r.Delete("/{id}/members/{keyID}", h.removeKeychainMember)
}

type createNamedRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type memberRequest struct {
	KeyID string `json:"key_id" validate:"required,uuid"`
}

type namedResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	list, err := h.service.ListGroups(r.Context(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]namedResponse, 0, len(list))
	for _, g := range list {
		out = append(out, namedResponse{ID: g.ID.String(), Name: g.Name, CreatedAt: g.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	name, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	group, err := h.service.CreateGroup(r.Context(), principal, name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, namedResponse{ID: group.ID.String(), Name: group.Name, CreatedAt: group.CreatedAt})
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.DeleteGroup(r.Context(), principal, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) groupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	members, err := h.service.GroupMembers(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": uuidStrings(members)})
}

func (h *Handler) addGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, keyID, ok := h.decodeMember(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.AddGroupMember(r.Context(), principal, groupID, keyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, keyID, ok := h.decodePathMember(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveGroupMember(r.Context(), principal, groupID, keyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listKeychains(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	list, err := h.service.ListKeychains(r.Context(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]namedResponse, 0, len(list))
	for _, k := range list {
		out = append(out, namedResponse{ID: k.ID.String(), Name: k.Name, CreatedAt: k.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"keychains": out})
}

func (h *Handler) createKeychain(w http.ResponseWriter, r *http.Request) {
	name, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	keychain, err := h.service.CreateKeychain(r.Context(), principal, name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, namedResponse{ID: keychain.ID.String(), Name: keychain.Name, CreatedAt: keychain.CreatedAt})
}

func (h *Handler) deleteKeychain(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.DeleteKeychain(r.Context(), principal, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) keychainMembers(w http.ResponseWriter, r *http.Request) {
	id, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	members, err := h.service.KeychainMembers(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": uuidStrings(members)})
}

func (h *Handler) addKeychainMember(w http.ResponseWriter, r *http.Request) {
	keychainID, keyID, ok := h.decodeMember(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.AddKeychainMember(r.Context(), principal, keychainID, keyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeKeychainMember(w http.ResponseWriter, r *http.Request) {
	keychainID, keyID, ok := h.decodePathMember(w, r)
	if !ok {
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveKeychainMember(r.Context(), principal, keychainID, keyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req createNamedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return "", false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return "", false
	}
	return req.Name, true
}

func (h *Handler) decodeMember(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	containerID, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	var req memberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "malformed JSON"))
		return uuid.Nil, uuid.Nil, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return uuid.Nil, uuid.Nil, false
	}
	keyID, err := shared.ParseExternalID(req.KeyID)
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return containerID, keyID, true
}

func (h *Handler) decodePathMember(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	containerID, err := shared.ParseExternalID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	keyID, err := shared.ParseExternalID(chi.URLParam(r, "keyID"))
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return containerID, keyID, true
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

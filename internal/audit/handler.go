package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate-io/keygate/internal/platform/httpx"
	"github.com/keygate-io/keygate/internal/shared"
)

// Handler serves the audit timeline to owners.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes. The router is expected to have already
// restricted access to owners holding audit.view.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleTimeline)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries := result.Entries
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"paging": result.Paging,
	})
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{
		ActorType: strings.TrimSpace(q.Get("actor_type")),
		ActorID:   strings.TrimSpace(q.Get("actor_id")),
		Action:    strings.TrimSpace(q.Get("action")),
		Subject:   strings.TrimSpace(q.Get("subject")),
		SubjectID: strings.TrimSpace(q.Get("subject_id")),
	}
	var err error
	if filters.From, err = parseDate(q.Get("from")); err != nil {
		return Filters{}, shared.Invalid("from", "expected RFC 3339 timestamp")
	}
	if filters.To, err = parseDate(q.Get("to")); err != nil {
		return Filters{}, shared.Invalid("to", "expected RFC 3339 timestamp")
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return Filters{}, shared.Invalid("from", "must not be after to")
	}
	if filters.Page, err = parsePositive(q.Get("page")); err != nil {
		return Filters{}, shared.Invalid("page", "expected a positive integer")
	}
	if filters.PageSize, err = parsePositive(q.Get("page_size")); err != nil {
		return Filters{}, shared.Invalid("page_size", "expected a positive integer")
	}
	return filters, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parsePositive(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, strconv.ErrRange
	}
	return parsed, nil
}

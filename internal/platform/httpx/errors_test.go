package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keygate-io/keygate/internal/shared"
)

func respond(t *testing.T, err error) (int, ProblemDetail) {
	t.Helper()
	rec := httptest.NewRecorder()
	RespondError(rec, err)
	var problem ProblemDetail
	if decodeErr := json.NewDecoder(rec.Body).Decode(&problem); decodeErr != nil {
		t.Fatalf("decode problem: %v", decodeErr)
	}
	return rec.Code, problem
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"unauthorized", shared.ErrUnauthorized, http.StatusUnauthorized},
		{"limit exceeded", shared.ErrLimitExceeded, http.StatusForbidden},
		{"forbidden", shared.Forbidden("share.manage"), http.StatusForbidden},
		{"validation", shared.Invalid("name", "required"), http.StatusBadRequest},
		{"conflict", shared.ErrConflict, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, problem := respond(t, tc.err)
		if code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, code, tc.status)
		}
		if problem.Status != tc.status {
			t.Fatalf("%s: body status = %d, want %d", tc.name, problem.Status, tc.status)
		}
	}
}

func TestRespondErrorForbiddenNamesMissing(t *testing.T) {
	_, problem := respond(t, shared.Forbidden("content.comment", "interact"))
	missing, ok := problem.Extra["missing"].([]any)
	if !ok {
		t.Fatalf("extra = %+v, want missing list", problem.Extra)
	}
	if len(missing) != 2 || missing[0] != "content.comment" || missing[1] != "interact" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestRespondErrorValidationCarriesFields(t *testing.T) {
	_, problem := respond(t, shared.Invalid("title", "required"))
	fields, ok := problem.Extra["fields"].(map[string]any)
	if !ok {
		t.Fatalf("extra = %+v, want fields map", problem.Extra)
	}
	if fields["title"] != "required" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestRespondErrorUnauthorizedIsOpaque(t *testing.T) {
	// A replayed refresh and a wrong password must produce the same body.
	replayCode, replay := respond(t, shared.ErrUnauthorized)
	wrongCode, wrong := respond(t, shared.ErrUnauthorized)
	if replayCode != http.StatusUnauthorized || wrongCode != http.StatusUnauthorized {
		t.Fatalf("codes = %d/%d", replayCode, wrongCode)
	}
	if replay.Detail != wrong.Detail || replay.Extra != nil || wrong.Extra != nil {
		t.Fatalf("unauthorized bodies differ: %+v vs %+v", replay, wrong)
	}
}

func TestRespondErrorLimitIsForbiddenNotUnauthorized(t *testing.T) {
	code, _ := respond(t, shared.ErrLimitExceeded)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", code, http.StatusForbidden)
	}
}

package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemWithFlattensExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	ProblemWith(rec, http.StatusConflict, "Mutation Rejected", "entry 4: immutable_paid", map[string]any{
		"reason":   "immutable_paid",
		"entry_id": 4,
		"title":    "ignored",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "Mutation Rejected", doc["title"])
	require.EqualValues(t, 409, doc["status"])
	require.Equal(t, "immutable_paid", doc["reason"])
	require.EqualValues(t, 4, doc["entry_id"])
}

func TestProblemOmitsEmptyDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusGatewayTimeout, "Timeout", "")
	require.NotContains(t, rec.Body.String(), "detail")
}

func TestRespondError(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("entry: %w", ErrNotFound): http.StatusNotFound,
		ErrDuplicate:                         http.StatusConflict,
		ErrValidation:                        http.StatusBadRequest,
		errors.New("boom"):                   http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		require.Equal(t, status, rec.Code, err.Error())
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Status string `json:"status"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"paid","x":1}`))
	require.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"paid"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "paid", dst.Status)
}

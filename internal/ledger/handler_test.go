package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

type stubIdempotency struct {
	mu      sync.Mutex
	keys    map[string]bool
	deleted []string
}

func newStubIdempotency() *stubIdempotency {
	return &stubIdempotency{keys: map[string]bool{}}
}

func (s *stubIdempotency) CheckAndInsert(ctx context.Context, key, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[scope+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[scope+"/"+key] = true
	return nil
}

func (s *stubIdempotency) Delete(ctx context.Context, key, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, scope+"/"+key)
	s.deleted = append(s.deleted, key)
	return nil
}

func newTestRouter(env *testEnv, idem IdempotencyChecker) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, env.service, idem).MountRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var doc map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	}
	return rec, doc
}

const rentChargeBody = `{"kind":"rent","direction":"inflow","description":"Aluguel","amount":"1000","billing_period":"03/2025"}`

func TestHandlerCreateCharges(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	router := newTestRouter(env, nil)

	rec, doc := doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges", rentChargeBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.EqualValues(t, 1, doc["count"])
	require.Len(t, env.repo.all(), 1)
}

func TestHandlerCreateChargesIdempotency(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	idem := newStubIdempotency()
	router := newTestRouter(env, idem)
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	rec, _ := doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges", rentChargeBody, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, doc := doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges", rentChargeBody, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "idempotency_replay", doc["reason"])
	require.Len(t, env.repo.all(), 1)

	rec, _ = doRequest(t, router, http.MethodPost, "/rental/contracts/404/charges", rentChargeBody, map[string]string{"Idempotency-Key": "lost"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, []string{"lost"}, idem.deleted)
}

func TestHandlerCreateChargesValidation(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	router := newTestRouter(env, nil)

	rec, doc := doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges",
		`{"kind":"rent","direction":"sideways","amount":"10","billing_period":"03/2025"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := doc["fields"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	require.Equal(t, "required", fields["Description"])
	require.Equal(t, "oneof", fields["Direction"])

	rec, _ = doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges",
		`{"kind":"rent","direction":"inflow","description":"Aluguel","amount":"10","billing_period":"13/2025"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges",
		`{"kind":"rent","direction":"inflow","description":"Aluguel","amount":"10","billing_period":"03/2025","recurrence":"installments","installment_count":3}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/rental/contracts/abc/charges", rentChargeBody, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/rental/contracts/1/charges", `{"unknown":true}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, env.repo.all())
}

func TestHandlerChangeStatusProblems(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	rent := pendingEntry(env, KindRent, DirectionInflow, "1000", date(2025, time.February, 5))
	router := newTestRouter(env, nil)

	rec, doc := doRequest(t, router, http.MethodPatch, "/ledger/entries/1/status", `{"status":"overdue"}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(ReasonInvalidTransition), doc["reason"])
	require.EqualValues(t, rent.ID, doc["entry_id"])

	rec, doc = doRequest(t, router, http.MethodPatch, "/ledger/entries/77/status", `{"status":"paid"}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(ReasonNotFound), doc["reason"])

	rec, doc = doRequest(t, router, http.MethodPatch, "/ledger/entries/1/status", `{"status":"paid","paid_date":"2025-02-10"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "paid", doc["status"])

	rec, doc = doRequest(t, router, http.MethodPatch, "/ledger/entries/1", `{"amount":"1"}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(ReasonImmutablePaid), doc["reason"])
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerAdjustmentProblems(t *testing.T) {
	f := newAdjustmentFixture()
	f.env.repo.failAmountUpdate = f.apr.ID
	router := newTestRouter(f.env, nil)

	rec, doc := doRequest(t, router, http.MethodPost, "/rental/contracts/1/adjustment", `{"new_value":"1100"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.EqualValues(t, f.apr.ID, doc["failed_entry_id"])
	require.Equal(t, []any{float64(f.mar.ID)}, doc["updated_ids"])

	rec, doc = doRequest(t, router, http.MethodPost, "/rental/contracts/1/adjustment", `{"new_value":"1100"}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "no_change", doc["reason"])

	f.env.repo.failAmountUpdate = 0
	rec, doc = doRequest(t, router, http.MethodPost, "/rental/contracts/1/adjustment/retry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{float64(f.apr.ID)}, doc["updated_ids"])

	rec, doc = doRequest(t, router, http.MethodGet, "/rental/contracts/1/adjustment", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc["history"], 1)
}

func TestHandlerAdjustmentStoresSuppliedPercent(t *testing.T) {
	f := newAdjustmentFixture()
	router := newTestRouter(f.env, nil)

	rec, doc := doRequest(t, router, http.MethodPost, "/rental/contracts/1/adjustment", `{"new_value":"1100","percent":"4.5"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "4.5", doc["percent"])

	rec, doc = doRequest(t, router, http.MethodGet, "/rental/contracts/1/adjustment", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history, ok := doc["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	require.Equal(t, "4.5", history[0].(map[string]any)["percent"])
	require.Equal(t, "1100", doc["current_value"])
}

func TestHandlerListings(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	paidRent(env, "1000", time.January)
	router := newTestRouter(env, nil)

	rec, doc := doRequest(t, router, http.MethodGet, "/ledger/payouts?contract_id=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, doc["count"])
	require.Equal(t, "900", doc["pending_total"])

	rec, _ = doRequest(t, router, http.MethodGet, "/ledger/entries?status=bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = doRequest(t, router, http.MethodGet, "/ledger/entries?from=2025-03-01&to=2025-02-01", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, doc = doRequest(t, router, http.MethodPost, "/ledger/derivations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc["reports"], 2)
}

func TestParseListFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ledger/entries?status=paid&module=rental&payee_id=5&from=2025-01-01&limit=5000", nil)
	f, err := ParseListFilter(req, saoPaulo)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, f.Status)
	require.Equal(t, ModuleRental, f.Module)
	require.Equal(t, int64(5), f.PayeeID)
	require.Equal(t, date(2025, time.January, 1), f.From)
	require.Equal(t, 1000, f.Limit)

	req = httptest.NewRequest(http.MethodGet, "/ledger/entries?contract_id=-1", nil)
	_, err = ParseListFilter(req, saoPaulo)
	require.ErrorIs(t, err, ErrValidation)
}

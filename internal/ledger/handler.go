package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/rental-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

const chargesIdempotencyScope = "ledger.charges"

// IdempotencyChecker guards replayed requests. shared.IdempotencyStore satisfies it.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key, scope string) error
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validator   *validator.Validate
	idempotency IdempotencyChecker
}

// NewHandler builds the ledger HTTP handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyChecker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		validator:   validator.New(),
		idempotency: idempotency,
	}
}

// MountRoutes registers the rental and ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rental/contracts/{id}", func(r chi.Router) {
		r.Post("/charges", h.createCharges)
		r.Get("/adjustment", h.adjustmentHistory)
		r.Post("/adjustment", h.adjustRent)
		r.Post("/adjustment/retry", h.retryAdjustment)
	})
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/entries", h.listEntries)
		r.Get("/payouts", h.listPayouts)
		r.Patch("/entries/{id}/status", h.changeStatus)
		r.Patch("/entries/{id}", h.updateEntry)
		r.Post("/derivations", h.derive)
	})
}

func (h *Handler) createCharges(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req CreateChargeRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.ToInput(contractID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, chargesIdempotencyScope); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	result, err := h.service.CreateCharges(r.Context(), in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key, chargesIdempotencyScope); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) adjustmentHistory(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.AdjustmentHistory(r.Context(), contractID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) adjustRent(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req AdjustRentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AdjustRent(r.Context(), AdjustRentInput{
		ContractID: contractID,
		NewValue:   req.NewValue,
		Percent:    req.Percent,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) retryAdjustment(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.RetryPropagation(r.Context(), contractID, r.URL.Query().Get("reason"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseListFilter(r, h.service.Location())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondListing(w, r, filter)
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseListFilter(r, h.service.Location())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.Kind = KindOwnerPayout
	h.respondListing(w, r, filter)
}

func (h *Handler) respondListing(w http.ResponseWriter, r *http.Request, filter ListFilter) {
	listing, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.ToInput(id, h.service.Location())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.service.ChangeStatus(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) updateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.ToInput(id, h.service.Location())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.service.UpdateEntry(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) derive(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.DeriveAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ParseListFilter reads listing filters from the query string.
func ParseListFilter(r *http.Request, loc *time.Location) (ListFilter, error) {
	q := r.URL.Query()
	var f ListFilter
	if v := q.Get("status"); v != "" {
		f.Status = Status(v)
		if !f.Status.IsValid() {
			return f, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
		}
	}
	if v := q.Get("kind"); v != "" {
		f.Kind = Kind(v)
		if !f.Kind.IsValid() {
			return f, fmt.Errorf("%w: unknown kind %q", ErrValidation, v)
		}
	}
	if v := q.Get("module"); v != "" {
		f.Module = Module(strings.ToUpper(v))
		if !f.Module.IsValid() {
			return f, fmt.Errorf("%w: unknown module %q", ErrValidation, v)
		}
	}
	ids := map[string]*int64{"contract_id": &f.ContractID, "property_id": &f.PropertyID, "payee_id": &f.PayeeID}
	for name, dst := range ids {
		if v := q.Get(name); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				return f, fmt.Errorf("%w: invalid %s", ErrValidation, name)
			}
			*dst = id
		}
	}
	dates := map[string]*time.Time{"from": &f.From, "to": &f.To}
	for name, dst := range dates {
		if v := q.Get(name); v != "" {
			d, err := time.ParseInLocation(dateLayout, v, loc)
			if err != nil {
				return f, fmt.Errorf("%w: invalid %s date", ErrValidation, name)
			}
			*dst = d
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("%w: to precedes from", ErrValidation)
	}
	ints := map[string]*int{"limit": &f.Limit, "offset": &f.Offset}
	for name, dst := range ints {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, fmt.Errorf("%w: invalid %s", ErrValidation, name)
			}
			*dst = n
		}
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	return f, nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), map[string]any{"fields": fields})
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		partial *PartialProgressError
		gov     *GovernanceError
	)
	switch {
	case errors.As(err, &partial):
		h.logger.Error("partial propagation", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.ProblemWith(w, http.StatusInternalServerError, "Partial Progress", err.Error(), map[string]any{
			"contract_id":     partial.ContractID,
			"updated_ids":     partial.UpdatedIDs,
			"failed_entry_id": partial.FailedEntryID,
		})
	case errors.As(err, &gov):
		status := http.StatusConflict
		if gov.Reason == ReasonNotFound {
			status = http.StatusNotFound
		}
		httpx.ProblemWith(w, status, "Mutation Rejected", err.Error(), map[string]any{
			"reason":   gov.Reason,
			"entry_id": gov.EntryID,
		})
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidParameters):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotEligible):
		httpx.ProblemWith(w, http.StatusConflict, "Not Eligible", err.Error(), map[string]any{"reason": "not_eligible"})
	case errors.Is(err, ErrNoChange):
		httpx.ProblemWith(w, http.StatusConflict, "No Change", err.Error(), map[string]any{"reason": "no_change"})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.ProblemWith(w, http.StatusConflict, "Duplicate Request", err.Error(), map[string]any{"reason": "idempotency_replay"})
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

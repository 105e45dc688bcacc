package reports

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/rental-ledger/internal/ledger"
	"github.com/odyssey-erp/rental-ledger/internal/platform/httpx"
)

// Handler exposes the rollups over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the reports handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/monthly", h.monthly)
	r.Get("/daily", h.daily)
	r.Get("/portfolio", h.portfolio)
}

func (h *Handler) monthly(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parsePeriodParam(q.Get("from"), "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to := from
	if raw := q.Get("to"); raw != "" {
		if to, err = parsePeriodParam(raw, "to"); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	report, err := h.service.Monthly(r.Context(), MonthlyRequest{From: from, To: to})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.EqualFold(q.Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="monthly_%s_%s.csv"`, from, to))
		if err := WriteMonthlyCSV(w, report); err != nil {
			h.logger.Error("monthly csv export", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := DateField(q.Get("field"))
	if field == "" {
		field = FieldDue
	}
	var months []ledger.Period
	for _, raw := range strings.Split(q.Get("months"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := parsePeriodParam(raw, "months")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		months = append(months, p)
	}
	report, err := h.service.Daily(r.Context(), DailyRequest{Months: months, Field: field})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriodParam(r.URL.Query().Get("period"), "period")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.service.Portfolio(r.Context(), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func parsePeriodParam(raw, name string) (ledger.Period, error) {
	if raw == "" {
		return ledger.Period{}, fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	p, err := ledger.ParsePeriod(raw)
	if err != nil {
		return ledger.Period{}, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
	}
	return p, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalidRequest) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Report Request", err.Error())
		return
	}
	h.logger.Error("report request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

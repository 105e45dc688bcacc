package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

// ServiceConfig wires optional collaborators. Nil members fall back to no-ops.
type ServiceConfig struct {
	Location    *time.Location
	Publisher   Publisher
	Invalidator CacheInvalidator
	Audit       Auditor
	Scheduler   DeriveScheduler
	Logger      *slog.Logger
}

// Service orchestrates the ledger use-cases.
type Service struct {
	repo      Repository
	governor  Governor
	loc       *time.Location
	publisher Publisher
	cache     CacheInvalidator
	audit     Auditor
	scheduler DeriveScheduler
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	s := &Service{
		repo:      repo,
		loc:       cfg.Location,
		publisher: cfg.Publisher,
		cache:     cfg.Invalidator,
		audit:     cfg.Audit,
		scheduler: cfg.Scheduler,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.cache == nil {
		s.cache = noopInvalidator{}
	}
	if s.audit == nil {
		s.audit = noopAuditor{}
	}
	if s.scheduler == nil {
		s.scheduler = noopScheduler{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Location returns the ledger time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// afterWrite publishes events and invalidates cached aggregates. Failures are logged only;
// the write itself already succeeded.
func (s *Service) afterWrite(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = s.now()
		}
		if err := s.publisher.Publish(ctx, ev.Key(), ev); err != nil {
			s.logger.Warn("publish ledger event", slog.String("type", ev.Type), slog.Any("error", err))
		}
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Int64("id", id), slog.Any("error", err))
	}
}

// ListEntries sweeps overdue entries, derives pending payables and returns the filtered
// listing with totals. Sweep and derivation failures are logged and the listing still runs.
func (s *Service) ListEntries(ctx context.Context, filter ListFilter) (Listing, error) {
	if _, err := s.SweepOverdue(ctx); err != nil {
		s.logger.Warn("overdue sweep before listing", slog.Any("error", err))
	}
	if filter.Kind == "" || filter.Kind.IsDerived() {
		if _, err := s.DeriveAll(ctx); err != nil {
			s.logger.Warn("derivation before listing", slog.Any("error", err))
		}
	}

	entries, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		return Listing{}, err
	}
	paid, pending, err := s.repo.SumEntries(ctx, filter)
	if err != nil {
		return Listing{}, err
	}
	if entries == nil {
		entries = []EntryView{}
	}
	return Listing{Entries: entries, PaidTotal: paid, PendingTotal: pending, Count: len(entries)}, nil
}

// ChangeStatusInput requests a user-driven status change.
type ChangeStatusInput struct {
	ID       int64
	Status   Status
	PaidDate *time.Time
}

// Validate ensures the request is well formed.
func (in ChangeStatusInput) Validate() error {
	if in.ID <= 0 {
		return fmt.Errorf("%w: entry id required", ErrValidation)
	}
	if !in.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}
	return nil
}

// ChangeStatus moves an entry along its lifecycle. Paying without a date uses today.
func (s *Service) ChangeStatus(ctx context.Context, in ChangeStatusInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	entry, err := s.repo.GetEntry(ctx, in.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, &GovernanceError{EntryID: in.ID, Reason: ReasonNotFound}
		}
		return Entry{}, err
	}
	if err := s.governor.Authorize(&entry, Mutation{Action: ActionTransition, Target: in.Status}); err != nil {
		return Entry{}, err
	}

	var paidDate *time.Time
	if in.Status == StatusPaid {
		d := s.today()
		if in.PaidDate != nil && !in.PaidDate.IsZero() {
			d = *in.PaidDate
		}
		paidDate = &d
	}

	ok, err := s.repo.UpdateEntryStatus(ctx, entry.ID, entry.Status, in.Status, paidDate)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "entry changed concurrently"}
	}

	from := entry.Status
	entry.Status = in.Status
	entry.PaidDate = paidDate
	s.record(ctx, "ledger.status_change", "ledger_entry", entry.ID, map[string]any{
		"from": from, "to": in.Status,
	})
	s.afterWrite(ctx, Event{
		Type:       EventStatusChanged,
		EntryID:    entry.ID,
		ContractID: derefInt64(entry.ContractID),
		Actor:      shared.ActorFromContext(ctx),
		Payload:    StatusChange{From: from, To: in.Status, PaidDate: paidDate},
	})
	if in.Status == StatusPaid && (entry.Kind == KindRent || entry.Kind == KindSale) {
		if err := s.scheduler.ScheduleDerive(ctx, "entry_paid"); err != nil {
			s.logger.Warn("schedule derivation", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		}
	}
	return entry, nil
}

// UpdateEntryInput edits the mutable fields of an open entry.
type UpdateEntryInput struct {
	ID          int64
	Description *string
	Amount      *decimal.Decimal
	DueDate     *time.Time
	Reason      string
}

// Validate ensures the edit is well formed.
func (in UpdateEntryInput) Validate() error {
	if in.ID <= 0 {
		return fmt.Errorf("%w: entry id required", ErrValidation)
	}
	if in.Description == nil && in.Amount == nil && in.DueDate == nil {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if in.Description != nil && len(strings.TrimSpace(*in.Description)) < 2 {
		return fmt.Errorf("%w: description must have at least 2 characters", ErrValidation)
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// UpdateEntry edits description, amount or due date. Amount changes are appended to the trail.
func (s *Service) UpdateEntry(ctx context.Context, in UpdateEntryInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	entry, err := s.repo.GetEntry(ctx, in.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, &GovernanceError{EntryID: in.ID, Reason: ReasonNotFound}
		}
		return Entry{}, err
	}
	if err := s.governor.Authorize(&entry, Mutation{Action: ActionEdit}); err != nil {
		return Entry{}, err
	}

	patch := EntryPatch{DueDate: in.DueDate}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		patch.Description = &desc
	}
	if in.Amount != nil {
		amount := in.Amount.Round(2)
		if !amount.Equal(entry.Amount) {
			meta := entry.Metadata
			meta.Adjustments = append(append([]AmountAdjustment(nil), meta.Adjustments...), AmountAdjustment{
				Previous:  entry.Amount,
				Next:      amount,
				Actor:     shared.ActorFromContext(ctx),
				Timestamp: s.now(),
				Reason:    firstNonEmpty(in.Reason, "manual edit"),
			})
			patch.Amount = &amount
			patch.Metadata = &meta
		}
	}

	updated, err := s.repo.UpdateEntryFields(ctx, entry.ID, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "entry changed concurrently"}
		}
		return Entry{}, err
	}
	s.record(ctx, "ledger.entry_update", "ledger_entry", entry.ID, map[string]any{"reason": in.Reason})
	s.afterWrite(ctx, Event{
		Type:       EventEntryUpdated,
		EntryID:    updated.ID,
		ContractID: derefInt64(updated.ContractID),
		Actor:      shared.ActorFromContext(ctx),
	})
	return updated, nil
}

// SweepResult lists the entries moved to overdue.
type SweepResult struct {
	UpdatedIDs []int64 `json:"updated_ids"`
}

// SweepOverdue marks pending outflows due before today as overdue.
func (s *Service) SweepOverdue(ctx context.Context) (SweepResult, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, s.today())
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{UpdatedIDs: []int64{}}
	var events []Event
	for i := range candidates {
		entry := candidates[i]
		if err := s.governor.Authorize(&entry, Mutation{Action: ActionSweep, Target: StatusOverdue}); err != nil {
			continue
		}
		ok, err := s.repo.UpdateEntryStatus(ctx, entry.ID, StatusPending, StatusOverdue, nil)
		if err != nil {
			return result, fmt.Errorf("ledger: sweep entry %d: %w", entry.ID, err)
		}
		if !ok {
			continue
		}
		result.UpdatedIDs = append(result.UpdatedIDs, entry.ID)
		events = append(events, Event{
			Type:       EventStatusChanged,
			EntryID:    entry.ID,
			ContractID: derefInt64(entry.ContractID),
			Actor:      shared.SystemActor,
			Payload:    StatusChange{From: StatusPending, To: StatusOverdue},
		})
	}
	if len(events) > 0 {
		s.afterWrite(ctx, events...)
		s.logger.Info("overdue sweep", slog.Int("updated", len(result.UpdatedIDs)))
	}
	return result, nil
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	contracts  map[int64]Contract
	properties map[int64]Property
	profiles   map[int64]string
	entries    map[int64]Entry
	nextID     int64

	// failInsertAfter makes InsertEntry fail once this many inserts succeeded.
	failInsertAfter int
	inserts         int
	// failAmountUpdate makes UpdateEntryAmount fail for this entry id.
	failAmountUpdate int64
	txCalls          int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		contracts:       map[int64]Contract{},
		properties:      map[int64]Property{},
		profiles:        map[int64]string{},
		entries:         map[int64]Entry{},
		failInsertAfter: -1,
	}
}

func (r *memoryRepo) addContract(c Contract) Contract {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.ID] = c
	return c
}

func (r *memoryRepo) addProperty(p Property) Property {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.properties[p.ID] = p
	return p
}

func (r *memoryRepo) addEntry(e Entry) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	if e.Module == "" {
		e.Module = ModuleRental
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.Metadata.Origin == "" {
		e.Metadata.Origin = OriginManual
	}
	r.entries[e.ID] = e
	return e
}

func (r *memoryRepo) entry(id int64) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

func (r *memoryRepo) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(Entry) bool { return true })
}

func (r *memoryRepo) sortedLocked(keep func(Entry) bool) []Entry {
	out := []Entry{}
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) GetContract(ctx context.Context, id int64) (Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) GetProperty(ctx context.Context, id int64) (Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.properties[id]
	if !ok {
		return Property{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetEntry(ctx context.Context, id int64) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// WithTx snapshots the state and restores it when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	r.txCalls++
	contracts := make(map[int64]Contract, len(r.contracts))
	for k, v := range r.contracts {
		contracts[k] = v
	}
	entries := make(map[int64]Entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(ctx, memoryTx{r}); err != nil {
		r.mu.Lock()
		r.contracts = contracts
		r.entries = entries
		r.nextID = nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) ListPendingRentAfter(ctx context.Context, contractID int64, after Period) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sortedLocked(func(e Entry) bool {
		return e.ContractID != nil && *e.ContractID == contractID && e.Kind == KindRent &&
			e.Status == StatusPending && e.Metadata.BillingPeriod.After(after)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].Metadata.BillingPeriod.After(out[i].Metadata.BillingPeriod)
	})
	return out, nil
}

func (r *memoryRepo) UpdateEntryAmount(ctx context.Context, id int64, amount decimal.Decimal, meta Metadata) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.failAmountUpdate {
		return false, errors.New("connection reset")
	}
	e, ok := r.entries[id]
	if !ok || e.Status != StatusPending {
		return false, nil
	}
	e.Amount = amount
	e.Metadata = meta
	r.entries[id] = e
	return true, nil
}

func (r *memoryRepo) ListPaidEntries(ctx context.Context, kind Kind, module Module, excludeDerived Kind) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(e Entry) bool {
		if e.Kind != kind || e.Module != module || e.Status != StatusPaid {
			return false
		}
		if excludeDerived == "" {
			return true
		}
		for _, d := range r.entries {
			if d.IsAutomatic() && d.Kind == excludeDerived && d.Module == e.Module && d.Metadata.SourceEntryID() == e.ID {
				return false
			}
		}
		return true
	}), nil
}

func (r *memoryRepo) ListChildren(ctx context.Context, parentIDs []int64) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := map[int64]bool{}
	for _, id := range parentIDs {
		ids[id] = true
	}
	return r.sortedLocked(func(e Entry) bool {
		return e.ParentEntryID != nil && ids[*e.ParentEntryID]
	}), nil
}

func (r *memoryRepo) ExistsAutomatic(ctx context.Context, sourceID int64, kind Kind, payeeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.automaticLocked(sourceID, kind, payeeID), nil
}

func (r *memoryRepo) automaticLocked(sourceID int64, kind Kind, payeeID int64) bool {
	for _, e := range r.entries {
		if e.IsAutomatic() && e.Kind == kind && e.Metadata.SourceEntryID() == sourceID && derefInt64(e.PayeeProfileID) == payeeID {
			return true
		}
	}
	return false
}

func (r *memoryRepo) InsertAutomatic(ctx context.Context, entry Entry) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Metadata.Origin = OriginAutomatic
	if entry.Metadata.SourceEntryID() == 0 {
		return Entry{}, false, ErrValidation
	}
	if r.automaticLocked(entry.Metadata.SourceEntryID(), entry.Kind, derefInt64(entry.PayeeProfileID)) {
		return Entry{}, false, nil
	}
	return r.insertLocked(entry), true, nil
}

func (r *memoryRepo) insertLocked(entry Entry) Entry {
	r.nextID++
	entry.ID = r.nextID
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if entry.Metadata.Origin == "" {
		entry.Metadata.Origin = OriginManual
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	r.entries[entry.ID] = entry
	return entry
}

func (r *memoryRepo) ListOverdueCandidates(ctx context.Context, before time.Time) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(e Entry) bool {
		return e.Status == StatusPending && e.Direction == DirectionOutflow && e.DueDate.Before(before)
	}), nil
}

func (r *memoryRepo) UpdateEntryStatus(ctx context.Context, id int64, from, to Status, paidDate *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.PaidDate = paidDate
	r.entries[id] = e
	return true, nil
}

func (r *memoryRepo) UpdateEntryFields(ctx context.Context, id int64, patch EntryPatch) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.Status.IsOpen() {
		return Entry{}, ErrNotFound
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.Amount != nil {
		e.Amount = *patch.Amount
	}
	if patch.DueDate != nil {
		e.DueDate = *patch.DueDate
	}
	if patch.Metadata != nil {
		e.Metadata = *patch.Metadata
	}
	r.entries[id] = e
	return e, nil
}

func (r *memoryRepo) filterLocked(f ListFilter) []Entry {
	return r.sortedLocked(func(e Entry) bool {
		switch {
		case f.Status != "" && e.Status != f.Status:
			return false
		case f.Kind != "" && e.Kind != f.Kind:
			return false
		case f.Module != "" && e.Module != f.Module:
			return false
		case f.ContractID > 0 && derefInt64(e.ContractID) != f.ContractID:
			return false
		case f.PayeeID > 0 && derefInt64(e.PayeeProfileID) != f.PayeeID:
			return false
		case !f.From.IsZero() && e.DueDate.Before(f.From):
			return false
		case !f.To.IsZero() && e.DueDate.After(f.To):
			return false
		}
		if f.PropertyID > 0 {
			propertyID := derefInt64(e.PropertyID)
			if propertyID == 0 {
				propertyID = r.contracts[derefInt64(e.ContractID)].PropertyID
			}
			if propertyID != f.PropertyID {
				return false
			}
		}
		return true
	})
}

func (r *memoryRepo) ListEntries(ctx context.Context, filter ListFilter) ([]EntryView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EntryView
	for _, e := range r.filterLocked(filter) {
		view := EntryView{Entry: e, PayeeName: r.profiles[derefInt64(e.PayeeProfileID)]}
		if c, ok := r.contracts[derefInt64(e.ContractID)]; ok {
			view.ContractCode = c.Code
		}
		out = append(out, view)
	}
	return out, nil
}

func (r *memoryRepo) SumEntries(ctx context.Context, filter ListFilter) (decimal.Decimal, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	paid, pending := decimal.Zero, decimal.Zero
	for _, e := range r.filterLocked(filter) {
		switch {
		case e.Status == StatusPaid:
			paid = paid.Add(e.Amount)
		case e.Status.IsOpen():
			pending = pending.Add(e.Amount)
		}
	}
	return paid, pending, nil
}

type memoryTx struct {
	r *memoryRepo
}

func (t memoryTx) LockContract(ctx context.Context, id int64) (Contract, error) {
	return t.r.GetContract(ctx, id)
}

func (t memoryTx) SaveContractValue(ctx context.Context, id int64, value decimal.Decimal, history []AdjustmentRecord) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	c, ok := t.r.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.AgreedValue = value
	c.AdjustmentHistory = history
	t.r.contracts[id] = c
	return nil
}

func (t memoryTx) FindEntry(ctx context.Context, contractID int64, period Period, kind Kind) (*Entry, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	found := t.r.sortedLocked(func(e Entry) bool {
		return derefInt64(e.ContractID) == contractID && e.Kind == kind &&
			e.Metadata.BillingPeriod == period && e.Status != StatusCanceled
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (t memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.r.failInsertAfter >= 0 && t.r.inserts >= t.r.failInsertAfter {
		return Entry{}, errors.New("disk full")
	}
	if id := derefInt64(entry.ContractID); id > 0 {
		if _, ok := t.r.contracts[id]; !ok {
			return Entry{}, ErrNotFound
		}
	}
	t.r.inserts++
	return t.r.insertLocked(entry), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := event.(Event); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type recordingAuditor struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingScheduler struct {
	mu       sync.Mutex
	triggers []string
}

func (s *recordingScheduler) ScheduleDerive(ctx context.Context, trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
	return nil
}

type testEnv struct {
	repo      *memoryRepo
	service   *Service
	publisher *recordingPublisher
	cache     *countingInvalidator
	audit     *recordingAuditor
	scheduler *recordingScheduler
}

var saoPaulo = mustLocation("America/Sao_Paulo")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// newTestEnv builds a service whose clock is fixed at now in the ledger zone.
func newTestEnv(now time.Time) *testEnv {
	env := &testEnv{
		repo:      newMemoryRepo(),
		publisher: &recordingPublisher{},
		cache:     &countingInvalidator{},
		audit:     &recordingAuditor{},
		scheduler: &recordingScheduler{},
	}
	env.service = NewService(env.repo, ServiceConfig{
		Location:    saoPaulo,
		Publisher:   env.publisher,
		Invalidator: env.cache,
		Audit:       env.audit,
		Scheduler:   env.scheduler,
	})
	env.service.now = func() time.Time { return now }
	return env
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, saoPaulo)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

// Commission shares in percent of the sale amount.
var (
	commissionSingleBroker = decimal.NewFromInt(50)
	commissionCapture      = decimal.NewFromInt(10)
	commissionSale         = decimal.NewFromInt(40)
)

// Commission roles.
const (
	RoleOwner          = "owner"
	RoleCapture        = "capture"
	RoleSale           = "sale"
	RoleCaptureAndSale = "capture_and_sale"
)

// DerivationReport summarises one derivation pass.
type DerivationReport struct {
	Kind           Kind    `json:"kind"`
	Scanned        int     `json:"scanned"`
	Created        int     `json:"created"`
	AlreadyDerived int     `json:"already_derived"`
	Skipped        int     `json:"skipped"`
	EntryIDs       []int64 `json:"entry_ids"`
}

// DeriveAll runs payout and commission derivation.
func (s *Service) DeriveAll(ctx context.Context) ([]DerivationReport, error) {
	payouts, err := s.DerivePayouts(ctx)
	if err != nil {
		return nil, err
	}
	commissions, err := s.DeriveCommissions(ctx)
	if err != nil {
		return []DerivationReport{payouts}, err
	}
	return []DerivationReport{payouts, commissions}, nil
}

// lookups caches collaborators for one derivation pass.
type lookups struct {
	repo       Repository
	contracts  map[int64]*Contract
	properties map[int64]*Property
}

func newLookups(repo Repository) *lookups {
	return &lookups{repo: repo, contracts: map[int64]*Contract{}, properties: map[int64]*Property{}}
}

func (l *lookups) contract(ctx context.Context, id *int64) (*Contract, error) {
	if id == nil || *id == 0 {
		return nil, nil
	}
	if c, ok := l.contracts[*id]; ok {
		return c, nil
	}
	c, err := l.repo.GetContract(ctx, *id)
	if errors.Is(err, ErrNotFound) {
		l.contracts[*id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.contracts[*id] = &c
	return &c, nil
}

func (l *lookups) property(ctx context.Context, id int64) (*Property, error) {
	if id == 0 {
		return nil, nil
	}
	if p, ok := l.properties[id]; ok {
		return p, nil
	}
	p, err := l.repo.GetProperty(ctx, id)
	if errors.Is(err, ErrNotFound) {
		l.properties[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.properties[id] = &p
	return &p, nil
}

// DerivePayouts creates one owner payout per paid rent charge that has none yet. The payout is
// the netted amount paid minus the nominal administration fee of the contract. A payout that
// nets to zero or less is not written, since entry amounts must be positive; it is logged and
// counted in Skipped. Charges without a contract or property owner are skipped the same way.
func (s *Service) DerivePayouts(ctx context.Context) (DerivationReport, error) {
	report := DerivationReport{Kind: KindOwnerPayout, EntryIDs: []int64{}}
	sources, err := s.repo.ListPaidEntries(ctx, KindRent, ModuleRental, KindOwnerPayout)
	if err != nil {
		return report, err
	}
	report.Scanned = len(sources)
	if len(sources) == 0 {
		return report, nil
	}
	children, err := s.repo.ListChildren(ctx, ParentIDs(sources))
	if err != nil {
		return report, err
	}
	grouped := GroupChildren(children)
	look := newLookups(s.repo)

	var created []Entry
	for _, src := range sources {
		contract, err := look.contract(ctx, src.ContractID)
		if err != nil {
			return report, err
		}
		if contract == nil {
			report.Skipped++
			continue
		}
		propertyID := contract.PropertyID
		if src.PropertyID != nil {
			propertyID = *src.PropertyID
		}
		property, err := look.property(ctx, propertyID)
		if err != nil {
			return report, err
		}
		if property == nil || property.OwnerProfileID == nil || *property.OwnerProfileID == 0 {
			report.Skipped++
			continue
		}

		totalPaid := Net(src, grouped[src.ID])
		fee := contract.AgreedValue.Mul(contract.FeePercent).Div(hundred).Round(2)
		payout := totalPaid.Sub(fee).Round(2)
		if !payout.IsPositive() {
			s.logger.Warn("payout not positive",
				slog.Int64("source_entry_id", src.ID),
				slog.String("total_paid", totalPaid.StringFixed(2)),
				slog.String("fee", fee.StringFixed(2)))
			report.Skipped++
			continue
		}

		dueDate := s.today()
		if src.PaidDate != nil {
			dueDate = *src.PaidDate
		}
		base := contract.AgreedValue
		feePercent := contract.FeePercent
		contractID := contract.ID
		entry := Entry{
			Kind:           KindOwnerPayout,
			Direction:      DirectionOutflow,
			Module:         ModuleRental,
			Status:         StatusPending,
			Description:    fmt.Sprintf("Repasse %s %s", contract.Code, src.Metadata.BillingPeriod.Label()),
			Amount:         payout,
			DueDate:        dueDate,
			ContractID:     &contractID,
			PropertyID:     &propertyID,
			PayeeProfileID: property.OwnerProfileID,
			Metadata: Metadata{
				Origin:        OriginAutomatic,
				BillingPeriod: src.Metadata.BillingPeriod,
				Derivation: &Derivation{
					SourceEntryID: src.ID,
					Role:          RoleOwner,
					FeePercent:    &feePercent,
					BaseValue:     &base,
					Fee:           &fee,
					TotalPaid:     &totalPaid,
				},
			},
		}
		saved, inserted, err := s.repo.InsertAutomatic(ctx, entry)
		if err != nil {
			return report, fmt.Errorf("ledger: derive payout for entry %d: %w", src.ID, err)
		}
		if !inserted {
			report.AlreadyDerived++
			continue
		}
		report.Created++
		report.EntryIDs = append(report.EntryIDs, saved.ID)
		created = append(created, saved)
	}
	s.publishDerived(ctx, created)
	return report, nil
}

type commissionPayee struct {
	id    int64
	share decimal.Decimal
	role  string
}

// commissionPayees splits a sale between the capture and selling brokers.
func commissionPayees(capture, seller *int64) []commissionPayee {
	c, sl := derefInt64(capture), derefInt64(seller)
	if c > 0 && c == sl {
		return []commissionPayee{{id: c, share: commissionSingleBroker, role: RoleCaptureAndSale}}
	}
	var out []commissionPayee
	if c > 0 {
		out = append(out, commissionPayee{id: c, share: commissionCapture, role: RoleCapture})
	}
	if sl > 0 {
		out = append(out, commissionPayee{id: sl, share: commissionSale, role: RoleSale})
	}
	return out
}

// DeriveCommissions creates broker commissions for paid sales, idempotently per payee.
func (s *Service) DeriveCommissions(ctx context.Context) (DerivationReport, error) {
	report := DerivationReport{Kind: KindBrokerCommission, EntryIDs: []int64{}}
	sales, err := s.repo.ListPaidEntries(ctx, KindSale, ModuleGeneral, "")
	if err != nil {
		return report, err
	}
	report.Scanned = len(sales)
	look := newLookups(s.repo)

	var created []Entry
	for _, sale := range sales {
		if !sale.Amount.IsPositive() {
			report.Skipped++
			continue
		}
		contract, err := look.contract(ctx, sale.ContractID)
		if err != nil {
			return report, err
		}
		var propertyID int64
		switch {
		case sale.PropertyID != nil:
			propertyID = *sale.PropertyID
		case contract != nil:
			propertyID = contract.PropertyID
		}
		property, err := look.property(ctx, propertyID)
		if err != nil {
			return report, err
		}

		var capture, seller *int64
		if property != nil {
			capture = property.CaptureBrokerID
		}
		if contract != nil {
			seller = contract.SellingBrokerID
		}
		payees := commissionPayees(capture, seller)
		if len(payees) == 0 {
			report.Skipped++
			continue
		}

		for _, payee := range payees {
			exists, err := s.repo.ExistsAutomatic(ctx, sale.ID, KindBrokerCommission, payee.id)
			if err != nil {
				return report, err
			}
			if exists {
				report.AlreadyDerived++
				continue
			}
			amount := sale.Amount.Mul(payee.share).Div(hundred).Round(2)
			if !amount.IsPositive() {
				report.Skipped++
				continue
			}
			entry := s.commissionEntry(sale, payee, amount, propertyID)
			saved, inserted, err := s.repo.InsertAutomatic(ctx, entry)
			if err != nil {
				return report, fmt.Errorf("ledger: derive commission for entry %d: %w", sale.ID, err)
			}
			if !inserted {
				report.AlreadyDerived++
				continue
			}
			report.Created++
			report.EntryIDs = append(report.EntryIDs, saved.ID)
			created = append(created, saved)
		}
	}
	s.publishDerived(ctx, created)
	return report, nil
}

func (s *Service) commissionEntry(sale Entry, payee commissionPayee, amount decimal.Decimal, propertyID int64) Entry {
	share := payee.share
	base := sale.Amount
	payeeID := payee.id
	dueDate := s.today()
	if sale.PaidDate != nil {
		dueDate = *sale.PaidDate
	}
	entry := Entry{
		Kind:           KindBrokerCommission,
		Direction:      DirectionOutflow,
		Module:         ModuleGeneral,
		Status:         StatusPending,
		Description:    fmt.Sprintf("Comissão %s (%s%%) venda #%d", payee.role, share.String(), sale.ID),
		Amount:         amount,
		DueDate:        dueDate,
		ContractID:     sale.ContractID,
		PayeeProfileID: &payeeID,
		Metadata: Metadata{
			Origin:        OriginAutomatic,
			BillingPeriod: sale.Metadata.BillingPeriod,
			Derivation: &Derivation{
				SourceEntryID: sale.ID,
				Role:          payee.role,
				SharePercent:  &share,
				BaseValue:     &base,
			},
		},
	}
	if propertyID > 0 {
		entry.PropertyID = &propertyID
	}
	if entry.Metadata.BillingPeriod.IsZero() {
		entry.Metadata.BillingPeriod = PeriodOf(dueDate)
	}
	return entry
}

func (s *Service) publishDerived(ctx context.Context, created []Entry) {
	if len(created) == 0 {
		return
	}
	events := make([]Event, 0, len(created))
	for _, e := range created {
		events = append(events, Event{
			Type:       EventEntryDerived,
			EntryID:    e.ID,
			ContractID: derefInt64(e.ContractID),
			Actor:      shared.SystemActor,
			Payload:    e,
		})
	}
	s.afterWrite(ctx, events...)
	s.logger.Info("entries derived", slog.String("kind", string(created[0].Kind)), slog.Int("count", len(created)))
}

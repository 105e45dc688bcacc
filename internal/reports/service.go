package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/rental-ledger/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// Service builds the ledger rollups on top of the cache.
type Service struct {
	repo  Repository
	cache *Cache
	loc   *time.Location
	now   func() time.Time
}

// NewService wires a Repository with a Cache helper. cache may be nil.
func NewService(repo Repository, cache *Cache, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, cache: cache, loc: loc, now: time.Now}
}

// Location returns the time zone reports are bucketed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Validate checks the monthly range.
func (r MonthlyRequest) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: from and to are required", ErrInvalidRequest)
	}
	if r.From.After(r.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidRequest)
	}
	if r.To.After(r.From.AddMonths(maxMonthlySpan - 1)) {
		return fmt.Errorf("%w: range exceeds %d months", ErrInvalidRequest, maxMonthlySpan)
	}
	return nil
}

// Validate checks the daily request.
func (r DailyRequest) Validate() error {
	if len(r.Months) == 0 || len(r.Months) > maxDailyMonths {
		return fmt.Errorf("%w: between 1 and %d months required", ErrInvalidRequest, maxDailyMonths)
	}
	for _, m := range r.Months {
		if m.IsZero() {
			return fmt.Errorf("%w: empty month", ErrInvalidRequest)
		}
	}
	if r.Field != FieldDue && r.Field != FieldPaid {
		return fmt.Errorf("%w: field must be due or paid", ErrInvalidRequest)
	}
	return nil
}

// Monthly returns one row per billing period in the range.
func (s *Service) Monthly(ctx context.Context, req MonthlyRequest) (MonthlyReport, error) {
	if err := req.Validate(); err != nil {
		return MonthlyReport{}, err
	}
	key, err := s.cache.BuildKey(ctx, "monthly", req.From.String(), req.To.String())
	if err != nil {
		return MonthlyReport{}, err
	}
	var out MonthlyReport
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.buildMonthly(ctx, req)
	})
	return out, err
}

func (s *Service) buildMonthly(ctx context.Context, req MonthlyRequest) (MonthlyReport, error) {
	var (
		parents  []ledger.Entry
		children []ledger.Entry
		fees     []PeriodKindTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		parents, err = s.repo.ListRentByPeriod(gctx, req.From, req.To)
		if err != nil {
			return err
		}
		children, err = s.repo.ListChildren(gctx, ledger.ParentIDs(parents))
		return err
	})
	g.Go(func() error {
		var err error
		fees, err = s.repo.SumByPeriod(gctx, []ledger.Kind{ledger.KindAdminFee, ledger.KindContractFee}, req.From, req.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return MonthlyReport{}, err
	}
	return BuildMonthly(req.From, req.To, parents, children, fees), nil
}

// BuildMonthly nets each rent charge with its children, groups by billing period and subtracts
// the fee totals recorded for the same period.
func BuildMonthly(from, to ledger.Period, parents, children []ledger.Entry, fees []PeriodKindTotal) MonthlyReport {
	report := MonthlyReport{From: from, To: to, Rows: []MonthlyRow{}}
	index := map[ledger.Period]int{}
	for p := from; !p.After(to); p = p.AddMonths(1) {
		index[p] = len(report.Rows)
		report.Rows = append(report.Rows, MonthlyRow{
			Period:      p,
			Gross:       decimal.Zero,
			AdminFee:    decimal.Zero,
			ContractFee: decimal.Zero,
			Net:         decimal.Zero,
		})
	}

	grouped := ledger.GroupChildren(children)
	for _, parent := range parents {
		i, ok := index[parent.Metadata.BillingPeriod]
		if !ok || parent.Status == ledger.StatusCanceled {
			continue
		}
		row := &report.Rows[i]
		row.Gross = row.Gross.Add(ledger.Net(parent, grouped[parent.ID]))
		row.Charges++
	}
	for _, fee := range fees {
		i, ok := index[fee.Period]
		if !ok {
			continue
		}
		row := &report.Rows[i]
		switch fee.Kind {
		case ledger.KindAdminFee:
			row.AdminFee = row.AdminFee.Add(fee.Total)
		case ledger.KindContractFee:
			row.ContractFee = row.ContractFee.Add(fee.Total)
		}
	}

	totals := MonthlyRow{Gross: decimal.Zero, AdminFee: decimal.Zero, ContractFee: decimal.Zero, Net: decimal.Zero}
	for i := range report.Rows {
		row := &report.Rows[i]
		row.Net = row.Gross.Sub(row.AdminFee).Sub(row.ContractFee)
		totals.Gross = totals.Gross.Add(row.Gross)
		totals.AdminFee = totals.AdminFee.Add(row.AdminFee)
		totals.ContractFee = totals.ContractFee.Add(row.ContractFee)
		totals.Net = totals.Net.Add(row.Net)
		totals.Charges += row.Charges
	}
	report.Totals = totals
	return report
}

// Daily returns a day-of-month histogram for every requested month.
func (s *Service) Daily(ctx context.Context, req DailyRequest) (DailyReport, error) {
	if err := req.Validate(); err != nil {
		return DailyReport{}, err
	}
	months := append([]ledger.Period(nil), req.Months...)
	sort.Slice(months, func(i, j int) bool { return months[j].After(months[i]) })
	labels := make([]string, 0, len(months))
	for _, m := range months {
		labels = append(labels, m.String())
	}
	key, err := s.cache.BuildKey(ctx, "daily", string(req.Field), strings.Join(labels, ","))
	if err != nil {
		return DailyReport{}, err
	}
	var out DailyReport
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.buildDaily(ctx, req.Field, months)
	})
	return out, err
}

func (s *Service) buildDaily(ctx context.Context, field DateField, months []ledger.Period) (DailyReport, error) {
	report := DailyReport{Field: field, Months: make([]DailyMonth, len(months))}
	g, gctx := errgroup.WithContext(ctx)
	for i, month := range months {
		g.Go(func() error {
			start := month.Start(s.loc)
			end := month.AddMonths(1).Start(s.loc)
			parents, err := s.repo.ListRentByDate(gctx, field, start, end)
			if err != nil {
				return err
			}
			children, err := s.repo.ListChildren(gctx, ledger.ParentIDs(parents))
			if err != nil {
				return err
			}
			report.Months[i] = BuildDaily(month, field, parents, children)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DailyReport{}, err
	}
	return report, nil
}

// BuildDaily buckets netted rent charges by day of the chosen date field. The histogram has
// exactly one bucket per calendar day of the month. Dates are calendar dates and are read in
// their own location.
func BuildDaily(month ledger.Period, field DateField, parents, children []ledger.Entry) DailyMonth {
	days := month.Days()
	out := DailyMonth{Period: month, Total: decimal.Zero, Buckets: make([]DailyBucket, days)}
	contracts := make([]map[int64]struct{}, days)
	for i := range out.Buckets {
		out.Buckets[i] = DailyBucket{Day: i + 1, Total: decimal.Zero, Percent: decimal.Zero}
		contracts[i] = map[int64]struct{}{}
	}

	grouped := ledger.GroupChildren(children)
	for _, parent := range parents {
		if parent.Status == ledger.StatusCanceled {
			continue
		}
		date := parent.DueDate
		if field == FieldPaid {
			if parent.PaidDate == nil {
				continue
			}
			date = *parent.PaidDate
		}
		if ledger.PeriodOf(date) != month {
			continue
		}
		i := date.Day() - 1
		amount := ledger.Net(parent, grouped[parent.ID])
		out.Buckets[i].Total = out.Buckets[i].Total.Add(amount)
		if parent.ContractID != nil {
			contracts[i][*parent.ContractID] = struct{}{}
		}
		out.Total = out.Total.Add(amount)
	}

	for i := range out.Buckets {
		out.Buckets[i].Contracts = len(contracts[i])
		if !out.Total.IsZero() {
			out.Buckets[i].Percent = out.Buckets[i].Total.Div(out.Total).Mul(hundred).Round(2)
		}
	}
	return out
}

// Portfolio returns the dashboard snapshot for one calendar month.
func (s *Service) Portfolio(ctx context.Context, month ledger.Period) (PortfolioReport, error) {
	if month.IsZero() {
		return PortfolioReport{}, fmt.Errorf("%w: period required", ErrInvalidRequest)
	}
	key, err := s.cache.BuildKey(ctx, "portfolio", month.String())
	if err != nil {
		return PortfolioReport{}, err
	}
	var out PortfolioReport
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.buildPortfolio(ctx, month)
	})
	return out, err
}

func (s *Service) buildPortfolio(ctx context.Context, month ledger.Period) (PortfolioReport, error) {
	start := month.Start(s.loc)
	end := month.AddMonths(1).Start(s.loc)

	var (
		activity ContractActivity
		active   ActivePortfolio
		flows    FeeFlows
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		activity, err = s.repo.ContractActivity(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.repo.ActivePortfolio(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		flows, err = s.repo.FeeFlows(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return PortfolioReport{}, err
	}

	return PortfolioReport{
		Period:              month,
		SignedContracts:     activity.Signed,
		TerminatedContracts: activity.Terminated,
		ActiveContracts:     active.Count,
		AvgFeeSigned:        activity.AvgFeeSigned,
		AvgFeeTerminated:    activity.AvgFeeTerminated,
		AvgFeeActive:        active.AvgFee,
		FeeRevenue:          flows.Revenue,
		FeeExpense:          flows.Expense,
		AvgActiveValue:      active.AvgValue,
		GeneratedAt:         s.now().In(s.loc),
	}, nil
}

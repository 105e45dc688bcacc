package reports

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/ledger"
)

// ErrInvalidRequest indicates malformed report parameters.
var ErrInvalidRequest = errors.New("reports: invalid request")

const (
	maxMonthlySpan = 36
	maxDailyMonths = 12
)

// MonthlyRequest selects an inclusive range of billing periods.
type MonthlyRequest struct {
	From ledger.Period
	To   ledger.Period
}

// MonthlyRow is the rollup of one billing period.
type MonthlyRow struct {
	Period      ledger.Period   `json:"period"`
	Gross       decimal.Decimal `json:"gross"`
	AdminFee    decimal.Decimal `json:"admin_fee"`
	ContractFee decimal.Decimal `json:"contract_fee"`
	Net         decimal.Decimal `json:"net"`
	Charges     int             `json:"charges"`
}

// MonthlyReport lists one row per period plus totals.
type MonthlyReport struct {
	From   ledger.Period `json:"from"`
	To     ledger.Period `json:"to"`
	Rows   []MonthlyRow  `json:"rows"`
	Totals MonthlyRow    `json:"totals"`
}

// DateField selects the date used to bucket daily rollups.
type DateField string

const (
	FieldDue  DateField = "due"
	FieldPaid DateField = "paid"
)

// DailyRequest selects the months and date field of a daily rollup.
type DailyRequest struct {
	Months []ledger.Period
	Field  DateField
}

// DailyBucket is one day of a month histogram.
type DailyBucket struct {
	Day       int             `json:"day"`
	Total     decimal.Decimal `json:"total"`
	Contracts int             `json:"contracts"`
	Percent   decimal.Decimal `json:"percent"`
}

// DailyMonth is the histogram of one month; Buckets has one element per calendar day.
type DailyMonth struct {
	Period  ledger.Period   `json:"period"`
	Total   decimal.Decimal `json:"total"`
	Buckets []DailyBucket   `json:"buckets"`
}

// DailyReport groups the requested months.
type DailyReport struct {
	Field  DateField    `json:"field"`
	Months []DailyMonth `json:"months"`
}

// ContractActivity summarises contracts signed and terminated in a window.
type ContractActivity struct {
	Signed           int
	Terminated       int
	AvgFeeSigned     decimal.Decimal
	AvgFeeTerminated decimal.Decimal
}

// ActivePortfolio summarises contracts currently in force.
type ActivePortfolio struct {
	Count    int
	AvgFee   decimal.Decimal
	AvgValue decimal.Decimal
}

// FeeFlows totals fee money paid in a window.
type FeeFlows struct {
	Revenue decimal.Decimal
	Expense decimal.Decimal
}

// PortfolioReport is the monthly dashboard snapshot.
type PortfolioReport struct {
	Period              ledger.Period   `json:"period"`
	SignedContracts     int             `json:"signed_contracts"`
	TerminatedContracts int             `json:"terminated_contracts"`
	ActiveContracts     int             `json:"active_contracts"`
	AvgFeeSigned        decimal.Decimal `json:"avg_fee_percent_signed"`
	AvgFeeTerminated    decimal.Decimal `json:"avg_fee_percent_terminated"`
	AvgFeeActive        decimal.Decimal `json:"avg_fee_percent_active"`
	FeeRevenue          decimal.Decimal `json:"fee_revenue"`
	FeeExpense          decimal.Decimal `json:"fee_expense"`
	AvgActiveValue      decimal.Decimal `json:"avg_active_value"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

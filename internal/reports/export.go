package reports

import (
	"encoding/csv"
	"io"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var monthlyHeader = []string{"Competência", "Bruto", "Taxa de administração", "Taxa de contrato", "Líquido", "Cobranças"}

// WriteMonthlyCSV emits the monthly rollup as CSV with Brazilian currency formatting.
func WriteMonthlyCSV(w io.Writer, report MonthlyReport) error {
	printer := message.NewPrinter(language.BrazilianPortuguese)
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	if err := writer.Write(monthlyHeader); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := writer.Write(monthlyRecord(printer, row.Period.Label(), row)); err != nil {
			return err
		}
	}
	if err := writer.Write(monthlyRecord(printer, "Total", report.Totals)); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func monthlyRecord(p *message.Printer, label string, row MonthlyRow) []string {
	return []string{
		label,
		formatBRL(p, row.Gross),
		formatBRL(p, row.AdminFee),
		formatBRL(p, row.ContractFee),
		formatBRL(p, row.Net),
		p.Sprintf("%d", row.Charges),
	}
}

func formatBRL(p *message.Printer, v decimal.Decimal) string {
	return p.Sprintf("R$ %.2f", v.Round(2).InexactFloat64())
}

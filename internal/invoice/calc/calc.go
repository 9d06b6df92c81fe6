// Package calc computes invoice monetary figures. All functions are pure
// and deterministic; inputs are validated by the caller.
package calc

import (
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
)

// LineTotals holds the derived figures for a single line item.
type LineTotals struct {
	Subtotal  float64
	TaxAmount float64
	Total     float64
}

// Totals holds the derived figures for a whole invoice.
type Totals struct {
	Subtotal    float64
	TaxAmount   float64
	TotalAmount float64
}

// LineTotal derives subtotal, tax and total for one line item, each
// rounded half-up to two decimal places.
func LineTotal(quantity, unitPrice, taxRate float64) LineTotals {
	subtotal, tax := lineParts(quantity, unitPrice, taxRate)
	return LineTotals{
		Subtotal:  round2(subtotal),
		TaxAmount: round2(tax),
		Total:     round2(subtotal.Add(tax)),
	}
}

// InvoiceTotals sums per-item subtotals and taxes independently and
// rounds once at the end, so rounding error never compounds across items.
func InvoiceTotals(items []invoicedomain.LineItemInput) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		s, t := lineParts(item.Quantity, item.UnitPrice, item.TaxRate)
		subtotal = subtotal.Add(s)
		tax = tax.Add(t)
	}
	return Totals{
		Subtotal:    round2(subtotal),
		TaxAmount:   round2(tax),
		TotalAmount: round2(subtotal.Add(tax)),
	}
}

var hundred = decimal.NewFromInt(100)

func lineParts(quantity, unitPrice, taxRate float64) (subtotal, tax decimal.Decimal) {
	subtotal = decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(unitPrice))
	tax = subtotal.Mul(decimal.NewFromFloat(taxRate)).Div(hundred)
	return subtotal, tax
}

// round2 rounds half-up to 2 decimal places.
func round2(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}

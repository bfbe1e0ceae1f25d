// Package tax computes VAT embedded in tax-inclusive prices.
//
// All arithmetic is exact decimal arithmetic. Rounding happens only when a
// caller asks for display values.
package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/domain"
)

var ErrInvalidInput = errors.New("invalid tax input")

// divisionPlaces bounds the precision of the only division in the engine.
const divisionPlaces = 20

var (
	StandardRate = decimal.RequireFromString("0.16")
	vatDivisor   = decimal.NewFromInt(1).Add(StandardRate)
)

type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// Display rounds the totals to whole cents. The subtotal is derived from the
// rounded total and tax so that Total == Subtotal + TaxAmount holds exactly.
func (t Totals) Display() Totals {
	total := t.Total.Round(2)
	taxAmount := t.TaxAmount.Round(2)
	return Totals{
		Subtotal:  total.Sub(taxAmount),
		TaxAmount: taxAmount,
		Total:     total,
	}
}

func LineTotal(unitPrice decimal.Decimal, quantity int) (decimal.Decimal, error) {
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative unit price %s", ErrInvalidInput, unitPrice)
	}
	if quantity < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %d", ErrInvalidInput, quantity)
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// LineTax returns the VAT embedded in a tax-inclusive line total.
func LineTax(lineTotal decimal.Decimal, class domain.TaxClass) (decimal.Decimal, error) {
	if lineTotal.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative line total %s", ErrInvalidInput, lineTotal)
	}
	switch class {
	case domain.TaxStandard:
		return lineTotal.Sub(NetOf(lineTotal)), nil
	case domain.TaxZeroRated, domain.TaxExempt:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown tax class %q", ErrInvalidInput, class)
	}
}

// NetOf strips standard-rate VAT from a tax-inclusive amount.
func NetOf(gross decimal.Decimal) decimal.Decimal {
	return gross.DivRound(vatDivisor, divisionPlaces)
}

// CartTotals sums line totals and embedded tax over every line with a
// positive quantity.
func CartTotals(lines []domain.LineItem) (Totals, error) {
	total := decimal.Zero
	taxAmount := decimal.Zero
	for _, line := range lines {
		if line.Quantity == 0 {
			continue
		}
		lineTotal, err := LineTotal(line.UnitPrice, line.Quantity)
		if err != nil {
			return Totals{}, fmt.Errorf("line %s: %w", line.ProductID, err)
		}
		lineTax, err := LineTax(lineTotal, line.TaxClass)
		if err != nil {
			return Totals{}, fmt.Errorf("line %s: %w", line.ProductID, err)
		}
		total = total.Add(lineTotal)
		taxAmount = taxAmount.Add(lineTax)
	}
	return Totals{
		Subtotal:  total.Sub(taxAmount),
		TaxAmount: taxAmount,
		Total:     total,
	}, nil
}

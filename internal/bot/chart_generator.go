package bot

import (
	"fmt"

	"github.com/go-analyze/charts"
	"github.com/shopspring/decimal"

	"github.com/broskiv2/wemine-bot/internal/models"
)

// GenerateLedgerChart creates a pie chart of transaction volume by kind.
// Returns PNG image as bytes.
func GenerateLedgerChart(transactions []models.Transaction, period string) ([]byte, error) {
	if len(transactions) == 0 {
		return nil, fmt.Errorf("no transactions to chart")
	}

	kindTotals := aggregateByKind(transactions)

	var values []float64
	var kinds []string
	for kind, total := range kindTotals {
		kinds = append(kinds, kind)
		values = append(values, total.InexactFloat64())
	}

	p, err := charts.PieRender(
		values,
		charts.TitleOptionFunc(charts.TitleOption{
			Text: fmt.Sprintf("Ledger Breakdown - %s", period),
		}),
		charts.LegendLabelsOptionFunc(kinds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	return buf, nil
}

// aggregateByKind sums absolute transaction amounts per kind.
func aggregateByKind(transactions []models.Transaction) map[string]decimal.Decimal {
	kindTotals := make(map[string]decimal.Decimal)

	for _, tx := range transactions {
		label := formatKind(tx.Kind)
		amount := tx.Amount.Abs()

		if existing, ok := kindTotals[label]; ok {
			kindTotals[label] = existing.Add(amount)
		} else {
			kindTotals[label] = amount
		}
	}

	return kindTotals
}

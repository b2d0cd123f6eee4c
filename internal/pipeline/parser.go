package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/models"
)

// ParseSubmission parses "product_id,price" rows and requires exactly n of them.
// Any newline convention is accepted; blank lines and lines starting with '#'
// are skipped.
func ParseSubmission(text string, n int) ([]models.PriceRow, error) {
	rows, err := parseRows(text)
	if err != nil {
		return nil, err
	}
	if len(rows) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShape, len(rows), n)
	}
	return rows, nil
}

func parseRows(text string) ([]models.PriceRow, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	var rows []models.PriceRow
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Split(trimmed, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected 2 fields, got %d", ErrFormat, i+1, len(fields))
		}

		id := strings.TrimSpace(fields[0])
		if !catalog.ValidProductID(id) {
			return nil, fmt.Errorf("%w: line %d: product id %q must be 1-%d characters",
				ErrFormat, i+1, id, catalog.MaxProductIDLength)
		}

		price, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: price %q is not an integer", ErrFormat, i+1, strings.TrimSpace(fields[1]))
		}

		rows = append(rows, models.PriceRow{ProductID: id, Price: price})
	}

	return rows, nil
}

// CheckAlignment verifies that rows name the catalog's products in catalog order
func CheckAlignment(cat *catalog.Catalog, rows []models.PriceRow) error {
	if len(rows) != cat.Len() {
		return fmt.Errorf("%w: %d rows for %d products", ErrAlignment, len(rows), cat.Len())
	}
	for i, row := range rows {
		if want := cat.Item(i).ProductID; row.ProductID != want {
			return fmt.Errorf("%w: row %d has product %q, catalog expects %q", ErrAlignment, i+1, row.ProductID, want)
		}
	}
	return nil
}

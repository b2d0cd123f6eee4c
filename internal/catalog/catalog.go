// Package catalog holds the fixed, ordered product table that every
// submission is scored against. A Catalog is immutable once built.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// MaxProductIDLength bounds product ids in the catalog and in uploads, in characters
const MaxProductIDLength = 11

// ValidProductID reports whether id is non-empty and at most MaxProductIDLength characters
func ValidProductID(id string) bool {
	return id != "" && utf8.RuneCountInString(id) <= MaxProductIDLength
}

// Columns is the catalog file header, in order
var Columns = []string{
	"product_id",
	"price",
	"cost",
	"review_score",
	"product_name_length",
	"product_description_length",
	"product_photos_qty",
	"product_weight_g",
	"product_length_cm",
	"product_height_cm",
	"product_width_cm",
}

// ErrInvalidCatalog is returned when the catalog source cannot be used
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is an ordered, read-only list of products
type Catalog struct {
	items []models.CatalogItem
	index map[string]int
}

// New builds a catalog from items, copying them
func New(items []models.CatalogItem) (*Catalog, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCatalog)
	}

	c := &Catalog{
		items: make([]models.CatalogItem, len(items)),
		index: make(map[string]int, len(items)),
	}
	copy(c.items, items)

	for i, item := range c.items {
		if !ValidProductID(item.ProductID) {
			return nil, fmt.Errorf("%w: row %d: product id %q must be 1-%d characters",
				ErrInvalidCatalog, i+1, item.ProductID, MaxProductIDLength)
		}
		if prev, dup := c.index[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: product id %q repeated on rows %d and %d",
				ErrInvalidCatalog, item.ProductID, prev+1, i+1)
		}
		c.index[item.ProductID] = i
	}

	return c, nil
}

// Load reads a catalog CSV file
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, err
	}

	slog.Info("catalog loaded", "path", path, "items", c.Len())
	return c, nil
}

// Parse reads a catalog with a header row followed by one product per row
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Columns)
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidCatalog)
		}
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidCatalog, err)
	}

	var items []models.CatalogItem
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}

		item, err := parseRecord(record)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCatalog, line, err)
		}
		items = append(items, item)
	}

	return New(items)
}

func parseRecord(record []string) (models.CatalogItem, error) {
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	ints := make([]int, len(record))
	for i, field := range record {
		if i == 0 || i == 3 {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return models.CatalogItem{}, fmt.Errorf("%s: %q is not an integer", Columns[i], field)
		}
		ints[i] = v
	}

	review, err := strconv.ParseFloat(record[3], 64)
	if err != nil {
		return models.CatalogItem{}, fmt.Errorf("%s: %q is not a number", Columns[3], record[3])
	}

	return models.CatalogItem{
		ProductID:         record[0],
		Price:             ints[1],
		Cost:              ints[2],
		ReviewScore:       review,
		NameLength:        ints[4],
		DescriptionLength: ints[5],
		PhotoCount:        ints[6],
		WeightG:           ints[7],
		LengthCm:          ints[8],
		HeightCm:          ints[9],
		WidthCm:           ints[10],
	}, nil
}

// Len returns the number of products (N)
func (c *Catalog) Len() int {
	return len(c.items)
}

// Item returns the product at position i
func (c *Catalog) Item(i int) models.CatalogItem {
	return c.items[i]
}

// Items returns a copy of all products in catalog order
func (c *Catalog) Items() []models.CatalogItem {
	out := make([]models.CatalogItem, len(c.items))
	copy(out, c.items)
	return out
}

// Costs returns the cost column in catalog order
func (c *Catalog) Costs() []int {
	costs := make([]int, len(c.items))
	for i, item := range c.items {
		costs[i] = item.Cost
	}
	return costs
}

// Position returns the row of a product id
func (c *Catalog) Position(productID string) (int, bool) {
	i, ok := c.index[productID]
	return i, ok
}

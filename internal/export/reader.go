// Package export handles the tabular edges of the pipeline: reading product
// rows from a catalog CSV and writing the three-tier output files. Variant
// rows sharing a handle are read as independent products; their tag sets are
// unioned again on the way out.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shand-j/tagforge/internal/model"
)

// Column aliases accepted in the input header, lowercased. The canonical
// names follow common storefront exports.
var (
	handleColumns      = []string{"handle", "id", "sku"}
	titleColumns       = []string{"title", "name", "product title"}
	descriptionColumns = []string{"body (html)", "body", "description"}
	typeColumns        = []string{"type", "product type", "category"}
)

// ReadProducts parses a catalog CSV into products. Rows without a handle are
// skipped; a variant row with an empty title inherits the last title seen
// for its handle.
func ReadProducts(path string) ([]model.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()
	return readProducts(f)
}

func readProducts(r io.Reader) ([]model.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	handleIdx := findColumn(header, handleColumns)
	titleIdx := findColumn(header, titleColumns)
	if handleIdx < 0 || titleIdx < 0 {
		return nil, fmt.Errorf("input needs a handle column and a title column, got %v", header)
	}
	descIdx := findColumn(header, descriptionColumns)
	typeIdx := findColumn(header, typeColumns)

	lastTitle := make(map[string]string)
	var products []model.Product
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		handle := strings.TrimSpace(field(row, handleIdx))
		if handle == "" {
			continue
		}
		title := strings.TrimSpace(field(row, titleIdx))
		if title == "" {
			title = lastTitle[handle]
		} else {
			lastTitle[handle] = title
		}

		p := model.Product{
			Handle:       handle,
			Title:        title,
			Description:  strings.TrimSpace(field(row, descIdx)),
			DeclaredType: strings.TrimSpace(field(row, typeIdx)),
		}
		for i, name := range header {
			if i == handleIdx || i == titleIdx || i == descIdx || i == typeIdx {
				continue
			}
			value := strings.TrimSpace(field(row, i))
			if value == "" {
				continue
			}
			if p.Attributes == nil {
				p.Attributes = make(map[string]string)
			}
			p.Attributes[name] = value
		}
		products = append(products, p)
	}
	return products, nil
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), name) {
				return i
			}
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

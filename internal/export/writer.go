package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shand-j/tagforge/internal/model"
)

// Output file names, one per tier
const (
	CleanFile    = "products_clean.csv"
	ReviewFile   = "products_review.csv"
	UntaggedFile = "products_untagged.csv"
)

// mergedRow is one exported product after variant union
type mergedRow struct {
	Handle           string
	Title            string
	Category         string
	Tags             []string
	SecondaryFlavors []string
	Reasons          []string
	Tier             model.Tier
}

// WriteTiers unions variant results by handle and writes the three tier
// files into dir. Review rows carry a failure-reason column that enables
// targeted reprocessing.
func WriteTiers(dir string, results []model.TaggingResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	rows := mergeByHandle(results)

	tiers := map[model.Tier][]mergedRow{}
	for _, row := range rows {
		tiers[row.Tier] = append(tiers[row.Tier], row)
	}

	if err := writeTier(filepath.Join(dir, CleanFile), tiers[model.TierClean], false); err != nil {
		return err
	}
	if err := writeTier(filepath.Join(dir, ReviewFile), tiers[model.TierReview], true); err != nil {
		return err
	}
	return writeTier(filepath.Join(dir, UntaggedFile), tiers[model.TierUntagged], true)
}

// mergeByHandle unions tag sets across variant rows of one handle. A handle
// whose variants disagree on tier takes the most cautious one: any variant
// in review pulls the whole product into review, and a product is untagged
// only when every variant is.
func mergeByHandle(results []model.TaggingResult) []mergedRow {
	byHandle := make(map[string]*mergedRow)
	var order []string

	for _, r := range results {
		handle := r.Product.Handle
		row, ok := byHandle[handle]
		if !ok {
			row = &mergedRow{Handle: handle, Title: r.Product.Title, Tier: r.Tier}
			byHandle[handle] = row
			order = append(order, handle)
		}

		if row.Category == "" {
			row.Category = r.Category.Category
		}
		row.Tags = unionStrings(row.Tags, r.FinalTags)
		row.SecondaryFlavors = unionStrings(row.SecondaryFlavors, r.SecondaryFlavors)
		row.Reasons = unionStrings(row.Reasons, r.FailureReasons)
		row.Tier = worseTier(row.Tier, r.Tier)
		if row.Title == "" {
			row.Title = r.Product.Title
		}
	}

	sort.Strings(order)
	rows := make([]mergedRow, 0, len(order))
	for _, handle := range order {
		row := *byHandle[handle]
		sort.Strings(row.Tags)
		sort.Strings(row.SecondaryFlavors)
		rows = append(rows, row)
	}
	return rows
}

// worseTier resolves a tier conflict between variants. review outranks
// untagged: a variant with candidate tags to inspect is more actionable
// than an empty one.
func worseTier(a, b model.Tier) model.Tier {
	rank := map[model.Tier]int{model.TierClean: 0, model.TierUntagged: 1, model.TierReview: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func writeTier(path string, rows []mergedRow, withReasons bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"Handle", "Title", "Category", "Tags", "Secondary Flavors"}
	if withReasons {
		header = append(header, "Reasons")
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	for _, row := range rows {
		record := []string{
			row.Handle,
			row.Title,
			row.Category,
			strings.Join(row.Tags, ", "),
			strings.Join(row.SecondaryFlavors, ", "),
		}
		if withReasons {
			record = append(record, strings.Join(row.Reasons, "; "))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}

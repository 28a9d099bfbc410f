package frame

import (
	"path/filepath"
	"strings"

	"github.com/teranos/tessera/errors"
)

// ScanFile opens path with the reader matching its extension.
func ScanFile(path string) (LazyFrame, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return ScanCSV(path, ','), nil
	case ".tsv", ".tab":
		return ScanCSV(path, '\t'), nil
	case ".parquet", ".pq":
		return ScanParquet(path), nil
	case ".json":
		return ScanJSON(path), nil
	default:
		return LazyFrame{}, errors.WithHint(
			errors.NewInvalidRequestError("unsupported file type %q: %s", ext, path),
			"supported formats are .csv, .tsv, .parquet and .json")
	}
}

// PromoteTemporal casts text columns to Datetime when strictly more than half of
// their non-null values parse as timestamps. Every row is read, so a column that
// only starts with dates stays text. Mostly-text columns that happen to contain a
// few dates stay text too.
func PromoteTemporal(lf LazyFrame) (LazyFrame, error) {
	schema, err := lf.Schema()
	if err != nil {
		return LazyFrame{}, err
	}
	var text []string
	for _, f := range schema {
		if f.Type == String {
			text = append(text, f.Name)
		}
	}
	if len(text) == 0 {
		return lf, nil
	}

	nonNull := make([]int, len(text))
	parsed := make([]int, len(text))
	err = lf.Select(text...).Stream(DefaultBatchSize, func(b Batch) error {
		for c := range text {
			for _, v := range b.Columns[c] {
				s, ok := v.(string)
				if !ok || strings.TrimSpace(s) == "" {
					continue
				}
				nonNull[c]++
				if _, ok := ParseTime(s); ok {
					parsed[c]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return LazyFrame{}, err
	}
	for c, name := range text {
		if nonNull[c] > 0 && parsed[c]*2 > nonNull[c] {
			lf = lf.Cast(name, Datetime)
		}
	}
	return lf, nil
}

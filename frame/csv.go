package frame

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/teranos/tessera/errors"
)

// InferSampleRows is how many data rows are read to infer CSV column types.
const InferSampleRows = 10000

type csvSource struct {
	path  string
	delim rune

	once   sync.Once
	schema Schema
	err    error
}

// ScanCSV lazily reads a delimited text file with a header row.
// Column types are inferred from the first InferSampleRows rows; empty cells are null.
func ScanCSV(path string, delim rune) LazyFrame {
	return New(&csvSource{path: path, delim: delim})
}

func (s *csvSource) open() (*os.File, *csv.Reader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, errors.WrapIO(err, "open", s.path)
	}
	r := csv.NewReader(f)
	r.Comma = s.delim
	r.ReuseRecord = true
	r.FieldsPerRecord = -1
	return f, r, nil
}

func (s *csvSource) Schema() (Schema, error) {
	s.once.Do(func() { s.schema, s.err = s.infer() })
	return s.schema, s.err
}

func (s *csvSource) infer() (Schema, error) {
	f, r, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.NewInvalidRequestError("%s: empty file, no header row", s.path)
	}
	if err != nil {
		return nil, errors.WrapIO(err, "read header", s.path)
	}
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" || seen[name] {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name] = true
		names[i] = name
	}

	guesses := make([]typeGuess, len(names))
	for rows := 0; rows < InferSampleRows; rows++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapIO(err, "read", s.path)
		}
		for i := range guesses {
			if i < len(rec) {
				guesses[i].observe(rec[i])
			}
		}
	}

	schema := make(Schema, len(names))
	for i, n := range names {
		schema[i] = Field{Name: n, Type: guesses[i].dtype()}
	}
	return schema, nil
}

// typeGuess narrows a column from Int64 through Float64 and Boolean to String.
type typeGuess struct {
	seen                      bool
	notInt, notFloat, notBool bool
}

func (g *typeGuess) observe(cell string) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return
	}
	g.seen = true
	if !g.notInt {
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			g.notInt = true
		}
	}
	if !g.notFloat {
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			g.notFloat = true
		}
	}
	if !g.notBool {
		switch strings.ToLower(cell) {
		case "true", "false":
		default:
			g.notBool = true
		}
	}
}

func (g typeGuess) dtype() DType {
	switch {
	case !g.seen:
		return String
	case !g.notInt:
		return Int64
	case !g.notFloat:
		return Float64
	case !g.notBool:
		return Boolean
	}
	return String
}

func parseCell(cell string, dtype DType) (any, error) {
	if dtype != String {
		cell = strings.TrimSpace(cell)
	}
	if cell == "" {
		return nil, nil
	}
	switch dtype {
	case Int64:
		return strconv.ParseInt(cell, 10, 64)
	case Float64:
		return strconv.ParseFloat(cell, 64)
	case Boolean:
		return strconv.ParseBool(strings.ToLower(cell))
	case Datetime:
		if t, ok := ParseTime(cell); ok {
			return t, nil
		}
		return nil, errors.Newf("not a timestamp: %q", cell)
	}
	return cell, nil
}

func (s *csvSource) Scan(columns []string, batchSize int, fn func(Batch) error) error {
	schema, err := s.Schema()
	if err != nil {
		return err
	}
	out := schema
	idx := make([]int, len(schema))
	for i := range idx {
		idx[i] = i
	}
	if columns != nil {
		if idx, err = schema.Indices(columns); err != nil {
			return err
		}
		out, _ = schema.Project(columns)
	}

	f, r, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := r.Read(); err != nil {
		return errors.WrapIO(err, "read header", s.path)
	}

	batch := NewBatch(out, batchSize)
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.WrapIO(err, "read", s.path)
		}
		line++
		for c, j := range idx {
			var cell string
			if j < len(rec) {
				cell = rec[j]
			}
			v, err := parseCell(cell, out[c].Type)
			if err != nil {
				return errors.Mark(errors.Wrapf(err, "%s line %d column %q", s.path, line, out[c].Name), errors.ErrInvalidRequest)
			}
			batch.Columns[c] = append(batch.Columns[c], v)
		}
		if batch.Len() >= batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = NewBatch(out, batchSize)
		}
	}
	if batch.Len() > 0 {
		return fn(batch)
	}
	return nil
}

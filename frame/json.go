package frame

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teranos/tessera/errors"
)

// jsonSource reads a JSON array of records. The document is decoded in full on
// first use; there is no streaming reader for a top-level array.
type jsonSource struct {
	path string

	once sync.Once
	mem  *memorySource
	err  error
}

// ScanJSON lazily reads a file holding an array of flat JSON objects. Columns
// appear in the order their keys are first seen. Missing keys and JSON null are
// null; nested objects and arrays are kept as their JSON text.
func ScanJSON(path string) LazyFrame {
	return New(&jsonSource{path: path})
}

func (s *jsonSource) load() (*memorySource, error) {
	s.once.Do(func() {
		var b Batch
		b, s.err = s.read()
		s.mem = &memorySource{batch: b}
	})
	return s.mem, s.err
}

func (s *jsonSource) Schema() (Schema, error) {
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return m.Schema()
}

func (s *jsonSource) CountRows() (int64, error) {
	m, err := s.load()
	if err != nil {
		return 0, err
	}
	return m.CountRows()
}

func (s *jsonSource) Scan(columns []string, batchSize int, fn func(Batch) error) error {
	m, err := s.load()
	if err != nil {
		return err
	}
	return m.Scan(columns, batchSize, fn)
}

// The YAML node API keeps key order and resolves JSON scalars to typed tags.
func (s *jsonSource) read() (Batch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Batch{}, errors.WrapIO(err, "read", s.path)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Batch{}, errors.WrapSerialization(err, s.path)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Batch{}, errors.NewInvalidRequestError("%s: empty JSON document", s.path)
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return Batch{}, errors.NewInvalidRequestError("%s: expected an array of records", s.path)
	}

	var names []string
	index := map[string]int{}
	guesses := []jsonGuess{}
	rows := make([]map[int]any, 0, len(root.Content))
	for i, rec := range root.Content {
		if rec.Kind != yaml.MappingNode {
			return Batch{}, errors.NewInvalidRequestError("%s: record %d is not an object", s.path, i)
		}
		row := make(map[int]any, len(rec.Content)/2)
		for k := 0; k+1 < len(rec.Content); k += 2 {
			name := rec.Content[k].Value
			c, ok := index[name]
			if !ok {
				c = len(names)
				index[name] = c
				names = append(names, name)
				guesses = append(guesses, jsonGuess{})
			}
			v, dtype, err := jsonValue(rec.Content[k+1])
			if err != nil {
				return Batch{}, errors.Wrapf(err, "%s record %d key %q", s.path, i, name)
			}
			if v != nil {
				guesses[c].observe(dtype)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}

	schema := make(Schema, len(names))
	for c, n := range names {
		schema[c] = Field{Name: n, Type: guesses[c].dtype()}
	}
	b := NewBatch(schema, len(rows))
	for _, row := range rows {
		for c := range schema {
			b.Columns[c] = append(b.Columns[c], CastValue(row[c], schema[c].Type))
		}
	}
	return b, nil
}

func jsonValue(n *yaml.Node) (any, DType, error) {
	if n.Kind != yaml.ScalarNode {
		var nested any
		if err := n.Decode(&nested); err != nil {
			return nil, String, errors.WrapSerialization(err, "nested value")
		}
		text, err := json.Marshal(nested)
		if err != nil {
			return nil, String, errors.WrapSerialization(err, "nested value")
		}
		return string(text), String, nil
	}
	switch n.ShortTag() {
	case "!!null":
		return nil, String, nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		return b, Boolean, err
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			return i, Int64, nil
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		return f, Float64, err
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		return f, Float64, err
	}
	return n.Value, String, nil
}

// jsonGuess widens Int64 to Float64 and anything else mixed to String.
type jsonGuess struct {
	seen bool
	typ  DType
}

func (g *jsonGuess) observe(d DType) {
	switch {
	case !g.seen:
		g.seen, g.typ = true, d
	case g.typ == d:
	case g.typ.IsNumeric() && d.IsNumeric():
		g.typ = Float64
	default:
		g.typ = String
	}
}

func (g jsonGuess) dtype() DType {
	if !g.seen {
		return String
	}
	return g.typ
}

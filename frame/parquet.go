package frame

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/types"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/teranos/tessera/errors"
)

// SchemaMetadataKey is the footer key-value entry holding the logical schema as JSON.
// Physical columns are always named c0..cN so any logical name round-trips.
const SchemaMetadataKey = "tessera.schema"

type parquetSource struct {
	path string

	once     sync.Once
	schema   Schema
	physical []string
	convert  []func(any) any
	rows     int64
	err      error
}

// ScanParquet lazily reads a flat parquet file, pruning unselected columns.
func ScanParquet(path string) LazyFrame {
	return New(&parquetSource{path: path})
}

func (s *parquetSource) open() (source interface{ Close() error }, pr *reader.ParquetReader, err error) {
	fr, err := local.NewLocalFileReader(s.path)
	if err != nil {
		return nil, nil, errors.WrapIO(err, "open", s.path)
	}
	pr, err = reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		fr.Close()
		return nil, nil, errors.WrapIO(err, "read parquet footer", s.path)
	}
	return fr, pr, nil
}

func (s *parquetSource) load() error {
	s.once.Do(func() {
		fr, pr, err := s.open()
		if err != nil {
			s.err = err
			return
		}
		defer fr.Close()
		defer pr.ReadStop()

		s.rows = pr.GetNumRows()
		var logical Schema
		for _, kv := range pr.Footer.GetKeyValueMetadata() {
			if kv.GetKey() == SchemaMetadataKey && kv.IsSetValue() {
				if err := json.Unmarshal([]byte(kv.GetValue()), &logical); err != nil {
					s.err = errors.WrapSerialization(err, s.path+" schema metadata")
					return
				}
			}
		}

		for i, el := range pr.Footer.Schema {
			if i == 0 {
				continue
			}
			if el.GetNumChildren() > 0 {
				s.err = errors.NewInvalidRequestError("%s: nested column %q is not supported", s.path, el.GetName())
				return
			}
			name := pr.SchemaHandler.Infos[i].ExName
			s.physical = append(s.physical, name)
			dtype, conv := physicalToLogical(el)
			s.schema = append(s.schema, Field{Name: name, Type: dtype})
			s.convert = append(s.convert, conv)
		}

		if logical != nil {
			if len(logical) != len(s.schema) {
				s.err = errors.WrapSerialization(
					errors.Newf("schema metadata has %d columns, file has %d", len(logical), len(s.schema)),
					s.path)
				return
			}
			for i, f := range logical {
				s.schema[i] = f
				if f.Type == Datetime {
					s.convert[i] = millisToTime
				}
			}
		}
	})
	return s.err
}

func millisToTime(v any) any {
	if ms, ok := v.(int64); ok {
		return time.UnixMilli(ms).UTC()
	}
	return nil
}

func physicalToLogical(el *parquet.SchemaElement) (DType, func(any) any) {
	identity := func(v any) any { return v }
	converted := parquet.ConvertedType(-1)
	if el.IsSetConvertedType() {
		converted = el.GetConvertedType()
	}

	switch el.GetType() {
	case parquet.Type_BOOLEAN:
		return Boolean, identity
	case parquet.Type_INT32:
		if converted == parquet.ConvertedType_DATE {
			return Datetime, func(v any) any {
				if d, ok := v.(int32); ok {
					return time.Unix(int64(d)*86400, 0).UTC()
				}
				return nil
			}
		}
		return Int64, func(v any) any {
			if x, ok := v.(int32); ok {
				return int64(x)
			}
			return nil
		}
	case parquet.Type_INT64:
		switch converted {
		case parquet.ConvertedType_TIMESTAMP_MILLIS:
			return Datetime, millisToTime
		case parquet.ConvertedType_TIMESTAMP_MICROS:
			return Datetime, func(v any) any {
				if us, ok := v.(int64); ok {
					return time.UnixMicro(us).UTC()
				}
				return nil
			}
		}
		return Int64, identity
	case parquet.Type_INT96:
		return Datetime, func(v any) any {
			if raw, ok := v.(string); ok {
				return types.INT96ToTime(raw).UTC()
			}
			return nil
		}
	case parquet.Type_FLOAT:
		return Float64, func(v any) any {
			if x, ok := v.(float32); ok {
				return float64(x)
			}
			return nil
		}
	case parquet.Type_DOUBLE:
		return Float64, identity
	}
	return String, func(v any) any {
		if v == nil {
			return nil
		}
		return fmt.Sprint(v)
	}
}

func (s *parquetSource) Schema() (Schema, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.schema, nil
}

func (s *parquetSource) CountRows() (int64, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.rows, nil
}

func (s *parquetSource) Scan(columns []string, batchSize int, fn func(Batch) error) error {
	if err := s.load(); err != nil {
		return err
	}
	out := s.schema
	idx := make([]int, len(s.schema))
	for i := range idx {
		idx[i] = i
	}
	if columns != nil {
		var err error
		if idx, err = s.schema.Indices(columns); err != nil {
			return err
		}
		out, _ = s.schema.Project(columns)
	}

	fr, pr, err := s.open()
	if err != nil {
		return err
	}
	defer fr.Close()
	defer pr.ReadStop()

	root := pr.SchemaHandler.GetRootExName()
	paths := make([]string, len(idx))
	for c, j := range idx {
		paths[c] = root + common.PAR_GO_PATH_DELIMITER + s.physical[j]
	}

	for remaining := pr.GetNumRows(); remaining > 0; {
		n := int64(batchSize)
		if n > remaining {
			n = remaining
		}
		b := Batch{Schema: out, Columns: make([][]any, len(idx))}
		for c, j := range idx {
			values, _, _, err := pr.ReadColumnByPath(paths[c], n)
			if err != nil {
				return errors.WrapIO(err, "read column "+out[c].Name, s.path)
			}
			col := make([]any, len(values))
			for r, v := range values {
				if v != nil {
					col[r] = s.convert[j](v)
				}
			}
			b.Columns[c] = col
		}
		remaining -= n
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func physicalTag(i int, dtype DType) string {
	var t string
	switch dtype {
	case Int64:
		t = "type=INT64"
	case Float64:
		t = "type=DOUBLE"
	case Boolean:
		t = "type=BOOLEAN"
	case Datetime:
		t = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		t = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return fmt.Sprintf("name=c%d, %s, repetitiontype=OPTIONAL", i, t)
}

func toPhysical(v any, dtype DType) any {
	if v == nil {
		return nil
	}
	switch dtype {
	case Datetime:
		if t, ok := CastValue(v, Datetime).(time.Time); ok {
			return t.UnixMilli()
		}
		return nil
	case String:
		if s, ok := v.(string); ok {
			return s
		}
	case Int64:
		if x, ok := v.(int64); ok {
			return x
		}
	case Float64:
		if x, ok := v.(float64); ok {
			return x
		}
	case Boolean:
		if x, ok := v.(bool); ok {
			return x
		}
	}
	return CastValue(v, dtype)
}

// WriteParquet streams lf into a new parquet file at path, flushing a row group
// every rowGroupSize rows. It returns the number of rows written. On failure the
// file at path may be partial; callers write to a temporary name and rename.
func WriteParquet(lf LazyFrame, path string, rowGroupSize int) (int64, error) {
	if rowGroupSize <= 0 {
		return 0, errors.NewInvalidRequestError("row group size must be positive, got %d", rowGroupSize)
	}
	schema, err := lf.Schema()
	if err != nil {
		return 0, err
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return 0, errors.WrapSerialization(err, "frame schema")
	}
	md := make([]string, len(schema))
	for i, f := range schema {
		md[i] = physicalTag(i, f.Type)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, errors.WrapIO(err, "create", path)
	}
	closed := false
	defer func() {
		if !closed {
			fw.Close()
		}
	}()

	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		return 0, errors.Wrapf(err, "parquet writer for %s", path)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int64
	pending := 0
	err = lf.Stream(rowGroupSize, func(b Batch) error {
		for r := 0; r < b.Len(); r++ {
			rec := make([]interface{}, len(schema))
			for c := range schema {
				rec[c] = toPhysical(b.Columns[c][r], schema[c].Type)
			}
			if err := pw.Write(rec); err != nil {
				return errors.WrapIO(err, "write row", path)
			}
			pending++
			if pending >= rowGroupSize {
				if err := pw.Flush(true); err != nil {
					return errors.WrapIO(err, "flush row group", path)
				}
				pending = 0
			}
		}
		rows += int64(b.Len())
		return nil
	})
	if err != nil {
		return 0, err
	}

	value := string(encoded)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{
		Key:   SchemaMetadataKey,
		Value: &value,
	})
	if err := pw.WriteStop(); err != nil {
		return 0, errors.WrapIO(err, "finish", path)
	}
	closed = true
	if err := fw.Close(); err != nil {
		return 0, errors.WrapIO(err, "close", path)
	}
	return rows, nil
}

package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
)

var (
	comparison = regexp.MustCompile("^\\s*(`[^`]+`|\"[^\"]+\"|[^\\s<>=!]+)\\s*(==|!=|>=|<=|=|>|<)\\s*(.+?)\\s*$")
	nullCheck  = regexp.MustCompile("(?i)^\\s*(`[^`]+`|\"[^\"]+\"|\\S+)\\s+is\\s+(not\\s+)?null\\s*$")
)

// condition is a parsed "column op literal" filter.
type condition struct {
	column  string
	op      string
	literal string
}

func parseCondition(s string) (condition, error) {
	if m := nullCheck.FindStringSubmatch(s); m != nil {
		op := "is null"
		if m[2] != "" {
			op = "is not null"
		}
		return condition{column: unquoteIdent(m[1]), op: op}, nil
	}
	m := comparison.FindStringSubmatch(s)
	if m == nil {
		return condition{}, errors.NewInvalidRequestError("cannot parse condition %q: want <column> <op> <value>", s)
	}
	op := m[2]
	if op == "=" {
		op = "=="
	}
	return condition{column: unquoteIdent(m[1]), op: op, literal: m[3]}, nil
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && (s[0] == '`' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// bind resolves the condition against a schema, typing the literal by the column.
func (c condition) bind(schema frame.Schema) (func([]any) bool, error) {
	i := schema.Index(c.column)
	if i < 0 {
		return nil, errors.NewInvalidRequestError("filter column %q not found", c.column)
	}
	switch c.op {
	case "is null":
		return func(row []any) bool { return row[i] == nil }, nil
	case "is not null":
		return func(row []any) bool { return row[i] != nil }, nil
	}

	literal := c.literal
	if unq, err := strconv.Unquote(literal); err == nil {
		literal = unq
	} else if len(literal) >= 2 && literal[0] == '\'' && literal[len(literal)-1] == '\'' {
		literal = literal[1 : len(literal)-1]
	}
	want := frame.CastValue(literal, schema[i].Type)
	if want == nil {
		return nil, errors.NewInvalidRequestError("value %q is not a valid %s for column %q", c.literal, schema[i].Type, c.column)
	}

	op := c.op
	return func(row []any) bool {
		v := row[i]
		if v == nil {
			return false
		}
		cmp := frame.Compare(v, want)
		switch op {
		case "==":
			return cmp == 0
		case "!=":
			return cmp != 0
		case ">":
			return cmp > 0
		case ">=":
			return cmp >= 0
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		}
		return false
	}, nil
}

type filterRows struct {
	Condition string `json:"condition"`
	parsed    condition
}

func newFilterRows(params map[string]any) (Transform, error) {
	var t filterRows
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if strings.TrimSpace(t.Condition) == "" {
		return nil, errors.New("missing 'condition' parameter")
	}
	parsed, err := parseCondition(t.Condition)
	if err != nil {
		return nil, err
	}
	t.parsed = parsed
	return &t, nil
}

func (t *filterRows) Name() string { return TypeFilterRows }

func (t *filterRows) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	return lf.Filter(t.parsed.bind), nil
}

func (t *filterRows) Parameters() map[string]any {
	return map[string]any{"condition": t.Condition}
}

func (t *filterRows) Description() string {
	return fmt.Sprintf("Filter rows where: %s", t.Condition)
}

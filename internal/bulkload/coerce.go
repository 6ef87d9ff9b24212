package bulkload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lychevd/ETL/internal/domain"
)

type valueClass int

const (
	classText valueClass = iota
	classInt
	classFloat
	classBool
	classTime
)

var classTokens = map[string]valueClass{
	"int": classInt, "int2": classInt, "int4": classInt, "int8": classInt,
	"integer": classInt, "bigint": classInt, "smallint": classInt,
	"tinyint": classInt, "mediumint": classInt, "serial": classInt, "bigserial": classInt,
	"numeric": classFloat, "decimal": classFloat, "real": classFloat,
	"double": classFloat, "float": classFloat, "float4": classFloat, "float8": classFloat,
	"bool": classBool, "boolean": classBool,
	"timestamp": classTime, "timestamptz": classTime, "date": classTime, "datetime": classTime,
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceRow converts raw string fields into Go values matching the
// target column types, so drivers bind them correctly. Empty strings
// become NULL for non-text columns. Fields that are not strings pass
// through untouched.
func coerceRow(schema domain.TableSchema, raw domain.Row) (domain.Row, error) {
	if len(raw) != len(schema.Columns) {
		return nil, fmt.Errorf("expected %d field(s), got %d", len(schema.Columns), len(raw))
	}
	out := make(domain.Row, len(raw))
	for i, field := range raw {
		s, ok := field.(string)
		if !ok {
			out[i] = field
			continue
		}
		col := schema.Columns[i]
		v, err := coerceValue(col.Type, s)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceValue(colType, s string) (any, error) {
	class := classOf(colType)
	if class == classText {
		return s, nil
	}
	if s == "" {
		return nil, nil
	}
	switch class {
	case classInt:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		return n, nil
	case classFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	case classBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", s)
		}
		return b, nil
	case classTime:
		trimmed := strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp", s)
	}
	return s, nil
}

// classOf matches full type-name tokens so names like "character
// varying" or "timestamp without time zone" classify correctly.
func classOf(colType string) valueClass {
	for _, token := range strings.FieldsFunc(strings.ToLower(colType), isTypeSep) {
		if class, ok := classTokens[token]; ok {
			return class
		}
	}
	return classText
}

func isTypeSep(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}

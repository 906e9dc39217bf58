package pipeline

import (
	"fmt"
	"sort"
)

// Row is a single record keyed by column name. Steps mutate it in place.
type Row map[string]any

// Step is one stage of feature preparation.
type Step interface {
	Name() string
	Apply(row Row, trace *Trace) error
}

// Trace records what preparation did to one record.
type Trace struct {
	Dropped   []string `json:"dropped,omitempty"`
	Imputed   []string `json:"imputed,omitempty"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// DropFields removes fields that must never reach the model.
type DropFields struct {
	fields map[string]struct{}
}

func NewDropFields(fields []string) *DropFields {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &DropFields{fields: set}
}

func (d *DropFields) Name() string { return "drop_fields" }

func (d *DropFields) Apply(row Row, trace *Trace) error {
	for _, key := range sortedKeys(row) {
		if _, ok := d.fields[key]; ok {
			delete(row, key)
			trace.Dropped = append(trace.Dropped, key)
		}
	}
	return nil
}

// ImputeNumeric coerces numeric columns, falling back to the column's fill
// value when the field is absent or does not parse.
type ImputeNumeric struct {
	columns []string
	fill    map[string]float64
}

func NewImputeNumeric(columns []string, fill map[string]float64) *ImputeNumeric {
	return &ImputeNumeric{columns: columns, fill: fill}
}

func (s *ImputeNumeric) Name() string { return "impute_numeric" }

func (s *ImputeNumeric) Apply(row Row, trace *Trace) error {
	for _, col := range s.columns {
		if f, ok := ToFloat(row[col]); ok {
			row[col] = f
			continue
		}
		row[col] = s.fill[col]
		trace.Imputed = append(trace.Imputed, col)
	}
	return nil
}

const DefaultCategoryFill = "missing"

// ImputeCategorical stringifies categorical columns, falling back to the
// column's fill value when the field is absent or null.
type ImputeCategorical struct {
	columns []string
	fill    map[string]string
}

func NewImputeCategorical(columns []string, fill map[string]string) *ImputeCategorical {
	return &ImputeCategorical{columns: columns, fill: fill}
}

func (s *ImputeCategorical) Name() string { return "impute_categorical" }

func (s *ImputeCategorical) Apply(row Row, trace *Trace) error {
	for _, col := range s.columns {
		if v, ok := ToCategory(row[col]); ok {
			row[col] = v
			continue
		}
		fill, ok := s.fill[col]
		if !ok {
			fill = DefaultCategoryFill
		}
		row[col] = fill
		trace.Imputed = append(trace.Imputed, col)
	}
	return nil
}

// EncodingMode selects how categorical columns become indicator columns.
type EncodingMode string

const (
	// EncodingKnownLevels emits <col>_<value> for the value present. Alignment
	// keeps it only when training produced that column, so the level dropped
	// at training time encodes as all zeros.
	EncodingKnownLevels EncodingMode = "known_levels"
	// EncodingSingleRow drops the first level observed in the row. A single
	// row has one level, so no indicator is ever emitted.
	EncodingSingleRow EncodingMode = "single_row"
)

func ParseEncodingMode(s string) (EncodingMode, error) {
	switch EncodingMode(s) {
	case "", EncodingKnownLevels:
		return EncodingKnownLevels, nil
	case EncodingSingleRow:
		return EncodingSingleRow, nil
	default:
		return "", fmt.Errorf("unknown encoding mode %q", s)
	}
}

// OneHot replaces each categorical column with indicator columns.
type OneHot struct {
	columns []string
	mode    EncodingMode
}

func NewOneHot(columns []string, mode EncodingMode) *OneHot {
	return &OneHot{columns: columns, mode: mode}
}

func (s *OneHot) Name() string { return "one_hot" }

func (s *OneHot) Apply(row Row, _ *Trace) error {
	for _, col := range s.columns {
		v, present := row[col]
		delete(row, col)
		if !present || s.mode == EncodingSingleRow {
			continue
		}
		level, ok := v.(string)
		if !ok {
			return fmt.Errorf("categorical column %q holds %T, expected string", col, v)
		}
		row[col+"_"+level] = 1.0
	}
	return nil
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

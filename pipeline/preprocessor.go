package pipeline

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"

	"asdmodel/ml"
)

// DefaultLeakageFields name inputs that carry the prediction target.
var DefaultLeakageFields = []string{"screening_done", "screening_result"}

// Options tune the preprocessor. A nil LeakageFields means
// DefaultLeakageFields; an empty non-nil slice drops nothing.
type Options struct {
	LeakageFields []string
	Encoding      EncodingMode
}

func DefaultOptions() Options {
	return Options{
		LeakageFields: append([]string(nil), DefaultLeakageFields...),
		Encoding:      EncodingKnownLevels,
	}
}

// Preprocessor turns a raw record into the exact vector the model was
// trained on. It holds no per-request state and is safe for concurrent use.
type Preprocessor struct {
	steps   []Step
	columns []string
}

func NewPreprocessor(bundle *ml.Bundle, opts Options) *Preprocessor {
	if opts.Encoding == "" {
		opts.Encoding = EncodingKnownLevels
	}
	if opts.LeakageFields == nil {
		opts.LeakageFields = DefaultLeakageFields
	}
	return &Preprocessor{
		steps: []Step{
			NewDropFields(opts.LeakageFields),
			NewImputeNumeric(bundle.NumCols, bundle.NumFill),
			NewImputeCategorical(bundle.CatCols, bundle.CatFill),
			NewOneHot(bundle.CatCols, opts.Encoding),
		},
		columns: bundle.Columns,
	}
}

func (p *Preprocessor) Columns() []string {
	return p.columns
}

// Transform runs every step on a copy of raw and aligns the result.
func (p *Preprocessor) Transform(raw map[string]any) ([]float64, *Trace, error) {
	row := make(Row, len(raw))
	for k, v := range raw {
		row[k] = v
	}

	trace := &Trace{}
	for _, step := range p.steps {
		if err := step.Apply(row, trace); err != nil {
			return nil, trace, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	vector, err := Align(row, p.columns, trace)
	if err != nil {
		return nil, trace, err
	}
	return vector, trace, nil
}

// Align reindexes row to columns. Columns absent from row are zero, fields
// not in columns are dropped. A null value becomes NaN so the model takes
// its missing-value branch; any other value that is not numeric is an error.
// Names on both sides are compared in NFC form.
func Align(row Row, columns []string, trace *Trace) ([]float64, error) {
	normalized := make(map[string]any, len(row))
	for _, key := range sortedKeys(row) {
		normalized[norm.NFC.String(key)] = row[key]
	}

	index := make(map[string]struct{}, len(columns))
	vector := make([]float64, len(columns))
	for i, col := range columns {
		key := norm.NFC.String(col)
		index[key] = struct{}{}
		v, ok := normalized[key]
		if !ok {
			continue
		}
		if v == nil {
			vector[i] = math.NaN()
			continue
		}
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("column %q: could not convert %v to float", col, v)
		}
		vector[i] = f
	}
	if trace != nil {
		for _, key := range sortedKeys(row) {
			if _, ok := index[norm.NFC.String(key)]; !ok {
				trace.Unmatched = append(trace.Unmatched, key)
			}
		}
	}
	return vector, nil
}

// Package mltest provides artifact fixtures and a recording model for tests.
package mltest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"asdmodel/ml"
)

// ModelJSON is a two tree binary:logistic dump over Columns. age_months < 48
// adds 0.5 to the margin (else -0.5); sex_m >= 0.5 adds 1 (else -1).
const ModelJSON = `{
  "objective": "binary:logistic",
  "base_score": 0.5,
  "feature_names": ["age_months", "eye_contact_age_months", "sex_m", "residence_urban"],
  "trees": [
    {"nodeid": 0, "split": "age_months", "split_condition": 48, "yes": 1, "no": 2, "missing": 1,
     "children": [{"nodeid": 1, "leaf": 0.5}, {"nodeid": 2, "leaf": -0.5}]},
    {"nodeid": 0, "split": "sex_m", "split_condition": 0.5, "yes": 1, "no": 2, "missing": 1,
     "children": [{"nodeid": 1, "leaf": -1}, {"nodeid": 2, "leaf": 1}]}
  ]
}`

var (
	Columns = []string{"age_months", "eye_contact_age_months", "sex_m", "residence_urban"}
	NumCols = []string{"age_months", "eye_contact_age_months"}
	CatCols = []string{"sex", "residence"}
	NumFill = map[string]float64{"age_months": 36, "eye_contact_age_months": 6}
	CatFill = map[string]string{"sex": "missing", "residence": "missing"}
)

// WriteArtifacts writes the fixture artifact set to dir.
func WriteArtifacts(t testing.TB, dir string) ml.ArtifactPaths {
	t.Helper()
	paths := ml.DefaultArtifactPaths()
	paths.Dir = dir

	write := func(name string, payload []byte) {
		if err := os.WriteFile(filepath.Join(dir, name), payload, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	encode := func(name string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		write(name, payload)
	}

	write(paths.Model, []byte(ModelJSON))
	encode(paths.Columns, Columns)
	encode(paths.NumCols, NumCols)
	encode(paths.CatCols, CatCols)
	encode(paths.NumFill, NumFill)
	encode(paths.CatFill, CatFill)
	return paths
}

// Bundle returns the fixture bundle backed by the given model.
func Bundle(model ml.Scorer) *ml.Bundle {
	return &ml.Bundle{
		Model:   model,
		Columns: append([]string(nil), Columns...),
		NumCols: append([]string(nil), NumCols...),
		CatCols: append([]string(nil), CatCols...),
		NumFill: copyMap(NumFill),
		CatFill: copyMap(CatFill),
	}
}

// RecordingScorer returns a fixed score and keeps every vector it was given.
type RecordingScorer struct {
	Result float64
	Err    error
	Width  int

	mu    sync.Mutex
	calls [][]float64
}

func NewRecordingScorer(result float64) *RecordingScorer {
	return &RecordingScorer{Result: result, Width: len(Columns)}
}

func (r *RecordingScorer) Score(features []float64) (float64, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]float64(nil), features...))
	r.mu.Unlock()
	return r.Result, r.Err
}

func (r *RecordingScorer) NumFeatures() int {
	return r.Width
}

func (r *RecordingScorer) Calls() [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]float64(nil), r.calls...)
}

// Last returns the most recent vector keyed by Columns.
func (r *RecordingScorer) Last() map[string]float64 {
	calls := r.Calls()
	if len(calls) == 0 {
		return nil
	}
	last := calls[len(calls)-1]
	named := make(map[string]float64, len(last))
	for i, v := range last {
		if i < len(Columns) {
			named[Columns[i]] = v
		}
	}
	return named
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

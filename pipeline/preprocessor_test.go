package pipeline

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"asdmodel/ml/mltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPreprocessor(mode EncodingMode) *Preprocessor {
	opts := DefaultOptions()
	opts.Encoding = mode
	return NewPreprocessor(mltest.Bundle(mltest.NewRecordingScorer(0.5)), opts)
}

func named(vector []float64) map[string]float64 {
	out := make(map[string]float64, len(vector))
	for i, v := range vector {
		out[mltest.Columns[i]] = v
	}
	return out
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestTransformScenario(t *testing.T) {
	p := newTestPreprocessor(EncodingKnownLevels)

	vector, trace, err := p.Transform(decode(t, `{"age_months": 5, "sex": "m"}`))
	require.NoError(t, err)
	require.Len(t, vector, len(mltest.Columns))

	got := named(vector)
	assert.Equal(t, 5.0, got["age_months"])
	assert.Equal(t, 6.0, got["eye_contact_age_months"])
	assert.Equal(t, 1.0, got["sex_m"])
	assert.Equal(t, 0.0, got["residence_urban"])
	assert.ElementsMatch(t, []string{"eye_contact_age_months", "residence"}, trace.Imputed)
	assert.Equal(t, []string{"residence_missing"}, trace.Unmatched)
}

func TestTransformDropsLeakageFields(t *testing.T) {
	p := newTestPreprocessor(EncodingKnownLevels)

	_, trace, err := p.Transform(decode(t, `{"age_months": 5, "screening_done": 1, "screening_result": 2}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"screening_done", "screening_result"}, trace.Dropped)
	assert.NotContains(t, trace.Unmatched, "screening_done")
	assert.NotContains(t, trace.Unmatched, "screening_result")
}

func TestTransformLeakageFieldInSchemaIsZero(t *testing.T) {
	bundle := mltest.Bundle(mltest.NewRecordingScorer(0.5))
	bundle.Columns = append(bundle.Columns, "screening_result")
	p := NewPreprocessor(bundle, DefaultOptions())

	vector, _, err := p.Transform(map[string]any{"screening_result": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, vector[len(vector)-1])
}

func TestTransformNumericImputation(t *testing.T) {
	p := newTestPreprocessor(EncodingKnownLevels)

	tests := []struct {
		name string
		body string
		want float64
	}{
		{"absent", `{}`, 36},
		{"null", `{"age_months": null}`, 36},
		{"non numeric", `{"age_months": "abc"}`, 36},
		{"object", `{"age_months": {"v": 1}}`, 36},
		{"numeric string", `{"age_months": " 12 "}`, 12},
		{"float", `{"age_months": 12.5}`, 12.5},
		{"bool", `{"age_months": true}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vector, _, err := p.Transform(decode(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, named(vector)["age_months"])
		})
	}
}

func TestTransformNumericDefaultWithoutFill(t *testing.T) {
	bundle := mltest.Bundle(mltest.NewRecordingScorer(0.5))
	delete(bundle.NumFill, "age_months")
	p := NewPreprocessor(bundle, DefaultOptions())

	vector, _, err := p.Transform(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, vector[0])
}

func TestTransformCategoricalImputation(t *testing.T) {
	bundle := mltest.Bundle(mltest.NewRecordingScorer(0.5))
	bundle.Columns = append(bundle.Columns, "sex_unknown", "residence_missing", "residence_1", "residence_2.0", "residence_True")
	bundle.CatFill["sex"] = "unknown"
	p := NewPreprocessor(bundle, DefaultOptions())

	idx := func(col string) int {
		for i, c := range bundle.Columns {
			if c == col {
				return i
			}
		}
		t.Fatalf("no column %s", col)
		return -1
	}

	tests := []struct {
		name string
		body string
		hot  []string
	}{
		{"absent uses fill", `{}`, []string{"sex_unknown", "residence_missing"}},
		{"null uses fill", `{"sex": null, "residence": null}`, []string{"sex_unknown", "residence_missing"}},
		{"integer stringified", `{"sex": "m", "residence": 1}`, []string{"sex_m", "residence_1"}},
		{"float stringified", `{"sex": "m", "residence": 2.0}`, []string{"sex_m", "residence_2.0"}},
		{"bool stringified", `{"sex": "m", "residence": true}`, []string{"sex_m", "residence_True"}},
		{"unknown level is all zero", `{"sex": "x", "residence": "rural"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vector, _, err := p.Transform(decode(t, tt.body))
			require.NoError(t, err)

			want := make([]float64, len(bundle.Columns))
			for i := range want {
				want[i] = vector[i]
			}
			for _, col := range []string{"sex_m", "residence_urban", "sex_unknown", "residence_missing", "residence_1", "residence_2.0", "residence_True"} {
				want[idx(col)] = 0
			}
			for _, col := range tt.hot {
				want[idx(col)] = 1
			}
			assert.Equal(t, want, vector)
		})
	}
}

func TestTransformSingleRowEncodingEmitsNoIndicators(t *testing.T) {
	p := newTestPreprocessor(EncodingSingleRow)

	vector, _, err := p.Transform(decode(t, `{"age_months": 5, "sex": "m", "residence": "urban"}`))
	require.NoError(t, err)
	got := named(vector)
	assert.Equal(t, 0.0, got["sex_m"])
	assert.Equal(t, 0.0, got["residence_urban"])
	assert.Equal(t, 5.0, got["age_months"])
}

func TestTransformAlignsToSchemaOrder(t *testing.T) {
	p := newTestPreprocessor(EncodingKnownLevels)

	bodies := []string{
		`{}`,
		`{"residence": "urban", "sex": "m", "age_months": 30, "eye_contact_age_months": 4}`,
		`{"extra": 1, "other": "x", "age_months": 2}`,
	}
	for _, body := range bodies {
		vector, _, err := p.Transform(decode(t, body))
		require.NoError(t, err)
		assert.Len(t, vector, len(p.Columns()))
	}

	vector, _, err := p.Transform(decode(t, bodies[1]))
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 4, 1, 1}, vector)
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	p := newTestPreprocessor(EncodingKnownLevels)
	raw := map[string]any{"sex": "m", "screening_done": 1.0}

	_, _, err := p.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sex": "m", "screening_done": 1.0}, raw)
}

func TestAlignPassthroughColumns(t *testing.T) {
	columns := []string{"a", "b", "c"}

	vector, err := Align(Row{"a": "2", "b": nil}, columns, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, vector[0])
	assert.True(t, math.IsNaN(vector[1]))
	assert.Equal(t, 0.0, vector[2])

	_, err = Align(Row{"a": "two"}, columns, nil)
	assert.Error(t, err)
}

func TestTransformMatchesDecomposedSchemaLevel(t *testing.T) {
	bundle := mltest.Bundle(mltest.NewRecordingScorer(0.5))
	decomposed := "Mu\u0308nchen"
	bundle.Columns = []string{"age_months", "residence_" + decomposed}
	p := NewPreprocessor(bundle, DefaultOptions())

	for _, value := range []string{decomposed, "M\u00fcnchen"} {
		vector, trace, err := p.Transform(map[string]any{"age_months": 30, "residence": value})
		require.NoError(t, err)
		assert.Equal(t, []float64{30, 1}, vector, "%q", value)
		assert.NotContains(t, trace.Unmatched, "residence_M\u00fcnchen")
	}
}

func TestAlignComparesNamesInNFC(t *testing.T) {
	vector, err := Align(Row{"caf\u00e9": 1.0}, []string{"cafe\u0301"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, vector)
}

func TestParseEncodingMode(t *testing.T) {
	mode, err := ParseEncodingMode("")
	require.NoError(t, err)
	assert.Equal(t, EncodingKnownLevels, mode)

	mode, err = ParseEncodingMode("single_row")
	require.NoError(t, err)
	assert.Equal(t, EncodingSingleRow, mode)

	_, err = ParseEncodingMode("drop_first")
	assert.Error(t, err)
}

func TestToCategory(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{math.NaN(), "", false},
		{"m", "m", true},
		{json.Number("3"), "3", true},
		{json.Number("3.0"), "3.0", true},
		{json.Number("1e2"), "100.0", true},
		{3.0, "3.0", true},
		{0.25, "0.25", true},
		{7, "7", true},
		{false, "False", true},
		{1234567.5, "1234567.5", true},
		{json.Number("1234567.5"), "1234567.5", true},
		{0.0001, "0.0001", true},
		{0.00001, "1e-05", true},
		{1e16, "1e+16", true},
		{-2.5e20, "-2.5e+20", true},
		{"e\u0301", "\u00e9", true},
	}
	for _, tt := range tests {
		got, ok := ToCategory(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

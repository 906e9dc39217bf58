package ml

// Scorer is a fitted binary classifier. Implementations are immutable after
// load and safe for concurrent use.
type Scorer interface {
	Score(features []float64) (float64, error)
	NumFeatures() int
}

// FeatureNamer is implemented by models that carry the column names they were
// trained on.
type FeatureNamer interface {
	FeatureNames() []string
}

package ml

import (
	"fmt"
)

const (
	ModelTypeXGBoostJSON = "xgboost_json"
)

func LoadModel(modelType, path string) (Scorer, error) {
	switch modelType {
	case "", ModelTypeXGBoostJSON:
		model := &TreeEnsemble{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

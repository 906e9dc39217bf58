package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const (
	ObjectiveBinaryLogistic = "binary:logistic"
	ObjectiveRegLogistic    = "reg:logistic"
	ObjectiveBinaryLogitRaw = "binary:logitraw"

	defaultBaseScore = 0.5
)

// TreeEnsemble scores a gradient-boosted tree dump as written by XGBoost's
// get_dump(dump_format="json"), wrapped with the booster's objective and
// base score. Only binary objectives load; the score is always the positive
// class probability, so binary:logitraw margins pass through the sigmoid too.
type TreeEnsemble struct {
	objective    string
	baseMargin   float64
	featureNames []string
	numFeatures  int
	trees        [][]treeNode
}

type treeNode struct {
	FeatureIdx int
	Threshold  float64
	Yes        int
	No         int
	Missing    int
	Value      float64
	IsLeaf     bool
}

type ensembleFile struct {
	Objective    string     `json:"objective"`
	BaseScore    *float64   `json:"base_score"`
	FeatureNames []string   `json:"feature_names"`
	NumFeatures  int        `json:"num_features"`
	Trees        []dumpNode `json:"trees"`
}

type dumpNode struct {
	NodeID         int        `json:"nodeid"`
	Split          string     `json:"split"`
	SplitCondition float64    `json:"split_condition"`
	Yes            int        `json:"yes"`
	No             int        `json:"no"`
	Missing        int        `json:"missing"`
	Leaf           *float64   `json:"leaf"`
	Children       []dumpNode `json:"children"`
}

func (te *TreeEnsemble) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return te.UnmarshalJSON(payload)
}

func (te *TreeEnsemble) UnmarshalJSON(payload []byte) error {
	var file ensembleFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode tree ensemble: %w", err)
	}
	if len(file.Trees) == 0 {
		return errors.New("tree ensemble has no trees")
	}

	objective := file.Objective
	if objective == "" {
		objective = ObjectiveBinaryLogistic
	}
	baseScore := defaultBaseScore
	if file.BaseScore != nil {
		baseScore = *file.BaseScore
	}
	baseMargin, err := baseMarginFor(objective, baseScore)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(file.FeatureNames))
	for i, name := range file.FeatureNames {
		index[name] = i
	}

	trees := make([][]treeNode, 0, len(file.Trees))
	maxFeature := -1
	for i := range file.Trees {
		nodes, err := flattenTree(&file.Trees[i], index)
		if err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		for _, node := range nodes {
			if !node.IsLeaf && node.FeatureIdx > maxFeature {
				maxFeature = node.FeatureIdx
			}
		}
		trees = append(trees, nodes)
	}

	numFeatures := file.NumFeatures
	if len(file.FeatureNames) > 0 {
		numFeatures = len(file.FeatureNames)
	}
	if numFeatures == 0 {
		numFeatures = maxFeature + 1
	}
	if maxFeature >= numFeatures {
		return fmt.Errorf("split on feature %d but model declares %d features", maxFeature, numFeatures)
	}

	te.objective = objective
	te.baseMargin = baseMargin
	te.featureNames = append([]string(nil), file.FeatureNames...)
	te.numFeatures = numFeatures
	te.trees = trees
	return nil
}

func (te *TreeEnsemble) Score(features []float64) (float64, error) {
	if len(te.trees) == 0 {
		return 0, errors.New("model not loaded")
	}
	if len(features) != te.numFeatures {
		return 0, fmt.Errorf("feature shape mismatch, expected: %d, got %d", te.numFeatures, len(features))
	}

	leaves := make([]float64, len(te.trees))
	for i, nodes := range te.trees {
		value, err := walkTree(nodes, features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		leaves[i] = value
	}

	margin := floats.Sum(leaves) + te.baseMargin
	score := sigmoid(margin)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("model produced non-finite score %v", score)
	}
	return score, nil
}

func (te *TreeEnsemble) NumFeatures() int {
	return te.numFeatures
}

func (te *TreeEnsemble) FeatureNames() []string {
	return append([]string(nil), te.featureNames...)
}

func (te *TreeEnsemble) Objective() string {
	return te.objective
}

func walkTree(nodes []treeNode, features []float64) (float64, error) {
	idx := 0
	for steps := 0; steps <= len(nodes); steps++ {
		node := nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		x := features[node.FeatureIdx]
		switch {
		case math.IsNaN(x):
			idx = node.Missing
		case x < node.Threshold:
			idx = node.Yes
		default:
			idx = node.No
		}
	}
	return 0, errors.New("invalid tree state")
}

// flattenTree lays a nested dump out as a node array indexed by nodeid.
func flattenTree(root *dumpNode, featureIndex map[string]int) ([]treeNode, error) {
	byID := make(map[int]*dumpNode)
	maxID := 0
	stack := []*dumpNode{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := byID[node.NodeID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", node.NodeID)
		}
		byID[node.NodeID] = node
		if node.NodeID > maxID {
			maxID = node.NodeID
		}
		for i := range node.Children {
			stack = append(stack, &node.Children[i])
		}
	}
	if _, ok := byID[0]; !ok {
		return nil, errors.New("missing root node 0")
	}
	if len(byID) != maxID+1 {
		return nil, fmt.Errorf("node ids are not contiguous: %d nodes, max id %d", len(byID), maxID)
	}

	nodes := make([]treeNode, maxID+1)
	for id, node := range byID {
		if node.Leaf != nil {
			nodes[id] = treeNode{
				FeatureIdx: -1,
				Yes:        -1,
				No:         -1,
				Missing:    -1,
				Value:      *node.Leaf,
				IsLeaf:     true,
			}
			continue
		}
		featureIdx, err := resolveFeature(node.Split, featureIndex)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		for _, child := range []int{node.Yes, node.No, node.Missing} {
			if _, ok := byID[child]; !ok || child == id {
				return nil, fmt.Errorf("node %d: invalid child reference %d", id, child)
			}
		}
		nodes[id] = treeNode{
			FeatureIdx: featureIdx,
			Threshold:  node.SplitCondition,
			Yes:        node.Yes,
			No:         node.No,
			Missing:    node.Missing,
		}
	}
	return nodes, nil
}

// resolveFeature maps a split name to a column index. Named dumps use the
// training column; anonymous dumps use XGBoost's f<index> form.
func resolveFeature(split string, featureIndex map[string]int) (int, error) {
	if idx, ok := featureIndex[split]; ok {
		return idx, nil
	}
	if strings.HasPrefix(split, "f") {
		if idx, err := strconv.Atoi(split[1:]); err == nil && idx >= 0 {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

func baseMarginFor(objective string, baseScore float64) (float64, error) {
	switch objective {
	case ObjectiveBinaryLogistic, ObjectiveRegLogistic, ObjectiveBinaryLogitRaw:
		if baseScore <= 0 || baseScore >= 1 {
			return 0, fmt.Errorf("base_score %v out of (0,1) for %s", baseScore, objective)
		}
		return math.Log(baseScore / (1 - baseScore)), nil
	default:
		return 0, fmt.Errorf("unsupported objective %q, the model must output a probability", objective)
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

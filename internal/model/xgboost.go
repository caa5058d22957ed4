package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/ethscore/internal/domain"
)

// XGBoostModel evaluates a gbtree ensemble saved with XGBoost's JSON format.
// It is immutable after load.
type XGBoostModel struct {
	info      domain.ModelInfo
	baseScore float64 // margin space
	trees     []tree
}

type tree struct {
	left      []int
	right     []int
	feature   []int
	threshold []float32
	defLeft   []bool
}

// xgbDocument mirrors the subset of the XGBoost JSON schema that is needed
// for binary classification with a tree booster.
type xgbDocument struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []xgbTree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

type xgbTree struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
	SplitType       []int      `json:"split_type"`
}

// flexBool accepts both 0/1 and true/false, since XGBoost releases differ.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "1", "true":
		*b = true
	case "0", "false":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// LoadXGBoost parses an XGBoost JSON model.
func LoadXGBoost(artifact *domain.Artifact) (*XGBoostModel, error) {
	var doc xgbDocument
	if err := json.Unmarshal(artifact.Payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse xgboost model: %w", err)
	}

	l := doc.Learner
	if l.GradientBooster.Name != "gbtree" {
		return nil, fmt.Errorf("%w: booster %q", ErrUnsupportedFormat, l.GradientBooster.Name)
	}

	objective := l.Objective.Name
	if objective != "binary:logistic" && objective != "reg:logistic" {
		return nil, fmt.Errorf("%w: objective %q", ErrUnsupportedFormat, objective)
	}

	if n := parseParamInt(l.LearnerModelParam.NumClass); n > 1 {
		return nil, fmt.Errorf("%w: %d classes", ErrUnsupportedFormat, n)
	}

	if n := parseParamInt(l.LearnerModelParam.NumFeature); n != 0 && n != domain.NumFeatures {
		return nil, fmt.Errorf("model expects %d features, service provides %d", n, domain.NumFeatures)
	}

	if len(l.FeatureNames) > 0 {
		if err := checkFeatureOrder(l.FeatureNames); err != nil {
			return nil, err
		}
	}

	baseScore, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("base_score %v outside (0,1)", baseScore)
	}

	trees := make([]tree, 0, len(l.GradientBooster.Model.Trees))
	for i, t := range l.GradientBooster.Model.Trees {
		compiled, err := compileTree(t)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees = append(trees, compiled)
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("xgboost model has no trees")
	}

	return &XGBoostModel{
		info: domain.ModelInfo{
			Name:        artifact.Name,
			Version:     artifact.Version,
			Format:      domain.FormatXGBoostJSON,
			NumFeatures: domain.NumFeatures,
			NumTrees:    len(trees),
			Objective:   objective,
			SHA256:      artifact.SHA256,
		},
		baseScore: logit(baseScore),
		trees:     trees,
	}, nil
}

func compileTree(t xgbTree) (tree, error) {
	n := len(t.LeftChildren)
	if n == 0 {
		return tree{}, fmt.Errorf("empty tree")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n || len(t.DefaultLeft) != n {
		return tree{}, fmt.Errorf("inconsistent node arrays")
	}

	out := tree{
		left:      t.LeftChildren,
		right:     t.RightChildren,
		feature:   t.SplitIndices,
		threshold: make([]float32, n),
		defLeft:   make([]bool, n),
	}

	for i := 0; i < n; i++ {
		if len(t.SplitType) == n && t.SplitType[i] != 0 {
			return tree{}, fmt.Errorf("%w: categorical split at node %d", ErrUnsupportedFormat, i)
		}
		out.threshold[i] = float32(t.SplitConditions[i])
		out.defLeft[i] = bool(t.DefaultLeft[i])

		if out.left[i] == -1 {
			continue
		}
		if out.left[i] <= 0 || out.left[i] >= n || out.right[i] <= 0 || out.right[i] >= n {
			return tree{}, fmt.Errorf("invalid children at node %d", i)
		}
		if out.feature[i] < 0 || out.feature[i] >= domain.NumFeatures {
			return tree{}, fmt.Errorf("split feature %d out of range at node %d", out.feature[i], i)
		}
	}

	if err := out.checkReachable(); err != nil {
		return tree{}, err
	}

	return out, nil
}

// checkReachable verifies that every path from the root ends in a leaf
// without revisiting a node.
func (t *tree) checkReachable() error {
	seen := make([]bool, len(t.left))
	stack := []int{0}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[node] {
			return fmt.Errorf("node %d reached twice", node)
		}
		seen[node] = true
		if t.left[node] != -1 {
			stack = append(stack, t.left[node], t.right[node])
		}
	}
	return nil
}

// leaf walks the tree and returns the leaf weight for x.
// NaN features follow the default direction.
func (t *tree) leaf(x []float32) float32 {
	node := 0
	for t.left[node] != -1 {
		v := x[t.feature[node]]
		switch {
		case v != v:
			if t.defLeft[node] {
				node = t.left[node]
			} else {
				node = t.right[node]
			}
		case v < t.threshold[node]:
			node = t.left[node]
		default:
			node = t.right[node]
		}
	}
	return t.threshold[node]
}

// PredictProba returns sigmoid(base_margin + sum of leaf weights) per row.
func (m *XGBoostModel) PredictProba(ctx context.Context, rows []domain.FeatureVector) ([]float64, error) {
	out := make([]float64, len(rows))
	x := make([]float32, domain.NumFeatures)

	for r, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := row.Floats()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			x[i] = float32(v)
		}

		margin := m.baseScore
		for i := range m.trees {
			margin += float64(m.trees[i].leaf(x))
		}
		out[r] = sigmoid(margin)
	}

	return out, nil
}

// Info describes the loaded model.
func (m *XGBoostModel) Info() domain.ModelInfo {
	return m.info
}

func checkFeatureOrder(names []string) error {
	if len(names) != domain.NumFeatures {
		return fmt.Errorf("model trained on %d features, service provides %d", len(names), domain.NumFeatures)
	}
	for i, name := range names {
		if name != domain.FeatureNames[i] {
			return fmt.Errorf("feature %d: model expects %q, service provides %q", i, name, domain.FeatureNames[i])
		}
	}
	return nil
}

// parseBaseScore accepts "5E-1" and the vector form "[5E-1]" written by
// newer XGBoost releases.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(s, "[]"))
	if s == "" {
		return 0.5, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %w", s, err)
	}
	return v, nil
}

func parseParamInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spamguard/spamrag/errdefs"
)

// TreeEnsemble evaluates a gradient-boosted tree model saved with XGBoost's
// JSON model format (Booster.save_model("model.json")).
type TreeEnsemble struct {
	baseMargin float64
	objective  string
	numFeature int
	trees      []tree
}

type tree struct {
	left        []int
	right       []int
	splitIndex  []int
	splitCond   []float64
	defaultLeft []bool
}

// flexBool accepts 0/1 as well as true/false; XGBoost versions disagree.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "1", "true":
		*b = true
	case "0", "false":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

type xgbModel struct {
	Learner struct {
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []struct {
					LeftChildren    []int      `json:"left_children"`
					RightChildren   []int      `json:"right_children"`
					SplitIndices    []int      `json:"split_indices"`
					SplitConditions []float64  `json:"split_conditions"`
					DefaultLeft     []flexBool `json:"default_left"`
				} `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
}

// LoadTreeEnsemble reads a model file.
func LoadTreeEnsemble(path string) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Configuration("predictor.model", err)
	}
	return ParseTreeEnsemble(data)
}

func ParseTreeEnsemble(data []byte) (*TreeEnsemble, error) {
	var m xgbModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errdefs.Configuration("predictor.model", fmt.Errorf("decode xgboost model: %w", err))
	}
	gb := m.Learner.GradientBooster
	if gb.Name != "" && gb.Name != "gbtree" {
		return nil, errdefs.Configurationf("unsupported booster %q", gb.Name)
	}
	if len(gb.Model.Trees) == 0 {
		return nil, errdefs.Configurationf("xgboost model has no trees")
	}

	base := 0.5
	if s := strings.Trim(m.Learner.LearnerModelParam.BaseScore, "[] "); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errdefs.Configuration("predictor.model", fmt.Errorf("base_score: %w", err))
		}
		base = v
	}
	numFeature, _ := strconv.Atoi(m.Learner.LearnerModelParam.NumFeature)

	te := &TreeEnsemble{objective: m.Learner.Objective.Name, numFeature: numFeature}
	switch te.objective {
	case "binary:logistic", "reg:logistic", "":
		if base <= 0 || base >= 1 {
			return nil, errdefs.Configurationf("base_score %v outside (0,1) for logistic objective", base)
		}
		te.baseMargin = math.Log(base / (1 - base))
	default:
		te.baseMargin = base
	}

	for i, t := range gb.Model.Trees {
		n := len(t.LeftChildren)
		if n == 0 || len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n {
			return nil, errdefs.Configurationf("tree %d has inconsistent node arrays", i)
		}
		tr := tree{
			left:        t.LeftChildren,
			right:       t.RightChildren,
			splitIndex:  t.SplitIndices,
			splitCond:   t.SplitConditions,
			defaultLeft: make([]bool, n),
		}
		for j := 0; j < n && j < len(t.DefaultLeft); j++ {
			tr.defaultLeft[j] = bool(t.DefaultLeft[j])
		}
		for j := 0; j < n; j++ {
			if tr.left[j] >= n || tr.right[j] >= n {
				return nil, errdefs.Configurationf("tree %d node %d points outside the tree", i, j)
			}
		}
		te.trees = append(te.trees, tr)
	}
	return te, nil
}

func (t *tree) leaf(features []float32) float64 {
	node := 0
	for steps := 0; t.left[node] != -1 && steps <= len(t.left); steps++ {
		idx := t.splitIndex[node]
		var goLeft bool
		if idx < 0 || idx >= len(features) || math.IsNaN(float64(features[idx])) {
			goLeft = t.defaultLeft[node]
		} else {
			goLeft = float64(features[idx]) < t.splitCond[node]
		}
		if goLeft {
			node = t.left[node]
		} else {
			node = t.right[node]
		}
	}
	return t.splitCond[node]
}

// Margin returns the raw boosted score.
func (e *TreeEnsemble) Margin(features []float32) float64 {
	sum := e.baseMargin
	for i := range e.trees {
		sum += e.trees[i].leaf(features)
	}
	return sum
}

// Probability applies the logistic link to Margin.
func (e *TreeEnsemble) Probability(features []float32) float64 {
	return 1 / (1 + math.Exp(-e.Margin(features)))
}

// NumFeature is the feature count the model was trained on, 0 when unknown.
func (e *TreeEnsemble) NumFeature() int { return e.numFeature }

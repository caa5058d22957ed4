package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/ethscore/internal/domain"
)

// CEL output modes.
const (
	OutputProbability = "probability"
	OutputLogit       = "logit"
)

// celDocument is the payload of a "cel" artifact.
type celDocument struct {
	Expression string `json:"expression"`
	Output     string `json:"output"`
}

// CELModel scores feature vectors with a compiled CEL expression.
// Each feature is bound as a double variable under its trained name.
type CELModel struct {
	info    domain.ModelInfo
	program cel.Program
	logit   bool
}

// LoadCEL compiles a CEL artifact.
func LoadCEL(artifact *domain.Artifact) (*CELModel, error) {
	var doc celDocument
	if err := json.Unmarshal(artifact.Payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse cel model: %w", err)
	}
	if doc.Expression == "" {
		return nil, fmt.Errorf("cel model: expression is required")
	}

	switch doc.Output {
	case "", OutputProbability, OutputLogit:
	default:
		return nil, fmt.Errorf("cel model: unsupported output %q", doc.Output)
	}

	opts := make([]cel.EnvOption, 0, domain.NumFeatures)
	for _, name := range domain.FeatureNames {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(doc.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile cel model: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("cel model: expression must return double or int, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for cel model: %w", err)
	}

	return &CELModel{
		info: domain.ModelInfo{
			Name:        artifact.Name,
			Version:     artifact.Version,
			Format:      domain.FormatCEL,
			NumFeatures: domain.NumFeatures,
			Objective:   doc.Output,
			SHA256:      artifact.SHA256,
		},
		program: program,
		logit:   doc.Output == OutputLogit,
	}, nil
}

// PredictProba evaluates the expression once per row.
func (m *CELModel) PredictProba(ctx context.Context, rows []domain.FeatureVector) ([]float64, error) {
	out := make([]float64, len(rows))

	for r, row := range rows {
		values, err := row.Floats()
		if err != nil {
			return nil, err
		}

		activation := make(map[string]any, domain.NumFeatures)
		for i, name := range domain.FeatureNames {
			if math.IsNaN(values[i]) {
				return nil, fmt.Errorf("feature %s: missing value", name)
			}
			activation[name] = values[i]
		}

		val, _, err := m.program.ContextEval(ctx, activation)
		if err != nil {
			return nil, fmt.Errorf("cel evaluation failed: %w", err)
		}

		p := toFloat(val)
		if m.logit {
			p = sigmoid(p)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("cel model produced %v, outside [0,1]", p)
		}
		out[r] = p
	}

	return out, nil
}

// Info describes the loaded model.
func (m *CELModel) Info() domain.ModelInfo {
	return m.info
}

// toFloat converts a CEL value to a float64.
func toFloat(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return math.NaN()
	}
}

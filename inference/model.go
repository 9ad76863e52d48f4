// Package inference classifies slide images and renders the saliency heatmap of the decision.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"morphoview/utils"
)

var ErrNoScores = errors.New("model returned no class scores")

// ClassScore Probability of one class
type ClassScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Prediction Raw model output. Saliency is a coarse grid (rows of columns) in arbitrary units.
type Prediction struct {
	Model    string       `json:"model"`
	Scores   []ClassScore `json:"scores"`
	Saliency [][]float64  `json:"saliency"`
}

// Top Class with the highest score; the first one wins ties
func (p Prediction) Top() (ClassScore, error) {
	if len(p.Scores) == 0 {
		return ClassScore{}, ErrNoScores
	}
	top := p.Scores[0]
	for _, score := range p.Scores[1:] {
		if score.Score > top.Score {
			top = score
		}
	}
	return top, nil
}

// Classifier A classification model that also explains its decision with a saliency grid
type Classifier interface {
	Name() string
	Classify(ctx context.Context, img image.Image) (Prediction, error)
}

// NewClassifier Build the classifier selected in the configuration
func NewClassifier(config *utils.Config) (Classifier, error) {
	switch config.Inference.Backend {
	case "stain":
		return NewStainModel(), nil
	case "remote":
		timeout := time.Duration(config.Inference.Timeout) * time.Second
		return NewRemoteModel(config.Inference.URL, config.Inference.ModelName, timeout), nil
	}
	return nil, fmt.Errorf("unsupported inference backend %q", config.Inference.Backend)
}

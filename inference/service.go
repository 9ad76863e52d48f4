package inference

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// Service Holds the classifier loaded at startup; it is shared by all requests and never reloaded
type Service struct {
	classifier Classifier
}

// Result Outcome of one prediction
type Result struct {
	ModelName      string
	Label          string
	Confidence     float64 // probability of Label, in [0,1]
	Scores         []ClassScore
	Heatmap        *image.RGBA
	ProcessingTime time.Duration
}

func NewService(classifier Classifier) *Service {
	log.Info(fmt.Sprintf("Loaded model %s", classifier.Name()))
	return &Service{classifier: classifier}
}

// Run Classify img and render its heatmap at the size of img
func (s *Service) Run(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()

	prediction, err := s.classifier.Classify(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("classification: %w", err)
	}
	top, err := prediction.Top()
	if err != nil {
		return nil, err
	}
	heatmap, err := RenderHeatmap(img, prediction.Saliency)
	if err != nil {
		return nil, fmt.Errorf("rendering heatmap: %w", err)
	}

	modelName := prediction.Model
	if modelName == "" {
		modelName = s.classifier.Name()
	}
	confidence := top.Score
	if math.IsNaN(confidence) {
		confidence = 0
	}
	return &Result{
		ModelName:      modelName,
		Label:          top.Label,
		Confidence:     clamp01(confidence),
		Scores:         prediction.Scores,
		Heatmap:        heatmap,
		ProcessingTime: time.Since(start),
	}, nil
}

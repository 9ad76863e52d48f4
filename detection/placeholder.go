// Package detection reports regions of interest and quality control numbers for a predicted slide.
package detection

import (
	"image"
	"math"

	"morphoview/models"
)

// Detector Finds regions of interest in an image of the given size
type Detector interface {
	Detect(size image.Point, confidence float64) ([]models.Box, models.QCMetrics)
}

// Placeholder Stand-in detector until a region model is available. It places two boxes at fixed
// fractions of the image and derives the QC numbers from the classifier confidence.
type Placeholder struct {
	Label string
}

func NewPlaceholder(label string) *Placeholder {
	return &Placeholder{Label: label}
}

func (p *Placeholder) Detect(size image.Point, confidence float64) ([]models.Box, models.QCMetrics) {
	confidence = math.Max(0, math.Min(1, confidence))
	if size.X <= 0 || size.Y <= 0 {
		return []models.Box{}, models.QCMetrics{}
	}

	boxes := []models.Box{
		{
			X:          size.X / 4,
			Y:          size.Y / 4,
			Width:      max(1, size.X/5),
			Height:     max(1, size.Y/5),
			Label:      p.Label,
			Confidence: round4(confidence),
		},
		{
			X:          size.X / 2,
			Y:          size.Y / 2,
			Width:      max(1, size.X/6),
			Height:     max(1, size.Y/6),
			Label:      p.Label,
			Confidence: round4(confidence * 0.8),
		},
	}

	sum := 0.0
	for _, box := range boxes {
		sum += box.Confidence
	}
	return boxes, models.QCMetrics{
		TissueCoverage:  0.75,
		FocusScore:      0.9,
		DetectedRegions: len(boxes),
		MeanConfidence:  round4(sum / float64(len(boxes))),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

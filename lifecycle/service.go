// Package lifecycle coordinates what happens to a slide: upload, tiling, prediction, metadata and delete.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"

	"morphoview/deepzoom"
	"morphoview/detection"
	"morphoview/inference"
	"morphoview/metadata"
	"morphoview/models"
	"morphoview/storage"
	"morphoview/utils"
)

// DefaultInputSize Longest side of the image a slide is classified at
const DefaultInputSize = 2048

// Tiler Writes the static tile pyramid of a stored slide
type Tiler interface {
	Tile(identifier string, path string) error
}

// Evictor Drops cached pyramids of a slide
type Evictor interface {
	Evict(identifier string)
}

// Dependencies Collaborators of the Service. Tiler and Cache are optional.
// Open defaults to deepzoom.OpenImage and InputSize to DefaultInputSize.
type Dependencies struct {
	Slides        *storage.SlideStore
	Artifacts     *storage.Artifacts
	Metadata      metadata.Store
	Tiler         Tiler
	Cache         Evictor
	Open          deepzoom.Opener
	Inference     *inference.Service
	Detector      detection.Detector
	InputSize     int
	CascadeDelete bool
}

// Service Predict and Delete of the same slide never overlap
type Service struct {
	deps  Dependencies
	locks *slideLocks
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Slides == nil || deps.Artifacts == nil || deps.Metadata == nil {
		return nil, errors.New("lifecycle: slide store, artifacts and metadata store are required")
	}
	if deps.Inference == nil || deps.Detector == nil {
		return nil, errors.New("lifecycle: inference service and detector are required")
	}
	if deps.Open == nil {
		deps.Open = deepzoom.OpenImage
	}
	if deps.InputSize <= 0 {
		deps.InputSize = DefaultInputSize
	}
	return &Service{deps: deps, locks: newSlideLocks()}, nil
}

type UploadResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	SavedAs  string `json:"saved_as"`
	Tiled    bool   `json:"tiled"`
}

// Upload Store the slide and build its pyramid. A tiling failure leaves the slide stored with Tiled false.
func (s *Service) Upload(r io.Reader, filename string) (*UploadResult, error) {
	slide, err := s.deps.Slides.Create(r, filename)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{
		FileID:   slide.Identifier,
		Filename: slide.Filename,
		SavedAs:  slide.SavedAs,
	}
	if s.deps.Tiler == nil {
		return result, nil
	}
	if err := s.deps.Tiler.Tile(slide.Identifier, slide.Path); err != nil {
		log.Warn(fmt.Sprintf("Tiling %s failed: %s", slide.SavedAs, err.Error()))
		return result, nil
	}
	if err := s.deps.Slides.MarkTiled(slide.Identifier, true); err != nil {
		log.Error(err)
	}
	result.Tiled = true
	return result, nil
}

func (s *Service) List() ([]string, error) {
	return s.deps.Slides.List()
}

func (s *Service) Lookup(identifier string) (*models.Slide, error) {
	return s.deps.Slides.Lookup(identifier)
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Delete Remove the slide with everything derived from it. The metadata record is kept
// unless cascading deletes are enabled.
func (s *Service) Delete(identifier string) (*DeleteResult, error) {
	unlock := s.locks.lock(identifier)
	defer unlock()

	savedAs, found, err := s.deps.Slides.Delete(identifier)
	if err != nil {
		return nil, err
	}
	if !found {
		return &DeleteResult{Success: false, Message: "File not found"}, nil
	}

	if s.deps.Cache != nil {
		s.deps.Cache.Evict(identifier)
	}
	s.deps.Artifacts.Remove(identifier)
	if s.deps.CascadeDelete {
		if err := s.deps.Metadata.Delete(identifier); err != nil {
			log.Warn(fmt.Sprintf("Could not delete metadata of %s: %s", identifier, err.Error()))
		}
	}
	return &DeleteResult{Success: true, Message: "Deleted " + savedAs}, nil
}

func (s *Service) GetMetadata(identifier string) (models.SlideMetadata, error) {
	return s.deps.Metadata.Get(identifier)
}

func (s *Service) AllMetadata() (map[string]models.SlideMetadata, error) {
	return s.deps.Metadata.Load()
}

// UpdateMetadata Set priority and status of a slide. Empty values keep the current ones.
func (s *Service) UpdateMetadata(identifier string, priority string, status string) (models.SlideMetadata, error) {
	var (
		newPriority models.Priority
		newStatus   models.Status
		err         error
	)
	if priority != "" {
		if newPriority, err = models.ParsePriority(priority); err != nil {
			return models.SlideMetadata{}, err
		}
	}
	if status != "" {
		if newStatus, err = models.ParseStatus(status); err != nil {
			return models.SlideMetadata{}, err
		}
	}
	return s.deps.Metadata.Update(identifier, newPriority, newStatus)
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type PredictResult struct {
	Boxes      []models.Box     `json:"boxes"`
	Heatmap    string           `json:"heatmap"`
	ModelInfo  models.ModelInfo `json:"model_info"`
	QCMetrics  models.QCMetrics `json:"qc_metrics"`
	ImageSize  ImageSize        `json:"image_size"`
	Prediction string           `json:"prediction"`
}

// Predict Classify the slide, store its heatmap and mark it completed.
// Slides larger than InputSize are classified on a thumbnail; boxes and image size stay in
// full resolution coordinates.
func (s *Service) Predict(ctx context.Context, identifier string) (*PredictResult, error) {
	unlock := s.locks.lock(identifier)
	defer unlock()

	slide, err := s.deps.Slides.Lookup(identifier)
	if err != nil {
		return nil, err
	}
	source, err := s.deps.Open(slide.Path)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	dims := source.LevelDimensions(0)
	img, err := source.Thumbnail(s.deps.InputSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", slide.SavedAs, err)
	}

	result, err := s.deps.Inference.Run(ctx, img)
	if err != nil {
		return nil, err
	}
	buf, err := utils.ImageToPngBuffer(result.Heatmap)
	if err != nil {
		return nil, fmt.Errorf("encoding heatmap: %w", err)
	}
	if err := os.WriteFile(s.deps.Artifacts.HeatmapPath(identifier), buf, 0644); err != nil {
		return nil, fmt.Errorf("writing heatmap: %w", err)
	}

	size := image.Pt(dims[0], dims[1])
	boxes, qcMetrics := s.deps.Detector.Detect(size, result.Confidence)
	modelInfo := models.ModelInfo{
		ModelName:      result.ModelName,
		Label:          result.Label,
		Confidence:     result.Confidence,
		ProcessingTime: math.Round(result.ProcessingTime.Seconds()*1000) / 1000,
	}
	heatmapURL := s.deps.Artifacts.HeatmapURL(identifier)

	_, err = s.deps.Metadata.Complete(identifier, metadata.Result{
		HeatmapURL: heatmapURL,
		ModelInfo:  modelInfo,
		QCMetrics:  qcMetrics,
	})
	if err != nil {
		log.Error(fmt.Sprintf("Could not store prediction of %s: %s", identifier, err.Error()))
	}
	log.Info(fmt.Sprintf("Predicted %s for %s with confidence %.3f", result.Label, slide.SavedAs, result.Confidence))

	return &PredictResult{
		Boxes:      boxes,
		Heatmap:    heatmapURL,
		ModelInfo:  modelInfo,
		QCMetrics:  qcMetrics,
		ImageSize:  ImageSize{Width: size.X, Height: size.Y},
		Prediction: result.Label,
	}, nil
}

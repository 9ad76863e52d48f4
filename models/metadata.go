package models

import (
	"errors"
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

var (
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ParsePriority Parse a client supplied priority. The scan queue labels high priority slides "urgent".
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high", "urgent":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, value)
}

// ParseStatus Parse a client supplied status
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusQueued:
		return StatusQueued, nil
	case StatusProcessing:
		return StatusProcessing, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
}

// CanTransition Reports whether a slide may move from one status to another.
// Slides move forward through queued -> processing -> completed and may always be re-queued.
func CanTransition(from Status, to Status) bool {
	if from == to || to == StatusQueued {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCompleted
	case StatusProcessing:
		return to == StatusCompleted
	}
	return false
}

// ModelInfo Which model classified the slide and how long it took
type ModelInfo struct {
	ModelName      string  `json:"model_name"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
	ProcessingTime float64 `json:"processing_time"` // seconds
}

// QCMetrics Quality control numbers reported with a prediction
type QCMetrics struct {
	TissueCoverage  float64 `json:"tissue_coverage"`
	FocusScore      float64 `json:"focus_score"`
	DetectedRegions int     `json:"detected_regions"`
	MeanConfidence  float64 `json:"mean_confidence"`
}

// Box A detected region in original image pixel coordinates
type Box struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// SlideMetadata Processing state of a slide as exchanged with clients
type SlideMetadata struct {
	Priority   Priority   `json:"priority"`
	Status     Status     `json:"status"`
	UploadTime int64      `json:"uploadTime"` // epoch milliseconds, set once
	HeatmapURL string     `json:"heatmapUrl,omitempty"`
	ModelInfo  *ModelInfo `json:"model_info,omitempty"`
	QCMetrics  *QCMetrics `json:"qc_metrics,omitempty"`
}

// MetadataRecord Database row backing a SlideMetadata
type MetadataRecord struct {
	Identifier string     `gorm:"primaryKey;size:64"`
	Priority   string     `gorm:"size:16"`
	Status     string     `gorm:"size:16"`
	UploadTime int64
	HeatmapURL string
	ModelInfo  *ModelInfo `gorm:"serializer:json"`
	QCMetrics  *QCMetrics `gorm:"serializer:json"`
}

func (MetadataRecord) TableName() string {
	return "slide_metadata"
}

// ToMetadata Convert the row to its client representation
func (record MetadataRecord) ToMetadata() SlideMetadata {
	return SlideMetadata{
		Priority:   Priority(record.Priority),
		Status:     Status(record.Status),
		UploadTime: record.UploadTime,
		HeatmapURL: record.HeatmapURL,
		ModelInfo:  record.ModelInfo,
		QCMetrics:  record.QCMetrics,
	}
}

// NewMetadataRecord Convert a client representation to a row
func NewMetadataRecord(identifier string, metadata SlideMetadata) MetadataRecord {
	return MetadataRecord{
		Identifier: identifier,
		Priority:   string(metadata.Priority),
		Status:     string(metadata.Status),
		UploadTime: metadata.UploadTime,
		HeatmapURL: metadata.HeatmapURL,
		ModelInfo:  metadata.ModelInfo,
		QCMetrics:  metadata.QCMetrics,
	}
}

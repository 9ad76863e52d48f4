// Package metadata keeps the per-slide processing state (priority, status, inference results).
package metadata

import (
	"fmt"
	"time"

	"morphoview/models"
)

// Store Mapping from slide identifier to metadata record
type Store interface {
	// Load returns every persisted record, or an empty map when nothing was persisted yet.
	Load() (map[string]models.SlideMetadata, error)
	// Save replaces all persisted records.
	Save(records map[string]models.SlideMetadata) error
	// Get returns the stored record or a fresh, unsaved default.
	Get(identifier string) (models.SlideMetadata, error)
	// Update sets priority and status, creating the record when needed.
	// Empty values keep the current ones. A status change that models.CanTransition
	// rejects fails with models.ErrInvalidTransition and leaves the record untouched.
	Update(identifier string, priority models.Priority, status models.Status) (models.SlideMetadata, error)
	// Complete stores an inference result and marks the slide completed.
	Complete(identifier string, result Result) (models.SlideMetadata, error)
	// Delete removes a record. Deleting an absent record is not an error.
	Delete(identifier string) error
}

// Result Inference output stored on a record
type Result struct {
	HeatmapURL string
	ModelInfo  models.ModelInfo
	QCMetrics  models.QCMetrics
}

// Default The record reported for a slide nobody has touched yet.
// The upload time is the time of the query: it is not persisted.
func Default(now time.Time) models.SlideMetadata {
	return models.SlideMetadata{
		Priority:   models.PriorityNormal,
		Status:     models.StatusQueued,
		UploadTime: now.UnixMilli(),
	}
}

func applyUpdate(record models.SlideMetadata, priority models.Priority, status models.Status, now time.Time) (models.SlideMetadata, error) {
	current := record.Status
	if current == "" {
		current = models.StatusQueued
	}
	if status == "" {
		status = current
	}
	if !models.CanTransition(current, status) {
		return record, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, status)
	}
	if priority != "" {
		record.Priority = priority
	} else if record.Priority == "" {
		record.Priority = models.PriorityNormal
	}
	record.Status = status
	if record.UploadTime == 0 {
		record.UploadTime = now.UnixMilli()
	}
	return record, nil
}

func applyComplete(record models.SlideMetadata, result Result, now time.Time) (models.SlideMetadata, error) {
	if record.Priority == "" {
		record.Priority = models.PriorityNormal
	}
	if record.UploadTime == 0 {
		record.UploadTime = now.UnixMilli()
	}
	modelInfo := result.ModelInfo
	qcMetrics := result.QCMetrics
	record.Status = models.StatusCompleted
	record.HeatmapURL = result.HeatmapURL
	record.ModelInfo = &modelInfo
	record.QCMetrics = &qcMetrics
	return record, nil
}

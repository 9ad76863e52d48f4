package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"morphoview/lifecycle"
	"morphoview/storage"
)

// Predict Classify a slide and return its heatmap, boxes and QC metrics
func Predict(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.Query("file_id")
		if identifier == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file_id is required"})
			return
		}

		result, err := slides.Predict(c.Request.Context(), identifier)
		if errors.Is(err, storage.ErrSlideNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "File not found"})
			return
		}
		if err != nil {
			log.Error(fmt.Sprintf("Prediction of %s failed: %s", identifier, err.Error()))
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"boxes":      result.Boxes,
			"heatmap":    result.Heatmap,
			"model_info": result.ModelInfo,
			"qc_metrics": result.QCMetrics,
			"image_size": result.ImageSize,
			"prediction": result.Prediction,
		})
	}
}

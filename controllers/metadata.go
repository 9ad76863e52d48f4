package controllers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vmihailenco/msgpack/v5"

	"morphoview/lifecycle"
)

const msgpackContentType = "application/msgpack"

type UpdateMetadataInput struct {
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// GetMetadata Metadata of a slide, or the default for a slide without any
func GetMetadata(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := slides.GetMetadata(c.Param("file_id"))
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// UpdateMetadata Set priority and status of a slide
func UpdateMetadata(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input UpdateMetadataInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		record, err := slides.UpdateMetadata(c.Param("file_id"), input.Priority, input.Status)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "metadata": record})
	}
}

// AllMetadata Every stored metadata record keyed by slide identifier.
// Clients sending Accept: application/msgpack get msgpack with the JSON field names.
func AllMetadata(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := slides.AllMetadata()
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}

		if !strings.Contains(c.GetHeader("Accept"), msgpackContentType) {
			c.JSON(http.StatusOK, records)
			return
		}
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(records); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to encode msgpack"})
			return
		}
		c.Data(http.StatusOK, msgpackContentType, buf.Bytes())
	}
}

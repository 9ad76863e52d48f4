package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"morphoview/lifecycle"
)

// UploadSlide Store the multipart field "file" as a new slide
func UploadSlide(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No file uploaded"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		defer f.Close()

		result, err := slides.Upload(f, header.Filename)
		if err != nil {
			log.Error(fmt.Sprintf("Upload of %s failed: %s", header.Filename, err.Error()))
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ListSlides Stored filenames of all slides
func ListSlides(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := slides.List()
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"slides": names})
	}
}

// DeleteSlide Delete a slide and its derived files
func DeleteSlide(slides *lifecycle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := slides.Delete(c.Param("file_id"))
		if err != nil {
			log.Error(fmt.Sprintf("Delete of %s failed: %s", c.Param("file_id"), err.Error()))
			c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

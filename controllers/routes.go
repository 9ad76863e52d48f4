package controllers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	uuid "github.com/twinj/uuid"

	"morphoview/lifecycle"
	"morphoview/utils"
)

// corsMiddleware CORS for the configured origins (all origins by default), allowing:
// - GET, POST, PUT, PATCH and DELETE methods
// - Origin, Content-Type and Accept headers
// - Preflight requests cached for 12 hours
func corsMiddleware(config *utils.Config) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     config.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// requestIDMiddleware Generate a UUID and attach it to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		_uuid := uuid.NewV4()
		c.Writer.Header().Set("X-Request-Id", _uuid.String())
		c.Next()
	}
}

// NewRouter All routes of the service. Static mounts expose the stored slides, heatmaps and tile pyramids.
func NewRouter(config *utils.Config, slides *lifecycle.Service, tiles *TileSettings, version string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.IsDebugging() {
		r.Use(gin.Logger())
	}
	r.Use(corsMiddleware(config))
	r.Use(requestIDMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "MorphoView backend is running!"})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": version})
	})

	r.POST("/upload", UploadSlide(slides))
	r.DELETE("/upload/:file_id", DeleteSlide(slides))
	r.GET("/slides", ListSlides(slides))
	r.GET("/slides/metadata/all", AllMetadata(slides))
	r.GET("/slides/:file_id/metadata", GetMetadata(slides))
	r.POST("/slides/:file_id/metadata", UpdateMetadata(slides))
	r.POST("/predict", Predict(slides))

	// Pyramids are opened on demand and released by the cache cleanup loop
	dzRoutes := r.Group("/deepzoom")
	{
		dzRoutes.GET("/:file_id/slide.dzi", GetDzi(slides, tiles))
		dzRoutes.GET("/:file_id/slide_files/:level/:location", GetTile(slides, tiles))
		dzRoutes.GET("/:file_id/thumbnail.jpg", GetThumbnail(slides, tiles))
		dzRoutes.GET("/:file_id/thumbnail.png", GetThumbnail(slides, tiles))
		dzRoutes.GET("/:file_id/properties", GetSlideProperties(slides, tiles))
	}

	r.Static("/uploads", config.Storage.UploadDir)
	r.Static("/heatmaps", config.Storage.HeatmapDir)
	r.Static("/tiles", config.Storage.TileDir)
	return r
}

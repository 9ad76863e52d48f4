package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"morphoview/deepzoom"
	"morphoview/lifecycle"
	"morphoview/models"
	"morphoview/utils"
)

// TileSettings How on-demand pyramids are opened and encoded
type TileSettings struct {
	Cache       *deepzoom.LocalCache
	Open        deepzoom.Opener
	TileSize    int
	TileOverlap int
	LimitBounds bool
	Format      string
	Quality     int
}

func NewTileSettings(cache *deepzoom.LocalCache, open deepzoom.Opener, config *utils.Config) *TileSettings {
	return &TileSettings{
		Cache:       cache,
		Open:        open,
		TileSize:    config.DeepZoom.TileSize,
		TileOverlap: config.DeepZoom.TileOverlap,
		LimitBounds: config.DeepZoom.LimitBounds,
		Format:      config.DeepZoom.Format,
		Quality:     config.DeepZoom.Quality,
	}
}

type DeepZoomCoordinates struct {
	format   string
	level    int
	location [2]int
}

// parseDeepZoomCoordinates Parse <level>/<col>_<row>.<format> from the route
func parseDeepZoomCoordinates(c *gin.Context) (DeepZoomCoordinates, error) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		return DeepZoomCoordinates{}, errors.New("cannot parse level")
	}

	name, format, found := strings.Cut(c.Param("location"), ".")
	if !found {
		return DeepZoomCoordinates{}, errors.New("tile has no extension")
	}
	if format == "jpg" {
		format = "jpeg"
	}
	if format != "jpeg" && format != "png" {
		return DeepZoomCoordinates{}, errors.New("only jpeg, jpg or png is allowed as an extension")
	}

	column, row, found := strings.Cut(name, "_")
	if !found {
		return DeepZoomCoordinates{}, errors.New("tile location should be <column>_<row>")
	}
	columnInt, err := strconv.Atoi(column)
	if err != nil {
		return DeepZoomCoordinates{}, errors.New("cannot parse column")
	}
	rowInt, err := strconv.Atoi(row)
	if err != nil {
		return DeepZoomCoordinates{}, errors.New("cannot parse row")
	}

	return DeepZoomCoordinates{
		format:   format,
		level:    level,
		location: [2]int{columnInt, rowInt},
	}, nil
}

// parseIdentifier Find the slide named in the route
func parseIdentifier(c *gin.Context, slides *lifecycle.Service) (*models.Slide, bool) {
	slide, err := slides.Lookup(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return slide, true
}

// cachedDeepZoom Pyramid of the slide named in the route, opened on first use
func cachedDeepZoom(c *gin.Context, slides *lifecycle.Service, settings *TileSettings) (*deepzoom.DeepZoom, bool) {
	slide, ok := parseIdentifier(c, slides)
	if !ok {
		return nil, false
	}
	deepZoom, err := deepzoom.GetCachedDeepZoom(
		settings.Cache,
		settings.Open,
		slide.Identifier,
		slide.Path,
		settings.TileSize,
		settings.TileOverlap,
		settings.LimitBounds,
		settings.Format)
	if err != nil {
		log.Warn(fmt.Sprintf("Error getting cached deep zoom with identifier %s and path %s: %s", slide.Identifier, slide.Path, err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return deepZoom, true
}

// GetTile Get DeepZoom tile and write to output
func GetTile(slides *lifecycle.Service, settings *TileSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		coordinates, err := parseDeepZoomCoordinates(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		deepZoom, ok := cachedDeepZoom(c, slides, settings)
		if !ok {
			return
		}

		tile, err := deepZoom.GetTile(coordinates.level, coordinates.location)
		if errors.Is(err, deepzoom.ErrInvalidLevel) || errors.Is(err, deepzoom.ErrInvalidAddress) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Warn(fmt.Sprintf("Error getting deep zoom tile of %s: %s", c.Param("file_id"), err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		buf, err := utils.EncodeImage(tile, coordinates.format, settings.Quality)
		if err != nil {
			log.Warn(fmt.Sprintf("Error writing tile with format %s to image buffer: %s", coordinates.format, err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/"+coordinates.format, buf)
	}
}

// GetThumbnail Get the thumbnail of a slide, thumbnail.jpg or thumbnail.png
func GetThumbnail(slides *lifecycle.Service, settings *TileSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := "png"
		if strings.HasSuffix(c.FullPath(), ".jpg") {
			format = "jpeg"
		}

		size, err := strconv.Atoi(c.DefaultQuery("size", "512"))
		if err != nil || size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Incorrect value for size."})
			return
		}
		if size > 1024 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Too large thumbnail requested."})
			return
		}
		quality := settings.Quality
		if q, ok := c.GetQuery("Q"); ok {
			if format == "png" {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Compression quality only makes sense for jpg."})
				return
			}
			quality, err = strconv.Atoi(q)
			if err != nil || quality < 0 || quality > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Incorrect value for quality."})
				return
			}
		}

		deepZoom, ok := cachedDeepZoom(c, slides, settings)
		if !ok {
			return
		}
		thumbnail, err := deepZoom.Source.Thumbnail(size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		buf, err := utils.EncodeImage(thumbnail, format, quality)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/"+format, buf)
	}
}

// GetDzi Get the deepzoom XML for a given slide
func GetDzi(slides *lifecycle.Service, settings *TileSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		deepZoom, ok := cachedDeepZoom(c, slides, settings)
		if !ok {
			return
		}
		message, err := deepZoom.GetDzi()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.XML(http.StatusOK, message)
	}
}

// GetSlideProperties Get all the properties of the underlying slide
func GetSlideProperties(slides *lifecycle.Service, settings *TileSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		deepZoom, ok := cachedDeepZoom(c, slides, settings)
		if !ok {
			return
		}
		properties := deepZoom.Source.Properties()
		c.IndentedJSON(http.StatusOK, &properties)
	}
}

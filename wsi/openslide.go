// Package wsi opens vendor whole-slide formats (svs, ndpi, mrxs, ...) through OpenSlide.
package wsi

import (
	"fmt"
	"image"

	"github.com/NKI-AI/openslide-go/openslide"
	log "github.com/sirupsen/logrus"

	"morphoview/deepzoom"
)

// Properties reported for whole-slide images
var reportedProperties = []string{
	deepzoom.PropVendor,
	deepzoom.PropBackgroundColor,
	deepzoom.PropBoundsX,
	deepzoom.PropBoundsY,
	deepzoom.PropBoundsWidth,
	deepzoom.PropBoundsHeight,
	deepzoom.PropMppX,
	deepzoom.PropMppY,
	deepzoom.PropObjectivePower,
	"openslide.comment",
	"openslide.quickhash-1",
}

type slideSource struct {
	slide openslide.Slide
}

// Open Open path with OpenSlide when it recognises the vendor format,
// otherwise decode it as a plain raster image.
func Open(path string) (deepzoom.Source, error) {
	vendor, err := openslide.DetectVendor(path)
	if err != nil || vendor == "" {
		return deepzoom.OpenImage(path)
	}
	log.Info(fmt.Sprintf("Opening %s with vendor %s", path, vendor))

	slide, err := openslide.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openslide: %w", err)
	}
	return &slideSource{slide: slide}, nil
}

func (s *slideSource) LevelCount() int {
	return s.slide.LevelCount()
}

func (s *slideSource) LevelDimensions(level int) [2]int {
	dims := s.slide.LevelDimensions(level)
	return [2]int{dims[0], dims[1]}
}

func (s *slideSource) LevelDownsample(level int) float64 {
	return s.slide.LevelDownsample(level)
}

func (s *slideSource) BestLevelForDownsample(downsample float64) int {
	return s.slide.BestLevelForDownsample(downsample)
}

func (s *slideSource) PropertyValue(name string) string {
	return s.slide.PropertyValue(name)
}

func (s *slideSource) Properties() map[string]string {
	properties := make(map[string]string)
	for _, name := range reportedProperties {
		if value := s.slide.PropertyValue(name); value != "" {
			properties[name] = value
		}
	}
	return properties
}

func (s *slideSource) ReadRegion(x, y, level, w, h int) (image.Image, error) {
	region, err := s.slide.ReadRegion(x, y, level, w, h)
	if err != nil {
		return nil, err
	}
	return region, nil
}

func (s *slideSource) Thumbnail(size int) (image.Image, error) {
	thumbnail, err := s.slide.GetThumbnail(size)
	if err != nil {
		return nil, err
	}
	return thumbnail, nil
}

func (s *slideSource) Close() {
	s.slide.Close()
}

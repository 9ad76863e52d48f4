package deepzoom

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"golang.org/x/image/draw"

	"morphoview/utils"
)

// Property names shared with OpenSlide
const (
	PropVendor          = "openslide.vendor"
	PropBackgroundColor = "openslide.background-color"
	PropBoundsX         = "openslide.bounds-x"
	PropBoundsY         = "openslide.bounds-y"
	PropBoundsWidth     = "openslide.bounds-width"
	PropBoundsHeight    = "openslide.bounds-height"
	PropMppX            = "openslide.mpp-x"
	PropMppY            = "openslide.mpp-y"
	PropObjectivePower  = "openslide.objective-power"
)

// Source A multi-resolution image the pyramid is cut from. Level 0 is the full resolution.
type Source interface {
	LevelCount() int
	LevelDimensions(level int) [2]int
	LevelDownsample(level int) float64
	BestLevelForDownsample(downsample float64) int
	PropertyValue(name string) string
	Properties() map[string]string
	// ReadRegion reads w x h pixels at level, with (x, y) given in level 0 coordinates.
	// Pixels outside the image are fully transparent.
	ReadRegion(x, y, level, w, h int) (image.Image, error)
	Thumbnail(size int) (image.Image, error)
	Close()
}

// Opener Opens the file at path as a Source
type Opener func(path string) (Source, error)

// ImageSource A single level Source backed by a decoded raster image
type ImageSource struct {
	img    image.Image
	format string
}

// OpenImage Decode a raster image (png, jpeg, gif, bmp, tiff, webp) into a single level Source
func OpenImage(path string) (Source, error) {
	img, format, err := utils.DecodeImageFile(path)
	if err != nil {
		return nil, err
	}
	return NewImageSource(img, format), nil
}

func NewImageSource(img image.Image, format string) *ImageSource {
	return &ImageSource{img: img, format: format}
}

func (s *ImageSource) LevelCount() int {
	return 1
}

func (s *ImageSource) LevelDimensions(level int) [2]int {
	bounds := s.img.Bounds()
	return [2]int{bounds.Dx(), bounds.Dy()}
}

func (s *ImageSource) LevelDownsample(level int) float64 {
	return 1.0
}

func (s *ImageSource) BestLevelForDownsample(downsample float64) int {
	return 0
}

func (s *ImageSource) PropertyValue(name string) string {
	return s.Properties()[name]
}

func (s *ImageSource) Properties() map[string]string {
	dims := s.LevelDimensions(0)
	return map[string]string{
		PropVendor:       s.format,
		"image.width":    strconv.Itoa(dims[0]),
		"image.height":   strconv.Itoa(dims[1]),
		"image.format":   s.format,
		"image.channels": "rgba",
	}
}

func (s *ImageSource) ReadRegion(x, y, level, w, h int) (image.Image, error) {
	if level != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid region size %dx%d", w, h)
	}
	region := image.NewRGBA(image.Rect(0, 0, w, h))
	origin := s.img.Bounds().Min.Add(image.Pt(x, y))
	draw.Draw(region, region.Bounds(), s.img, origin, draw.Src)
	return region, nil
}

func (s *ImageSource) Thumbnail(size int) (image.Image, error) {
	dims := s.LevelDimensions(0)
	scale := math.Min(float64(size)/float64(dims[0]), float64(size)/float64(dims[1]))
	if scale >= 1 {
		return s.img, nil
	}
	width := int(math.Max(1, math.Round(float64(dims[0])*scale)))
	height := int(math.Max(1, math.Round(float64(dims[1])*scale)))
	thumbnail := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(thumbnail, thumbnail.Bounds(), s.img, s.img.Bounds(), draw.Src, nil)
	return thumbnail, nil
}

func (s *ImageSource) Close() {}

type Hex string

// Hex2Color Convert Hex-html colors to color.Color's.
// For instance `ffffff` returns white.
func Hex2Color(hex Hex) (color.Color, error) {
	values, err := strconv.ParseUint(string(hex), 16, 32)
	if err != nil || len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("cannot parse RGB values %q", string(hex))
	}
	return color.RGBA{
		R: uint8(values >> 16),
		G: uint8((values >> 8) & 0xFF),
		B: uint8(values & 0xFF),
		A: 0xff,
	}, nil
}

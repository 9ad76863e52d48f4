package deepzoom

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

var (
	ErrInvalidLevel   = errors.New("invalid level")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidFormat  = errors.New("only allowed formats are jpeg or png")
)

type DeepZoom struct {
	tileCount           int      // Number of tiles in pyramid
	LevelDimensions     [][2]int // The dimensions of the levels in the active area (not necessarily those in the pyramidal image)
	zDimensions         [][2]int
	levelTiles          [][2]int
	levelCount          int
	dzLevelToSlideLevel []int // List which maps the index of the dz level to the level in the underlying image
	lzDownsamples       []float64
	level0Offset        [2]int
	tileSize            int         // Tile size of the resulting pyramid
	tileOverlap         int         // Amount the tiles should overlap
	Format              string      // jpeg or png
	bgColor             color.Color // The background color in case the alpha channel is zero
	Source              Source      // Reference to the underlying image
}

type TileInfo struct {
	level0Location  [2]int
	slideLevel      int
	levelOutputSize [2]int
	outputTileSize  [2]int
}

// DescriptorPath Location of the .dzi descriptor of identifier under dir
func DescriptorPath(dir string, identifier string) string {
	return filepath.Join(dir, identifier+".dzi")
}

// TilesPath Location of the tile directory of identifier under dir
func TilesPath(dir string, identifier string) string {
	return filepath.Join(dir, identifier+"_files")
}

// CreateDeepZoom Create DeepZoom object.
// With limitBounds the pyramid only covers the non-empty area advertised by the bounds properties.
func CreateDeepZoom(source Source, tileSize int, tileOverlap int, limitBounds bool, format string) (*DeepZoom, error) {
	if format != "jpeg" && format != "png" {
		return nil, ErrInvalidFormat
	}
	if tileSize <= 0 || tileOverlap < 0 {
		return nil, fmt.Errorf("invalid tile size %d or overlap %d", tileSize, tileOverlap)
	}

	var level0Offset [2]int
	var levelDimensions [][2]int
	if !limitBounds {
		for i := 0; i < source.LevelCount(); i++ {
			levelDimensions = append(levelDimensions, source.LevelDimensions(i))
		}
	} else {
		level0Offset[0] = intProperty(source, PropBoundsX, 0)
		level0Offset[1] = intProperty(source, PropBoundsY, 0)

		// Scale the level dimensions down to the active area
		largest := source.LevelDimensions(0)
		sizeScale := [2]float64{1.0, 1.0}
		if width := floatProperty(source, PropBoundsWidth); width > 0 && largest[0] > 0 {
			sizeScale[0] = width / float64(largest[0])
		}
		if height := floatProperty(source, PropBoundsHeight); height > 0 && largest[1] > 0 {
			sizeScale[1] = height / float64(largest[1])
		}

		for i := 0; i < source.LevelCount(); i++ {
			levelDimension := source.LevelDimensions(i)
			a := math.Ceil(float64(levelDimension[0]) * sizeScale[0])
			b := math.Ceil(float64(levelDimension[1]) * sizeScale[1])
			levelDimensions = append(levelDimensions, [2]int{int(a), int(b)})
		}
	}
	if len(levelDimensions) == 0 || levelDimensions[0][0] <= 0 || levelDimensions[0][1] <= 0 {
		return nil, errors.New("source has no pixels")
	}

	return createDeepZoom(source, tileSize, tileOverlap, level0Offset, levelDimensions, format)
}

func intProperty(source Source, name string, fallback int) int {
	value, err := strconv.ParseInt(source.PropertyValue(name), 10, 64)
	if err != nil {
		return fallback
	}
	return int(value)
}

func floatProperty(source Source, name string) float64 {
	value, err := strconv.ParseFloat(source.PropertyValue(name), 64)
	if err != nil {
		return 0
	}
	return value
}

// createDeepZoom Helper function to create DeepZoom objects
func createDeepZoom(
	source Source,
	tileSize int,
	tileOverlap int,
	level0Offset [2]int,
	levelDimensions [][2]int,
	format string) (*DeepZoom, error) {

	// Halve the level 0 dimensions until a single pixel remains
	var zDimensions [][2]int
	zSize := levelDimensions[0]
	zDimensions = append(zDimensions, zSize)
	for zSize[0] > 1 || zSize[1] > 1 {
		for i := range zSize {
			zSize[i] = int(math.Max(1.0, math.Ceil(float64(zSize[i])/2.0)))
		}
		zDimensions = append(zDimensions, zSize)
	}
	// reverse zDimensions, level 0 of the pyramid is the smallest
	for i, j := 0, len(zDimensions)-1; i < j; i, j = i+1, j-1 {
		zDimensions[i], zDimensions[j] = zDimensions[j], zDimensions[i]
	}

	var levelTiles [][2]int
	for _, zDim := range zDimensions {
		var currTuple [2]int
		for i := 0; i < 2; i++ {
			currTuple[i] = int(math.Ceil(float64(zDim[i]) / float64(tileSize)))
		}
		levelTiles = append(levelTiles, currTuple)
	}

	levelCount := len(zDimensions)

	var level0zDownsamples []float64
	for i := 0; i < levelCount; i++ {
		level0zDownsamples = append(level0zDownsamples, math.Pow(2, float64(levelCount-i-1)))
	}

	var dzLevelToSlideLevel []int
	for _, downSample := range level0zDownsamples {
		dzLevelToSlideLevel = append(dzLevelToSlideLevel, source.BestLevelForDownsample(downSample))
	}

	var lzDownsamples []float64
	for i := 0; i < levelCount; i++ {
		lzDownsamples = append(lzDownsamples, level0zDownsamples[i]/source.LevelDownsample(dzLevelToSlideLevel[i]))
	}

	var _bgColor = source.PropertyValue(PropBackgroundColor)
	if _bgColor == "" {
		_bgColor = "ffffff"
	}
	bgColor, err := Hex2Color(Hex(_bgColor))
	if err != nil {
		log.Warn(fmt.Sprintf("Ignoring background color: %s", err.Error()))
		bgColor = color.White
	}

	var tileCount = 0
	for _, levelTile := range levelTiles {
		tileCount += levelTile[0] * levelTile[1]
	}

	return &DeepZoom{
		tileCount:           tileCount,  // Number of tiles in the complete pyramid
		levelCount:          levelCount, // Number of levels in the pyramid
		levelTiles:          levelTiles, // Grid size of tiles at level i
		zDimensions:         zDimensions,
		LevelDimensions:     levelDimensions,
		dzLevelToSlideLevel: dzLevelToSlideLevel,
		lzDownsamples:       lzDownsamples,
		level0Offset:        level0Offset,
		tileSize:            tileSize,
		tileOverlap:         tileOverlap,
		Format:              format,
		bgColor:             bgColor,
		Source:              source,
	}, nil
}

// LevelCount Number of levels in the pyramid
func (deepZoom *DeepZoom) LevelCount() int {
	return deepZoom.levelCount
}

// LevelTiles Columns and rows of tiles at dzLevel
func (deepZoom *DeepZoom) LevelTiles(dzLevel int) [2]int {
	return deepZoom.levelTiles[dzLevel]
}

// TileCount Number of tiles in the complete pyramid
func (deepZoom *DeepZoom) TileCount() int {
	return deepZoom.tileCount
}

type DziSize struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

type DziImage struct {
	XMLName  xml.Name `xml:"Image"`
	Xmlns    string   `xml:"xmlns,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	Format   string   `xml:"Format,attr"`
	Size     DziSize
}

// GetDzi Create DeepZoom XML
func (deepZoom *DeepZoom) GetDzi() (*DziImage, error) {
	if deepZoom.Format != "jpeg" && deepZoom.Format != "png" {
		return nil, ErrInvalidFormat
	}
	dimensions := deepZoom.LevelDimensions[0]
	return &DziImage{
		Xmlns:    "http://schemas.microsoft.com/deepzoom/2008",
		TileSize: deepZoom.tileSize,
		Overlap:  deepZoom.tileOverlap,
		Format:   deepZoom.Format,
		Size:     DziSize{Width: dimensions[0], Height: dimensions[1]},
	}, nil
}

// rescaleIfNeeded Given a tile, and the tileInfo will rescale the image of the tileInfo suggests so
func rescaleIfNeeded(tile *image.RGBA, tileInfo TileInfo) *image.RGBA {
	if tileInfo.levelOutputSize == tileInfo.outputTileSize {
		return tile
	}
	outputImage := image.NewRGBA(image.Rect(0, 0, tileInfo.outputTileSize[0], tileInfo.outputTileSize[1]))
	draw.BiLinear.Scale(outputImage, outputImage.Bounds(), tile, tile.Bounds(), draw.Src, nil)
	return outputImage
}

// GetTile Return a DeepZoom tile
func (deepZoom *DeepZoom) GetTile(dzLevel int, location [2]int) (image.Image, error) {
	tileInfo, err := deepZoom.getTileInfo(dzLevel, location)
	if err != nil {
		return nil, err
	}

	tile, err := deepZoom.Source.ReadRegion(
		tileInfo.level0Location[0],
		tileInfo.level0Location[1],
		tileInfo.slideLevel,
		tileInfo.levelOutputSize[0],
		tileInfo.levelOutputSize[1],
	)
	if err != nil {
		return nil, fmt.Errorf("reading region: %w", err)
	}

	// Composite onto the background so transparent areas get the slide background color
	bounds := image.Rect(0, 0, tileInfo.levelOutputSize[0], tileInfo.levelOutputSize[1])
	newTile := image.NewRGBA(bounds)
	draw.Draw(newTile, bounds, image.NewUniform(deepZoom.bgColor), image.Point{}, draw.Src)
	draw.Draw(newTile, bounds, tile, tile.Bounds().Min, draw.Over)

	return rescaleIfNeeded(newTile, tileInfo), nil
}

// getTileInfo Return information requires to generate a DeepZoom tile
func (deepZoom *DeepZoom) getTileInfo(dzLevel int, tLocation [2]int) (TileInfo, error) {
	if dzLevel < 0 || dzLevel >= deepZoom.levelCount {
		log.Debug(fmt.Sprintf("Invalid level %d", dzLevel))
		return TileInfo{}, ErrInvalidLevel
	}

	tLim := deepZoom.levelTiles[dzLevel]
	for i, t := range tLocation {
		if t < 0 || t >= tLim[i] {
			return TileInfo{}, ErrInvalidAddress
		}
	}

	// Get preferred slide level
	slideLevel := deepZoom.dzLevelToSlideLevel[dzLevel]

	// Calculate top/left and bottom/right overlap
	var zOverlapTl [2]int
	var zOverlapBr [2]int
	for i := 0; i < 2; i++ {
		if tLocation[i] != 0 {
			zOverlapTl[i] = deepZoom.tileOverlap
		}
		if tLocation[i] != tLim[i]-1 {
			zOverlapBr[i] = deepZoom.tileOverlap
		}
	}

	// Get final size of the tile
	var outputTileSize [2]int
	for i := 0; i < 2; i++ {
		zLim := deepZoom.zDimensions[dzLevel][i]
		size := deepZoom.tileSize
		if remaining := zLim - deepZoom.tileSize*tLocation[i]; remaining < size {
			size = remaining
		}
		outputTileSize[i] = size + zOverlapTl[i] + zOverlapBr[i]
	}

	// Obtain the region coordinates
	zLocation := [2]int{deepZoom.tileSize * tLocation[0], deepZoom.tileSize * tLocation[1]}
	lLocation := [2]float64{
		deepZoom.lzDownsamples[dzLevel] * float64(zLocation[0]-zOverlapTl[0]),
		deepZoom.lzDownsamples[dzLevel] * float64(zLocation[1]-zOverlapTl[1]),
	}

	// Round location down and size up, and add offset of active area
	var level0Location [2]int
	levelDownsample := deepZoom.Source.LevelDownsample(slideLevel)
	level0Location[0] = deepZoom.level0Offset[0] + int(levelDownsample*lLocation[0])
	level0Location[1] = deepZoom.level0Offset[1] + int(levelDownsample*lLocation[1])

	var levelOutputSize [2]int
	for i := 0; i < 2; i++ {
		lLim := deepZoom.LevelDimensions[slideLevel][i]
		levelOutputSize[i] = int(math.Min(
			math.Ceil(deepZoom.lzDownsamples[dzLevel]*float64(outputTileSize[i])),
			float64(lLim)-math.Ceil(lLocation[i]),
		))
		if levelOutputSize[i] < 1 {
			levelOutputSize[i] = 1
		}
	}

	return TileInfo{
		level0Location:  level0Location,  // Location express in level 0 coordinates
		slideLevel:      slideLevel,      // The level in the pyramid
		levelOutputSize: levelOutputSize, // The output size at the requested level
		outputTileSize:  outputTileSize,  // The size the final tile should be resized to
	}, nil
}

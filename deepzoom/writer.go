package deepzoom

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"morphoview/utils"
)

// WritePyramid Write the .dzi descriptor and every tile of the pyramid under dir.
// A partially written pyramid is removed again when a tile fails.
func WritePyramid(deepZoom *DeepZoom, dir string, identifier string, quality int) (err error) {
	descriptorPath := DescriptorPath(dir, identifier)
	tilesPath := TilesPath(dir, identifier)
	defer func() {
		if err != nil {
			os.Remove(descriptorPath)
			os.RemoveAll(tilesPath)
		}
	}()

	for level := 0; level < deepZoom.LevelCount(); level++ {
		levelDir := filepath.Join(tilesPath, fmt.Sprintf("%d", level))
		if err := os.MkdirAll(levelDir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", levelDir, err)
		}
		tiles := deepZoom.LevelTiles(level)
		for col := 0; col < tiles[0]; col++ {
			for row := 0; row < tiles[1]; row++ {
				tile, err := deepZoom.GetTile(level, [2]int{col, row})
				if err != nil {
					return fmt.Errorf("tile %d/%d_%d: %w", level, col, row, err)
				}
				buf, err := utils.EncodeImage(tile, deepZoom.Format, quality)
				if err != nil {
					return err
				}
				name := fmt.Sprintf("%d_%d.%s", col, row, deepZoom.Format)
				if err := os.WriteFile(filepath.Join(levelDir, name), buf, 0644); err != nil {
					return fmt.Errorf("writing tile: %w", err)
				}
			}
		}
	}

	dzi, err := deepZoom.GetDzi()
	if err != nil {
		return err
	}
	descriptor, err := xml.MarshalIndent(dzi, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	descriptor = append([]byte(xml.Header), descriptor...)
	if err := os.WriteFile(descriptorPath, descriptor, 0644); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}

	log.Info(fmt.Sprintf("Wrote %d tiles in %d levels for %s", deepZoom.TileCount(), deepZoom.LevelCount(), identifier))
	return nil
}

// Tiler Builds the static pyramid of uploaded slides
type Tiler struct {
	Open        Opener
	Dir         string
	TileSize    int
	TileOverlap int
	LimitBounds bool
	Format      string
	Quality     int
}

// Tile Open the slide at path and write its pyramid under the tiler directory
func (t *Tiler) Tile(identifier string, path string) error {
	source, err := t.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer source.Close()

	deepZoom, err := CreateDeepZoom(source, t.TileSize, t.TileOverlap, t.LimitBounds, t.Format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(t.Dir, 0755); err != nil {
		return fmt.Errorf("creating tile directory: %w", err)
	}
	return WritePyramid(deepZoom, t.Dir, identifier, t.Quality)
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"morphoview/deepzoom"
)

// Artifacts Files derived from a slide: the heatmap and the static tile pyramid
type Artifacts struct {
	HeatmapDir string
	TileDir    string
}

// NewArtifacts Create the heatmap and tile directories if needed
func NewArtifacts(heatmapDir string, tileDir string) (*Artifacts, error) {
	for _, dir := range []string{heatmapDir, tileDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating artifact directory %s: %w", dir, err)
		}
	}
	return &Artifacts{HeatmapDir: heatmapDir, TileDir: tileDir}, nil
}

func (a *Artifacts) HeatmapPath(identifier string) string {
	return filepath.Join(a.HeatmapDir, identifier+"_heatmap.png")
}

// HeatmapURL Path of the heatmap under the /heatmaps static mount
func (a *Artifacts) HeatmapURL(identifier string) string {
	return "/heatmaps/" + identifier + "_heatmap.png"
}

func (a *Artifacts) DescriptorPath(identifier string) string {
	return deepzoom.DescriptorPath(a.TileDir, identifier)
}

func (a *Artifacts) TilesPath(identifier string) string {
	return deepzoom.TilesPath(a.TileDir, identifier)
}

// Remove Delete every artifact of the slide. Failures are logged and skipped.
func (a *Artifacts) Remove(identifier string) {
	for _, path := range []string{a.HeatmapPath(identifier), a.DescriptorPath(identifier)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn(fmt.Sprintf("Could not remove %s: %s", path, err.Error()))
		}
	}
	if err := os.RemoveAll(a.TilesPath(identifier)); err != nil {
		log.Warn(fmt.Sprintf("Could not remove tiles of %s: %s", identifier, err.Error()))
	}
}

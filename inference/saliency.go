package inference

import (
	"errors"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// HeatmapAlpha Weight of the colormap in the overlay
const HeatmapAlpha = 0.4

var ErrEmptySaliency = errors.New("empty saliency map")

// Normalize Min-max scale the grid to [0,1]. A constant grid (or one without finite values)
// maps to zeros. Non-finite entries count as the minimum. Ragged rows are padded with zeros.
func Normalize(grid [][]float64) ([][]float64, error) {
	if len(grid) == 0 {
		return nil, ErrEmptySaliency
	}
	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil, ErrEmptySaliency
	}

	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, row := range grid {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
	}

	out := make([][]float64, len(grid))
	spread := maxV - minV
	for i, row := range grid {
		out[i] = make([]float64, width)
		if math.IsInf(minV, 1) || spread <= 1e-12 {
			continue
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out[i][j] = (v - minV) / spread
		}
	}
	return out, nil
}

// Resize Bilinear upsampling of a normalized grid to width x height
func Resize(grid [][]float64, width int, height int) *image.Gray16 {
	src := image.NewGray16(image.Rect(0, 0, len(grid[0]), len(grid)))
	for y, row := range grid {
		for x, v := range row {
			src.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(clamp01(v) * 0xffff))})
		}
	}
	dst := image.NewGray16(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Jet Map v in [0,1] on the jet colormap, blue for 0 through red for 1
func Jet(v float64) color.RGBA {
	v = clamp01(v)
	channel := func(center float64) uint8 {
		return uint8(math.Round(clamp01(1.5-math.Abs(4*v-center)) * 255))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}

// Overlay Blend the jet colored saliency over the base image
func Overlay(base image.Image, saliency *image.Gray16, alpha float64) *image.RGBA {
	bounds := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := base.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			heat := Jet(float64(saliency.Gray16At(x, y).Y) / 0xffff)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(r, heat.R, alpha),
				G: blend(g, heat.G, alpha),
				B: blend(b, heat.B, alpha),
				A: 255,
			})
		}
	}
	return out
}

// RenderHeatmap Normalize the grid, scale it to the base image and overlay it
func RenderHeatmap(base image.Image, grid [][]float64) (*image.RGBA, error) {
	normalized, err := Normalize(grid)
	if err != nil {
		return nil, err
	}
	size := base.Bounds().Size()
	return Overlay(base, Resize(normalized, size.X, size.Y), HeatmapAlpha), nil
}

func blend(base uint32, heat uint8, alpha float64) uint8 {
	return uint8(math.Round((1-alpha)*float64(base>>8) + alpha*float64(heat)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

package inference

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	stainInputSize = 224
	stainGridSize  = 7
	stainGain      = 12.0
	stainThreshold = 0.35
)

// StainModel Deterministic tumor/benign classifier working on stain density.
// The image is resampled to 224x224 and split into a 7x7 grid, the resolution of a
// ResNet50 feature map, so the saliency grid has the same shape a Grad-CAM would produce.
type StainModel struct {
	labels [2]string
}

func NewStainModel() *StainModel {
	return &StainModel{labels: [2]string{"benign", "tumor"}}
}

func (m *StainModel) Name() string {
	return "stain-density-v1"
}

func (m *StainModel) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	input := image.NewRGBA(image.Rect(0, 0, stainInputSize, stainInputSize))
	draw.Draw(input, input.Bounds(), image.White, image.Point{}, draw.Src)
	draw.BiLinear.Scale(input, input.Bounds(), img, img.Bounds(), draw.Over, nil)

	cell := stainInputSize / stainGridSize
	saliency := make([][]float64, stainGridSize)
	total := 0.0
	for row := 0; row < stainGridSize; row++ {
		saliency[row] = make([]float64, stainGridSize)
		for col := 0; col < stainGridSize; col++ {
			sum := 0.0
			for y := row * cell; y < (row+1)*cell; y++ {
				for x := col * cell; x < (col+1)*cell; x++ {
					sum += stainDensity(input, x, y)
				}
			}
			saliency[row][col] = sum / float64(cell*cell)
			total += saliency[row][col]
		}
	}
	mean := total / float64(stainGridSize*stainGridSize)

	tumor := 1.0 / (1.0 + math.Exp(-stainGain*(mean-stainThreshold)))
	return Prediction{
		Model: m.Name(),
		Scores: []ClassScore{
			{Label: m.labels[0], Score: 1 - tumor},
			{Label: m.labels[1], Score: tumor},
		},
		Saliency: saliency,
	}, nil
}

// stainDensity Darkness weighted by saturation: haematoxylin and eosin stained tissue is dark and
// saturated, background glass is bright and grey.
func stainDensity(img *image.RGBA, x, y int) float64 {
	offset := img.PixOffset(x, y)
	r := float64(img.Pix[offset]) / 255
	g := float64(img.Pix[offset+1]) / 255
	b := float64(img.Pix[offset+2]) / 255

	luminance := 0.299*r + 0.587*g + 0.114*b
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	saturation := 0.0
	if maxC > 0 {
		saturation = (maxC - minC) / maxC
	}
	return (1 - luminance) * (0.5 + 0.5*saturation)
}

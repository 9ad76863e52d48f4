package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphoview/deepzoom"
	"morphoview/detection"
	"morphoview/inference"
	"morphoview/metadata"
	"morphoview/models"
	"morphoview/storage"
)

type recordingEvictor struct {
	evicted []string
}

func (e *recordingEvictor) Evict(identifier string) {
	e.evicted = append(e.evicted, identifier)
}

type failingTiler struct{}

func (failingTiler) Tile(identifier string, path string) error {
	return errors.New("unsupported format")
}

type testEnv struct {
	service   *Service
	artifacts *storage.Artifacts
	metadata  metadata.Store
	evictor   *recordingEvictor
}

func newTestEnv(t *testing.T, cascade bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := models.ConnectDataBase("sqlite", filepath.Join(dir, "index.sqlite"))
	require.NoError(t, err)
	slides, err := storage.NewSlideStore(db, filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	artifacts, err := storage.NewArtifacts(filepath.Join(dir, "heatmaps"), filepath.Join(dir, "tiles"))
	require.NoError(t, err)
	store := metadata.NewFileStore(filepath.Join(dir, "slide_metadata.json"))
	evictor := &recordingEvictor{}

	service, err := NewService(Dependencies{
		Slides:    slides,
		Artifacts: artifacts,
		Metadata:  store,
		Tiler: &deepzoom.Tiler{
			Open:        deepzoom.OpenImage,
			Dir:         artifacts.TileDir,
			TileSize:    254,
			TileOverlap: 1,
			LimitBounds: true,
			Format:      "jpeg",
			Quality:     75,
		},
		Cache:         evictor,
		Inference:     inference.NewService(inference.NewStainModel()),
		Detector:      detection.NewPlaceholder("tumor"),
		CascadeDelete: cascade,
	})
	require.NoError(t, err)
	return &testEnv{service: service, artifacts: artifacts, metadata: store, evictor: evictor}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 40, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Dependencies{})
	assert.Error(t, err)
}

func TestUpload_TilesImages(t *testing.T) {
	env := newTestEnv(t, false)

	result, err := env.service.Upload(bytes.NewReader(pngBytes(t, 300, 200)), "scan.png")
	require.NoError(t, err)
	assert.True(t, result.Tiled)
	assert.Equal(t, "scan.png", result.Filename)
	assert.Equal(t, result.FileID+".png", result.SavedAs)
	assert.FileExists(t, env.artifacts.DescriptorPath(result.FileID))

	slide, err := env.service.Lookup(result.FileID)
	require.NoError(t, err)
	assert.True(t, slide.Tiled)
}

func TestUpload_TilingFailureKeepsSlide(t *testing.T) {
	env := newTestEnv(t, false)

	result, err := env.service.Upload(strings.NewReader("not an image"), "test_image.png")
	require.NoError(t, err)
	assert.False(t, result.Tiled)

	slides, err := env.service.List()
	require.NoError(t, err)
	assert.Contains(t, slides, result.SavedAs)
}

func TestUpload_DoesNotCreateMetadata(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.service.Upload(bytes.NewReader(pngBytes(t, 10, 10)), "scan.png")
	require.NoError(t, err)

	all, err := env.service.AllMetadata()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpload_TilerError(t *testing.T) {
	env := newTestEnv(t, false)
	env.service.deps.Tiler = failingTiler{}

	result, err := env.service.Upload(bytes.NewReader(pngBytes(t, 10, 10)), "scan.png")
	require.NoError(t, err)
	assert.False(t, result.Tiled)

	slide, err := env.service.Lookup(result.FileID)
	require.NoError(t, err)
	assert.False(t, slide.Tiled)
}

func TestUpload_WithoutTiler(t *testing.T) {
	env := newTestEnv(t, false)
	env.service.deps.Tiler = nil

	result, err := env.service.Upload(bytes.NewReader(pngBytes(t, 10, 10)), "scan.png")
	require.NoError(t, err)
	assert.False(t, result.Tiled)
}

func TestDelete_RemovesSlideAndArtifacts(t *testing.T) {
	env := newTestEnv(t, false)

	upload, err := env.service.Upload(bytes.NewReader(pngBytes(t, 64, 64)), "scan.png")
	require.NoError(t, err)
	_, err = env.service.Predict(context.Background(), upload.FileID)
	require.NoError(t, err)
	require.FileExists(t, env.artifacts.HeatmapPath(upload.FileID))

	result, err := env.service.Delete(upload.FileID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Deleted "+upload.SavedAs, result.Message)

	slides, err := env.service.List()
	require.NoError(t, err)
	assert.NotContains(t, slides, upload.SavedAs)
	assert.NoFileExists(t, env.artifacts.HeatmapPath(upload.FileID))
	assert.NoFileExists(t, env.artifacts.DescriptorPath(upload.FileID))
	assert.NoDirExists(t, env.artifacts.TilesPath(upload.FileID))
	assert.Equal(t, []string{upload.FileID}, env.evictor.evicted)

	// metadata outlives the slide unless deletes cascade
	all, err := env.service.AllMetadata()
	require.NoError(t, err)
	assert.Contains(t, all, upload.FileID)
}

func TestDelete_CascadesMetadata(t *testing.T) {
	env := newTestEnv(t, true)

	upload, err := env.service.Upload(bytes.NewReader(pngBytes(t, 10, 10)), "scan.png")
	require.NoError(t, err)
	_, err = env.service.UpdateMetadata(upload.FileID, "high", "queued")
	require.NoError(t, err)

	result, err := env.service.Delete(upload.FileID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	all, err := env.service.AllMetadata()
	require.NoError(t, err)
	assert.NotContains(t, all, upload.FileID)
}

func TestDelete_NotFound(t *testing.T) {
	env := newTestEnv(t, false)

	result, err := env.service.Delete("missing")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "File not found", result.Message)
	assert.Empty(t, env.evictor.evicted)
}

func TestGetMetadata_Default(t *testing.T) {
	env := newTestEnv(t, false)

	record, err := env.service.GetMetadata("never-updated")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, record.Priority)
	assert.Equal(t, models.StatusQueued, record.Status)
	assert.NotZero(t, record.UploadTime)
}

func TestUpdateMetadata(t *testing.T) {
	env := newTestEnv(t, false)

	first, err := env.service.UpdateMetadata("slide", "urgent", "processing")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, first.Priority)
	assert.Equal(t, models.StatusProcessing, first.Status)

	second, err := env.service.UpdateMetadata("slide", "low", "")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityLow, second.Priority)
	assert.Equal(t, models.StatusProcessing, second.Status)
	assert.Equal(t, first.UploadTime, second.UploadTime)

	got, err := env.service.GetMetadata("slide")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestUpdateMetadata_Rejected(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.service.UpdateMetadata("slide", "critical", "queued")
	assert.ErrorIs(t, err, models.ErrInvalidPriority)

	_, err = env.service.UpdateMetadata("slide", "normal", "archived")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	_, err = env.service.UpdateMetadata("slide", "normal", "completed")
	require.NoError(t, err)
	_, err = env.service.UpdateMetadata("slide", "normal", "processing")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	requeued, err := env.service.UpdateMetadata("slide", "", "queued")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, requeued.Status)
}

func TestPredict(t *testing.T) {
	env := newTestEnv(t, false)

	upload, err := env.service.Upload(bytes.NewReader(pngBytes(t, 120, 90)), "scan.png")
	require.NoError(t, err)

	result, err := env.service.Predict(context.Background(), upload.FileID)
	require.NoError(t, err)

	assert.Equal(t, ImageSize{Width: 120, Height: 90}, result.ImageSize)
	assert.Equal(t, "/heatmaps/"+upload.FileID+"_heatmap.png", result.Heatmap)
	assert.GreaterOrEqual(t, result.ModelInfo.Confidence, 0.0)
	assert.LessOrEqual(t, result.ModelInfo.Confidence, 1.0)
	assert.Equal(t, "stain-density-v1", result.ModelInfo.ModelName)
	assert.Equal(t, result.ModelInfo.Label, result.Prediction)
	assert.Len(t, result.Boxes, result.QCMetrics.DetectedRegions)

	f, err := os.Open(env.artifacts.HeatmapPath(upload.FileID))
	require.NoError(t, err)
	defer f.Close()
	heatmap, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 90), heatmap.Bounds())

	record, err := env.service.GetMetadata(upload.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, record.Status)
	assert.Equal(t, result.Heatmap, record.HeatmapURL)
	require.NotNil(t, record.ModelInfo)
	assert.Equal(t, result.ModelInfo, *record.ModelInfo)
	require.NotNil(t, record.QCMetrics)
	assert.Equal(t, result.QCMetrics, *record.QCMetrics)
}

func TestPredict_NotFound(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.service.Predict(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrSlideNotFound)
}

func TestPredict_UndecodableSlide(t *testing.T) {
	env := newTestEnv(t, false)

	upload, err := env.service.Upload(strings.NewReader("random bytes"), "test_image.png")
	require.NoError(t, err)

	_, err = env.service.Predict(context.Background(), upload.FileID)
	assert.Error(t, err)
	assert.NoFileExists(t, env.artifacts.HeatmapPath(upload.FileID))
}

func TestPredict_ClassifiesBoundedThumbnail(t *testing.T) {
	env := newTestEnv(t, false)
	env.service.deps.InputSize = 100

	upload, err := env.service.Upload(bytes.NewReader(pngBytes(t, 400, 200)), "scan.png")
	require.NoError(t, err)

	result, err := env.service.Predict(context.Background(), upload.FileID)
	require.NoError(t, err)
	assert.Equal(t, ImageSize{Width: 400, Height: 200}, result.ImageSize)

	f, err := os.Open(env.artifacts.HeatmapPath(upload.FileID))
	require.NoError(t, err)
	defer f.Close()
	heatmap, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), heatmap.Bounds())
}

func TestPredict_OpensThroughOpener(t *testing.T) {
	env := newTestEnv(t, false)
	var opened []string
	env.service.deps.Open = func(path string) (deepzoom.Source, error) {
		opened = append(opened, path)
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for x := 0; x < 64; x++ {
			for y := 0; y < 48; y++ {
				img.Set(x, y, color.RGBA{R: 200, G: 80, B: 160, A: 255})
			}
		}
		return deepzoom.NewImageSource(img, "svs"), nil
	}

	// not decodable as a raster image, only the opener understands it
	upload, err := env.service.Upload(strings.NewReader("vendor slide bytes"), "biopsy.svs")
	require.NoError(t, err)

	result, err := env.service.Predict(context.Background(), upload.FileID)
	require.NoError(t, err)
	assert.Equal(t, ImageSize{Width: 64, Height: 48}, result.ImageSize)
	assert.FileExists(t, env.artifacts.HeatmapPath(upload.FileID))

	slide, err := env.service.Lookup(upload.FileID)
	require.NoError(t, err)
	assert.Equal(t, []string{slide.Path}, opened)
}

func TestPredictAndDelete_Concurrent(t *testing.T) {
	env := newTestEnv(t, false)
	env.service.deps.Tiler = nil
	data := pngBytes(t, 600, 600)

	for i := 0; i < 10; i++ {
		upload, err := env.service.Upload(bytes.NewReader(data), "scan.png")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var deleted *DeleteResult
		var deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			env.service.Predict(context.Background(), upload.FileID)
		}()
		go func() {
			defer wg.Done()
			deleted, deleteErr = env.service.Delete(upload.FileID)
		}()
		wg.Wait()

		require.NoError(t, deleteErr)
		require.True(t, deleted.Success)
		assert.NoFileExists(t, env.artifacts.HeatmapPath(upload.FileID))
		_, err = env.service.Lookup(upload.FileID)
		assert.ErrorIs(t, err, storage.ErrSlideNotFound)
	}
}

func TestSlideLocks(t *testing.T) {
	locks := newSlideLocks()

	unlock := locks.lock("a")
	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		release := locks.lock("a")
		close(acquired)
		release()
		close(released)
	}()

	// another identifier is not blocked
	locks.lock("b")()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the first held the lock")
	default:
	}
	unlock()
	<-acquired
	<-released

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

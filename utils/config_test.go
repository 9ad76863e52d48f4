package utils

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := NewConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestDefaultConfig_UploadsAreNotCutOff(t *testing.T) {
	config := DefaultConfig()
	assert.Zero(t, config.Server.ReadTimeout)
	assert.Equal(t, 30, config.Server.ReadHeaderTimeout)
	assert.Equal(t, 2048, config.Inference.InputSize)
}

func TestNewConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
server:
  port: "9000"
metadata:
  backend: database
  cascade_delete: true
deepzoom:
  format: png
  tile_size: 510
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", config.Server.Port)
	assert.Equal(t, "database", config.Metadata.Backend)
	assert.True(t, config.Metadata.CascadeDelete)
	assert.Equal(t, "png", config.DeepZoom.Format)
	assert.Equal(t, 510, config.DeepZoom.TileSize)
	// untouched keys keep their defaults
	assert.Equal(t, 1, config.DeepZoom.TileOverlap)
	assert.Equal(t, "uploads", config.Storage.UploadDir)
}

func TestNewConfig_Environment(t *testing.T) {
	t.Setenv("MORPHOVIEW_PORT", "7000")
	t.Setenv("MORPHOVIEW_CASCADE_DELETE", "true")
	t.Setenv("MORPHOVIEW_ALLOW_ORIGINS", "http://localhost:3000, https://viewer.example.org")

	config, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, "7000", config.Server.Port)
	assert.True(t, config.Metadata.CascadeDelete)
	assert.Equal(t, []string{"http://localhost:3000", "https://viewer.example.org"}, config.Server.AllowOrigins)
}

func TestNewConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("MORPHOVIEW_CASCADE_DELETE", "sometimes")
	_, err := NewConfig("")
	assert.Error(t, err)
}

func TestNewConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))
	_, err := NewConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":     func(c *Config) { c.Database.Driver = "postgres" },
		"metadata":   func(c *Config) { c.Metadata.Backend = "redis" },
		"inference":  func(c *Config) { c.Inference.Backend = "torch" },
		"remote url": func(c *Config) { c.Inference.Backend = "remote" },
		"format":     func(c *Config) { c.DeepZoom.Format = "gif" },
		"tile size":  func(c *Config) { c.DeepZoom.TileSize = 0 },
		"overlap":    func(c *Config) { c.DeepZoom.TileOverlap = -1 },
		"input size": func(c *Config) { c.Inference.InputSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			mutate(config)
			assert.Error(t, config.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	config := DefaultConfig()
	config.Log.Level = "debug"
	require.NoError(t, SetupLogging(config))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	config.Log.Level = "chatty"
	assert.Error(t, SetupLogging(config))
}

func TestEncodeAndDecodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	dir := t.TempDir()

	for _, format := range []string{"png", "jpeg"} {
		buf, err := EncodeImage(img, format, 90)
		require.NoError(t, err)
		path := filepath.Join(dir, "image."+format)
		require.NoError(t, os.WriteFile(path, buf, 0644))

		decoded, decodedFormat, err := DecodeImageFile(path)
		require.NoError(t, err)
		assert.Equal(t, format, decodedFormat)
		assert.Equal(t, img.Bounds(), decoded.Bounds())
	}

	_, err := EncodeImage(img, "gif", 90)
	assert.Error(t, err)

	buf, err := ImageToJpgBuffer(img, &jpeg.Options{Quality: 50})
	require.NoError(t, err)
	assert.NotEmpty(t, buf)
}

func TestDecodeImageFile_NotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "random.png")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a png"), 0644))
	_, _, err := DecodeImageFile(path)
	assert.Error(t, err)
}

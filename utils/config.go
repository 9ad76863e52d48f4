package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config Service configuration, read from a YAML file and overridden by MORPHOVIEW_* variables
type Config struct {
	Server struct {
		Port              string   `yaml:"port"`
		ReadTimeout       int      `yaml:"read_timeout"`        // seconds, 0 means no limit on reading an upload
		ReadHeaderTimeout int      `yaml:"read_header_timeout"` // seconds
		WriteTimeout      int      `yaml:"write_timeout"`       // seconds, has to cover a synchronous prediction
		AllowOrigins      []string `yaml:"allow_origins"`
	} `yaml:"server"`
	Storage struct {
		UploadDir  string `yaml:"upload_dir"`
		HeatmapDir string `yaml:"heatmap_dir"`
		TileDir    string `yaml:"tile_dir"`
	} `yaml:"storage"`
	Database struct {
		Driver string `yaml:"driver"` // sqlite or mysql
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Metadata struct {
		Backend       string `yaml:"backend"` // json or database
		Path          string `yaml:"path"`
		CascadeDelete bool   `yaml:"cascade_delete"`
	} `yaml:"metadata"`
	DeepZoom struct {
		TileSize     int    `yaml:"tile_size"`
		TileOverlap  int    `yaml:"tile_overlap"`
		Format       string `yaml:"format"`
		Quality      int    `yaml:"quality"`
		LimitBounds  bool   `yaml:"limit_bounds"`
		CacheTTL     int    `yaml:"cache_ttl"`     // seconds
		CacheCleanup int    `yaml:"cache_cleanup"` // seconds
	} `yaml:"deepzoom"`
	Inference struct {
		Backend   string `yaml:"backend"` // stain or remote
		URL       string `yaml:"url"`
		Timeout   int    `yaml:"timeout"` // seconds
		ModelName string `yaml:"model_name"`
		InputSize int    `yaml:"input_size"` // longest side of the image a slide is classified at
	} `yaml:"inference"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// DefaultConfig Configuration used for every key missing from the YAML file
func DefaultConfig() *Config {
	config := &Config{}
	config.Server.Port = "8000"
	config.Server.ReadTimeout = 0
	config.Server.ReadHeaderTimeout = 30
	config.Server.WriteTimeout = 300
	config.Server.AllowOrigins = []string{"*"}
	config.Storage.UploadDir = "uploads"
	config.Storage.HeatmapDir = "heatmaps"
	config.Storage.TileDir = "tiles"
	config.Database.Driver = "sqlite"
	config.Database.DSN = "morphoview.sqlite"
	config.Metadata.Backend = "json"
	config.Metadata.Path = "slide_metadata.json"
	config.DeepZoom.TileSize = 254
	config.DeepZoom.TileOverlap = 1
	config.DeepZoom.Format = "jpeg"
	config.DeepZoom.Quality = 75
	config.DeepZoom.LimitBounds = true
	config.DeepZoom.CacheTTL = 500
	config.DeepZoom.CacheCleanup = 60
	config.Inference.Backend = "stain"
	config.Inference.Timeout = 120
	config.Inference.InputSize = 2048
	config.Log.Level = "info"
	return config
}

// NewConfig Read the configuration at configPath on top of the defaults.
// A missing file is not an error, the defaults are used instead.
func NewConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			log.Info(fmt.Sprintf("No configuration at %s, using defaults", configPath))
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", configPath, err)
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv Override selected keys from the environment (a .env file is loaded by the CLI beforehand)
func (config *Config) applyEnv() error {
	strVars := map[string]*string{
		"MORPHOVIEW_PORT":            &config.Server.Port,
		"MORPHOVIEW_UPLOAD_DIR":      &config.Storage.UploadDir,
		"MORPHOVIEW_HEATMAP_DIR":     &config.Storage.HeatmapDir,
		"MORPHOVIEW_TILE_DIR":        &config.Storage.TileDir,
		"MORPHOVIEW_DB_DRIVER":       &config.Database.Driver,
		"MORPHOVIEW_DB_DSN":          &config.Database.DSN,
		"MORPHOVIEW_METADATA":        &config.Metadata.Backend,
		"MORPHOVIEW_METADATA_PATH":   &config.Metadata.Path,
		"MORPHOVIEW_INFERENCE":       &config.Inference.Backend,
		"MORPHOVIEW_INFERENCE_URL":   &config.Inference.URL,
		"MORPHOVIEW_LOG_LEVEL":       &config.Log.Level,
		"MORPHOVIEW_DEEPZOOM_FORMAT": &config.DeepZoom.Format,
	}
	for key, target := range strVars {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*target = value
		}
	}

	if value, ok := os.LookupEnv("MORPHOVIEW_CASCADE_DELETE"); ok && value != "" {
		cascade, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("MORPHOVIEW_CASCADE_DELETE: %w", err)
		}
		config.Metadata.CascadeDelete = cascade
	}
	if value, ok := os.LookupEnv("MORPHOVIEW_ALLOW_ORIGINS"); ok && value != "" {
		var origins []string
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		config.Server.AllowOrigins = origins
	}
	return nil
}

// Validate Check the enumerated keys and the deep zoom parameters
func (config *Config) Validate() error {
	switch config.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", config.Database.Driver)
	}
	switch config.Metadata.Backend {
	case "json", "database":
	default:
		return fmt.Errorf("unsupported metadata backend %q", config.Metadata.Backend)
	}
	switch config.Inference.Backend {
	case "stain":
	case "remote":
		if config.Inference.URL == "" {
			return fmt.Errorf("inference backend remote requires inference.url")
		}
	default:
		return fmt.Errorf("unsupported inference backend %q", config.Inference.Backend)
	}
	if config.Inference.InputSize <= 0 {
		return fmt.Errorf("inference.input_size must be positive, got %d", config.Inference.InputSize)
	}
	if config.DeepZoom.Format != "jpeg" && config.DeepZoom.Format != "png" {
		return fmt.Errorf("deepzoom.format must be jpeg or png, got %q", config.DeepZoom.Format)
	}
	if config.DeepZoom.TileSize <= 0 || config.DeepZoom.TileOverlap < 0 {
		return fmt.Errorf("invalid deepzoom tile size %d / overlap %d", config.DeepZoom.TileSize, config.DeepZoom.TileOverlap)
	}
	return nil
}

// SetupLogging Configure the package level logrus logger
func SetupLogging(config *Config) error {
	level, err := log.ParseLevel(config.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	if config.Log.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

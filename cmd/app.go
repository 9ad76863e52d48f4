package cmd

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"morphoview/deepzoom"
	"morphoview/detection"
	"morphoview/inference"
	"morphoview/lifecycle"
	"morphoview/metadata"
	"morphoview/models"
	"morphoview/storage"
	"morphoview/utils"
	"morphoview/wsi"
)

// app Everything a command needs, built once from the configuration
type app struct {
	config *utils.Config
	db     *gorm.DB
	slides *storage.SlideStore
	cache  *deepzoom.LocalCache
	tiles  *deepzoom.Tiler
}

// loadConfig Read the configuration and set up logging and the gin mode
func loadConfig(opts *rootOptions) (*utils.Config, error) {
	config, err := utils.NewConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		config.Log.Level = "debug"
	}
	if err := utils.SetupLogging(config); err != nil {
		return nil, err
	}

	// Debug mode enables gin-gonic debug mode
	if opts.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return config, nil
}

func newApp(opts *rootOptions) (*app, error) {
	config, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := models.ConnectDataBase(config.Database.Driver, config.Database.DSN)
	if err != nil {
		return nil, err
	}
	slides, err := storage.NewSlideStore(db, config.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	return &app{
		config: config,
		db:     db,
		slides: slides,
		tiles: &deepzoom.Tiler{
			Open:        wsi.Open,
			Dir:         config.Storage.TileDir,
			TileSize:    config.DeepZoom.TileSize,
			TileOverlap: config.DeepZoom.TileOverlap,
			LimitBounds: config.DeepZoom.LimitBounds,
			Format:      config.DeepZoom.Format,
			Quality:     config.DeepZoom.Quality,
		},
	}, nil
}

func (a *app) metadataStore() (metadata.Store, error) {
	switch a.config.Metadata.Backend {
	case "json":
		log.Info(fmt.Sprintf("Keeping slide metadata in %s", a.config.Metadata.Path))
		return metadata.NewFileStore(a.config.Metadata.Path), nil
	case "database":
		log.Info("Keeping slide metadata in the database")
		return metadata.NewDBStore(a.db), nil
	}
	return nil, fmt.Errorf("unsupported metadata backend %q", a.config.Metadata.Backend)
}

// lifecycle Wire the slide lifecycle together with a fresh pyramid cache
func (a *app) lifecycle() (*lifecycle.Service, error) {
	artifacts, err := storage.NewArtifacts(a.config.Storage.HeatmapDir, a.config.Storage.TileDir)
	if err != nil {
		return nil, err
	}
	store, err := a.metadataStore()
	if err != nil {
		return nil, err
	}
	classifier, err := inference.NewClassifier(a.config)
	if err != nil {
		return nil, err
	}

	a.cache = deepzoom.NewLocalCache(
		time.Duration(a.config.DeepZoom.CacheCleanup)*time.Second,
		time.Duration(a.config.DeepZoom.CacheTTL)*time.Second)

	return lifecycle.NewService(lifecycle.Dependencies{
		Slides:        a.slides,
		Artifacts:     artifacts,
		Metadata:      store,
		Tiler:         a.tiles,
		Cache:         a.cache,
		Open:          wsi.Open,
		Inference:     inference.NewService(classifier),
		Detector:      detection.NewPlaceholder("tumor"),
		InputSize:     a.config.Inference.InputSize,
		CascadeDelete: a.config.Metadata.CascadeDelete,
	})
}

// close Release the pyramid cache and the database connection
func (a *app) close() {
	if a.cache != nil {
		log.Info("Emptying deepzoom cache...")
		a.cache.Stop()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

package metadata

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"morphoview/models"
)

// DBStore Keeps records in the slide_metadata table of the index database
type DBStore struct {
	mu  sync.Mutex
	db  *gorm.DB
	now func() time.Time
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db, now: time.Now}
}

func (s *DBStore) Load() (map[string]models.SlideMetadata, error) {
	var rows []models.MetadataRecord
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}
	records := make(map[string]models.SlideMetadata, len(rows))
	for _, row := range rows {
		records[row.Identifier] = row.ToMetadata()
	}
	return records, nil
}

func (s *DBStore) Save(records map[string]models.SlideMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.MetadataRecord{}).Error; err != nil {
			return fmt.Errorf("clearing metadata: %w", err)
		}
		for identifier, metadata := range records {
			row := models.NewMetadataRecord(identifier, metadata)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("saving metadata %s: %w", identifier, err)
			}
		}
		return nil
	})
}

func (s *DBStore) Get(identifier string) (models.SlideMetadata, error) {
	var row models.MetadataRecord
	err := s.db.Where("identifier = ?", identifier).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Default(s.now()), nil
	}
	if err != nil {
		return models.SlideMetadata{}, fmt.Errorf("reading metadata %s: %w", identifier, err)
	}
	return row.ToMetadata(), nil
}

func (s *DBStore) Update(identifier string, priority models.Priority, status models.Status) (models.SlideMetadata, error) {
	return s.modify(identifier, func(record models.SlideMetadata) (models.SlideMetadata, error) {
		return applyUpdate(record, priority, status, s.now())
	})
}

func (s *DBStore) Complete(identifier string, result Result) (models.SlideMetadata, error) {
	return s.modify(identifier, func(record models.SlideMetadata) (models.SlideMetadata, error) {
		return applyComplete(record, result, s.now())
	})
}

func (s *DBStore) Delete(identifier string) error {
	if err := s.db.Where("identifier = ?", identifier).Delete(&models.MetadataRecord{}).Error; err != nil {
		return fmt.Errorf("deleting metadata %s: %w", identifier, err)
	}
	return nil
}

func (s *DBStore) modify(identifier string, fn func(models.SlideMetadata) (models.SlideMetadata, error)) (models.SlideMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated models.SlideMetadata
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row models.MetadataRecord
		found := true
		err := tx.Where("identifier = ?", identifier).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		var current models.SlideMetadata
		if found {
			current = row.ToMetadata()
		}
		if updated, err = fn(current); err != nil {
			return err
		}
		row = models.NewMetadataRecord(identifier, updated)
		if found {
			return tx.Save(&row).Error
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.SlideMetadata{}, fmt.Errorf("updating metadata %s: %w", identifier, err)
	}
	return updated, nil
}

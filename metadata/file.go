package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"morphoview/models"
)

// FileStore Keeps all records in one JSON document on disk.
// Writes go through a temporary file and a rename, so a reader never sees half a document.
// Two processes sharing the file can still overwrite each other's updates.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore Create a store persisting to path; the file is created on the first save
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Load() (map[string]models.SlideMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Save(records map[string]models.SlideMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(records)
}

func (s *FileStore) Get(identifier string) (models.SlideMetadata, error) {
	records, err := s.Load()
	if err != nil {
		return models.SlideMetadata{}, err
	}
	if record, ok := records[identifier]; ok {
		return record, nil
	}
	return Default(s.now()), nil
}

func (s *FileStore) Update(identifier string, priority models.Priority, status models.Status) (models.SlideMetadata, error) {
	return s.modify(identifier, func(record models.SlideMetadata) (models.SlideMetadata, error) {
		return applyUpdate(record, priority, status, s.now())
	})
}

func (s *FileStore) Complete(identifier string, result Result) (models.SlideMetadata, error) {
	return s.modify(identifier, func(record models.SlideMetadata) (models.SlideMetadata, error) {
		return applyComplete(record, result, s.now())
	})
}

func (s *FileStore) Delete(identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[identifier]; !ok {
		return nil
	}
	delete(records, identifier)
	return s.save(records)
}

func (s *FileStore) modify(identifier string, fn func(models.SlideMetadata) (models.SlideMetadata, error)) (models.SlideMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return models.SlideMetadata{}, err
	}
	record, err := fn(records[identifier])
	if err != nil {
		return models.SlideMetadata{}, err
	}
	records[identifier] = record
	if err := s.save(records); err != nil {
		return models.SlideMetadata{}, err
	}
	return record, nil
}

func (s *FileStore) load() (map[string]models.SlideMetadata, error) {
	records := make(map[string]models.SlideMetadata)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing metadata %s: %w", s.path, err)
	}
	return records, nil
}

func (s *FileStore) save(records map[string]models.SlideMetadata) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing metadata %s: %w", s.path, err)
	}
	log.Debug(fmt.Sprintf("Saved %d metadata records to %s", len(records), s.path))
	return nil
}

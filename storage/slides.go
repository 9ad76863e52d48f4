// Package storage keeps uploaded slide files on disk, indexed by identifier in the database.
package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"morphoview/models"
)

var ErrSlideNotFound = errors.New("slide not found")

// SlideStore Uploaded slide bytes in uploadDir plus the identifier -> file index
type SlideStore struct {
	db        *gorm.DB
	uploadDir string
}

// NewSlideStore Create the upload directory if needed
func NewSlideStore(db *gorm.DB, uploadDir string) (*SlideStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &SlideStore{db: db, uploadDir: uploadDir}, nil
}

// UploadDir Directory holding the stored slides
func (s *SlideStore) UploadDir() string {
	return s.uploadDir
}

// Create Store the content under a new random identifier. The stored name is the
// identifier followed by the extension of the original filename.
func (s *SlideStore) Create(r io.Reader, originalFilename string) (*models.Slide, error) {
	identifier := uuid.New().String()
	savedAs := identifier + filepath.Ext(filepath.Base(originalFilename))
	path := filepath.Join(s.uploadDir, savedAs)

	size, checksum, err := writeFile(path, r)
	if err != nil {
		return nil, err
	}

	slide := &models.Slide{
		Identifier: identifier,
		Filename:   originalFilename,
		SavedAs:    savedAs,
		Path:       path,
		Size:       size,
		Checksum:   checksum,
	}
	if err := s.db.Create(slide).Error; err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("indexing slide %s: %w", identifier, err)
	}
	log.Info(fmt.Sprintf("Stored %s as %s (%d bytes)", originalFilename, savedAs, size))
	return slide, nil
}

// List Stored filenames in upload order
func (s *SlideStore) List() ([]string, error) {
	var slides []models.Slide
	if err := s.db.Order("id asc").Find(&slides).Error; err != nil {
		return nil, fmt.Errorf("listing slides: %w", err)
	}
	names := make([]string, 0, len(slides))
	for _, slide := range slides {
		names = append(names, slide.SavedAs)
	}
	return names, nil
}

// Lookup Find a slide by its exact identifier
func (s *SlideStore) Lookup(identifier string) (*models.Slide, error) {
	var slide models.Slide
	err := s.db.Where("identifier = ?", identifier).First(&slide).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSlideNotFound, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up slide %s: %w", identifier, err)
	}
	return &slide, nil
}

// Delete Remove the file and its index entry. A missing slide reports found == false.
func (s *SlideStore) Delete(identifier string) (savedAs string, found bool, err error) {
	slide, err := s.Lookup(identifier)
	if errors.Is(err, ErrSlideNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if err := os.Remove(slide.Path); err != nil && !os.IsNotExist(err) {
		return "", true, fmt.Errorf("deleting %s: %w", slide.SavedAs, err)
	}
	if err := s.db.Unscoped().Delete(slide).Error; err != nil {
		return "", true, fmt.Errorf("removing slide %s from index: %w", identifier, err)
	}
	log.Info(fmt.Sprintf("Deleted slide %s", slide.SavedAs))
	return slide.SavedAs, true, nil
}

// MarkTiled Record whether the static pyramid exists for a slide
func (s *SlideStore) MarkTiled(identifier string, tiled bool) error {
	err := s.db.Model(&models.Slide{}).Where("identifier = ?", identifier).Update("tiled", tiled).Error
	if err != nil {
		return fmt.Errorf("updating slide %s: %w", identifier, err)
	}
	return nil
}

// Untiled Identifiers of the slides without a static pyramid
func (s *SlideStore) Untiled() ([]string, error) {
	var identifiers []string
	err := s.db.Model(&models.Slide{}).Where("tiled = ?", false).Order("id asc").Pluck("identifier", &identifiers).Error
	if err != nil {
		return nil, fmt.Errorf("listing untiled slides: %w", err)
	}
	return identifiers, nil
}

// Reindex Add index entries for files named <uuid><ext> in the upload directory
// that are not indexed yet. Returns the number of slides added.
func (s *SlideStore) Reindex() (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("reading upload directory: %w", err)
	}

	added := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		identifier := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := uuid.Parse(identifier); err != nil {
			log.Debug(fmt.Sprintf("Skipping %s, not named after an identifier", name))
			continue
		}
		if _, err := s.Lookup(identifier); err == nil {
			continue
		} else if !errors.Is(err, ErrSlideNotFound) {
			return added, err
		}

		path := filepath.Join(s.uploadDir, name)
		size, checksum, err := checksumFile(path)
		if err != nil {
			return added, err
		}
		slide := &models.Slide{
			Identifier: identifier,
			Filename:   name,
			SavedAs:    name,
			Path:       path,
			Size:       size,
			Checksum:   checksum,
		}
		if err := s.db.Create(slide).Error; err != nil {
			return added, fmt.Errorf("indexing slide %s: %w", identifier, err)
		}
		log.Info(fmt.Sprintf("Indexed existing slide %s", name))
		added++
	}
	return added, nil
}

func writeFile(path string, r io.Reader) (int64, string, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		os.Remove(path)
		return 0, "", fmt.Errorf("writing file: %w", err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func checksumFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	size, err := io.Copy(hasher, f)
	if err != nil {
		return 0, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

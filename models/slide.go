package models

import "gorm.io/gorm"

// Slide An uploaded slide; the identifier -> stored filename index
type Slide struct {
	gorm.Model
	Identifier string `json:"file_id" gorm:"uniqueIndex;size:64;not null"`
	Filename   string `json:"filename"`
	SavedAs    string `json:"saved_as" gorm:"not null"`
	Path       string `json:"-"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum" gorm:"size:64"`
	Tiled      bool   `json:"tiled"`
}

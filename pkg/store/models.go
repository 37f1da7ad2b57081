package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	ID           string    `gorm:"primaryKey"`
	DisplayName  string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	IsActive     bool      `gorm:"not null;default:true"`
	IsStaff      bool      `gorm:"not null;default:false"`
	IsAdmin      bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
}

type FileModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	MimeType   string    `gorm:"not null"`
	StorageKey string    `gorm:"not null"`
	SizeBytes  int64     `gorm:"not null"`
	PageCount  int
	UploadedAt time.Time `gorm:"not null"`
}

type MenuOptionModel struct {
	ID           string `gorm:"primaryKey"`
	Description  string `gorm:"not null"`
	Icon         string
	DisplayOrder int `gorm:"not null;index"`
}

// ChatModel embeds the analysis record as one JSON column so that every
// re-analysis is a single-column write: the record is replaced whole, never
// half-updated.
type ChatModel struct {
	ID                string `gorm:"primaryKey"`
	AccountID         string `gorm:"not null;index"`
	FileID            string `gorm:"not null;index"`
	Title             string
	Analysis          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"not null"`
	LastInteractionAt time.Time      `gorm:"not null"`
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NameEntry is the raw name as submitted.
type NameEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	LastName  string    `gorm:"size:255;not null" json:"lastName"`
	FirstName string    `gorm:"size:255;not null" json:"firstName"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (NameEntry) TableName() string { return "name_entry" }

func (e *NameEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// FullName is the derived lastName+firstName record.
type FullName struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	FullName  string    `gorm:"size:512;not null" json:"fullName"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (FullName) TableName() string { return "full_name" }

func (f *FullName) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

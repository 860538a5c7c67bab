package models

import (
	"time"

	"gorm.io/datatypes"
)

// Article is the content unit being produced. The orchestrator owns the
// status/content fields while a generation is in flight; user-facing CRUD
// owns the rest. The claim gate keeps those two writers from racing.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID uint `json:"project_id" gorm:"index;not null"`

	Title    string                      `json:"title" gorm:"not null"`
	Slug     string                      `json:"slug,omitempty" gorm:"index"`
	Status   ArticleStatus               `json:"status" gorm:"type:varchar(32);index;default:'idea'"`
	Keywords datatypes.JSONSlice[string] `json:"keywords,omitempty"`
	Notes    string                      `json:"notes,omitempty" gorm:"type:text"`

	// Board ordering within a status column
	KanbanPosition int `json:"kanban_position" gorm:"default:0"`

	// Produced output
	Content         string `json:"content,omitempty" gorm:"type:text"`
	CoverImageURL   string `json:"cover_image_url,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`

	PublishScheduledAt *time.Time `json:"publish_scheduled_at,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
}

// TableName sets the explicit table name.
func (Article) TableName() string {
	return "articles"
}

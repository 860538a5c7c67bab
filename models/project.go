package models

import "time"

// Project is the tenant scope for articles. Its settings seed the immutable
// generation inputs collected when a generation starts.
type Project struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"uniqueIndex;not null"`

	// Generation defaults
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
	Language string `json:"language" gorm:"default:'en'"`
	MaxWords int    `json:"max_words" gorm:"default:1500"`

	// Publishing
	WebhookURL           string `json:"webhook_url,omitempty"`
	WebhookSecret        string `json:"-"`
	PublishAutomatically bool   `json:"publish_automatically" gorm:"default:true"`
}

// TableName sets the explicit table name.
func (Project) TableName() string {
	return "projects"
}

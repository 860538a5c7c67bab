package models

import "time"

// QueueSchedulingType distinguishes user-queued items from scheduler-created ones.
type QueueSchedulingType string

const (
	SchedulingManual    QueueSchedulingType = "manual"
	SchedulingAutomatic QueueSchedulingType = "automatic"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is a scheduling entry for the generation queue, distinct from
// the generation record itself. Positions are contiguous and zero-based per
// user; removal renumbers the survivors.
type QueueItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ArticleID uint   `json:"article_id" gorm:"index;not null"`
	ProjectID uint   `json:"project_id" gorm:"index"`
	UserID    string `json:"user_id" gorm:"index;not null"`

	ScheduledFor   time.Time           `json:"scheduled_for" gorm:"index"`
	Position       int                 `json:"position"`
	SchedulingType QueueSchedulingType `json:"scheduling_type" gorm:"type:varchar(16);default:'manual'"`
	Status         QueueStatus         `json:"status" gorm:"type:varchar(16);index;default:'queued'"`
	Attempts       int                 `json:"attempts" gorm:"default:0"`
	LastError      string              `json:"last_error,omitempty"`
}

// TableName sets the explicit table name.
func (QueueItem) TableName() string {
	return "generation_queue"
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GenerationRecord tracks one generation attempt for an article. It is
// created when generation starts and updated in place as phases complete;
// a retry reuses the same record so the artifact history survives.
type GenerationRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PublicID  string `json:"public_id" gorm:"uniqueIndex;size:36;not null"`
	ArticleID uint   `json:"article_id" gorm:"index;not null"`

	Status   GenerationPhase `json:"status" gorm:"type:varchar(32);index"`
	Progress int             `json:"progress" gorm:"default:0"`

	// FailedPhase records which phase was executing when Status became
	// failed; the restart-point resolver starts from it.
	FailedPhase GenerationPhase `json:"failed_phase,omitempty" gorm:"type:varchar(32)"`
	Error       string          `json:"error,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty" gorm:"type:text"`

	Artifacts Artifacts `json:"artifacts" gorm:"type:jsonb;serializer:json"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName sets the explicit table name.
func (GenerationRecord) TableName() string {
	return "generation_records"
}

// Artifacts is the per-phase output bag stored on a generation record. A
// field is non-nil exactly when its phase completed successfully at least
// once for this record; each phase only ever writes its own key.
type Artifacts struct {
	Research       *ResearchArtifact       `json:"research,omitempty"`
	CoverImage     *CoverImageArtifact     `json:"coverImage,omitempty"`
	Write          *WriteArtifact          `json:"write,omitempty"`
	QualityControl *QualityControlArtifact `json:"qualityControl,omitempty"`
	Validation     *ValidationArtifact     `json:"validation,omitempty"`
}

// Value implements driver.Valuer so the bag serializes to JSON even when
// supplied as a bare value in map-based updates, where gorm's field
// serializer does not run.
func (a Artifacts) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner to read the JSON column back into the bag.
func (a *Artifacts) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*a = Artifacts{}
		return nil
	case []byte:
		if len(v) == 0 {
			*a = Artifacts{}
			return nil
		}
		return json.Unmarshal(v, a)
	case string:
		if v == "" {
			*a = Artifacts{}
			return nil
		}
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported type %T for Artifacts", value)
	}
}

// Keys lists the names of the artifacts present in the bag, in phase order.
func (a Artifacts) Keys() []string {
	var keys []string
	if a.Research != nil {
		keys = append(keys, "research")
	}
	if a.CoverImage != nil {
		keys = append(keys, "coverImage")
	}
	if a.Write != nil {
		keys = append(keys, "write")
	}
	if a.QualityControl != nil {
		keys = append(keys, "qualityControl")
	}
	if a.Validation != nil {
		keys = append(keys, "validation")
	}
	return keys
}

// HasDraft reports whether a non-empty draft exists.
func (a Artifacts) HasDraft() bool {
	return a.Write != nil && a.Write.Content != ""
}

// ResearchArtifact is the output of the research phase.
type ResearchArtifact struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
	Videos  []Video  `json:"videos,omitempty"`
}

// Source is a single research source.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Video is an optional video reference found during research.
type Video struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CoverImageArtifact is the output of the image phase.
type CoverImageArtifact struct {
	URL    string `json:"url"`
	Credit string `json:"credit,omitempty"`
}

// WriteArtifact is the output of the writing phase. The outline is produced
// inside the phase so a writing retry regenerates it together with the draft.
type WriteArtifact struct {
	Outline string `json:"outline,omitempty"`
	Content string `json:"content"`
}

// QualityControlArtifact is the output of the quality-control phase. A nil
// Report means the draft passed review.
type QualityControlArtifact struct {
	Report    *string   `json:"report"`
	CheckedAt time.Time `json:"checked_at"`
}

// ValidationArtifact is the output of the validating phase.
type ValidationArtifact struct {
	Raw      string              `json:"raw,omitempty"`
	Findings []ValidationFinding `json:"findings,omitempty"`
	IsValid  bool                `json:"is_valid"`
}

// ValidationFinding is one search-grounded verdict for an extracted claim.
type ValidationFinding struct {
	Claim      string  `json:"claim"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Correction string  `json:"correction,omitempty"`
}

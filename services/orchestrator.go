package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/models"
)

// GenerationInput is the immutable input set collected when a generation
// starts: article fields plus the owning project's generation settings.
// Executors receive it together with prior artifacts and nothing else.
type GenerationInput struct {
	Title    string
	Keywords []string
	Notes    string
	Tone     string
	Audience string
	Language string
	MaxWords int
}

// Phase executors. Each is pure with respect to scheduling: inputs and prior
// artifacts in, a phase artifact or an error out.
type (
	// ResearchExecutor gathers search-grounded research for the topic.
	ResearchExecutor interface {
		Research(ctx context.Context, in GenerationInput) (*models.ResearchArtifact, error)
	}

	// ImageExecutor selects a cover image for the article.
	ImageExecutor interface {
		SelectCoverImage(ctx context.Context, in GenerationInput, research *models.ResearchArtifact) (*models.CoverImageArtifact, error)
	}

	// WriteExecutor produces the outline and draft from the prior artifacts.
	WriteExecutor interface {
		Write(ctx context.Context, in GenerationInput, prior models.Artifacts) (*models.WriteArtifact, error)
	}

	// QualityControlExecutor reviews a draft. A nil report means it passed.
	QualityControlExecutor interface {
		Review(ctx context.Context, in GenerationInput, draft string) (*models.QualityControlArtifact, error)
	}

	// ValidationExecutor fact-checks the claims made in a draft.
	ValidationExecutor interface {
		Validate(ctx context.Context, in GenerationInput, draft string) (*models.ValidationArtifact, error)
	}

	// UpdateExecutor applies the quality report and high-confidence
	// corrections to the draft and returns the corrected content.
	UpdateExecutor interface {
		Apply(ctx context.Context, draft string, report *string, findings []models.ValidationFinding) (string, error)
	}
)

var (
	// ErrAlreadyGenerating is returned when another generation holds the claim.
	ErrAlreadyGenerating = errors.New("article is already generating")
	// ErrInvalidState is returned when the article is not generation-eligible.
	ErrInvalidState = errors.New("article is not in a generation-eligible state")
	// ErrNotFailed is returned when retry is requested for a non-failed article.
	ErrNotFailed = errors.New("article is not in failed state")
	// ErrNoGeneration is returned when no generation record exists for the article.
	ErrNoGeneration = errors.New("no generation record for article")
)

// phaseProgress maps each phase to the coarse overall progress reached once
// that phase completes.
var phaseProgress = map[models.GenerationPhase]int{
	models.PhaseResearch:       15,
	models.PhaseImage:          30,
	models.PhaseWriting:        50,
	models.PhaseQualityControl: 65,
	models.PhaseValidating:     80,
	models.PhaseUpdating:       90,
}

// Orchestrator sequences the phase executors, persists artifacts after each
// phase, and keeps the article status and the generation record consistent.
// While a generation is in flight it is the only writer of both rows; the
// claim gate enforces that.
type Orchestrator struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	Research  ResearchExecutor
	Image     ImageExecutor
	Writer    WriteExecutor
	Quality   QualityControlExecutor
	Validator ValidationExecutor
	Updater   UpdateExecutor
	Publisher *Publisher
}

// NewOrchestrator wires the orchestrator from its executors.
func NewOrchestrator(cfg *config.Config, db *gorm.DB, logger *zap.Logger,
	research ResearchExecutor, image ImageExecutor, writer WriteExecutor,
	quality QualityControlExecutor, validator ValidationExecutor, updater UpdateExecutor,
	publisher *Publisher) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Research:  research,
		Image:     image,
		Writer:    writer,
		Quality:   quality,
		Validator: validator,
		Updater:   updater,
		Publisher: publisher,
	}
}

// Begin claims the article and creates a fresh generation record in the
// research phase. The caller is expected to invoke Run asynchronously
// afterwards; Begin itself does no generation work.
func (o *Orchestrator) Begin(articleID uint, force bool) (*models.GenerationRecord, error) {
	result, err := ClaimArticle(o.DB, articleID, force)
	if err != nil {
		return nil, err
	}
	switch result {
	case ClaimAlreadyGenerating:
		return nil, ErrAlreadyGenerating
	case ClaimInvalidState:
		return nil, ErrInvalidState
	}

	now := time.Now()
	rec := &models.GenerationRecord{
		PublicID:  uuid.NewString(),
		ArticleID: articleID,
		Status:    models.PhaseResearch,
		Progress:  0,
		StartedAt: &now,
	}
	if err := o.DB.Create(rec).Error; err != nil {
		// Release the claim so the article is not stuck in generating.
		o.DB.Model(&models.Article{}).Where("id = ? AND status = ?", articleID, models.ArticleStatusGenerating).
			Update("status", models.ArticleStatusFailed)
		return nil, err
	}

	generationsStartedTotal.Inc()
	return rec, nil
}

// PrepareRetry resolves the restart point for a failed article, claims it,
// and resets the latest generation record to the resolved phase with the
// artifact history intact. The caller then invokes Run from plan.Phase.
func (o *Orchestrator) PrepareRetry(articleID uint) (*models.GenerationRecord, RestartPlan, error) {
	var article models.Article
	if err := o.DB.First(&article, articleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RestartPlan{}, ErrArticleNotFound
		}
		return nil, RestartPlan{}, err
	}
	if article.Status != models.ArticleStatusFailed {
		return nil, RestartPlan{}, ErrNotFailed
	}

	var rec models.GenerationRecord
	if err := o.DB.Where("article_id = ?", articleID).Order("id DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RestartPlan{}, ErrNoGeneration
		}
		return nil, RestartPlan{}, err
	}

	failedPhase := rec.FailedPhase
	if failedPhase == "" {
		failedPhase = rec.Status
	}
	plan := ResolveRestartPoint(failedPhase, rec.Artifacts)

	result, err := ClaimArticle(o.DB, articleID, false)
	if err != nil {
		return nil, RestartPlan{}, err
	}
	switch result {
	case ClaimAlreadyGenerating:
		return nil, RestartPlan{}, ErrAlreadyGenerating
	case ClaimInvalidState:
		return nil, RestartPlan{}, ErrInvalidState
	}

	now := time.Now()
	updates := map[string]any{
		"status":       plan.Phase,
		"progress":     0,
		"error":        "",
		"error_detail": "",
		"failed_phase": "",
		"started_at":   now,
		"completed_at": nil,
	}
	if err := o.DB.Model(&rec).Updates(updates).Error; err != nil {
		return nil, RestartPlan{}, err
	}
	rec.Status = plan.Phase
	rec.Progress = 0
	rec.Error = ""
	rec.ErrorDetail = ""
	rec.FailedPhase = ""
	rec.StartedAt = &now
	rec.CompletedAt = nil

	generationsStartedTotal.Inc()
	return &rec, plan, nil
}

// Run executes the pipeline from the given phase to completion. It is meant
// to be called in a background goroutine after Begin or PrepareRetry; the
// triggering request has already returned by the time phases execute.
func (o *Orchestrator) Run(ctx context.Context, rec *models.GenerationRecord, from models.GenerationPhase) error {
	log := o.Logger.With(zap.Uint("article_id", rec.ArticleID), zap.String("generation_id", rec.PublicID))

	var article models.Article
	if err := o.DB.First(&article, rec.ArticleID).Error; err != nil {
		return o.fail(log, rec, from, fmt.Errorf("load article: %w", err))
	}

	input, err := o.buildInput(&article)
	if err != nil {
		return o.fail(log, rec, from, err)
	}

	start := models.PhaseIndex(from)
	if start < 0 {
		return o.fail(log, rec, from, fmt.Errorf("cannot run from phase %q", from))
	}

	// The draft the later phases operate on; picked up from the stored
	// artifact when resuming past writing.
	draft := ""
	if rec.Artifacts.Write != nil {
		draft = rec.Artifacts.Write.Content
	}

	for _, phase := range models.PipelinePhases[start:] {
		if err := o.setPhase(rec, phase); err != nil {
			return o.fail(log, rec, phase, err)
		}
		log.Info("Phase started", zap.String("phase", string(phase)))

		switch phase {
		case models.PhaseResearch:
			art, err := o.Research.Research(ctx, input)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			rec.Artifacts.Research = art

		case models.PhaseImage:
			art, err := o.Image.SelectCoverImage(ctx, input, rec.Artifacts.Research)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			rec.Artifacts.CoverImage = art

		case models.PhaseWriting:
			art, err := o.Writer.Write(ctx, input, rec.Artifacts)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			rec.Artifacts.Write = art
			draft = art.Content

		case models.PhaseQualityControl:
			art, err := o.Quality.Review(ctx, input, draft)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			rec.Artifacts.QualityControl = art

		case models.PhaseValidating:
			art, err := o.Validator.Validate(ctx, input, draft)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			rec.Artifacts.Validation = art

		case models.PhaseUpdating:
			corrected, err := o.applyCorrections(ctx, rec, draft)
			if err != nil {
				return o.fail(log, rec, phase, err)
			}
			draft = corrected
		}

		if err := o.completePhase(rec, phase); err != nil {
			return o.fail(log, rec, phase, err)
		}
		log.Info("Phase completed", zap.String("phase", string(phase)), zap.Int("progress", rec.Progress))
	}

	return o.complete(ctx, log, rec, &article, draft)
}

// applyCorrections forwards the quality report and the high-confidence
// validation findings to the update executor. With nothing to apply the
// phase is a no-op and the draft passes through unchanged.
func (o *Orchestrator) applyCorrections(ctx context.Context, rec *models.GenerationRecord, draft string) (string, error) {
	var report *string
	if rec.Artifacts.QualityControl != nil {
		report = rec.Artifacts.QualityControl.Report
	}

	threshold := 0.7
	if o.Config != nil && o.Config.CorrectionThreshold > 0 {
		threshold = o.Config.CorrectionThreshold
	}

	var findings []models.ValidationFinding
	if rec.Artifacts.Validation != nil {
		for _, f := range rec.Artifacts.Validation.Findings {
			if f.Confidence > threshold && f.Correction != "" {
				findings = append(findings, f)
			}
		}
	}

	if report == nil && len(findings) == 0 {
		return draft, nil
	}
	return o.Updater.Apply(ctx, draft, report, findings)
}

// setPhase moves the record into the phase so pollers see what is running.
func (o *Orchestrator) setPhase(rec *models.GenerationRecord, phase models.GenerationPhase) error {
	rec.Status = phase
	return o.DB.Model(rec).Update("status", phase).Error
}

// completePhase persists the merged artifact bag and the progress checkpoint
// in one update, so a crash between phases never leaves a half-written bag.
func (o *Orchestrator) completePhase(rec *models.GenerationRecord, phase models.GenerationPhase) error {
	rec.Progress = phaseProgress[phase]
	return o.DB.Model(rec).Updates(map[string]any{
		"artifacts": rec.Artifacts,
		"progress":  rec.Progress,
	}).Error
}

// complete finalizes the record and the article together, then hands off to
// the publish trigger.
func (o *Orchestrator) complete(ctx context.Context, log *zap.Logger, rec *models.GenerationRecord, article *models.Article, content string) error {
	now := time.Now()

	err := o.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(rec).Updates(map[string]any{
			"status":       models.PhaseCompleted,
			"progress":     100,
			"completed_at": now,
		}).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"content": content,
			"status":  models.ArticleStatusWaitForPublish,
		}
		if rec.Artifacts.CoverImage != nil && rec.Artifacts.CoverImage.URL != "" {
			updates["cover_image_url"] = rec.Artifacts.CoverImage.URL
		}
		return tx.Model(&models.Article{}).
			Where("id = ? AND status = ?", article.ID, models.ArticleStatusGenerating).
			Updates(updates).Error
	})
	if err != nil {
		return o.fail(log, rec, models.PhaseUpdating, fmt.Errorf("finalize generation: %w", err))
	}

	rec.Status = models.PhaseCompleted
	rec.Progress = 100
	rec.CompletedAt = &now
	generationsCompletedTotal.Inc()
	log.Info("Generation completed")

	if article.PublishScheduledAt != nil && article.PublishScheduledAt.After(now) {
		return nil
	}
	var project models.Project
	if err := o.DB.First(&project, article.ProjectID).Error; err != nil {
		log.Error("Failed to load project for publish decision", zap.Error(err))
		return nil
	}
	if !project.PublishAutomatically {
		log.Info("Automatic publishing disabled, article awaits manual publish")
		return nil
	}
	if err := o.Publisher.Publish(ctx, article.ID); err != nil {
		// Publishing is a separate concern; the generation itself succeeded.
		log.Error("Publish after completion failed", zap.Error(err))
	}
	return nil
}

// fail records the failure on the generation record and moves the article to
// failed in the same transaction. The article must never be left stuck in
// generating.
func (o *Orchestrator) fail(log *zap.Logger, rec *models.GenerationRecord, phase models.GenerationPhase, cause error) error {
	txErr := o.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(rec).Updates(map[string]any{
			"status":       models.PhaseFailed,
			"failed_phase": phase,
			"error":        cause.Error(),
			"error_detail": fmt.Sprintf("phase %s: %v", phase, cause),
			"artifacts":    rec.Artifacts,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Article{}).
			Where("id = ? AND status = ?", rec.ArticleID, models.ArticleStatusGenerating).
			Update("status", models.ArticleStatusFailed).Error
	})
	if txErr != nil {
		log.Error("Failed to record generation failure", zap.Error(txErr), zap.NamedError("cause", cause))
	}

	rec.Status = models.PhaseFailed
	rec.FailedPhase = phase
	rec.Error = cause.Error()
	generationsFailedTotal.Inc()
	log.Error("Generation failed", zap.String("phase", string(phase)), zap.Error(cause))
	return cause
}

// buildInput merges the article fields with the project's generation settings.
func (o *Orchestrator) buildInput(article *models.Article) (GenerationInput, error) {
	var project models.Project
	if err := o.DB.First(&project, article.ProjectID).Error; err != nil {
		return GenerationInput{}, fmt.Errorf("load project: %w", err)
	}
	return GenerationInput{
		Title:    article.Title,
		Keywords: []string(article.Keywords),
		Notes:    article.Notes,
		Tone:     project.Tone,
		Audience: project.Audience,
		Language: project.Language,
		MaxWords: project.MaxWords,
	}, nil
}

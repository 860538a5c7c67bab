package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RyszardRzepa/topicowl-sub007/models"
)

// fakeExecutors implements every phase executor with canned outputs and
// per-phase failure injection.
type fakeExecutors struct {
	researchCalls int
	imageCalls    int
	writeCalls    int
	qualityCalls  int
	validateCalls int
	updateCalls   int

	researchErr error
	imageErr    error
	writeErr    error
	qualityErr  error
	validateErr error
	updateErr   error

	report   *string
	findings []models.ValidationFinding
}

func (f *fakeExecutors) Research(ctx context.Context, in GenerationInput) (*models.ResearchArtifact, error) {
	f.researchCalls++
	if f.researchErr != nil {
		return nil, f.researchErr
	}
	return &models.ResearchArtifact{Text: "research notes", Sources: []models.Source{{Title: "src", URL: "https://example.com"}}}, nil
}

func (f *fakeExecutors) SelectCoverImage(ctx context.Context, in GenerationInput, _ *models.ResearchArtifact) (*models.CoverImageArtifact, error) {
	f.imageCalls++
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &models.CoverImageArtifact{URL: "https://images.example.com/cover.jpg", Credit: "Tester"}, nil
}

func (f *fakeExecutors) Write(ctx context.Context, in GenerationInput, prior models.Artifacts) (*models.WriteArtifact, error) {
	f.writeCalls++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &models.WriteArtifact{Outline: "## Intro", Content: "# Draft\n\nBody."}, nil
}

func (f *fakeExecutors) Review(ctx context.Context, in GenerationInput, draft string) (*models.QualityControlArtifact, error) {
	f.qualityCalls++
	if f.qualityErr != nil {
		return nil, f.qualityErr
	}
	return &models.QualityControlArtifact{Report: f.report, CheckedAt: time.Now()}, nil
}

func (f *fakeExecutors) Validate(ctx context.Context, in GenerationInput, draft string) (*models.ValidationArtifact, error) {
	f.validateCalls++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &models.ValidationArtifact{Findings: f.findings, IsValid: true}, nil
}

func (f *fakeExecutors) Apply(ctx context.Context, draft string, report *string, findings []models.ValidationFinding) (string, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return draft + "\n\nCorrected.", nil
}

func newTestOrchestrator(db *gorm.DB) (*Orchestrator, *fakeExecutors) {
	fakes := &fakeExecutors{}
	cfg := testConfig()
	publisher := NewPublisher(cfg, db, zap.NewNop(), nil)
	orch := NewOrchestrator(cfg, db, zap.NewNop(), fakes, fakes, fakes, fakes, fakes, fakes, publisher)
	return orch, fakes
}

func latestRecord(t *testing.T, db *gorm.DB, articleID uint) models.GenerationRecord {
	t.Helper()
	var rec models.GenerationRecord
	if err := db.Where("article_id = ?", articleID).Order("id DESC").First(&rec).Error; err != nil {
		t.Fatalf("load generation record: %v", err)
	}
	return rec
}

func TestOrchestratorFullRun(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, fakes := newTestOrchestrator(db)

	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored := latestRecord(t, db, article.ID)
	if stored.Status != models.PhaseCompleted {
		t.Errorf("record status = %q, want completed", stored.Status)
	}
	if stored.Progress != 100 {
		t.Errorf("progress = %d, want 100", stored.Progress)
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	wantKeys := []string{"research", "coverImage", "write", "qualityControl", "validation"}
	if got := stored.Artifacts.Keys(); len(got) != len(wantKeys) {
		t.Errorf("artifact keys = %v, want %v", got, wantKeys)
	}

	var updated models.Article
	if err := db.First(&updated, article.ID).Error; err != nil {
		t.Fatalf("load article: %v", err)
	}
	// No schedule, so the publish trigger fires immediately after completion.
	if updated.Status != models.ArticleStatusPublished {
		t.Errorf("article status = %q, want published", updated.Status)
	}
	if updated.Content == "" {
		t.Error("article content not written")
	}
	if updated.CoverImageURL == "" {
		t.Error("cover image URL not written")
	}
	if updated.PublishedAt == nil {
		t.Error("published_at not set")
	}

	if fakes.researchCalls != 1 || fakes.writeCalls != 1 || fakes.validateCalls != 1 {
		t.Errorf("executor calls = %+v, want each phase exactly once", *fakes)
	}
	// Clean review with no findings means the updating pass has nothing to do.
	if fakes.updateCalls != 0 {
		t.Errorf("updateCalls = %d, want 0 when nothing to apply", fakes.updateCalls)
	}
}

func TestOrchestratorScheduledPublishDeferred(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)

	future := time.Now().Add(24 * time.Hour)
	if err := db.Model(&article).Update("publish_scheduled_at", future).Error; err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	orch, _ := newTestOrchestrator(db)

	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusWaitForPublish {
		t.Errorf("article status = %q, want wait_for_publish until the schedule passes", got)
	}
}

func TestOrchestratorManualPublishProject(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	if err := db.Model(&project).Update("publish_automatically", false).Error; err != nil {
		t.Fatalf("disable automatic publishing: %v", err)
	}
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, _ := newTestOrchestrator(db)

	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// With automatic publishing off the article waits for an explicit publish.
	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusWaitForPublish {
		t.Fatalf("article status = %q, want wait_for_publish", got)
	}

	if err := orch.Publisher.Publish(context.Background(), article.ID); err != nil {
		t.Fatalf("manual Publish: %v", err)
	}
	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusPublished {
		t.Errorf("article status = %q, want published after manual publish", got)
	}
}

func TestOrchestratorUpdatingAppliesCorrections(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, fakes := newTestOrchestrator(db)

	report := "intro too long"
	fakes.report = &report
	fakes.findings = []models.ValidationFinding{
		{Claim: "Go was released in 2010", Verdict: "false", Confidence: 0.95, Correction: "Go was released in 2009"},
		{Claim: "low confidence", Verdict: "false", Confidence: 0.3, Correction: "ignored"},
	}

	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fakes.updateCalls != 1 {
		t.Fatalf("updateCalls = %d, want 1", fakes.updateCalls)
	}
	var updated models.Article
	if err := db.First(&updated, article.ID).Error; err != nil {
		t.Fatalf("load article: %v", err)
	}
	if updated.Content != "# Draft\n\nBody.\n\nCorrected." {
		t.Errorf("corrected draft not persisted, content = %q", updated.Content)
	}
}

func TestOrchestratorFailureRecordsPhase(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, fakes := newTestOrchestrator(db)
	fakes.writeErr = context.DeadlineExceeded

	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	stored := latestRecord(t, db, article.ID)
	if stored.Status != models.PhaseFailed {
		t.Errorf("record status = %q, want failed", stored.Status)
	}
	if stored.FailedPhase != models.PhaseWriting {
		t.Errorf("failed_phase = %q, want writing", stored.FailedPhase)
	}
	if stored.Error == "" {
		t.Error("error not recorded")
	}
	// Artifacts from the phases that did succeed must survive for the retry.
	if stored.Artifacts.Research == nil || stored.Artifacts.CoverImage == nil {
		t.Errorf("pre-failure artifacts lost: %v", stored.Artifacts.Keys())
	}
	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusFailed {
		t.Errorf("article status = %q, want failed", got)
	}
}

func TestOrchestratorRetrySkipsCompletedPhases(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, fakes := newTestOrchestrator(db)

	// Fail at quality control so research, image and writing artifacts exist.
	fakes.qualityErr = context.DeadlineExceeded
	rec, err := orch.Begin(article.ID, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := orch.Run(context.Background(), rec, models.PhaseResearch); err == nil {
		t.Fatal("Run succeeded, want quality-control failure")
	}

	*fakes = fakeExecutors{}

	retryRec, plan, err := orch.PrepareRetry(article.ID)
	if err != nil {
		t.Fatalf("PrepareRetry: %v", err)
	}
	if plan.Phase != models.PhaseQualityControl {
		t.Fatalf("restart phase = %q, want quality-control", plan.Phase)
	}
	if retryRec.ID != rec.ID {
		t.Errorf("retry created a new record %d, want reuse of %d", retryRec.ID, rec.ID)
	}

	if err := orch.Run(context.Background(), retryRec, plan.Phase); err != nil {
		t.Fatalf("retry Run: %v", err)
	}

	if fakes.researchCalls != 0 || fakes.imageCalls != 0 || fakes.writeCalls != 0 {
		t.Errorf("completed phases re-executed: research=%d image=%d write=%d",
			fakes.researchCalls, fakes.imageCalls, fakes.writeCalls)
	}
	if fakes.qualityCalls != 1 || fakes.validateCalls != 1 {
		t.Errorf("remaining phases not executed: quality=%d validate=%d", fakes.qualityCalls, fakes.validateCalls)
	}

	stored := latestRecord(t, db, article.ID)
	if stored.Status != models.PhaseCompleted {
		t.Errorf("record status = %q, want completed after retry", stored.Status)
	}
	if stored.FailedPhase != "" {
		t.Errorf("failed_phase = %q, want cleared", stored.FailedPhase)
	}
}

func TestOrchestratorRetryRequiresFailedStatus(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, _ := newTestOrchestrator(db)

	if _, _, err := orch.PrepareRetry(article.ID); err != ErrNotFailed {
		t.Errorf("err = %v, want ErrNotFailed", err)
	}
	if _, _, err := orch.PrepareRetry(9999); err != ErrArticleNotFound {
		t.Errorf("err = %v, want ErrArticleNotFound", err)
	}
}

func TestOrchestratorBeginRejectsConcurrent(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	orch, _ := newTestOrchestrator(db)

	if _, err := orch.Begin(article.ID, false); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := orch.Begin(article.ID, false); err != ErrAlreadyGenerating {
		t.Errorf("second Begin err = %v, want ErrAlreadyGenerating", err)
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RyszardRzepa/topicowl-sub007/models"
)

func TestQueueEnqueueAssignsSequentialPositions(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	queue := NewQueueService(db, zap.NewNop())

	for i := 0; i < 3; i++ {
		article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
		item, err := queue.Enqueue(article.ID, "user-1", time.Now(), models.SchedulingManual)
		if err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
		if item.Position != i {
			t.Errorf("position = %d, want %d", item.Position, i)
		}
		if got := articleStatus(t, db, article.ID); got != models.ArticleStatusQueued {
			t.Errorf("article status = %q, want queued", got)
		}
	}

	// Positions are per user, so another user's queue starts at zero.
	other := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	item, err := queue.Enqueue(other.ID, "user-2", time.Now(), models.SchedulingManual)
	if err != nil {
		t.Fatalf("Enqueue for second user: %v", err)
	}
	if item.Position != 0 {
		t.Errorf("second user position = %d, want 0", item.Position)
	}
}

func TestQueueEnqueueRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	queue := NewQueueService(db, zap.NewNop())

	if _, err := queue.Enqueue(article.ID, "user-1", time.Now(), models.SchedulingManual); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(article.ID, "user-1", time.Now(), models.SchedulingManual); !errors.Is(err, ErrDuplicateQueueEntry) {
		t.Errorf("err = %v, want ErrDuplicateQueueEntry", err)
	}
	if _, err := queue.Enqueue(9999, "user-1", time.Now(), models.SchedulingManual); !errors.Is(err, ErrArticleNotFound) {
		t.Errorf("err = %v, want ErrArticleNotFound", err)
	}
}

func TestQueueRemoveRenumbersSurvivors(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	queue := NewQueueService(db, zap.NewNop())

	var items []*models.QueueItem
	for i := 0; i < 4; i++ {
		article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
		item, err := queue.Enqueue(article.ID, "user-1", time.Now(), models.SchedulingManual)
		if err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
		items = append(items, item)
	}

	// Remove the second item; survivors must compact to 0,1,2 in order.
	if err := queue.Remove(items[1].ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	remaining, err := queue.List("user-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("len(remaining) = %d, want 3", len(remaining))
	}
	wantArticles := []uint{items[0].ArticleID, items[2].ArticleID, items[3].ArticleID}
	for i, item := range remaining {
		if item.Position != i {
			t.Errorf("remaining[%d].Position = %d, want %d", i, item.Position, i)
		}
		if item.ArticleID != wantArticles[i] {
			t.Errorf("remaining[%d].ArticleID = %d, want %d (relative order broken)", i, item.ArticleID, wantArticles[i])
		}
	}
}

func TestQueueRemoveRejectsProcessingItem(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	queue := NewQueueService(db, zap.NewNop())

	item, err := queue.Enqueue(article.ID, "user-1", time.Now(), models.SchedulingManual)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := db.Model(item).Update("status", models.QueueStatusProcessing).Error; err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	if err := queue.Remove(item.ID); !errors.Is(err, ErrQueueItemProcessing) {
		t.Errorf("err = %v, want ErrQueueItemProcessing", err)
	}
	if err := queue.Remove(9999); !errors.Is(err, ErrQueueItemNotFound) {
		t.Errorf("err = %v, want ErrQueueItemNotFound", err)
	}
}

func TestQueueProcessDueRunsPipeline(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	notDue := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	queue := NewQueueService(db, zap.NewNop())
	orch, fakes := newTestOrchestrator(db)

	if _, err := queue.Enqueue(article.ID, "user-1", time.Now().Add(-time.Minute), models.SchedulingAutomatic); err != nil {
		t.Fatalf("Enqueue due: %v", err)
	}
	if _, err := queue.Enqueue(notDue.ID, "user-1", time.Now().Add(time.Hour), models.SchedulingAutomatic); err != nil {
		t.Fatalf("Enqueue future: %v", err)
	}

	processed, err := queue.ProcessDue(context.Background(), orch)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if fakes.researchCalls != 1 {
		t.Errorf("researchCalls = %d, want 1", fakes.researchCalls)
	}
	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusPublished {
		t.Errorf("due article status = %q, want published", got)
	}
	if got := articleStatus(t, db, notDue.ID); got != models.ArticleStatusQueued {
		t.Errorf("future article status = %q, want still queued", got)
	}

	// The processed item is gone; the future item compacts to position 0.
	remaining, err := queue.List("user-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ArticleID != notDue.ID || remaining[0].Position != 0 {
		t.Errorf("remaining = %+v, want only the future item at position 0", remaining)
	}
}

func TestQueueProcessDueRecordsFailure(t *testing.T) {
	db := openTestDB(t)
	project := createTestProject(t, db)
	article := createTestArticle(t, db, project.ID, models.ArticleStatusIdea)
	queue := NewQueueService(db, zap.NewNop())
	orch, fakes := newTestOrchestrator(db)
	fakes.researchErr = errors.New("search backend down")

	if _, err := queue.Enqueue(article.ID, "user-1", time.Now().Add(-time.Minute), models.SchedulingAutomatic); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := queue.ProcessDue(context.Background(), orch); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	var item models.QueueItem
	if err := db.Where("article_id = ?", article.ID).First(&item).Error; err != nil {
		t.Fatalf("load queue item: %v", err)
	}
	if item.Status != models.QueueStatusFailed {
		t.Errorf("item status = %q, want failed", item.Status)
	}
	if item.LastError == "" {
		t.Error("last_error not recorded")
	}
	if item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", item.Attempts)
	}
	if got := articleStatus(t, db, article.ID); got != models.ArticleStatusFailed {
		t.Errorf("article status = %q, want failed", got)
	}
}

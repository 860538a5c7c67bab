package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RyszardRzepa/topicowl-sub007/models"
)

var (
	// ErrDuplicateQueueEntry is returned when the article already has an active queue entry.
	ErrDuplicateQueueEntry = errors.New("article already has an active queue entry")
	// ErrQueueItemProcessing is returned when removal is attempted on a processing item.
	ErrQueueItemProcessing = errors.New("queue item is currently processing")
	// ErrQueueItemNotFound is returned when the queue item does not exist.
	ErrQueueItemNotFound = errors.New("queue item not found")
)

// QueueService manages the generation queue: contiguous zero-based positions
// per user, duplicate protection, and the due-item sweep.
type QueueService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewQueueService creates the queue service.
func NewQueueService(db *gorm.DB, logger *zap.Logger) *QueueService {
	return &QueueService{DB: db, Logger: logger}
}

// Enqueue adds an article to the user's queue at the next sequential
// position. An article with an active (queued or processing) entry is
// rejected.
func (q *QueueService) Enqueue(articleID uint, userID string, scheduledFor time.Time, schedulingType models.QueueSchedulingType) (*models.QueueItem, error) {
	var item *models.QueueItem

	err := q.DB.Transaction(func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.First(&article, articleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArticleNotFound
			}
			return err
		}

		var active int64
		if err := tx.Model(&models.QueueItem{}).
			Where("article_id = ? AND status IN ?", articleID,
				[]models.QueueStatus{models.QueueStatusQueued, models.QueueStatusProcessing}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicateQueueEntry
		}

		// Next position: max existing queued position for this user + 1, or 0.
		var next int
		if err := tx.Model(&models.QueueItem{}).
			Where("user_id = ? AND status = ?", userID, models.QueueStatusQueued).
			Select("COALESCE(MAX(position), -1) + 1").
			Scan(&next).Error; err != nil {
			return err
		}

		item = &models.QueueItem{
			ArticleID:      articleID,
			ProjectID:      article.ProjectID,
			UserID:         userID,
			ScheduledFor:   scheduledFor,
			Position:       next,
			SchedulingType: schedulingType,
			Status:         models.QueueStatusQueued,
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}

		// Mirror the queue membership on the board.
		if article.Status.CanTransitionTo(models.ArticleStatusQueued) {
			return tx.Model(&article).Update("status", models.ArticleStatusQueued).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.Logger.Info("Article enqueued", zap.Uint("article_id", articleID), zap.Int("position", item.Position))
	return item, nil
}

// Remove deletes a queue entry and renumbers the user's remaining queued
// items to a contiguous 0-based sequence that preserves relative order.
// Items that are mid-processing cannot be removed.
func (q *QueueService) Remove(itemID uint) error {
	return q.DB.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.First(&item, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQueueItemNotFound
			}
			return err
		}
		if item.Status == models.QueueStatusProcessing {
			return ErrQueueItemProcessing
		}

		if err := tx.Delete(&item).Error; err != nil {
			return err
		}
		return renumber(tx, item.UserID)
	})
}

// renumber rewrites the user's queued positions as 0..N-1 ordered by the
// prior position, so clients never see sparse ordering.
func renumber(tx *gorm.DB, userID string) error {
	var remaining []models.QueueItem
	if err := tx.Where("user_id = ? AND status = ?", userID, models.QueueStatusQueued).
		Order("position ASC").Find(&remaining).Error; err != nil {
		return err
	}
	for i, item := range remaining {
		if item.Position == i {
			continue
		}
		if err := tx.Model(&models.QueueItem{}).Where("id = ?", item.ID).
			Update("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}

// List returns the user's queued items in position order.
func (q *QueueService) List(userID string) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := q.DB.Where("user_id = ? AND status = ?", userID, models.QueueStatusQueued).
		Order("position ASC").Find(&items).Error
	return items, err
}

// ProcessDue runs the generation pipeline for every due queue item, in
// position order. Each article still passes the claim gate, so a manual
// trigger racing the sweep can never double-generate.
func (q *QueueService) ProcessDue(ctx context.Context, orch *Orchestrator) (int, error) {
	var due []models.QueueItem
	err := q.DB.Where("status = ? AND scheduled_for <= ?", models.QueueStatusQueued, time.Now()).
		Order("position ASC").Find(&due).Error
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, item := range due {
		log := q.Logger.With(zap.Uint("queue_item_id", item.ID), zap.Uint("article_id", item.ArticleID))

		// Claim the item itself first so overlapping sweeps skip it.
		res := q.DB.Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", item.ID, models.QueueStatusQueued).
			Updates(map[string]any{"status": models.QueueStatusProcessing, "attempts": gorm.Expr("attempts + 1")})
		if res.Error != nil {
			log.Error("Failed to mark queue item processing", zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		rec, err := orch.Begin(item.ArticleID, false)
		if err != nil {
			if errors.Is(err, ErrAlreadyGenerating) {
				// A manual trigger got there first; drop the queue entry.
				q.finish(item, "")
				continue
			}
			log.Warn("Queue item could not start generation", zap.Error(err))
			q.fail(item, err)
			continue
		}

		if err := orch.Run(ctx, rec, models.PhaseResearch); err != nil {
			q.fail(item, err)
			queueItemsProcessedTotal.Inc()
			processed++
			continue
		}

		q.finish(item, "")
		queueItemsProcessedTotal.Inc()
		processed++
	}
	return processed, nil
}

// finish deletes a processed item and renumbers the survivors.
func (q *QueueService) finish(item models.QueueItem, _ string) {
	err := q.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.QueueItem{}, item.ID).Error; err != nil {
			return err
		}
		return renumber(tx, item.UserID)
	})
	if err != nil {
		q.Logger.Error("Failed to finish queue item", zap.Uint("queue_item_id", item.ID), zap.Error(err))
	}
}

// fail marks the item failed; it keeps its row for inspection but leaves the
// queued sequence, so the survivors are renumbered as well.
func (q *QueueService) fail(item models.QueueItem, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := q.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.QueueItem{}).Where("id = ?", item.ID).
			Updates(map[string]any{"status": models.QueueStatusFailed, "last_error": msg}).Error; err != nil {
			return err
		}
		return renumber(tx, item.UserID)
	})
	if err != nil {
		q.Logger.Error("Failed to mark queue item failed", zap.Uint("queue_item_id", item.ID), zap.Error(err))
	}
}

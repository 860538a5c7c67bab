package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/RyszardRzepa/topicowl-sub007/models"
)

// ClaimResult is the outcome of a claim attempt.
type ClaimResult string

const (
	ClaimAccepted          ClaimResult = "claimed"
	ClaimAlreadyGenerating ClaimResult = "already_generating"
	ClaimInvalidState      ClaimResult = "invalid_state"
)

// ErrArticleNotFound is returned when the claimed article does not exist.
var ErrArticleNotFound = errors.New("article not found")

// ClaimArticle atomically transitions an article from a generation-eligible
// status to generating. The conditional UPDATE is the single mechanism that
// keeps a manual trigger and a scheduled trigger from both entering the
// orchestrator for the same article: at most one caller sees ClaimAccepted.
func ClaimArticle(db *gorm.DB, articleID uint, force bool) (ClaimResult, error) {
	res := db.Model(&models.Article{}).
		Where("id = ? AND status IN ?", articleID, models.GenerationEligible(force)).
		Update("status", models.ArticleStatusGenerating)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return ClaimAccepted, nil
	}

	// No row matched: distinguish a live generation from an ineligible state.
	var article models.Article
	if err := db.First(&article, articleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrArticleNotFound
		}
		return "", err
	}
	if article.Status == models.ArticleStatusGenerating {
		return ClaimAlreadyGenerating, nil
	}
	return ClaimInvalidState, nil
}

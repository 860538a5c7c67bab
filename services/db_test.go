package services

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/models"
)

// openTestDB opens a throwaway sqlite database with the full schema migrated.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Article{}, &models.GenerationRecord{}, &models.QueueItem{}); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		ResearchMaxAttempts:  3,
		ValidationBatchLimit: 3,
		CorrectionThreshold:  0.7,
	}
}

func createTestProject(t *testing.T, db *gorm.DB) models.Project {
	t.Helper()
	project := models.Project{
		Name:     "Test Project",
		Slug:     "test-project",
		Tone:     "friendly",
		Audience: "developers",
		Language: "en",
		MaxWords: 1200,
	}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("create test project: %v", err)
	}
	return project
}

func createTestArticle(t *testing.T, db *gorm.DB, projectID uint, status models.ArticleStatus) models.Article {
	t.Helper()
	article := models.Article{
		ProjectID: projectID,
		Title:     "How Go Channels Work",
		Slug:      "how-go-channels-work",
		Status:    status,
		Keywords:  datatypes.JSONSlice[string]{"go", "channels"},
	}
	if err := db.Create(&article).Error; err != nil {
		t.Fatalf("create test article: %v", err)
	}
	return article
}

func articleStatus(t *testing.T, db *gorm.DB, id uint) models.ArticleStatus {
	t.Helper()
	var article models.Article
	if err := db.First(&article, id).Error; err != nil {
		t.Fatalf("load article %d: %v", id, err)
	}
	return article.Status
}

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RyszardRzepa/topicowl-sub007/models"
)

func openRouterTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Article{}); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func TestArticleUpdateStatusTransitions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openRouterTestDB(t)

	project := models.Project{Name: "P", Slug: "p"}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	article := models.Article{ProjectID: project.ID, Title: "T", Status: models.ArticleStatusIdea}
	if err := db.Create(&article).Error; err != nil {
		t.Fatalf("create article: %v", err)
	}

	router := gin.New()
	setupArticleRoutes(router, db, zap.NewNop())

	update := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/articles/%d", article.ID), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	status := func(t *testing.T) models.ArticleStatus {
		t.Helper()
		var a models.Article
		if err := db.First(&a, article.ID).Error; err != nil {
			t.Fatalf("load article: %v", err)
		}
		return a.Status
	}

	// A legal board move passes the transition table.
	if w := update(t, `{"status":"to_generate"}`); w.Code != http.StatusOK {
		t.Fatalf("idea -> to_generate: code = %d, body %s", w.Code, w.Body.String())
	}
	if got := status(t); got != models.ArticleStatusToGenerate {
		t.Fatalf("status = %q, want to_generate", got)
	}

	// Pipeline-owned targets are not writable through CRUD.
	for _, target := range []string{"generating", "wait_for_publish", "published"} {
		if w := update(t, fmt.Sprintf(`{"status":%q}`, target)); w.Code != http.StatusUnprocessableEntity {
			t.Errorf("to_generate -> %s: code = %d, want 422", target, w.Code)
		}
	}

	// Moves the transition table forbids are rejected.
	if w := update(t, `{"status":"failed"}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("to_generate -> failed: code = %d, want 422", w.Code)
	}
	if w := update(t, `{"status":"drafting"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: code = %d, want 400", w.Code)
	}
	if got := status(t); got != models.ArticleStatusToGenerate {
		t.Fatalf("status = %q, rejected updates must not mutate", got)
	}

	// Archiving is an ordinary board move.
	if w := update(t, `{"status":"archived"}`); w.Code != http.StatusOK {
		t.Fatalf("to_generate -> archived: code = %d, body %s", w.Code, w.Body.String())
	}
	if got := status(t); got != models.ArticleStatusArchived {
		t.Errorf("status = %q, want archived", got)
	}
}

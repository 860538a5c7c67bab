package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/models"
	"github.com/RyszardRzepa/topicowl-sub007/providers/images"
	"github.com/RyszardRzepa/topicowl-sub007/providers/openai"
	"github.com/RyszardRzepa/topicowl-sub007/providers/websearch"
	"github.com/RyszardRzepa/topicowl-sub007/services"
	"github.com/RyszardRzepa/topicowl-sub007/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Project{}, &models.Article{}, &models.GenerationRecord{}, &models.QueueItem{})

	seedDefaultProject(db, logging)

	// Setup Providers
	llmClient := openai.NewClient(cfg, logging)
	searchFetcher := websearch.NewFetcher(cfg, logging)
	imageFetcher := images.NewFetcher(cfg, logging)

	var s3Client *s3.Client
	if cfg.ArchiveConfigured() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		logging.Info("Snapshot archive enabled", zap.String("bucket", cfg.ArchiveS3Bucket))
	} else {
		logging.Info("Snapshot archive not configured, published articles will not be archived")
	}

	// Setup Services
	publisher := services.NewPublisher(cfg, db, logging, s3Client)
	orchestrator := services.NewOrchestrator(cfg, db, logging,
		services.NewResearchService(cfg, searchFetcher, searchFetcher, llmClient, logging),
		services.NewImageService(imageFetcher, logging),
		services.NewWriteService(llmClient, logging),
		services.NewQualityControlService(llmClient, logging),
		services.NewValidationService(cfg, llmClient, searchFetcher, logging),
		services.NewUpdateService(llmClient, logging),
		publisher,
	)
	queueService := services.NewQueueService(db, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Setup Routes
	setupProjectRoutes(router, db, logging)
	setupArticleRoutes(router, db, logging)
	setupGenerationRoutes(router, db, orchestrator, publisher, logging)
	setupQueueRoutes(router, queueService, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.QueueCronSchedule, func() {
		count, err := queueService.ProcessDue(context.Background(), orchestrator)
		if err != nil {
			logging.Error("Queue sweep failed", zap.Error(err))
		} else if count > 0 {
			logging.Info("Queue sweep completed", zap.Int("processed", count))
		}
	})
	cronScheduler.AddFunc(cfg.PublishCronSchedule, func() {
		count, err := publisher.PublishDue(context.Background())
		if err != nil {
			logging.Error("Publish sweep failed", zap.Error(err))
		} else if count > 0 {
			logging.Info("Publish sweep completed", zap.Int("published", count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupProjectRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/projects")

	rg.POST("/", func(c *gin.Context) {
		var project models.Project
		if err := c.ShouldBindJSON(&project); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&project).Error; err != nil {
			log.Error("Failed to create project", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create project"})
			return
		}
		c.JSON(http.StatusCreated, project)
	})

	rg.GET("/", func(c *gin.Context) {
		var projects []models.Project
		if err := db.Find(&projects).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, projects)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var project models.Project
		if err := db.First(&project, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, project)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var project models.Project
		if err := db.First(&project, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		delete(updateData, "id")

		if err := db.Model(&project).Updates(updateData).Error; err != nil {
			log.Error("Failed to update project", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update project"})
			return
		}
		c.JSON(http.StatusOK, project)
	})
}

func setupArticleRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/articles")

	rg.POST("/", func(c *gin.Context) {
		var article models.Article
		if err := c.ShouldBindJSON(&article); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if article.ProjectID == 0 || article.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id and title are required"})
			return
		}
		if article.Status == "" {
			article.Status = models.ArticleStatusIdea
		}
		if !article.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		if err := db.Create(&article).Error; err != nil {
			log.Error("Failed to create article", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create article"})
			return
		}
		c.JSON(http.StatusCreated, article)
	})

	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.Article{})
		if projectID := c.Query("project_id"); projectID != "" {
			query = query.Where("project_id = ?", projectID)
		}
		if status := c.Query("status"); status != "" {
			if !models.ArticleStatus(status).Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
				return
			}
			query = query.Where("status = ?", status)
		}

		var articles []models.Article
		if err := query.Order("kanban_position asc, created_at desc").Find(&articles).Error; err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var article models.Article
		if err := db.First(&article, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// The orchestrator owns the row while a generation is in flight.
		if article.Status == models.ArticleStatusGenerating {
			c.JSON(http.StatusConflict, gin.H{"error": "article is generating; try again later"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		delete(updateData, "id")
		delete(updateData, "published_at")

		// Board moves go through the transition table; the pipeline-owned
		// states are reachable only through the orchestrator and publisher.
		if raw, ok := updateData["status"]; ok {
			next, ok := raw.(string)
			target := models.ArticleStatus(next)
			switch {
			case !ok || !target.Valid():
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
				return
			case target == models.ArticleStatusGenerating ||
				target == models.ArticleStatusWaitForPublish ||
				target == models.ArticleStatusPublished:
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "status is managed by the generation pipeline"})
				return
			case !article.Status.CanTransitionTo(target):
				c.JSON(http.StatusUnprocessableEntity,
					gin.H{"error": fmt.Sprintf("cannot move article from %s to %s", article.Status, target)})
				return
			}
		}

		if err := db.Model(&article).Updates(updateData).Error; err != nil {
			log.Error("Failed to update article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update article"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	rg.PATCH("/:id/position", func(c *gin.Context) {
		var payload struct {
			KanbanPosition *int `json:"kanban_position" binding:"required"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kanban_position is required"})
			return
		}
		res := db.Model(&models.Article{}).Where("id = ?", c.Param("id")).
			Update("kanban_position", *payload.KanbanPosition)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "updated"})
	})
}

func setupGenerationRoutes(router *gin.Engine, db *gorm.DB, orch *services.Orchestrator, publisher *services.Publisher, log *zap.Logger) {
	rg := router.Group("/articles")

	// Trigger generation. Returns immediately; the pipeline runs in the
	// background and persists its result even if the caller disconnects.
	rg.POST("/:id/generate", func(c *gin.Context) {
		articleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
			return
		}

		var payload struct {
			ForceRegenerate bool `json:"force_regenerate"`
		}
		_ = c.ShouldBindJSON(&payload)

		rec, err := orch.Begin(uint(articleID), payload.ForceRegenerate)
		if err != nil {
			respondClaimError(c, err)
			return
		}

		go func() {
			if err := orch.Run(context.Background(), rec, models.PhaseResearch); err != nil {
				log.Error("Async generation failed", zap.Uint64("article_id", articleID), zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"generation_id": rec.PublicID})
	})

	// Retry a failed generation from the resolved restart point.
	rg.POST("/:id/retry", func(c *gin.Context) {
		articleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
			return
		}

		rec, plan, err := orch.PrepareRetry(uint(articleID))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNotFailed):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "article is not in failed state"})
			case errors.Is(err, services.ErrNoGeneration):
				c.JSON(http.StatusNotFound, gin.H{"error": "no generation record for article"})
			default:
				respondClaimError(c, err)
			}
			return
		}

		go func() {
			if err := orch.Run(context.Background(), rec, plan.Phase); err != nil {
				log.Error("Async retry failed", zap.Uint64("article_id", articleID), zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"generation_id":       rec.PublicID,
			"restart_phase":       plan.Phase,
			"reasoning":           plan.Reasoning,
			"available_artifacts": plan.AvailableArtifacts,
		})
	})

	// Publish an article that is waiting for publish. This is the explicit
	// path for projects with automatic publishing disabled.
	rg.POST("/:id/publish", func(c *gin.Context) {
		articleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
			return
		}

		var article models.Article
		if err := db.First(&article, articleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if article.Status != models.ArticleStatusWaitForPublish {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "article is not waiting for publish"})
			return
		}

		if err := publisher.Publish(c.Request.Context(), uint(articleID)); err != nil {
			log.Error("Manual publish failed", zap.Uint64("article_id", articleID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish article"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "published"})
	})

	// Poll the latest generation record. The persisted progress field is the
	// single source of truth; there is no in-memory progress map.
	rg.GET("/:id/generation", func(c *gin.Context) {
		var rec models.GenerationRecord
		err := db.Where("article_id = ?", c.Param("id")).Order("id DESC").First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no generation record for article"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})
}

func respondClaimError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAlreadyGenerating):
		c.JSON(http.StatusConflict, gin.H{"error": "generation already in progress"})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "article is not in a generation-eligible state"})
	case errors.Is(err, services.ErrArticleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
	}
}

func setupQueueRoutes(router *gin.Engine, queue *services.QueueService, log *zap.Logger) {
	rg := router.Group("/queue")

	rg.POST("/", func(c *gin.Context) {
		var payload struct {
			ArticleID    uint       `json:"article_id" binding:"required"`
			UserID       string     `json:"user_id" binding:"required"`
			ScheduledFor *time.Time `json:"scheduled_for"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "article_id and user_id are required"})
			return
		}
		scheduledFor := time.Now()
		if payload.ScheduledFor != nil {
			scheduledFor = *payload.ScheduledFor
		}

		item, err := queue.Enqueue(payload.ArticleID, payload.UserID, scheduledFor, models.SchedulingManual)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrDuplicateQueueEntry):
				c.JSON(http.StatusConflict, gin.H{"error": "article already has an active queue entry"})
			case errors.Is(err, services.ErrArticleNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			default:
				log.Error("Failed to enqueue article", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			}
			return
		}
		c.JSON(http.StatusCreated, item)
	})

	rg.GET("/", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		items, err := queue.List(userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, items)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
			return
		}
		if err := queue.Remove(uint(itemID)); err != nil {
			switch {
			case errors.Is(err, services.ErrQueueItemNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
			case errors.Is(err, services.ErrQueueItemProcessing):
				c.JSON(http.StatusConflict, gin.H{"error": "queue item is currently processing"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "removed"})
	})
}

func seedDefaultProject(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Project{}).Count(&count)
	if count > 0 {
		return
	}
	project := models.Project{Name: "Default", Slug: "default"}
	if err := db.Create(&project).Error; err != nil {
		logger.Warn("Failed to seed default project", zap.Error(err))
	} else {
		logger.Info("Default project seeded.")
	}
}

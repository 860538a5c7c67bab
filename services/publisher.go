package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/models"
	"github.com/RyszardRzepa/topicowl-sub007/storage"
)

// Publisher flips articles to published and runs the side effects: the
// project webhook (fire-and-forget) and the S3 snapshot archive. Delivery
// failures are logged, never propagated; publishing succeeds independently
// of its side effects.
type Publisher struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *zap.Logger
	S3Client   *s3.Client // nil when the archive is not configured
	HTTPClient *http.Client
}

// NewPublisher creates a publisher. s3Client may be nil.
func NewPublisher(cfg *config.Config, db *gorm.DB, logger *zap.Logger, s3Client *s3.Client) *Publisher {
	return &Publisher{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// webhookEvent is the payload POSTed to the project webhook.
type webhookEvent struct {
	Event   string    `json:"event"`
	EventID string    `json:"event_id"`
	SentAt  time.Time `json:"sent_at"`
	Article struct {
		ID            uint       `json:"id"`
		ProjectID     uint       `json:"project_id"`
		Title         string     `json:"title"`
		Slug          string     `json:"slug,omitempty"`
		Content       string     `json:"content"`
		CoverImageURL string     `json:"cover_image_url,omitempty"`
		PublishedAt   *time.Time `json:"published_at,omitempty"`
	} `json:"article"`
}

// Publish transitions the article from wait_for_publish to published. The
// conditional update makes the transition, and therefore the webhook, fire
// exactly once per publish event no matter how many sweeps or callers race.
func (p *Publisher) Publish(ctx context.Context, articleID uint) error {
	now := time.Now()
	res := p.DB.Model(&models.Article{}).
		Where("id = ? AND status = ?", articleID, models.ArticleStatusWaitForPublish).
		Updates(map[string]any{
			"status":       models.ArticleStatusPublished,
			"published_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Someone else published it first, or it is not ready. Idempotent no-op.
		return nil
	}

	var article models.Article
	if err := p.DB.First(&article, articleID).Error; err != nil {
		return err
	}
	var project models.Project
	if err := p.DB.First(&project, article.ProjectID).Error; err != nil {
		return err
	}

	p.Logger.Info("Article published", zap.Uint("article_id", article.ID), zap.String("title", article.Title))

	go p.deliverWebhook(project, article)
	if p.S3Client != nil && p.Config.ArchiveConfigured() {
		go p.archiveSnapshot(article)
	}
	return nil
}

// PublishDue publishes every wait_for_publish article whose scheduled time
// has passed. Called from the cron sweep.
func (p *Publisher) PublishDue(ctx context.Context) (int, error) {
	var due []models.Article
	err := p.DB.
		Where("status = ? AND publish_scheduled_at IS NOT NULL AND publish_scheduled_at <= ?",
			models.ArticleStatusWaitForPublish, time.Now()).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	published := 0
	for _, article := range due {
		if err := p.Publish(ctx, article.ID); err != nil {
			p.Logger.Error("Scheduled publish failed", zap.Uint("article_id", article.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

// deliverWebhook POSTs the publish event to the project webhook. Non-2xx
// responses are logged only; there is no synchronous retry.
func (p *Publisher) deliverWebhook(project models.Project, article models.Article) {
	if project.WebhookURL == "" {
		return
	}
	log := p.Logger.With(zap.Uint("article_id", article.ID), zap.String("webhook_url", project.WebhookURL))

	event := webhookEvent{
		Event:   "article.published",
		EventID: uuid.NewString(),
		SentAt:  time.Now(),
	}
	event.Article.ID = article.ID
	event.Article.ProjectID = article.ProjectID
	event.Article.Title = article.Title
	event.Article.Slug = article.Slug
	event.Article.Content = article.Content
	event.Article.CoverImageURL = article.CoverImageURL
	event.Article.PublishedAt = article.PublishedAt

	body, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to marshal webhook payload", zap.Error(err))
		webhookFailuresTotal.Inc()
		return
	}

	req, err := http.NewRequest(http.MethodPost, project.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Error("Failed to build webhook request", zap.Error(err))
		webhookFailuresTotal.Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if project.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Signature", SignPayload(project.WebhookSecret, body))
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		log.Error("Webhook delivery failed", zap.Error(err))
		webhookFailuresTotal.Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("Webhook delivery rejected", zap.String("status", resp.Status))
		webhookFailuresTotal.Inc()
		return
	}
	webhookDeliveriesTotal.Inc()
	log.Info("Webhook delivered", zap.String("event_id", event.EventID))
}

// SignPayload computes the HMAC-SHA256 signature header value for a webhook body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// archiveSnapshot uploads a JSON snapshot of the published article to S3.
func (p *Publisher) archiveSnapshot(article models.Article) {
	data, err := json.MarshalIndent(article, "", "  ")
	if err != nil {
		p.Logger.Error("Failed to marshal article snapshot", zap.Uint("article_id", article.ID), zap.Error(err))
		return
	}

	key := fmt.Sprintf("articles/%d-%s.json", article.ID, article.Slug)
	link, err := storage.UploadFile(p.S3Client, p.Config.ArchiveS3Bucket, key, data, p.Config)
	if err != nil {
		p.Logger.Error("Snapshot upload failed", zap.Uint("article_id", article.ID), zap.Error(err))
		return
	}
	p.Logger.Info("Article snapshot archived", zap.Uint("article_id", article.ID), zap.String("s3_link", link))
}

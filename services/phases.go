package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RyszardRzepa/topicowl-sub007/config"
	"github.com/RyszardRzepa/topicowl-sub007/models"
	"github.com/RyszardRzepa/topicowl-sub007/providers"
	"github.com/RyszardRzepa/topicowl-sub007/providers/images"
)

// LLMClient is the completion surface the executors need. Implemented by
// providers/openai.Client.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteJSON(ctx context.Context, system, user string, out any) (string, error)
}

// PageTextFetcher extracts readable text from a result page. Implemented by
// providers/websearch.Fetcher.
type PageTextFetcher interface {
	FetchPageText(ctx context.Context, pageURL string) (string, error)
}

// ImageSearcher finds stock photos. Implemented by providers/images.Fetcher.
type ImageSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]images.Photo, error)
	Configured() bool
}

// ErrNoSources is the research phase failure when every attempt came back
// empty. Sourceless research is unusable.
var ErrNoSources = errors.New("research returned no usable sources")

// ResearchService gathers search-grounded research for an article topic.
type ResearchService struct {
	Config *config.Config
	Search providers.SearchProvider
	Pages  PageTextFetcher
	LLM    LLMClient
	Logger *zap.Logger
}

// NewResearchService creates the research executor.
func NewResearchService(cfg *config.Config, search providers.SearchProvider, pages PageTextFetcher, llm LLMClient, logger *zap.Logger) *ResearchService {
	return &ResearchService{Config: cfg, Search: search, Pages: pages, LLM: llm, Logger: logger}
}

// Research searches the web for the topic, retrying with progressively
// simpler queries, and synthesizes the hits into research notes. Zero
// sources after the final attempt fails the phase.
func (s *ResearchService) Research(ctx context.Context, in GenerationInput) (*models.ResearchArtifact, error) {
	attempts := s.Config.ResearchMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var hits []providers.SearchResult
	for attempt := 1; attempt <= attempts; attempt++ {
		query := s.queryForAttempt(in, attempt)
		results, err := s.Search.Search(ctx, query)
		if err != nil {
			s.Logger.Warn("Research search attempt failed",
				zap.Int("attempt", attempt), zap.String("query", query), zap.Error(err))
			continue
		}
		if len(results) > 0 {
			hits = results
			break
		}
		s.Logger.Warn("Research search returned no results",
			zap.Int("attempt", attempt), zap.String("query", query))
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w after %d attempts", ErrNoSources, attempts)
	}

	artifact := &models.ResearchArtifact{}
	var corpus strings.Builder
	for i, hit := range hits {
		if isVideoURL(hit.URL) {
			artifact.Videos = append(artifact.Videos, models.Video{Title: hit.Title, URL: hit.URL})
			continue
		}
		artifact.Sources = append(artifact.Sources, models.Source{Title: hit.Title, URL: hit.URL, Snippet: hit.Snippet})

		fmt.Fprintf(&corpus, "[%d] %s\n%s\n", len(artifact.Sources), hit.Title, hit.Snippet)
		if s.Pages != nil && i < 3 {
			if text, err := s.Pages.FetchPageText(ctx, hit.URL); err == nil && text != "" {
				fmt.Fprintf(&corpus, "%s\n", text)
			}
		}
		corpus.WriteString("\n")
	}
	if len(artifact.Sources) == 0 {
		return nil, fmt.Errorf("%w after %d attempts", ErrNoSources, attempts)
	}

	text, err := s.LLM.Complete(ctx,
		"You are a research assistant. Condense the provided search results into factual research notes for a writer. Cite sources by their [n] markers. Do not invent facts.",
		fmt.Sprintf("Topic: %s\nKeywords: %s\nNotes from the author: %s\n\nSearch results:\n%s",
			in.Title, strings.Join(in.Keywords, ", "), in.Notes, corpus.String()))
	if err != nil {
		return nil, fmt.Errorf("synthesize research: %w", err)
	}
	artifact.Text = text
	return artifact, nil
}

func (s *ResearchService) queryForAttempt(in GenerationInput, attempt int) string {
	switch attempt {
	case 1:
		if len(in.Keywords) > 0 {
			return in.Title + " " + strings.Join(in.Keywords, " ")
		}
		return in.Title
	case 2:
		return in.Title
	default:
		if len(in.Keywords) > 0 {
			return strings.Join(in.Keywords, " ")
		}
		return in.Title
	}
}

func isVideoURL(u string) bool {
	return strings.Contains(u, "youtube.com/") || strings.Contains(u, "youtu.be/") || strings.Contains(u, "vimeo.com/")
}

// ImageService selects a cover image for the article.
type ImageService struct {
	Images ImageSearcher
	Logger *zap.Logger
}

// NewImageService creates the image executor.
func NewImageService(searcher ImageSearcher, logger *zap.Logger) *ImageService {
	return &ImageService{Images: searcher, Logger: logger}
}

// SelectCoverImage picks the first stock photo matching the title. An
// unconfigured or empty provider yields an empty artifact, not a failure;
// a missing cover image is cosmetic.
func (s *ImageService) SelectCoverImage(ctx context.Context, in GenerationInput, _ *models.ResearchArtifact) (*models.CoverImageArtifact, error) {
	if s.Images == nil || !s.Images.Configured() {
		s.Logger.Info("Image provider not configured, skipping cover image")
		return &models.CoverImageArtifact{}, nil
	}

	query := in.Title
	if len(in.Keywords) > 0 {
		query = in.Keywords[0]
	}
	photos, err := s.Images.Search(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("cover image search: %w", err)
	}
	if len(photos) == 0 {
		s.Logger.Warn("No cover image found", zap.String("query", query))
		return &models.CoverImageArtifact{}, nil
	}
	return &models.CoverImageArtifact{URL: photos[0].URL, Credit: photos[0].Photographer}, nil
}

// WriteService produces the outline and draft.
type WriteService struct {
	LLM    LLMClient
	Logger *zap.Logger
}

// NewWriteService creates the writing executor.
func NewWriteService(llm LLMClient, logger *zap.Logger) *WriteService {
	return &WriteService{LLM: llm, Logger: logger}
}

// Write first derives an outline from the research, then writes the full
// draft against that outline. Both land in the write artifact so a retry of
// this phase regenerates them together.
func (s *WriteService) Write(ctx context.Context, in GenerationInput, prior models.Artifacts) (*models.WriteArtifact, error) {
	research := ""
	if prior.Research != nil {
		research = prior.Research.Text
	}

	outline, err := s.LLM.Complete(ctx,
		"You are a content strategist. Produce a markdown outline (H2/H3 headings with one-line notes) for the article described by the user.",
		fmt.Sprintf("Title: %s\nKeywords: %s\nAudience: %s\nLanguage: %s\n\nResearch notes:\n%s",
			in.Title, strings.Join(in.Keywords, ", "), in.Audience, in.Language, research))
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}

	content, err := s.LLM.Complete(ctx,
		fmt.Sprintf("You are a professional writer. Write a complete markdown article of at most %d words in a %s tone, following the outline exactly and grounding every factual statement in the research notes.", in.MaxWords, orDefault(in.Tone, "neutral")),
		fmt.Sprintf("Title: %s\nLanguage: %s\n\nOutline:\n%s\n\nResearch notes:\n%s", in.Title, in.Language, outline, research))
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("writer returned an empty draft")
	}

	return &models.WriteArtifact{Outline: outline, Content: content}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// QualityControlService reviews a draft for structural and editorial issues.
type QualityControlService struct {
	LLM    LLMClient
	Logger *zap.Logger
}

// NewQualityControlService creates the quality-control executor.
func NewQualityControlService(llm LLMClient, logger *zap.Logger) *QualityControlService {
	return &QualityControlService{LLM: llm, Logger: logger}
}

// Review asks the model for an issues report. An empty or literal "null"
// response (case-insensitive) means the draft passed; any other text is
// attached as the report and forwarded to the updating phase. Issues never
// fail this phase by themselves.
func (s *QualityControlService) Review(ctx context.Context, in GenerationInput, draft string) (*models.QualityControlArtifact, error) {
	reply, err := s.LLM.Complete(ctx,
		"You are a strict copy editor. List concrete, actionable issues in the article (structure, clarity, tone, missing keyword coverage). If there are no issues, reply with exactly: null",
		fmt.Sprintf("Title: %s\nRequired keywords: %s\n\n%s", in.Title, strings.Join(in.Keywords, ", "), draft))
	if err != nil {
		return nil, fmt.Errorf("quality review: %w", err)
	}

	artifact := &models.QualityControlArtifact{CheckedAt: time.Now()}
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" || strings.EqualFold(trimmed, "null") || strings.EqualFold(trimmed, "none") {
		return artifact, nil
	}
	artifact.Report = &trimmed
	return artifact, nil
}

// ValidationService fact-checks the claims made in a draft.
type ValidationService struct {
	Config *config.Config
	LLM    LLMClient
	Search providers.SearchProvider
	Logger *zap.Logger
}

// NewValidationService creates the validating executor.
func NewValidationService(cfg *config.Config, llm LLMClient, search providers.SearchProvider, logger *zap.Logger) *ValidationService {
	return &ValidationService{Config: cfg, LLM: llm, Search: search, Logger: logger}
}

type extractedClaims struct {
	Claims []string `json:"claims"`
}

type claimVerdict struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Correction string  `json:"correction"`
}

// Validate extracts the factual claims from the draft, verifies each one
// against fresh search results (bounded fan-out), and aggregates the
// verdicts. A schema-parse failure of the aggregated result degrades to
// valid: availability over strictness, by explicit policy, and loudly
// logged so the tradeoff stays visible.
func (s *ValidationService) Validate(ctx context.Context, in GenerationInput, draft string) (*models.ValidationArtifact, error) {
	var claims extractedClaims
	raw, err := s.LLM.CompleteJSON(ctx,
		`Extract the distinct, checkable factual claims from the article. Respond with JSON: {"claims": ["..."]}. At most 8 claims.`,
		draft, &claims)
	if err != nil {
		validationParseFailuresTotal.Inc()
		s.Logger.Error("Claim extraction unparseable, treating draft as valid", zap.Error(err))
		return &models.ValidationArtifact{Raw: raw, IsValid: true}, nil
	}
	if len(claims.Claims) == 0 {
		return &models.ValidationArtifact{Raw: raw, IsValid: true}, nil
	}

	limit := s.Config.ValidationBatchLimit
	if limit <= 0 {
		limit = 3
	}

	findings := make([]models.ValidationFinding, len(claims.Claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, claim := range claims.Claims {
		g.Go(func() error {
			finding, err := s.verifyClaim(gctx, claim)
			if err != nil {
				// A single unverifiable claim must not block the pipeline.
				s.Logger.Warn("Claim verification failed", zap.String("claim", claim), zap.Error(err))
				finding = models.ValidationFinding{Claim: claim, Verdict: "unverified", Confidence: 0}
			}
			findings[i] = finding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artifact := &models.ValidationArtifact{Findings: findings, IsValid: true}
	for _, f := range findings {
		if f.Verdict == "false" && f.Confidence > 0.5 {
			artifact.IsValid = false
			break
		}
	}
	return artifact, nil
}

func (s *ValidationService) verifyClaim(ctx context.Context, claim string) (models.ValidationFinding, error) {
	results, err := s.Search.Search(ctx, claim)
	if err != nil {
		return models.ValidationFinding{}, fmt.Errorf("search for claim: %w", err)
	}

	var evidence strings.Builder
	for i, r := range results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&evidence, "- %s: %s\n", r.Title, r.Snippet)
	}

	var verdict claimVerdict
	raw, err := s.LLM.CompleteJSON(ctx,
		`Given a claim and search evidence, respond with JSON: {"verdict": "true"|"false"|"unverified", "confidence": 0.0-1.0, "correction": "corrected statement or empty"}`,
		fmt.Sprintf("Claim: %s\n\nEvidence:\n%s", claim, evidence.String()), &verdict)
	if err != nil {
		// Per-claim parse failure is fail-open too, but counted.
		validationParseFailuresTotal.Inc()
		s.Logger.Error("Claim verdict unparseable, marking unverified",
			zap.String("claim", claim), zap.String("raw", truncate(raw, 200)), zap.Error(err))
		return models.ValidationFinding{Claim: claim, Verdict: "unverified", Confidence: 0}, nil
	}

	return models.ValidationFinding{
		Claim:      claim,
		Verdict:    verdict.Verdict,
		Confidence: verdict.Confidence,
		Correction: verdict.Correction,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// UpdateService applies the quality report and fact corrections to a draft.
type UpdateService struct {
	LLM    LLMClient
	Logger *zap.Logger
}

// NewUpdateService creates the updating executor.
func NewUpdateService(llm LLMClient, logger *zap.Logger) *UpdateService {
	return &UpdateService{LLM: llm, Logger: logger}
}

// Apply rewrites the draft with the given report and corrections. The
// orchestrator has already filtered findings by the confidence threshold.
func (s *UpdateService) Apply(ctx context.Context, draft string, report *string, findings []models.ValidationFinding) (string, error) {
	var instructions strings.Builder
	if report != nil {
		instructions.WriteString("Editorial issues to fix:\n")
		instructions.WriteString(*report)
		instructions.WriteString("\n\n")
	}
	if len(findings) > 0 {
		instructions.WriteString("Factual corrections to apply:\n")
		for _, f := range findings {
			fmt.Fprintf(&instructions, "- Replace the claim %q with: %s\n", f.Claim, f.Correction)
		}
	}

	corrected, err := s.LLM.Complete(ctx,
		"You are an editor. Apply exactly the listed fixes to the article and return the full corrected markdown. Change nothing else.",
		instructions.String()+"\n\nArticle:\n"+draft)
	if err != nil {
		return "", fmt.Errorf("apply corrections: %w", err)
	}
	if strings.TrimSpace(corrected) == "" {
		return "", errors.New("update pass returned an empty draft")
	}
	return corrected, nil
}

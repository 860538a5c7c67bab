package models

// ArticleStatus is the closed lifecycle state of an article on the board.
type ArticleStatus string

const (
	ArticleStatusIdea           ArticleStatus = "idea"
	ArticleStatusToGenerate     ArticleStatus = "to_generate"
	ArticleStatusQueued         ArticleStatus = "queued"
	ArticleStatusGenerating     ArticleStatus = "generating"
	ArticleStatusFailed         ArticleStatus = "failed"
	ArticleStatusWaitForPublish ArticleStatus = "wait_for_publish"
	ArticleStatusPublished      ArticleStatus = "published"
	ArticleStatusArchived       ArticleStatus = "archived"
)

// articleTransitions is the explicit transition table. Any status write not
// listed here is rejected, so a typo'd status can never create an
// unreachable state.
var articleTransitions = map[ArticleStatus][]ArticleStatus{
	ArticleStatusIdea:           {ArticleStatusToGenerate, ArticleStatusQueued, ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusToGenerate:     {ArticleStatusIdea, ArticleStatusQueued, ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusQueued:         {ArticleStatusIdea, ArticleStatusToGenerate, ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusGenerating:     {ArticleStatusFailed, ArticleStatusWaitForPublish, ArticleStatusPublished},
	ArticleStatusFailed:         {ArticleStatusIdea, ArticleStatusToGenerate, ArticleStatusQueued, ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusWaitForPublish: {ArticleStatusPublished, ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusPublished:      {ArticleStatusGenerating, ArticleStatusArchived},
	ArticleStatusArchived:       {ArticleStatusIdea},
}

// CanTransitionTo reports whether the transition table allows s -> next.
func (s ArticleStatus) CanTransitionTo(next ArticleStatus) bool {
	for _, allowed := range articleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known article status.
func (s ArticleStatus) Valid() bool {
	_, ok := articleTransitions[s]
	return ok
}

// GenerationEligible is the set of statuses the claim gate accepts. A
// force-regenerate request widens the set to already-produced articles.
func GenerationEligible(force bool) []ArticleStatus {
	eligible := []ArticleStatus{
		ArticleStatusIdea,
		ArticleStatusToGenerate,
		ArticleStatusQueued,
		ArticleStatusFailed,
	}
	if force {
		eligible = append(eligible, ArticleStatusWaitForPublish, ArticleStatusPublished)
	}
	return eligible
}

// GenerationPhase is the phase state machine of one generation attempt.
type GenerationPhase string

const (
	PhaseResearch       GenerationPhase = "research"
	PhaseImage          GenerationPhase = "image"
	PhaseWriting        GenerationPhase = "writing"
	PhaseQualityControl GenerationPhase = "quality-control"
	PhaseValidating     GenerationPhase = "validating"
	PhaseUpdating       GenerationPhase = "updating"
	PhaseCompleted      GenerationPhase = "completed"
	PhaseFailed         GenerationPhase = "failed"
)

// PipelinePhases lists the executable phases in forward order. The terminal
// states completed/failed are not executable.
var PipelinePhases = []GenerationPhase{
	PhaseResearch,
	PhaseImage,
	PhaseWriting,
	PhaseQualityControl,
	PhaseValidating,
	PhaseUpdating,
}

// Terminal reports whether p is a terminal phase.
func (p GenerationPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// PhaseIndex returns the position of p in the pipeline, or -1 for terminal
// or unknown phases.
func PhaseIndex(p GenerationPhase) int {
	for i, ph := range PipelinePhases {
		if ph == p {
			return i
		}
	}
	return -1
}

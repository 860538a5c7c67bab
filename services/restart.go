package services

import "github.com/RyszardRzepa/topicowl-sub007/models"

// RestartPlan is the result of restart-point resolution.
type RestartPlan struct {
	Phase              models.GenerationPhase `json:"restart_phase"`
	Reasoning          string                 `json:"reasoning"`
	AvailableArtifacts []string               `json:"available_artifacts"`
}

// ResolveRestartPoint determines which phase a retry should resume from,
// given the phase that failed and the artifacts accumulated so far. Pure
// and deterministic: identical inputs always yield the identical plan, and
// no state is touched. The caller resets the generation record and re-runs
// the orchestrator from the returned phase, reusing stored artifacts.
func ResolveRestartPoint(failedPhase models.GenerationPhase, artifacts models.Artifacts) RestartPlan {
	plan := RestartPlan{AvailableArtifacts: artifacts.Keys()}

	// Terminal or unknown phases carry no positional information, so the
	// per-phase rules below must not see them: infer the most advanced phase
	// whose prerequisite artifacts are all present.
	if models.PhaseIndex(failedPhase) < 0 {
		plan.Phase, plan.Reasoning = inferFromArtifacts(artifacts)
		return plan
	}

	switch {
	case failedPhase == models.PhaseResearch || artifacts.Research == nil:
		plan.Phase = models.PhaseResearch
		plan.Reasoning = "no usable research artifact; restarting from research"

	case failedPhase == models.PhaseImage || artifacts.CoverImage == nil:
		plan.Phase = models.PhaseImage
		plan.Reasoning = "research preserved; restarting from cover image selection"

	case failedPhase == models.PhaseWriting || !artifacts.HasDraft():
		plan.Phase = models.PhaseWriting
		plan.Reasoning = "no non-empty draft; rewriting from stored research"

	case failedPhase == models.PhaseQualityControl:
		plan.Phase = models.PhaseQualityControl
		plan.Reasoning = "reassessing the existing draft"

	case failedPhase == models.PhaseValidating:
		plan.Phase = models.PhaseValidating
		plan.Reasoning = "re-running claim validation on the existing draft"

	case failedPhase == models.PhaseUpdating:
		// Re-derive correction targets instead of blindly reapplying them.
		plan.Phase = models.PhaseQualityControl
		plan.Reasoning = "update failed; re-deriving correction targets from quality control"
	}

	return plan
}

func inferFromArtifacts(artifacts models.Artifacts) (models.GenerationPhase, string) {
	switch {
	case artifacts.Validation != nil && artifacts.HasDraft():
		return models.PhaseUpdating, "validation findings present; resuming at updating"
	case artifacts.QualityControl != nil && artifacts.HasDraft():
		return models.PhaseValidating, "quality control done but no validation; resuming at validating"
	case artifacts.HasDraft() && artifacts.Research != nil:
		return models.PhaseQualityControl, "draft and research present; resuming at quality control"
	case artifacts.Research != nil:
		return models.PhaseWriting, "only research present; resuming at writing"
	default:
		return models.PhaseResearch, "no artifacts available; restarting from research"
	}
}

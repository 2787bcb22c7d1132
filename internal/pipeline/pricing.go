package pipeline

import "github.com/cineolabs/cineo-backend/internal/types"

// Credit prices per stage. Storyboards are priced per scene.
const (
	CostScript     = 10
	CostStoryboard = 15
	CostVideo      = 50
	CostPoster     = 5
	CostTrailer    = 20

	// DefaultSceneEstimate seeds the submit-time reservation before the
	// script reveals the real scene count.
	DefaultSceneEstimate = 3
)

func stageCost(kind types.StageKind) int {
	switch kind {
	case types.StageScript:
		return CostScript
	case types.StageStoryboard:
		return CostStoryboard
	case types.StageVideo:
		return CostVideo
	case types.StagePoster:
		return CostPoster
	case types.StageTrailer:
		return CostTrailer
	}
	return 0
}

// EstimateCost prices a full pipeline run for the given scene count.
func EstimateCost(sceneCount int) int {
	if sceneCount <= 0 {
		sceneCount = DefaultSceneEstimate
	}
	return CostScript + sceneCount*CostStoryboard + CostVideo + CostPoster + CostTrailer
}

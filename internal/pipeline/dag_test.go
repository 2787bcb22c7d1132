package pipeline

import (
	"testing"

	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/types"
)

func stageSet(statuses map[types.StageKind][]types.StageStatus) []*types.MovieStage {
	var out []*types.MovieStage
	for _, kind := range []types.StageKind{
		types.StageScript, types.StageStoryboard, types.StageVideo,
		types.StagePoster, types.StageTrailer,
	} {
		for i, status := range statuses[kind] {
			sceneIndex := 0
			if kind == types.StageStoryboard {
				sceneIndex = i + 1
			}
			out = append(out, &types.MovieStage{
				ID:         uuid.New(),
				JobID:      uuid.Nil,
				Kind:       kind,
				SceneIndex: sceneIndex,
				Status:     status,
			})
		}
	}
	return out
}

func kinds(stages []*types.MovieStage) map[types.StageKind]int {
	out := map[types.StageKind]int{}
	for _, st := range stages {
		out[st.Kind]++
	}
	return out
}

func TestPromotableNothingBeforeScript(t *testing.T) {
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageQueued},
		types.StageStoryboard: {types.StagePending, types.StagePending},
		types.StageVideo:      {types.StagePending},
		types.StagePoster:     {types.StagePending},
		types.StageTrailer:    {types.StagePending},
	})
	if got := promotable(stages); len(got) != 0 {
		t.Fatalf("promoted before script finished: %v", kinds(got))
	}
}

func TestPromotableAfterScript(t *testing.T) {
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StagePending, types.StagePending},
		types.StageVideo:      {types.StagePending},
		types.StagePoster:     {types.StagePending},
		types.StageTrailer:    {types.StagePending},
	})
	got := kinds(promotable(stages))
	// Storyboards, poster and trailer unlock; the video still waits.
	if got[types.StageStoryboard] != 2 || got[types.StagePoster] != 1 || got[types.StageTrailer] != 1 {
		t.Fatalf("unexpected promotions: %v", got)
	}
	if got[types.StageVideo] != 0 {
		t.Fatal("video promoted before storyboards finished")
	}
}

func TestPromotableVideoNeedsEveryStoryboard(t *testing.T) {
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StageSucceeded, types.StageAttempting},
		types.StageVideo:      {types.StagePending},
	})
	if got := kinds(promotable(stages)); got[types.StageVideo] != 0 {
		t.Fatal("video promoted with a storyboard still in flight")
	}

	stages = stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StageSucceeded, types.StageSucceeded},
		types.StageVideo:      {types.StagePending},
	})
	if got := kinds(promotable(stages)); got[types.StageVideo] != 1 {
		t.Fatal("video not promoted once every storyboard succeeded")
	}
}

func TestUnfulfillableAfterFailure(t *testing.T) {
	// A dead storyboard dooms only the video; poster and trailer hang off
	// the script alone.
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StageSucceeded, types.StageFailed},
		types.StageVideo:      {types.StagePending},
		types.StagePoster:     {types.StagePending},
		types.StageTrailer:    {types.StagePending},
	})
	got := kinds(unfulfillable(stages))
	if got[types.StageVideo] != 1 {
		t.Fatal("video not marked unfulfillable")
	}
	if got[types.StagePoster] != 0 || got[types.StageTrailer] != 0 {
		t.Fatalf("poster/trailer wrongly doomed: %v", got)
	}

	// A dead script dooms everything pending.
	stages = stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageFailed},
		types.StageStoryboard: {types.StagePending},
		types.StageVideo:      {types.StagePending},
		types.StagePoster:     {types.StagePending},
		types.StageTrailer:    {types.StagePending},
	})
	if got := kinds(unfulfillable(stages)); len(got) != 4 {
		t.Fatalf("expected all four dependents doomed, got %v", got)
	}
}

func TestSpentCreditsCountsOnlySucceeded(t *testing.T) {
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StageSucceeded, types.StageFailed, types.StageSkipped},
		types.StageVideo:      {types.StageSkipped},
		types.StagePoster:     {types.StageSucceeded},
		types.StageTrailer:    {types.StageSucceeded},
	})
	want := CostScript + CostStoryboard + CostPoster + CostTrailer
	if got := spentCredits(stages); got != want {
		t.Fatalf("unexpected spend: got=%d want=%d", got, want)
	}
}

func TestAllTerminalAndProgress(t *testing.T) {
	stages := stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:     {types.StageSucceeded},
		types.StageStoryboard: {types.StageSucceeded, types.StageAttempting},
		types.StageVideo:      {types.StagePending},
	})
	if allTerminal(stages) {
		t.Fatal("reported terminal with work in flight")
	}
	if got := progressPercent(stages); got != 50 {
		t.Fatalf("unexpected progress: got=%d want=50", got)
	}
	if got := currentStageLabel(stages); got != string(types.StageStoryboard) {
		t.Fatalf("unexpected stage label: got=%q", got)
	}

	stages = stageSet(map[types.StageKind][]types.StageStatus{
		types.StageScript:  {types.StageSucceeded},
		types.StageVideo:   {types.StageFailed},
		types.StagePoster:  {types.StageSkipped},
		types.StageTrailer: {types.StageSucceeded},
	})
	if !allTerminal(stages) {
		t.Fatal("terminal set not recognized")
	}
	if !anyFailed(stages) {
		t.Fatal("failure not recognized")
	}
}

func TestEstimateCost(t *testing.T) {
	if got := EstimateCost(3); got != 130 {
		t.Fatalf("unexpected estimate: got=%d want=130", got)
	}
	// Zero falls back to the default scene estimate.
	if got := EstimateCost(0); got != 130 {
		t.Fatalf("unexpected default estimate: got=%d want=130", got)
	}
	if got := EstimateCost(5); got != 160 {
		t.Fatalf("unexpected estimate: got=%d want=160", got)
	}
}

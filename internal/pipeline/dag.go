package pipeline

import "github.com/cineolabs/cineo-backend/internal/types"

// Stage dependencies: the script gates everything; the video additionally
// waits on every storyboard. Poster and trailer only need the script, so
// they render in parallel with the scene work.

type stageView struct {
	scriptDone      bool
	scriptDead      bool
	storyboards     int
	storyboardsDone int
	storyboardsDead int
}

func viewOf(stages []*types.MovieStage) stageView {
	var v stageView
	for _, st := range stages {
		switch st.Kind {
		case types.StageScript:
			switch st.Status {
			case types.StageSucceeded:
				v.scriptDone = true
			case types.StageFailed, types.StageSkipped:
				v.scriptDead = true
			}
		case types.StageStoryboard:
			v.storyboards++
			switch st.Status {
			case types.StageSucceeded:
				v.storyboardsDone++
			case types.StageFailed, types.StageSkipped:
				v.storyboardsDead++
			}
		}
	}
	return v
}

func depsSatisfied(st *types.MovieStage, v stageView) bool {
	switch st.Kind {
	case types.StageScript:
		return true
	case types.StageStoryboard, types.StagePoster, types.StageTrailer:
		return v.scriptDone
	case types.StageVideo:
		return v.scriptDone && v.storyboards > 0 && v.storyboardsDone == v.storyboards
	}
	return false
}

// promotable returns the pending stages whose dependencies are all satisfied.
func promotable(stages []*types.MovieStage) []*types.MovieStage {
	v := viewOf(stages)
	var out []*types.MovieStage
	for _, st := range stages {
		if st.Status == types.StagePending && depsSatisfied(st, v) {
			out = append(out, st)
		}
	}
	return out
}

// depsDead reports that a dependency reached failed or skipped, so the stage
// can never become runnable.
func depsDead(st *types.MovieStage, v stageView) bool {
	switch st.Kind {
	case types.StageStoryboard, types.StagePoster, types.StageTrailer:
		return v.scriptDead
	case types.StageVideo:
		return v.scriptDead || v.storyboardsDead > 0
	}
	return false
}

// unfulfillable returns the pending stages whose dependencies can no longer
// succeed. They get skipped so the job can reach a terminal state.
func unfulfillable(stages []*types.MovieStage) []*types.MovieStage {
	v := viewOf(stages)
	var out []*types.MovieStage
	for _, st := range stages {
		if st.Status == types.StagePending && depsDead(st, v) {
			out = append(out, st)
		}
	}
	return out
}

// allTerminal reports whether every stage has finished, one way or another.
func allTerminal(stages []*types.MovieStage) bool {
	for _, st := range stages {
		if !st.Status.Terminal() {
			return false
		}
	}
	return len(stages) > 0
}

func anyFailed(stages []*types.MovieStage) bool {
	for _, st := range stages {
		if st.Status == types.StageFailed {
			return true
		}
	}
	return false
}

// spentCredits totals the price of every succeeded stage. This is the amount
// committed against the reservation when the job closes.
func spentCredits(stages []*types.MovieStage) int {
	total := 0
	for _, st := range stages {
		if st.Status == types.StageSucceeded {
			total += stageCost(st.Kind)
		}
	}
	return total
}

// progressPercent is the share of stages that reached a terminal state.
func progressPercent(stages []*types.MovieStage) int {
	if len(stages) == 0 {
		return 0
	}
	done := 0
	for _, st := range stages {
		if st.Status.Terminal() {
			done++
		}
	}
	return done * 100 / len(stages)
}

// currentStageLabel names the earliest non-terminal stage kind for display.
func currentStageLabel(stages []*types.MovieStage) string {
	for _, st := range stages {
		if !st.Status.Terminal() {
			return string(st.Kind)
		}
	}
	return ""
}

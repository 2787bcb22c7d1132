package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cineolabs/cineo-backend/internal/generate"
	"github.com/cineolabs/cineo-backend/internal/platform/dbctx"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/repos"
	"github.com/cineolabs/cineo-backend/internal/types"
)

const (
	errClassTransient = "transient"
	errClassPermanent = "permanent"
	errClassCancelled = "cancelled"
)

// Executor runs a single leased stage end to end: build the typed input from
// the job row, call the adapter under the stage kind's timeout, and write the
// outcome back through lease-guarded updates. A stage skipped by cancel loses
// its lease, so a late result affects zero rows and is discarded.
type Executor struct {
	db       *gorm.DB
	jobs     repos.MovieJobRepo
	stages   repos.MovieStageRepo
	adapters generate.Set
	policy   Policy
	owner    string
	onDone   func(jobID uuid.UUID)
	log      *logger.Logger
}

func NewExecutor(
	db *gorm.DB,
	jobs repos.MovieJobRepo,
	stages repos.MovieStageRepo,
	adapters generate.Set,
	policy Policy,
	onDone func(jobID uuid.UUID),
	baseLog *logger.Logger,
) *Executor {
	return &Executor{
		db:       db,
		jobs:     jobs,
		stages:   stages,
		adapters: adapters,
		policy:   policy,
		owner:    "exec-" + uuid.NewString(),
		onDone:   onDone,
		log:      baseLog.With("component", "StageExecutor"),
	}
}

func (e *Executor) Execute(ctx context.Context, t Task) {
	dbc := dbctx.Context{Ctx: ctx}

	ok, err := e.stages.AcquireLease(dbc, t.StageID, e.owner)
	if err != nil {
		e.log.Error("acquire lease", "stage_id", t.StageID, "error", err)
		return
	}
	if !ok {
		// Another executor won the stage, or it is no longer queued. Outside
		// a crash-recovery window this points at a dispatch defect.
		e.log.Warn("lease conflict, walking away",
			"job_id", t.JobID, "stage_id", t.StageID, "owner", e.owner)
		return
	}

	st, err := e.stages.GetByID(dbc, t.StageID)
	if err != nil || st == nil {
		e.log.Error("load leased stage", "stage_id", t.StageID, "error", err)
		return
	}
	job, err := e.jobs.GetByID(dbc, t.JobID)
	if err != nil || job == nil {
		e.failStage(dbc, st, errClassPermanent, "job row missing")
		return
	}

	req, err := e.buildRequest(dbc, job, st)
	if err != nil {
		e.failStage(dbc, st, errClassPermanent, err.Error())
		return
	}
	adapter, ok := e.adapters[st.Kind]
	if !ok {
		e.failStage(dbc, st, errClassPermanent, fmt.Sprintf("no adapter for kind %q", st.Kind))
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout(st.Kind))
	res, genErr := adapter.Generate(genCtx, req)
	cancel()

	if genErr != nil {
		e.handleFailure(dbc, st, genErr)
		return
	}
	e.handleSuccess(dbc, job, st, res)
}

func (e *Executor) handleSuccess(dbc dbctx.Context, job *types.MovieJob, st *types.MovieStage, res generate.Result) {
	// The stage row and the job artifact commit together: a script marked
	// succeeded without its scene list on the job row would stall every
	// later advance.
	updates := jobArtifactUpdates(st.Kind, res)
	var changed bool
	err := e.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		var err error
		changed, err = e.stages.MarkSucceeded(txc, st.ID, e.owner, res.URL)
		if err != nil || !changed {
			return err
		}
		if updates == nil {
			return nil
		}
		_, err = e.jobs.UpdateFieldsUnlessStatus(txc, job.ID, jobTerminalStatuses, updates)
		return err
	})
	if err != nil {
		e.log.Error("mark stage succeeded", "stage_id", st.ID, "error", err)
		return
	}
	if !changed {
		// Cancelled while we were generating; drop the result.
		e.log.Info("discarding result of superseded stage",
			"job_id", st.JobID, "stage_id", st.ID, "kind", st.Kind)
		return
	}
	if e.onDone != nil {
		e.onDone(st.JobID)
	}
}

func (e *Executor) handleFailure(dbc dbctx.Context, st *types.MovieStage, genErr error) {
	maxAttempts := st.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.policy.MaxAttempts
	}
	if generate.IsTransient(genErr) && st.Attempts < maxAttempts {
		nextRun := time.Now().Add(e.policy.Backoff(st.Attempts))
		changed, err := e.stages.ReleaseToQueued(dbc, st.ID, e.owner, errClassTransient, genErr.Error(), nextRun)
		if err != nil {
			e.log.Error("release stage for retry", "stage_id", st.ID, "error", err)
			return
		}
		if changed {
			e.log.Warn("stage attempt failed, retrying",
				"job_id", st.JobID, "stage_id", st.ID, "kind", st.Kind,
				"attempt", st.Attempts, "next_run_at", nextRun)
		}
		return
	}

	class := errClassPermanent
	if generate.IsTransient(genErr) {
		class = errClassTransient
	}
	e.failStage(dbc, st, class, genErr.Error())
}

func (e *Executor) failStage(dbc dbctx.Context, st *types.MovieStage, class, msg string) {
	changed, err := e.stages.MarkFailed(dbc, st.ID, e.owner, class, msg)
	if err != nil {
		e.log.Error("mark stage failed", "stage_id", st.ID, "error", err)
		return
	}
	if !changed {
		return
	}
	e.log.Warn("stage failed",
		"job_id", st.JobID, "stage_id", st.ID, "kind", st.Kind,
		"attempts", st.Attempts, "class", class, "error", msg)
	if e.onDone != nil {
		e.onDone(st.JobID)
	}
}

func (e *Executor) buildRequest(dbc dbctx.Context, job *types.MovieJob, st *types.MovieStage) (generate.Request, error) {
	switch st.Kind {
	case types.StageScript:
		return generate.Request{
			Kind: st.Kind,
			Script: &generate.ScriptInput{
				Title:       job.Title,
				Genre:       job.Genre,
				Style:       job.Style,
				Description: job.Description,
				SceneCount:  DefaultSceneEstimate,
			},
		}, nil

	case types.StageStoryboard:
		scenes, err := decodeScript(job)
		if err != nil {
			return generate.Request{}, err
		}
		for _, sc := range scenes {
			if sc.Number == st.SceneIndex {
				return generate.Request{
					Kind: st.Kind,
					Storyboard: &generate.StoryboardInput{
						SceneNumber: sc.Number,
						Description: sc.Description,
						Style:       job.Style,
					},
				}, nil
			}
		}
		return generate.Request{}, fmt.Errorf("script has no scene %d", st.SceneIndex)

	case types.StageVideo:
		refs, err := e.sceneRefs(dbc, job)
		if err != nil {
			return generate.Request{}, err
		}
		return generate.Request{
			Kind:  st.Kind,
			Video: &generate.VideoInput{Title: job.Title, Scenes: refs},
		}, nil

	case types.StagePoster:
		return generate.Request{
			Kind:   st.Kind,
			Poster: &generate.PosterInput{Title: job.Title, Genre: job.Genre},
		}, nil

	case types.StageTrailer:
		scenes, err := decodeScript(job)
		if err != nil {
			return generate.Request{}, err
		}
		refs := make([]generate.SceneRef, 0, len(scenes))
		for _, sc := range scenes {
			refs = append(refs, generate.SceneRef{Number: sc.Number, Description: sc.Description})
		}
		return generate.Request{
			Kind:    st.Kind,
			Trailer: &generate.TrailerInput{Title: job.Title, Scenes: refs},
		}, nil
	}
	return generate.Request{}, fmt.Errorf("unknown stage kind %q", st.Kind)
}

// sceneRefs joins script scenes with their storyboard artifacts.
func (e *Executor) sceneRefs(dbc dbctx.Context, job *types.MovieJob) ([]generate.SceneRef, error) {
	scenes, err := decodeScript(job)
	if err != nil {
		return nil, err
	}
	siblings, err := e.stages.ListByJob(dbc, job.ID)
	if err != nil {
		return nil, err
	}
	boards := make(map[int]string, len(scenes))
	for _, sib := range siblings {
		if sib.Kind == types.StageStoryboard && sib.Status == types.StageSucceeded {
			boards[sib.SceneIndex] = sib.OutputURL
		}
	}
	refs := make([]generate.SceneRef, 0, len(scenes))
	for _, sc := range scenes {
		url, ok := boards[sc.Number]
		if !ok {
			return nil, fmt.Errorf("scene %d has no storyboard artifact", sc.Number)
		}
		refs = append(refs, generate.SceneRef{
			Number:        sc.Number,
			Description:   sc.Description,
			StoryboardURL: url,
		})
	}
	return refs, nil
}

func decodeScript(job *types.MovieJob) ([]types.SceneDescriptor, error) {
	if len(job.Script) == 0 {
		return nil, fmt.Errorf("job %s has no script", job.ID)
	}
	var scenes []types.SceneDescriptor
	if err := json.Unmarshal(job.Script, &scenes); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return scenes, nil
}

func jobArtifactUpdates(kind types.StageKind, res generate.Result) map[string]interface{} {
	switch kind {
	case types.StageScript:
		raw, err := json.Marshal(res.Scenes)
		if err != nil {
			return nil
		}
		return map[string]interface{}{"script": raw}
	case types.StagePoster:
		return map[string]interface{}{"poster_url": res.URL}
	case types.StageTrailer:
		return map[string]interface{}{"trailer_url": res.URL}
	case types.StageVideo:
		return map[string]interface{}{"video_url": res.URL}
	}
	return nil
}

package generate

import (
	"context"
	"fmt"
	"sync"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// FakeAdapter is a deterministic in-memory adapter used by tests and by the
// local development mode when no generation service is configured.
type FakeAdapter struct {
	kind       types.StageKind
	sceneCount int

	mu        sync.Mutex
	calls     int
	failTimes int
	failErr   error
	gate      chan struct{}
}

func NewFakeAdapter(kind types.StageKind) *FakeAdapter {
	return &FakeAdapter{kind: kind, sceneCount: 3}
}

// NewFakeSet returns one fake adapter per stage kind.
func NewFakeSet() Set {
	return NewSet(
		NewFakeAdapter(types.StageScript),
		NewFakeAdapter(types.StageStoryboard),
		NewFakeAdapter(types.StageVideo),
		NewFakeAdapter(types.StagePoster),
		NewFakeAdapter(types.StageTrailer),
	)
}

func (a *FakeAdapter) Kind() types.StageKind { return a.kind }

// SceneCount overrides the number of scenes returned by a script fake.
func (a *FakeAdapter) SceneCount(n int) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sceneCount = n
	return a
}

// FailTimes makes the next n calls return err before succeeding again.
// A negative n fails every call.
func (a *FakeAdapter) FailTimes(n int, err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failTimes = n
	a.failErr = err
	return a
}

// Gate blocks every Generate call until the returned channel is closed or the
// context is cancelled. Used to hold stages in flight.
func (a *FakeAdapter) Gate() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = make(chan struct{})
	return a.gate
}

// Calls reports how many times Generate has been invoked.
func (a *FakeAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *FakeAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	gate := a.gate
	var fail error
	if a.failTimes != 0 && a.failErr != nil {
		fail = a.failErr
		if a.failTimes > 0 {
			a.failTimes--
		}
	}
	sceneCount := a.sceneCount
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result{}, Transient(ctx.Err())
		}
	}
	if fail != nil {
		return Result{}, fail
	}

	switch a.kind {
	case types.StageScript:
		scenes := make([]types.SceneDescriptor, 0, sceneCount)
		for i := 0; i < sceneCount; i++ {
			scenes = append(scenes, types.SceneDescriptor{
				Number:      i + 1,
				Description: fmt.Sprintf("scene %d", i+1),
			})
		}
		return Result{Scenes: scenes}, nil
	case types.StageStoryboard:
		n := 0
		if req.Storyboard != nil {
			n = req.Storyboard.SceneNumber
		}
		return Result{URL: fmt.Sprintf("fake://storyboard/%d/%d", n, call)}, nil
	default:
		return Result{URL: fmt.Sprintf("fake://%s/%d", a.kind, call)}, nil
	}
}

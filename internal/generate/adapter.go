package generate

import (
	"context"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// Request is the closed set of per-kind inputs. Exactly one variant is set,
// matching Kind; each variant carries its own strongly-typed shape instead
// of a generic payload blob.
type Request struct {
	Kind types.StageKind

	Script     *ScriptInput
	Storyboard *StoryboardInput
	Video      *VideoInput
	Poster     *PosterInput
	Trailer    *TrailerInput
}

type ScriptInput struct {
	Title       string
	Genre       string
	Style       string
	Description string
	SceneCount  int
}

type StoryboardInput struct {
	SceneNumber int
	Description string
	Style       string
}

// SceneRef points at an already-generated scene artifact.
type SceneRef struct {
	Number        int
	Description   string
	StoryboardURL string
}

type VideoInput struct {
	Title  string
	Scenes []SceneRef
}

type PosterInput struct {
	Title string
	Genre string
}

type TrailerInput struct {
	Title  string
	Scenes []SceneRef
}

// Result carries the artifact reference. Script is the only kind producing
// structured output; everything else yields a URL into the blob store.
type Result struct {
	Scenes []types.SceneDescriptor
	URL    string
}

// Adapter wraps one external generation capability. The call may be
// long-running upstream; from the executor's point of view it is a blocking
// call bounded by the ctx deadline. Implementations are swappable and no
// caller may special-case a particular one.
type Adapter interface {
	Kind() types.StageKind
	Generate(ctx context.Context, req Request) (Result, error)
}

// Set maps stage kinds to their adapters.
type Set map[types.StageKind]Adapter

func NewSet(adapters ...Adapter) Set {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		s[a.Kind()] = a
	}
	return s
}

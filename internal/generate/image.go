package generate

import (
	"context"
	"fmt"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// ImageAdapter renders a single frame from a text prompt. One instance
// serves storyboards, another posters; they differ only in kind and prompt
// construction, and are rate-limited independently through their clients.
type ImageAdapter struct {
	kind   types.StageKind
	client *Client
}

func NewStoryboardAdapter(client *Client) *ImageAdapter {
	return &ImageAdapter{kind: types.StageStoryboard, client: client}
}

func NewPosterAdapter(client *Client) *ImageAdapter {
	return &ImageAdapter{kind: types.StagePoster, client: client}
}

func (a *ImageAdapter) Kind() types.StageKind { return a.kind }

type imageRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

type imageResponse struct {
	URL string `json:"url"`
}

func (a *ImageAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	var prompt, style string
	switch a.kind {
	case types.StageStoryboard:
		in := req.Storyboard
		if in == nil {
			return Result{}, Permanent(fmt.Errorf("storyboard input missing"))
		}
		prompt = fmt.Sprintf("Storyboard frame, scene %d: %s", in.SceneNumber, in.Description)
		style = in.Style
	case types.StagePoster:
		in := req.Poster
		if in == nil {
			return Result{}, Permanent(fmt.Errorf("poster input missing"))
		}
		prompt = fmt.Sprintf("Theatrical poster for %q, a %s film", in.Title, in.Genre)
	default:
		return Result{}, Permanent(fmt.Errorf("image adapter cannot serve kind %q", req.Kind))
	}

	var resp imageResponse
	if err := a.client.PostJSON(ctx, "/v1/images", imageRequest{Prompt: prompt, Style: style}, &resp); err != nil {
		return Result{}, err
	}
	if resp.URL == "" {
		return Result{}, Transient(fmt.Errorf("image service returned empty url"))
	}
	return Result{URL: resp.URL}, nil
}

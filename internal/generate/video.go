package generate

import (
	"context"
	"fmt"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// VideoAdapter composes scene artifacts into a rendered cut. The full movie
// and the trailer hit the same upstream with different scene selections.
type VideoAdapter struct {
	kind   types.StageKind
	client *Client
}

func NewVideoAdapter(client *Client) *VideoAdapter {
	return &VideoAdapter{kind: types.StageVideo, client: client}
}

func NewTrailerAdapter(client *Client) *VideoAdapter {
	return &VideoAdapter{kind: types.StageTrailer, client: client}
}

func (a *VideoAdapter) Kind() types.StageKind { return a.kind }

type videoRequest struct {
	Title  string       `json:"title"`
	Mode   string       `json:"mode"`
	Scenes []videoScene `json:"scenes"`
}

type videoScene struct {
	Number        int    `json:"number"`
	Description   string `json:"description"`
	StoryboardURL string `json:"storyboard_url,omitempty"`
}

type videoResponse struct {
	URL string `json:"url"`
}

func (a *VideoAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	var title, mode string
	var refs []SceneRef
	switch a.kind {
	case types.StageVideo:
		in := req.Video
		if in == nil {
			return Result{}, Permanent(fmt.Errorf("video input missing"))
		}
		title, mode, refs = in.Title, "full", in.Scenes
	case types.StageTrailer:
		in := req.Trailer
		if in == nil {
			return Result{}, Permanent(fmt.Errorf("trailer input missing"))
		}
		title, mode, refs = in.Title, "trailer", in.Scenes
	default:
		return Result{}, Permanent(fmt.Errorf("video adapter cannot serve kind %q", req.Kind))
	}

	scenes := make([]videoScene, 0, len(refs))
	for _, s := range refs {
		scenes = append(scenes, videoScene{
			Number:        s.Number,
			Description:   s.Description,
			StoryboardURL: s.StoryboardURL,
		})
	}
	var resp videoResponse
	if err := a.client.PostJSON(ctx, "/v1/videos", videoRequest{Title: title, Mode: mode, Scenes: scenes}, &resp); err != nil {
		return Result{}, err
	}
	if resp.URL == "" {
		return Result{}, Transient(fmt.Errorf("video service returned empty url"))
	}
	return Result{URL: resp.URL}, nil
}

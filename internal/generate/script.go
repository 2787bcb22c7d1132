package generate

import (
	"context"
	"fmt"

	"github.com/cineolabs/cineo-backend/internal/types"
)

// ScriptAdapter turns a movie concept into an ordered scene list via an
// external script-writing service.
type ScriptAdapter struct {
	client *Client
}

func NewScriptAdapter(client *Client) *ScriptAdapter {
	return &ScriptAdapter{client: client}
}

func (a *ScriptAdapter) Kind() types.StageKind { return types.StageScript }

type scriptRequest struct {
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	Style       string `json:"style"`
	Description string `json:"description"`
	SceneCount  int    `json:"scene_count"`
}

type scriptResponse struct {
	Scenes []struct {
		SceneNumber int    `json:"scene_number"`
		Description string `json:"description"`
	} `json:"scenes"`
}

func (a *ScriptAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	in := req.Script
	if in == nil {
		return Result{}, Permanent(fmt.Errorf("script input missing"))
	}
	var resp scriptResponse
	err := a.client.PostJSON(ctx, "/v1/scripts", scriptRequest{
		Title:       in.Title,
		Genre:       in.Genre,
		Style:       in.Style,
		Description: in.Description,
		SceneCount:  in.SceneCount,
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Scenes) == 0 {
		return Result{}, Permanent(fmt.Errorf("script service returned no scenes"))
	}
	// Renumber 1..N in response order. Services are free to send gappy or
	// zero scene numbers; downstream stages key on a contiguous sequence.
	scenes := make([]types.SceneDescriptor, 0, len(resp.Scenes))
	for i, s := range resp.Scenes {
		scenes = append(scenes, types.SceneDescriptor{Number: i + 1, Description: s.Description})
	}
	return Result{Scenes: scenes}, nil
}

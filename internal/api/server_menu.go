package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/asktoai/internal/controller"
)

func registerMenuHandlers(api huma.API, svc Service) {
	type menuOutput struct {
		Body struct {
			Items []controller.MenuItem `json:"items"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-menu-items", Method: http.MethodGet, Path: "/api/v1/menu", Summary: "List context menu items", Tags: []string{"Menu"}},
		func(ctx context.Context, input *struct{}) (*menuOutput, error) {
			out := &menuOutput{}
			out.Body.Items = svc.MenuItems()
			return out, nil
		})

	type clickOutput struct {
		Body controller.MenuClickResult
	}
	huma.Register(api, huma.Operation{OperationID: "click-menu-item", Method: http.MethodPost, Path: "/api/v1/menu/{item_id}/click", Summary: "Handle a context menu click", Tags: []string{"Menu"}},
		func(ctx context.Context, input *struct {
			ItemID string `path:"item_id"`
			Body   struct {
				SelectionText string `json:"selection_text,omitempty" doc:"Selected text, for askToAISelection"`
				PageURL       string `json:"page_url,omitempty" doc:"Page the menu was opened on. Defaults to the active tab."`
			}
		}) (*clickOutput, error) {
			res, err := svc.HandleMenuClick(ctx, controller.MenuClick{
				ItemID:        input.ItemID,
				SelectionText: input.Body.SelectionText,
				PageURL:       input.Body.PageURL,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &clickOutput{Body: res}, nil
		})
}

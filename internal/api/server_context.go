package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/asktoai/internal/controller"
	"github.com/dgnsrekt/asktoai/internal/preference"
)

func registerContextHandlers(api huma.API, svc Service) {
	type previewOutput struct {
		Body controller.Preview
	}
	huma.Register(api, huma.Operation{OperationID: "context-preview", Method: http.MethodGet, Path: "/api/v1/context/preview", Summary: "Preview the context that add_context would append", Tags: []string{"Context"}},
		func(ctx context.Context, input *struct{}) (*previewOutput, error) {
			p, err := svc.ContextPreview(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &previewOutput{Body: p}, nil
		})

	type pendingOutput struct {
		Body struct {
			Present bool                       `json:"present"`
			Context *preference.PendingContext `json:"context,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-pending-context", Method: http.MethodGet, Path: "/api/v1/context/pending", Summary: "Get context stored by the page menu", Tags: []string{"Context"}},
		func(ctx context.Context, input *struct{}) (*pendingOutput, error) {
			pc, ok, err := svc.PendingContext(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pendingOutput{}
			out.Body.Present = ok
			if ok {
				out.Body.Context = &pc
			}
			return out, nil
		})

	type clearOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-pending-context", Method: http.MethodDelete, Path: "/api/v1/context/pending", Summary: "Discard context stored by the page menu", Tags: []string{"Context"}},
		func(ctx context.Context, input *struct{}) (*clearOutput, error) {
			if err := svc.ClearPendingContext(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &clearOutput{}
			out.Body.Status = "cleared"
			return out, nil
		})
}

package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []cdpcontrol.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List page tabs, most recently active first", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-active-tab", Method: http.MethodGet, Path: "/api/v1/tabs/active", Summary: "Get the active tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabOutput, error) {
			tab, err := svc.ActiveTab(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: tab}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-service-tab", Method: http.MethodPost, Path: "/api/v1/services/{service}/open", Summary: "Open a service in a new tab and wait for it to load", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Service string `path:"service"`
		}) (*tabOutput, error) {
			tab, err := svc.OpenService(ctx, input.Service)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: tab}, nil
		})
}

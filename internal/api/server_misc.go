package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/asktoai/internal/services"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type servicesOutput struct {
		Body struct {
			Services []services.Service `json:"services"`
			AllKey   string             `json:"all_key"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-services", Method: http.MethodGet, Path: "/api/v1/services", Summary: "List AI services", Tags: []string{"Services"}},
		func(ctx context.Context, input *struct{}) (*servicesOutput, error) {
			out := &servicesOutput{}
			out.Body.Services = svc.ListServices()
			out.Body.AllKey = services.KeyAll
			return out, nil
		})

	type preferenceOutput struct {
		Body struct {
			Service string `json:"service"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-preference", Method: http.MethodGet, Path: "/api/v1/preference", Summary: "Get the selected service", Tags: []string{"Preference"}},
		func(ctx context.Context, input *struct{}) (*preferenceOutput, error) {
			key, err := svc.Preference(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &preferenceOutput{}
			out.Body.Service = key
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-preference", Method: http.MethodPut, Path: "/api/v1/preference", Summary: "Set the selected service", Tags: []string{"Preference"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Service string `json:"service" required:"true" doc:"Service key, or allAI"`
			}
		}) (*preferenceOutput, error) {
			key, err := svc.SetPreference(ctx, input.Body.Service)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &preferenceOutput{}
			out.Body.Service = key
			return out, nil
		})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
	"github.com/dgnsrekt/asktoai/internal/controller"
	"github.com/dgnsrekt/asktoai/internal/events"
	"github.com/dgnsrekt/asktoai/internal/preference"
	"github.com/dgnsrekt/asktoai/internal/services"
)

type Service interface {
	ListServices() []services.Service
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	Ask(ctx context.Context, req controller.AskRequest) (controller.AskResult, error)
	Deliver(ctx context.Context, payload, tabID string) (json.RawMessage, error)
	OpenService(ctx context.Context, key string) (cdpcontrol.TabInfo, error)
	Preference(ctx context.Context) (string, error)
	SetPreference(ctx context.Context, key string) (string, error)
	ContextPreview(ctx context.Context) (controller.Preview, error)
	PendingContext(ctx context.Context) (preference.PendingContext, bool, error)
	ClearPendingContext(ctx context.Context) error
	MenuItems() []controller.MenuItem
	HandleMenuClick(ctx context.Context, click controller.MenuClick) (controller.MenuClickResult, error)
}

type tabOutput struct {
	Body cdpcontrol.TabInfo
}

// NewServer builds the HTTP surface. broker may be nil, in which case the
// event stream route is not mounted.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig(apiTitle, apiVersion)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", docsHandler(broker != nil))
	if broker != nil {
		router.Get(eventsPath, events.SSEHandler(broker))
	}

	registerMiscHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerAskHandlers(api, svc)
	registerContextHandlers(api, svc)
	registerMenuHandlers(api, svc)

	return router
}

// mapErr converts an error to an HTTP problem. details are attached to the
// problem's errors list.
func mapErr(err error, details ...error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message, details...)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message, details...)
		case cdpcontrol.CodeRestrictedPage:
			return huma.Error409Conflict(coded.Message, details...)
		case cdpcontrol.CodeUnknownService:
			return huma.Error422UnprocessableEntity(coded.Message, details...)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message, details...)
		case cdpcontrol.CodeDeliveryFailed, cdpcontrol.CodeAgentUnavailable,
			cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeCommandFailed:
			return huma.Error502BadGateway(fmt.Sprintf("%s: %s", coded.Code, coded.Message), details...)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message), details...)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error(), details...)
	}
	return huma.Error500InternalServerError(err.Error(), details...)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/asktoai/internal/controller"
)

func registerAskHandlers(api huma.API, svc Service) {
	type askOutput struct {
		Body controller.AskResult
	}
	huma.Register(api, huma.Operation{OperationID: "ask", Method: http.MethodPost, Path: "/api/v1/ask", Summary: "Ask a question to the selected AI service", Tags: []string{"Ask"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Prompt     string `json:"prompt" doc:"Question text"`
				Service    string `json:"service,omitempty" doc:"Service key or allAI. Defaults to the stored preference."`
				AddContext bool   `json:"add_context,omitempty" doc:"Append the page selection, or the page URL when nothing is selected"`
			}
		}) (*askOutput, error) {
			res, err := svc.Ask(ctx, controller.AskRequest{
				Prompt:     input.Body.Prompt,
				Service:    input.Body.Service,
				AddContext: input.Body.AddContext,
			})
			if err != nil {
				slog.Warn("ask failed", "request_id", requestID(ctx), "run_id", res.RunID, "service", input.Body.Service, "error", err)
				return nil, mapErr(err, askDetails(res)...)
			}
			slog.Info("ask completed", "request_id", requestID(ctx), "run_id", res.RunID, "outcomes", len(res.Outcomes))
			return &askOutput{Body: res}, nil
		})

	type deliverOutput struct {
		Body struct {
			Ack json.RawMessage `json:"ack"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "deliver", Method: http.MethodPost, Path: "/api/v1/deliver", Summary: "Deliver text to a tab's in-page agent", Tags: []string{"Ask"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Text  string `json:"text" doc:"Payload sent with the insertText action"`
				TabID string `json:"tab_id,omitempty" doc:"Target tab. Omit to focus and reload the active tab."`
			}
		}) (*deliverOutput, error) {
			ack, err := svc.Deliver(ctx, input.Body.Text, input.Body.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &deliverOutput{}
			out.Body.Ack = ack
			if len(out.Body.Ack) == 0 {
				out.Body.Ack = json.RawMessage("null")
			}
			return out, nil
		})
}

// askDetails lists what a failed run already did, so callers can tell which
// services received the prompt.
func askDetails(res controller.AskResult) []error {
	if res.RunID == "" {
		return nil
	}
	details := []error{&huma.ErrorDetail{Message: "run id", Location: "run_id", Value: res.RunID}}
	for i, out := range res.Outcomes {
		msg := "delivered"
		if out.Error != "" {
			msg = out.Error
		}
		details = append(details, &huma.ErrorDetail{
			Message:  msg,
			Location: fmt.Sprintf("outcomes[%d]", i),
			Value:    out,
		})
	}
	return details
}

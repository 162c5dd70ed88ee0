package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
	"github.com/dgnsrekt/asktoai/internal/events"
	"github.com/dgnsrekt/asktoai/internal/notify"
	"github.com/dgnsrekt/asktoai/internal/preference"
	"github.com/dgnsrekt/asktoai/internal/services"
)

const (
	previewMaxRunes   = 200
	defaultPendingTTL = 5 * time.Minute
)

// Tabs is the tab query surface the controller needs.
type Tabs interface {
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	CreateTab(ctx context.Context, url string, foreground bool) (cdpcontrol.TabInfo, error)
}

// Deliverer is implemented by delivery.Orchestrator.
type Deliverer interface {
	Deliver(ctx context.Context, payload string, target *cdpcontrol.TabInfo) (json.RawMessage, error)
	OpenServiceTab(ctx context.Context, key string) (cdpcontrol.TabInfo, error)
	Restricted(url string) bool
}

type SelectionReader interface {
	SelectedText(ctx context.Context, tabID string) string
}

type PreferenceStore interface {
	SelectedService(ctx context.Context) (string, error)
	SetSelectedService(ctx context.Context, key string) error
	SavePendingContext(ctx context.Context, pc preference.PendingContext) error
	PendingContext(ctx context.Context) (preference.PendingContext, bool, error)
	ClearPendingContext(ctx context.Context) error
}

type Publisher interface {
	Publish(evt events.Event)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Options holds the controller's static settings.
type Options struct {
	ShareURL   string
	RateURL    string
	PendingTTL time.Duration
}

// Service implements the popup and context-menu flows.
type Service struct {
	tabs      Tabs
	deliverer Deliverer
	selection SelectionReader
	prefs     PreferenceStore
	table     *services.Table
	publisher Publisher
	notifier  Notifier
	opts      Options
	now       func() time.Time
}

func NewService(tabs Tabs, deliverer Deliverer, selection SelectionReader, prefs PreferenceStore,
	table *services.Table, publisher Publisher, notifier Notifier, opts Options) *Service {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = defaultPendingTTL
	}
	return &Service{
		tabs:      tabs,
		deliverer: deliverer,
		selection: selection,
		prefs:     prefs,
		table:     table,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) publish(evt events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

// AskRequest mirrors the popup form.
type AskRequest struct {
	Prompt     string
	Service    string
	AddContext bool
}

// Outcome records one service's delivery.
type Outcome struct {
	Service string          `json:"service"`
	TabID   string          `json:"tab_id,omitempty"`
	NewTab  bool            `json:"new_tab"`
	Ack     json.RawMessage `json:"ack,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type AskResult struct {
	RunID    string    `json:"run_id"`
	Service  string    `json:"service"`
	Payload  string    `json:"payload"`
	Outcomes []Outcome `json:"outcomes"`
}

// Ask delivers the prompt, optionally followed by page context, to the
// chosen service or, for the allAI key, to every service in turn.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return AskResult{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "you have to write a question"}
	}

	key := strings.TrimSpace(req.Service)
	if key == "" {
		stored, err := s.prefs.SelectedService(ctx)
		if err != nil {
			return AskResult{}, err
		}
		key = stored
	}
	if err := s.validService(key); err != nil {
		return AskResult{}, err
	}

	fanOut := key == services.KeyAll
	var current cdpcontrol.TabInfo
	if req.AddContext || !fanOut {
		tab, err := s.tabs.ActiveTab(ctx)
		if err != nil {
			return AskResult{}, err
		}
		current = tab
	}

	payload := prompt
	if req.AddContext {
		payload += "\n\n" + s.contextText(ctx, current)
	}

	result := AskResult{RunID: uuid.NewString(), Service: key, Payload: payload}
	slog.Info("ask start", "run_id", result.RunID, "service", key, "add_context", req.AddContext, "current_url", current.URL)

	var err error
	if fanOut {
		err = s.askAll(ctx, &result)
	} else {
		err = s.askOne(ctx, &result, key, current)
	}

	done := events.Event{Kind: events.KindAskDone, RunID: result.RunID, Service: key}
	if err != nil {
		done.Error = err.Error()
		slog.Error("ask failed", "run_id", result.RunID, "service", key, "error", err)
	} else {
		slog.Info("ask done", "run_id", result.RunID, "service", key, "deliveries", len(result.Outcomes))
	}
	s.publish(done)
	return result, err
}

func (s *Service) askOne(ctx context.Context, result *AskResult, key string, current cdpcontrol.TabInfo) error {
	if key != services.KeyGoogle && !s.table.Matches(current.URL, key) {
		return s.deliverToNewTab(ctx, result, key)
	}

	s.publish(events.Event{Kind: events.KindDeliveryStart, RunID: result.RunID, Service: key, TabID: current.TargetID})
	ack, err := s.deliverer.Deliver(ctx, result.Payload, nil)
	return s.record(result, Outcome{Service: key, TabID: current.TargetID, Ack: ack}, err)
}

// askAll visits every service strictly one after another and stops at the
// first failure.
func (s *Service) askAll(ctx context.Context, result *AskResult) error {
	order := s.table.AllOrder()
	for _, key := range order {
		if err := s.deliverToNewTab(ctx, result, key); err != nil {
			s.notifyCompletion(ctx, len(result.Outcomes)-1, len(order), key)
			return err
		}
	}
	s.notifyCompletion(ctx, len(order), len(order), "")
	return nil
}

func (s *Service) deliverToNewTab(ctx context.Context, result *AskResult, key string) error {
	s.publish(events.Event{Kind: events.KindDeliveryStart, RunID: result.RunID, Service: key})
	tab, err := s.deliverer.OpenServiceTab(ctx, key)
	if err != nil {
		return s.record(result, Outcome{Service: key, NewTab: true}, err)
	}
	ack, err := s.deliverer.Deliver(ctx, result.Payload, &tab)
	return s.record(result, Outcome{Service: key, TabID: tab.TargetID, NewTab: true, Ack: ack}, err)
}

func (s *Service) record(result *AskResult, out Outcome, err error) error {
	evt := events.Event{Kind: events.KindDeliveryDone, RunID: result.RunID, Service: out.Service, TabID: out.TabID}
	if err != nil {
		out.Ack = nil
		out.Error = err.Error()
		evt.Kind = events.KindDeliveryFailed
		evt.Error = out.Error
	}
	result.Outcomes = append(result.Outcomes, out)
	s.publish(evt)
	return err
}

func (s *Service) notifyCompletion(ctx context.Context, delivered, total int, failed string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, notify.CompletionMessage(delivered, total, failed)); err != nil {
		slog.Warn("ask completion notification failed", "error", err)
	}
}

// contextText prefers a fresh menu hand-off, then the live selection, then
// the page URL.
func (s *Service) contextText(ctx context.Context, current cdpcontrol.TabInfo) string {
	pc, ok, err := s.prefs.PendingContext(ctx)
	if err != nil {
		slog.Warn("ask pending context unavailable", "error", err)
	}
	if ok && s.now().Sub(pc.CreatedAt) <= s.opts.PendingTTL {
		if err := s.prefs.ClearPendingContext(ctx); err != nil {
			slog.Warn("ask pending context clear failed", "error", err)
		}
		if sel := strings.TrimSpace(pc.Selection); sel != "" {
			return sel
		}
		return pc.URL
	}

	if sel := strings.TrimSpace(s.selection.SelectedText(ctx, current.TargetID)); sel != "" {
		return sel
	}
	return current.URL
}

func (s *Service) validService(key string) error {
	if s.table.Valid(key) {
		return nil
	}
	_, err := s.table.Lookup(key)
	return err
}

// Preview is what the popup shows under the question box.
type Preview struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// ContextPreview returns the selection (truncated) or the page URL for the
// active tab. Restricted pages preview as empty.
func (s *Service) ContextPreview(ctx context.Context) (Preview, error) {
	tab, err := s.tabs.ActiveTab(ctx)
	if err != nil {
		return Preview{}, err
	}
	if s.deliverer.Restricted(tab.URL) {
		return Preview{}, nil
	}

	sel := strings.TrimSpace(s.selection.SelectedText(ctx, tab.TargetID))
	if sel == "" {
		return Preview{Text: tab.URL, Source: "url"}, nil
	}
	return Preview{Text: truncate(sel, previewMaxRunes), Source: "selection"}, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func (s *Service) ListServices() []services.Service {
	return s.table.List()
}

func (s *Service) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return s.tabs.ListTabs(ctx)
}

func (s *Service) ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error) {
	return s.tabs.ActiveTab(ctx)
}

// Deliver runs the orchestrator directly. An empty tabID targets the active
// tab (focus and reload); otherwise the named tab is only focused.
func (s *Service) Deliver(ctx context.Context, payload, tabID string) (json.RawMessage, error) {
	if err := s.requireNonEmpty(payload, "text"); err != nil {
		return nil, err
	}
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return s.deliverer.Deliver(ctx, payload, nil)
	}

	tabs, err := s.tabs.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tabs {
		if t.TargetID == tabID {
			return s.deliverer.Deliver(ctx, payload, &t)
		}
	}
	return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found: " + tabID}
}

func (s *Service) OpenService(ctx context.Context, key string) (cdpcontrol.TabInfo, error) {
	if err := s.requireNonEmpty(key, "service"); err != nil {
		return cdpcontrol.TabInfo{}, err
	}
	return s.deliverer.OpenServiceTab(ctx, strings.TrimSpace(key))
}

func (s *Service) Preference(ctx context.Context) (string, error) {
	return s.prefs.SelectedService(ctx)
}

func (s *Service) SetPreference(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if err := s.requireNonEmpty(key, "service"); err != nil {
		return "", err
	}
	if err := s.validService(key); err != nil {
		return "", err
	}
	if err := s.prefs.SetSelectedService(ctx, key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) PendingContext(ctx context.Context) (preference.PendingContext, bool, error) {
	return s.prefs.PendingContext(ctx)
}

func (s *Service) ClearPendingContext(ctx context.Context) error {
	return s.prefs.ClearPendingContext(ctx)
}

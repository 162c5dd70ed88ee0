// Package delivery brings a browser tab to a deliverable state and hands a
// prompt to the in-page agent running in it.
package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
	"github.com/dgnsrekt/asktoai/internal/services"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultSettleShort  = 2500 * time.Millisecond
	DefaultSettleLong   = 4000 * time.Millisecond
	DefaultRetryDelay   = 1000 * time.Millisecond
)

// DefaultRestrictedPrefixes are the internal browser and extension schemes.
var DefaultRestrictedPrefixes = []string{"chrome://", "chrome-extension://"}

// TabHost is the browser capability the orchestrator drives.
type TabHost interface {
	TabReader
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	CreateTab(ctx context.Context, url string, foreground bool) (cdpcontrol.TabInfo, error)
	FocusTab(ctx context.Context, tabID string) error
	ReloadTab(ctx context.Context, tabID string) error
	SendMessage(ctx context.Context, tabID string, msg cdpcontrol.Message) (json.RawMessage, error)
	InjectScript(ctx context.Context, tabID, source string) error
}

// Config tunes the orchestrator. Zero fields take the defaults.
type Config struct {
	PollInterval       time.Duration
	SettleShort        time.Duration
	SettleLong         time.Duration
	RetryDelay         time.Duration
	RestrictedPrefixes []string
	// AgentSource is the script injected when the first send fails.
	AgentSource string
	Clock       Clock
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleShort <= 0 {
		c.SettleShort = DefaultSettleShort
	}
	if c.SettleLong <= 0 {
		c.SettleLong = DefaultSettleLong
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if len(c.RestrictedPrefixes) == 0 {
		c.RestrictedPrefixes = DefaultRestrictedPrefixes
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

type Orchestrator struct {
	host   TabHost
	table  *services.Table
	cfg    Config
	poller *Poller
}

func NewOrchestrator(host TabHost, table *services.Table, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	if table == nil {
		table = services.Default()
	}
	return &Orchestrator{
		host:   host,
		table:  table,
		cfg:    cfg,
		poller: NewPoller(host, cfg.Clock, cfg.PollInterval),
	}
}

// Poller exposes the readiness poller sharing the orchestrator's clock.
func (o *Orchestrator) Poller() *Poller { return o.poller }

// IsRestricted reports whether url is empty or an internal page the
// orchestrator must not touch.
func IsRestricted(url string, prefixes []string) bool {
	if url == "" {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// Restricted applies the orchestrator's configured prefixes.
func (o *Orchestrator) Restricted(url string) bool {
	return IsRestricted(url, o.cfg.RestrictedPrefixes)
}

// SettleDelay returns the wait applied after load-complete for url.
func (o *Orchestrator) SettleDelay(url string) time.Duration {
	if o.table.IsSlow(url) {
		return o.cfg.SettleLong
	}
	return o.cfg.SettleShort
}

// Deliver sends payload to the in-page agent of target, or of the active tab
// when target is nil. The active tab is focused and reloaded first; an
// explicit target is only focused. A failed send is retried once after
// injecting the agent. Host errors are returned unwrapped.
func (o *Orchestrator) Deliver(ctx context.Context, payload string, target *cdpcontrol.TabInfo) (json.RawMessage, error) {
	if payload == "" {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "payload is required"}
	}

	explicit := target != nil
	var tab cdpcontrol.TabInfo
	if explicit {
		tab = *target
	} else {
		active, err := o.host.ActiveTab(ctx)
		if err != nil {
			return nil, err
		}
		tab = active
	}

	if o.Restricted(tab.URL) {
		slog.Warn("delivery rejected restricted page", "tab_id", tab.TargetID, "url", tab.URL)
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeRestrictedPage, Message: "cannot operate on this page"}
	}

	slog.Info("delivery preparing tab", "tab_id", tab.TargetID, "url", tab.URL, "explicit", explicit)
	if err := o.host.FocusTab(ctx, tab.TargetID); err != nil {
		return nil, err
	}
	if !explicit {
		if err := o.host.ReloadTab(ctx, tab.TargetID); err != nil {
			return nil, err
		}
	}

	if _, err := o.poller.WaitForComplete(ctx, tab.TargetID); err != nil {
		return nil, err
	}

	settle := o.SettleDelay(tab.URL)
	slog.Debug("delivery settling", "tab_id", tab.TargetID, "settle_ms", settle.Milliseconds())
	if err := o.cfg.Clock.Sleep(ctx, settle); err != nil {
		return nil, err
	}

	msg := cdpcontrol.Message{Action: cdpcontrol.ActionInsertText, Text: payload}
	ack, err := o.host.SendMessage(ctx, tab.TargetID, msg)
	if err == nil {
		slog.Info("delivery sent", "tab_id", tab.TargetID, "attempt", 1)
		return ack, nil
	}
	slog.Warn("delivery send failed, injecting agent", "tab_id", tab.TargetID, "attempt", 1, "error", err)

	if err := o.host.InjectScript(ctx, tab.TargetID, o.cfg.AgentSource); err != nil {
		return nil, err
	}
	// Best effort: nothing confirms the agent is listening before the retry.
	if err := o.cfg.Clock.Sleep(ctx, o.cfg.RetryDelay); err != nil {
		return nil, err
	}

	ack, err = o.host.SendMessage(ctx, tab.TargetID, msg)
	if err != nil {
		slog.Error("delivery failed after retry", "tab_id", tab.TargetID, "attempt", 2, "error", err)
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeDeliveryFailed, Message: "delivery failed after retry", Cause: err}
	}
	slog.Info("delivery sent", "tab_id", tab.TargetID, "attempt", 2)
	return ack, nil
}

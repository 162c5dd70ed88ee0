// Package pagectx reads context from the page the user is looking at.
package pagectx

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const selectionJS = `window.getSelection().toString()`

// TabRunner runs chromedp actions against an existing tab without taking
// ownership of it. cdpcontrol.Client implements it.
type TabRunner interface {
	RunOnTab(ctx context.Context, tabID string, actions ...chromedp.Action) error
}

// Reader evaluates small inline functions in the user's tabs.
type Reader struct {
	runner  TabRunner
	timeout time.Duration
}

func NewReader(runner TabRunner, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reader{runner: runner, timeout: timeout}
}

// SelectedText returns the tab's current selection. Any failure, including a
// page that forbids script access, yields "".
func (r *Reader) SelectedText(ctx context.Context, tabID string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out string
	if err := r.runner.RunOnTab(ctx, tabID, chromedp.Evaluate(selectionJS, &out)); err != nil {
		slog.Debug("pagectx selection unavailable", "tab_id", tabID, "error", err)
		return ""
	}
	return out
}

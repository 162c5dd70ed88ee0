package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	jsonv2 "github.com/go-json-experiment/json"
)

// sessionExecutor lets chromedp actions run over a flat session owned by the
// client. Unlike a chromedp tab context it never closes the target.
type sessionExecutor struct {
	cdp       *rawCDP
	sessionID string
}

func (e sessionExecutor) Execute(ctx context.Context, method string, params, res any) error {
	var payload any
	if params != nil {
		buf, err := jsonv2.Marshal(params, chromedp.DefaultMarshalOptions)
		if err != nil {
			return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
		}
		payload = json.RawMessage(buf)
	}

	raw, err := e.cdp.call(ctx, e.sessionID, method, payload)
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	return jsonv2.Unmarshal(raw, res, chromedp.DefaultUnmarshalOptions)
}

// RunOnTab runs chromedp actions against an existing tab. The tab is attached
// if needed and stays open afterwards.
func (c *Client) RunOnTab(ctx context.Context, tabID string, actions ...chromedp.Action) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	cdpConn, session, info, err := c.attach(ctx, tabID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	sid := session.sessionID
	session.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()
	exec := sessionExecutor{cdp: cdpConn, sessionID: sid}
	if err := chromedp.Tasks(actions).Do(cdp.WithExecutor(runCtx, exec)); err != nil {
		slog.Debug("cdpcontrol tab actions failed", "target_id", info.TargetID, "error", err)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "tab actions timed out", err)
		}
		return newError(CodeEvalFailure, "tab actions failed", err)
	}
	return nil
}

package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// navigationHints show up when an evaluation races a document swap. The tab
// is mid-navigation, not broken.
var navigationHints = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"inspected target navigated or closed",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives browser tabs over a raw CDP connection.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu    sync.Mutex
	cdp   *rawCDP
	tabs  map[target.ID]*tabSession
	order []target.ID // most recently activated first

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		tabLocks:    make(map[string]*sync.Mutex),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach failed", "target_id", session.info.TargetID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.order = nil
}

// ListTabs returns page targets, most recently activated first.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.order))
	for _, id := range c.order {
		if s := c.tabs[id]; s != nil {
			tabs = append(tabs, s.info)
		}
	}
	c.mu.Unlock()

	slog.Debug("cdpcontrol list tabs", "count", len(tabs))
	return tabs, nil
}

// ActiveTab returns the most recently activated page target.
func (c *Client) ActiveTab(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeTabNotFound, "no page tabs found", nil)
	}
	return tabs[0], nil
}

// GetTab returns the tab's current URL and load status.
func (c *Client) GetTab(ctx context.Context, tabID string) (TabInfo, error) {
	var out struct {
		ReadyState string `json:"ready_state"`
		URL        string `json:"url"`
		Title      string `json:"title"`
		Stale      bool   `json:"stale"`
	}
	err := c.evalOnTab(ctx, tabID, jsReadyState(), &out)
	if err != nil {
		if !isNavigating(err) {
			return TabInfo{}, err
		}
		_, info, resolveErr := c.resolveTabSession(ctx, tabID)
		if resolveErr != nil {
			return TabInfo{}, resolveErr
		}
		slog.Debug("cdpcontrol tab mid-navigation", "target_id", tabID, "error", err)
		info.Status = StatusLoading
		return info, nil
	}

	_, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return TabInfo{}, err
	}
	if out.URL != "" {
		info.URL = out.URL
	}
	if out.Title != "" {
		info.Title = out.Title
	}
	// A marked document is the one a reload is about to replace.
	info.Status = StatusLoading
	if out.ReadyState == string(StatusComplete) && !out.Stale {
		info.Status = StatusComplete
	}
	return info, nil
}

// CreateTab opens url in a new tab and, when foreground is set, activates it.
func (c *Client) CreateTab(ctx context.Context, url string, foreground bool) (TabInfo, error) {
	if strings.TrimSpace(url) == "" {
		return TabInfo{}, newError(CodeValidation, "url is required", nil)
	}
	cdp, err := c.connected(ctx)
	if err != nil {
		return TabInfo{}, err
	}

	id, err := cdp.createTarget(ctx, url, !foreground)
	if err != nil {
		return TabInfo{}, commandError("create tab", err)
	}
	if foreground {
		if err := cdp.activateTarget(ctx, id); err != nil {
			return TabInfo{}, commandError("activate new tab", err)
		}
	}
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol tab refresh after create failed", "target_id", id, "error", err)
	}

	slog.Info("cdpcontrol tab created", "target_id", id, "url", url, "foreground", foreground)
	return TabInfo{TargetID: id, URL: url, Status: StatusLoading}, nil
}

// FocusTab brings the tab to the foreground.
func (c *Client) FocusTab(ctx context.Context, tabID string) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeTabNotFound, "tab id is required", nil)
	}
	cdp, err := c.connected(ctx)
	if err != nil {
		return err
	}
	if err := cdp.activateTarget(ctx, tabID); err != nil {
		return commandError("focus tab", err)
	}
	slog.Debug("cdpcontrol tab focused", "target_id", tabID)
	return nil
}

// ReloadTab forces a full reload of the tab. Page.reload is acknowledged
// before the new document commits, so the outgoing document is marked first
// and GetTab reports it as loading until it is gone.
func (c *Client) ReloadTab(ctx context.Context, tabID string) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	cdp, session, info, err := c.attach(ctx, tabID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	sid := session.sessionID
	session.mu.Unlock()

	if err := c.evalMarker(ctx, cdp, sid, jsMarkReload()); err != nil {
		return err
	}
	if err := cdp.reload(ctx, sid); err != nil {
		// Leave the document usable; a lingering mark would keep it loading.
		if clearErr := c.evalMarker(ctx, cdp, sid, jsClearReload()); clearErr != nil {
			slog.Debug("cdpcontrol reload mark not cleared", "target_id", info.TargetID, "error", clearErr)
		}
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()
		return commandError("reload tab", err)
	}
	slog.Debug("cdpcontrol tab reloaded", "target_id", info.TargetID)
	return nil
}

func (c *Client) evalMarker(ctx context.Context, cdp *rawCDP, sessionID, js string) error {
	evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()
	if _, err := cdp.evaluate(evalCtx, sessionID, js); err != nil {
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "reload mark timed out", err)
		}
		return newError(CodeEvalFailure, "reload mark failed", err)
	}
	return nil
}

// SendMessage hands msg to the in-page agent and returns its acknowledgement.
// A missing agent yields CodeAgentUnavailable.
func (c *Client) SendMessage(ctx context.Context, tabID string, msg Message) (json.RawMessage, error) {
	var ack json.RawMessage
	if err := c.evalOnTab(ctx, tabID, jsSendMessage(msg), &ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// InjectScript evaluates source in the tab's main world.
func (c *Client) InjectScript(ctx context.Context, tabID, source string) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	cdp, session, info, err := c.attach(ctx, tabID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	sid := session.sessionID
	session.mu.Unlock()

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()
	if _, err := cdp.evaluate(evalCtx, sid, source); err != nil {
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "script injection timed out", err)
		}
		return newError(CodeEvalFailure, "script injection failed", err)
	}
	slog.Debug("cdpcontrol script injected", "target_id", info.TargetID, "bytes", len(source))
	return nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeTabNotFound, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Warn("cdpcontrol tab resolve failed", "target_id", tabID, "error", err)
	} else {
		err = c.evalOnSession(ctx, session, info.TargetID, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "target_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "target_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "target_id", tabID, "error", syncErr)
	}

	session, info, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, info.TargetID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, targetID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", targetID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

// attach resolves the tab and guarantees an attached session.
func (c *Client) attach(ctx context.Context, tabID string) (*rawCDP, *tabSession, TabInfo, error) {
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return nil, nil, TabInfo{}, err
	}
	cdp, err := c.connected(ctx)
	if err != nil {
		return nil, nil, TabInfo{}, err
	}
	if _, err := c.ensureSession(ctx, cdp, session, info.TargetID); err != nil {
		return nil, nil, TabInfo{}, err
	}
	return cdp, session, info, nil
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, TabInfo, error) {
	session, info, found := c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, TabInfo{}, err
	}

	session, info, found = c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	return nil, TabInfo{}, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	if session == nil {
		return nil, TabInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	return newError(CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	order := make([]target.ID, 0, len(targets))
	expected := make(map[target.ID]TabInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		order = append(order, t.TargetID)
		expected[t.TargetID] = TabInfo{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}
	}

	for targetID := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}
	c.order = order

	// Prune tab locks for tabs no longer present.
	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := expected[target.ID(id)]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(order))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

// connected returns the live connection, reconnecting if needed.
func (c *Client) connected(ctx context.Context) (*rawCDP, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound, CodeAgentUnavailable:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

func isNavigating(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Cause == nil {
		return false
	}
	cause := strings.ToLower(coded.Cause.Error())
	for _, hint := range navigationHints {
		if strings.Contains(cause, hint) {
			return true
		}
	}
	return false
}

// commandError classifies a failed browser-level command.
func commandError(action string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no target with given id"):
		return newError(CodeTabNotFound, action+": tab not found", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CodeEvalTimeout, action+" timed out", err)
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "connection closed"):
		return newError(CodeCDPUnavailable, action+" failed", err)
	}
	return newError(CodeCommandFailed, action+" failed", err)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

const reloadMarker = "__askToAIReloadPending"

func jsReadyState() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{ready_state:document.readyState,url:String(location.href),title:String(document.title||""),stale:window.` + reloadMarker + ` === true}});`)
}

func jsMarkReload() string  { return `window.` + reloadMarker + ` = true; "marked"` }
func jsClearReload() string { return `delete window.` + reloadMarker + `; "cleared"` }

// jsSendMessage dispatches msg to the agent registered by the injected script.
func jsSendMessage(msg Message) string {
	return wrapJSEvalAsync(`var agent = window.__askToAIAgent;
if (!agent || typeof agent.handle !== "function") {
return JSON.stringify({ok:false,error_code:"` + CodeAgentUnavailable + `",error_message:"in-page agent is not listening"});
}
var ack = await agent.handle(` + jsJSON(msg) + `);
return JSON.stringify({ok:true,data:(ack === undefined ? null : ack)});`)
}

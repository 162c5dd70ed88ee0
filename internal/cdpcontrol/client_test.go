package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol/cdptest"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withDefaultHTTPClient(t *testing.T, transport http.RoundTripper) {
	t.Helper()
	origClient := http.DefaultClient
	t.Cleanup(func() {
		http.DefaultClient = origClient
	})
	http.DefaultClient = &http.Client{
		Transport: transport,
	}
}

func jsonListResponse(t *testing.T, entries []map[string]any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(payload)))}
}

func TestSyncTabsLockedWrapsListTargetsError(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader(`oops`)),
		}, nil
	}))

	c := NewClient("http://example.com", time.Second)
	c.cdp = newRawCDP("http://example.com")

	err := c.refreshTabs(context.Background())
	if err == nil {
		t.Fatal("expected refreshTabs() to fail")
	}
	var codedErr *CodedError
	if !errors.As(err, &codedErr) {
		t.Fatalf("expected *CodedError, got %T", err)
	}
	if codedErr.Code != CodeCDPUnavailable {
		t.Fatalf("error code = %s; want %s", codedErr.Code, CodeCDPUnavailable)
	}
	if !strings.Contains(codedErr.Message, "failed to list targets") {
		t.Fatalf("error message = %q; want to contain %q", codedErr.Message, "failed to list targets")
	}
}

func TestListTabsKeepsPagesInOrder(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonListResponse(t, []map[string]any{
			{"id": "SW", "type": "service_worker", "url": "https://claude.ai/sw.js"},
			{"id": "B", "type": "page", "url": "https://claude.ai/chat/1", "title": "Claude"},
			{"id": "A", "type": "page", "url": "https://example.org"},
		}), nil
	}))

	c := NewClient("http://example.com", time.Second)
	c.cdp = newRawCDP("http://example.com")
	c.tabs[target.ID("GONE")] = &tabSession{info: TabInfo{TargetID: "GONE"}}

	tabs, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() error = %v", err)
	}
	if len(tabs) != 2 || tabs[0].TargetID != "B" || tabs[1].TargetID != "A" {
		t.Fatalf("ListTabs() = %+v; want [B A]", tabs)
	}
	if _, ok := c.tabs[target.ID("GONE")]; ok {
		t.Fatal("stale tab not pruned")
	}

	active, err := c.ActiveTab(context.Background())
	if err != nil {
		t.Fatalf("ActiveTab() error = %v", err)
	}
	if active.URL != "https://claude.ai/chat/1" {
		t.Fatalf("ActiveTab() = %+v", active)
	}
}

func TestActiveTabNoPages(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonListResponse(t, []map[string]any{{"id": "X", "type": "background_page", "url": "chrome-extension://x"}}), nil
	}))

	c := NewClient("http://example.com", time.Second)
	c.cdp = newRawCDP("http://example.com")

	_, err := c.ActiveTab(context.Background())
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeTabNotFound {
		t.Fatalf("ActiveTab() error = %v; want %s", err, CodeTabNotFound)
	}
}

func TestResolveUnknownTab(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonListResponse(t, nil), nil
	}))
	c := NewClient("http://example.com", time.Second)
	c.cdp = newRawCDP("http://example.com")

	_, err := c.GetTab(context.Background(), "missing")
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeTabNotFound {
		t.Fatalf("GetTab() error = %v; want %s", err, CodeTabNotFound)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	err := NewClient("", time.Second).Connect(context.Background())
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeCDPUnavailable {
		t.Fatalf("Connect() error = %v; want %s", err, CodeCDPUnavailable)
	}
}

func TestShouldRetry(t *testing.T) {
	c := &Client{}
	tests := []struct {
		err  error
		want bool
	}{
		{newError(CodeCDPUnavailable, "x", nil), true},
		{newError(CodeEvalFailure, "x", errors.New("websocket: close 1006")), true},
		{newError(CodeEvalFailure, "x", errors.New("ReferenceError: foo")), false},
		{newError(CodeAgentUnavailable, "x", nil), false},
		{newError(CodeTabNotFound, "x", nil), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := c.shouldRetry(tt.err); got != tt.want {
			t.Fatalf("shouldRetry(%v) = %v; want %v", tt.err, got, tt.want)
		}
	}
}

func TestCommandError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{errors.New("rawcdp: Target.activateTarget: No target with given id found"), CodeTabNotFound},
		{context.DeadlineExceeded, CodeEvalTimeout},
		{errors.New("rawcdp: not connected"), CodeCDPUnavailable},
		{errors.New("rawcdp: Page.reload: something odd"), CodeCommandFailed},
	}
	for _, tt := range tests {
		var codedErr *CodedError
		if err := commandError("op", tt.err); !errors.As(err, &codedErr) || codedErr.Code != tt.code {
			t.Fatalf("commandError(%v) = %v; want %s", tt.err, err, tt.code)
		}
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}

	send := jsSendMessage(Message{Action: ActionInsertText, Text: "he said \"hi\"\n"})
	if !strings.Contains(send, `{"action":"insertText","text":"he said \"hi\"\n"}`) {
		t.Fatalf("jsSendMessage lost message: %s", send)
	}
	if !strings.Contains(send, CodeAgentUnavailable) {
		t.Fatalf("jsSendMessage missing agent check: %s", send)
	}
}

func TestClientAgainstFakeBrowser(t *testing.T) {
	fb := cdptest.NewBrowser(t, cdptest.Target{ID: "T1", Type: "page", URL: "https://claude.ai/chat/1"})
	var agentReady atomic.Bool
	fb.SetEvaluate(func(expr string) string {
		switch {
		case strings.Contains(expr, "document.readyState"):
			return `{"ok":true,"data":{"ready_state":"complete","url":"https://claude.ai/chat/1","title":"Claude","stale":false}}`
		case strings.Contains(expr, "window.__askToAIAgent ="):
			agentReady.Store(true)
			return "installed"
		case strings.Contains(expr, "agent.handle("):
			if !agentReady.Load() {
				return `{"ok":false,"error_code":"AGENT_UNAVAILABLE","error_message":"in-page agent is not listening"}`
			}
			return `{"ok":true,"data":{"success":true}}`
		}
		return `{"ok":true}`
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient(fb.URL, time.Second)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	tab, err := c.GetTab(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTab() error = %v", err)
	}
	if tab.Status != StatusComplete || tab.Title != "Claude" {
		t.Fatalf("GetTab() = %+v", tab)
	}

	_, err = c.SendMessage(ctx, "T1", Message{Action: ActionInsertText, Text: "hi"})
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeAgentUnavailable {
		t.Fatalf("SendMessage() before inject = %v; want %s", err, CodeAgentUnavailable)
	}

	if err := c.InjectScript(ctx, "T1", "window.__askToAIAgent = {handle: function(){}};"); err != nil {
		t.Fatalf("InjectScript() error = %v", err)
	}
	ack, err := c.SendMessage(ctx, "T1", Message{Action: ActionInsertText, Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() after inject error = %v", err)
	}
	if string(ack) != `{"success":true}` {
		t.Fatalf("SendMessage() ack = %s", ack)
	}

	if err := c.FocusTab(ctx, "T1"); err != nil {
		t.Fatalf("FocusTab() error = %v", err)
	}
	created, err := c.CreateTab(ctx, "https://gemini.google.com", true)
	if err != nil {
		t.Fatalf("CreateTab() error = %v", err)
	}
	if created.TargetID != "NEW" || created.Status != StatusLoading {
		t.Fatalf("CreateTab() = %+v", created)
	}
	active, err := c.ActiveTab(ctx)
	if err != nil || active.TargetID != "NEW" {
		t.Fatalf("ActiveTab() = %+v, %v; want NEW", active, err)
	}

	for _, m := range []string{"Target.attachToTarget", "Target.activateTarget", "Target.createTarget"} {
		if !fb.Called(m) {
			t.Fatalf("fake browser never saw %s", m)
		}
	}
	if fb.Called("Target.closeTarget") {
		t.Fatal("client closed a tab")
	}
}

// The browser acknowledges Page.reload while the old document, still
// complete, is in place. The tab must read as loading until it is replaced.
func TestReloadedTabLoadingUntilDocumentReplaced(t *testing.T) {
	fb := cdptest.NewBrowser(t, cdptest.Target{ID: "T1", Type: "page", URL: "https://chatgpt.com"})
	var marked, committed atomic.Bool
	fb.SetEvaluate(func(expr string) string {
		switch {
		case strings.Contains(expr, "document.readyState"):
			stale := marked.Load() && !committed.Load()
			return fmt.Sprintf(`{"ok":true,"data":{"ready_state":"complete","url":"https://chatgpt.com","stale":%t}}`, stale)
		case strings.Contains(expr, reloadMarker+" = true"):
			marked.Store(true)
			return "marked"
		}
		return ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(fb.URL, time.Second)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.ReloadTab(ctx, "T1"); err != nil {
		t.Fatalf("ReloadTab() error = %v", err)
	}
	if !fb.Called("Page.reload") {
		t.Fatal("Page.reload not sent")
	}

	tab, err := c.GetTab(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTab() error = %v", err)
	}
	if tab.Status != StatusLoading {
		t.Fatalf("GetTab() right after reload = %s; want %s", tab.Status, StatusLoading)
	}

	committed.Store(true)
	tab, err = c.GetTab(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTab() error = %v", err)
	}
	if tab.Status != StatusComplete {
		t.Fatalf("GetTab() after commit = %s; want %s", tab.Status, StatusComplete)
	}

	methods := fb.Methods()
	markAt, reloadAt := -1, -1
	for i, m := range methods {
		if m == "Runtime.evaluate" && markAt < 0 {
			markAt = i
		}
		if m == "Page.reload" {
			reloadAt = i
		}
	}
	if markAt < 0 || markAt > reloadAt {
		t.Fatalf("document not marked before reload: %v", methods)
	}
}

func TestRunOnTabKeepsTabOpen(t *testing.T) {
	fb := cdptest.NewBrowser(t, cdptest.Target{ID: "T1", Type: "page", URL: "https://example.org"})
	fb.SetEvaluate(func(expr string) string { return "title:" + expr })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient(fb.URL, time.Second)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var out string
	if err := c.RunOnTab(ctx, "T1", chromedp.Evaluate("document.title", &out)); err != nil {
		t.Fatalf("RunOnTab() error = %v", err)
	}
	if out != "title:document.title" {
		t.Fatalf("RunOnTab() result = %q", out)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if fb.Called("Target.closeTarget") {
		t.Fatalf("tab closed: %v", fb.Methods())
	}
}

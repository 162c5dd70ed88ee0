// Package cdptest provides a fake browser speaking the slice of the DevTools
// protocol the tab client uses: /json/version, /json/list and a browser
// websocket answering Target, Page and Runtime commands.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Target is a /json/list entry.
type Target struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Browser is an httptest-backed fake. URL is the http base to hand to clients.
type Browser struct {
	URL string

	srv      *httptest.Server
	mu       sync.Mutex
	targets  []Target
	methods  []string
	evaluate func(expr string) string
}

// NewBrowser starts a fake browser with the given page targets. It is closed
// when the test ends.
func NewBrowser(t testing.TB, targets ...Target) *Browser {
	t.Helper()
	b := &Browser{targets: targets}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws" + strings.TrimPrefix(b.URL, "http") + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(b.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", b.serveWS)
	b.srv = httptest.NewServer(mux)
	b.URL = b.srv.URL
	t.Cleanup(b.srv.Close)
	return b
}

// SetEvaluate installs the Runtime.evaluate responder. fn receives the
// expression and returns the string value handed back to the caller.
func (b *Browser) SetEvaluate(fn func(expr string) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluate = fn
}

// Methods returns every command received so far, in order.
func (b *Browser) Methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.methods...)
}

// Called reports whether method was received.
func (b *Browser) Called(method string) bool {
	for _, m := range b.Methods() {
		if m == method {
			return true
		}
	}
	return false
}

func (b *Browser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		resp, _ := json.Marshal(map[string]any{
			"id":        req.ID,
			"sessionId": req.SessionID,
			"result":    b.handle(req.Method, req.Params),
		})
		if err := wsutil.WriteServerText(conn, resp); err != nil {
			return
		}
	}
}

func (b *Browser) handle(method string, params json.RawMessage) any {
	b.mu.Lock()
	b.methods = append(b.methods, method)
	eval := b.evaluate
	b.mu.Unlock()

	switch method {
	case "Target.attachToTarget":
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(params, &p)
		return map[string]any{"sessionId": "S-" + p.TargetID}
	case "Target.createTarget":
		var p struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(params, &p)
		b.mu.Lock()
		b.targets = append([]Target{{ID: "NEW", Type: "page", URL: p.URL}}, b.targets...)
		b.mu.Unlock()
		return map[string]any{"targetId": "NEW"}
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(params, &p)
		value := ""
		if eval != nil {
			value = eval(p.Expression)
		}
		return map[string]any{"result": map[string]any{"type": "string", "value": value}}
	}
	return map[string]any{}
}

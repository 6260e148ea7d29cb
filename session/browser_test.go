//go:build !windows

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    interface{}     `json:"result,omitempty"`
}

// devtools answers the CDP commands chromedp sends while opening a tab
// and running simple actions on it.
type devtools struct {
	mu      sync.Mutex
	methods []string
}

func (d *devtools) seen(method string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (d *devtools) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.methods...)
}

func (d *devtools) reply(msg cdpMessage) []cdpMessage {
	d.mu.Lock()
	d.methods = append(d.methods, msg.Method)
	d.mu.Unlock()

	var result interface{} = map[string]interface{}{}
	var events []cdpMessage
	switch msg.Method {
	case "Target.setDiscoverTargets":
		if msg.SessionID == "" {
			events = append(events, cdpMessage{
				Method: "Target.targetCreated",
				Params: json.RawMessage(`{"targetInfo":{"targetId":"tab-1","type":"page","title":"","url":"about:blank","attached":false,"canAccessOpener":false}}`),
			})
		}
	case "Target.attachToTarget":
		result = map[string]string{"sessionId": "session-1"}
	case "Page.addScriptToEvaluateOnNewDocument":
		result = map[string]string{"identifier": "1"}
	case "Runtime.evaluate":
		var params struct {
			Expression string `json:"expression"`
		}
		json.Unmarshal(msg.Params, &params)
		if params.Expression == "self" {
			result = map[string]interface{}{"result": map[string]string{"type": "object", "className": "Window"}}
		} else {
			result = map[string]interface{}{"result": map[string]interface{}{"type": "boolean", "value": true}}
		}
	}
	out := []cdpMessage{{ID: msg.ID, SessionID: msg.SessionID, Result: result}}
	return append(out, events...)
}

func (d *devtools) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		for _, out := range d.reply(msg) {
			payload, _ := json.Marshal(out)
			if err := wsutil.WriteServerText(conn, payload); err != nil {
				return
			}
		}
	}
}

// fakeChrome writes an executable that announces wsURL the way Chrome
// does and then stays alive until it is killed.
func fakeChrome(t *testing.T, wsURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chrome")
	script := fmt.Sprintf("#!/bin/sh\necho \"DevTools listening on %s\"\nexec sleep 60\n", wsURL)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake chrome: %v", err)
	}
	return path
}

func newTestBrowser(t *testing.T, ctx context.Context) (*Browser, *devtools) {
	t.Helper()
	d := &devtools{}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/test"
	b, err := NewBrowser(ctx, BrowserOptions{
		Headless:  true,
		UserAgent: "test-agent",
		Width:     800,
		Height:    600,
		ExecPath:  fakeChrome(t, wsURL),
	})
	if err != nil {
		t.Fatalf("new browser: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, d
}

func TestBrowserOutlivesStartupContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	b, d := newTestBrowser(t, ctx)
	cancel()

	if !d.seen("Page.addScriptToEvaluateOnNewDocument") {
		t.Fatalf("webdriver mask not sent, methods = %v", d.calls())
	}

	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resetCancel()
	if err := b.Reset(resetCtx); err != nil {
		t.Fatalf("reset after startup: %v", err)
	}
	if !d.seen("Network.clearBrowserCookies") {
		t.Fatalf("cookies not cleared, methods = %v", d.calls())
	}

	proc := chromedp.FromContext(b.ctx).Browser.Process()
	if proc == nil {
		t.Fatalf("no browser process")
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		t.Fatalf("browser process %d gone after startup: %v", proc.Pid, err)
	}
}

func TestBrowserActionDeadlineKeepsTab(t *testing.T) {
	b, _ := newTestBrowser(t, context.Background())

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Reset(expired); err == nil {
		t.Fatalf("expected error from a cancelled action context")
	}

	ctx, cancelReset := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelReset()
	if err := b.Reset(ctx); err != nil {
		t.Fatalf("reset after a cancelled action: %v", err)
	}
}

func TestNewBrowserStartupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := fakeChrome(t, "ws://127.0.0.1:1/devtools/browser/unused")
	if _, err := NewBrowser(ctx, BrowserOptions{Headless: true, ExecPath: path}); err == nil {
		t.Fatalf("expected startup error for a cancelled context")
	}
}

func TestMarkHiddenScriptSkipsDisplayContents(t *testing.T) {
	contents := strings.Index(markHiddenScript, "style.display === 'contents'")
	rects := strings.Index(markHiddenScript, "getClientRects()")
	if contents < 0 || rects < 0 || contents > rects {
		t.Fatalf("display: contents must be skipped before the client rects check:\n%s", markHiddenScript)
	}
}

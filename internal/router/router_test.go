package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tugtool/tugcast/internal/authgate"
	"github.com/tugtool/tugcast/internal/codec"
)

// testSnapshotter avoids shelling out to tmux in tests.
type testSnapshotter struct{ payload []byte }

func (t testSnapshotter) Snapshot(context.Context) ([]byte, error) { return t.payload, nil }

func newTestRouter(t *testing.T, port int) *Router {
	t.Helper()
	gate, err := authgate.New(port)
	if err != nil {
		t.Fatalf("authgate.New: %v", err)
	}
	r := New(gate, "test-session", t.TempDir(), "/bin/true")
	r.snapshotter = testSnapshotter{payload: []byte("hello")}
	r.Exit = func(int) {}
	return r
}

func TestAuthThenWebSocketRoundTrip(t *testing.T) {
	r := newTestRouter(t, 0)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", r.ServeAuth)
	mux.HandleFunc("/ws", r.ServeWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	token, _ := r.Gate.PendingToken()

	client := ts.Client()
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/auth?token="+token, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == authgate.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": {cookie.Name + "=" + cookie.Value}},
	})
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	frame, _, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.FeedID != codec.TerminalOutput || string(frame.Payload) != "hello" {
		t.Fatalf("unexpected first frame: %+v", frame)
	}
}

func TestWebSocketRejectsMissingCookie(t *testing.T) {
	r := newTestRouter(t, 0)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.ServeWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, _, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a session cookie")
	}
}

func TestServeTellRequiresLoopback(t *testing.T) {
	r := newTestRouter(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/tell", strings.NewReader(`{"action":"reload_frontend"}`))
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	r.ServeTell(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestServeTellDispatchesReload(t *testing.T) {
	r := newTestRouter(t, 0)
	sub := r.TerminalBroadcast.Subscribe()

	req := httptest.NewRequest(http.MethodPost, "/api/tell", strings.NewReader(`{"action":"reload_frontend"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	r.ServeTell(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, _, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if frame.FeedID != codec.Control {
		t.Fatalf("feed id = %v, want Control", frame.FeedID)
	}
	var body map[string]string
	json.Unmarshal(frame.Payload, &body)
	if body["action"] != "reload_frontend" {
		t.Fatalf("body = %+v", body)
	}
}

func TestServeTellTriggersRestartExit(t *testing.T) {
	r := newTestRouter(t, 0)
	var gotCode int
	r.Exit = func(code int) { gotCode = code }

	req := httptest.NewRequest(http.MethodPost, "/api/tell", strings.NewReader(`{"action":"restart"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	r.ServeTell(rec, req)

	if gotCode != RestartExitCode {
		t.Fatalf("exit code = %d, want %d", gotCode, RestartExitCode)
	}
}

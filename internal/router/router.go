// Package router wires every feed, the auth gate, and the websocket
// upgrade together into the one multiplexed endpoint a browser client
// talks to. Grounded on original_source's router.rs: the module that
// owns all broadcast/watch senders and builds a Session per accepted
// connection.
package router

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tugtool/tugcast/internal/agentbridge"
	"github.com/tugtool/tugcast/internal/audit"
	"github.com/tugtool/tugcast/internal/authgate"
	"github.com/tugtool/tugcast/internal/broadcast"
	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/fsfeed"
	"github.com/tugtool/tugcast/internal/logging"
	"github.com/tugtool/tugcast/internal/session"
	"github.com/tugtool/tugcast/internal/statsfeed"
	"github.com/tugtool/tugcast/internal/tmuxbridge"
	"github.com/tugtool/tugcast/internal/vcsfeed"
	"github.com/tugtool/tugcast/internal/watch"
)

// RestartExitCode and ResetExitCode are the process exit codes a
// supervising process manager (systemd, launchd, a wrapper shell loop)
// must recognize to restart tugcastd, per spec.md §6's control actions.
const (
	RestartExitCode = 42
	ResetExitCode   = 43
)

// TerminalSnapshotter adapts tmuxbridge's package-level Snapshot function
// to session.SnapshotSource.
type TerminalSnapshotter struct {
	Session string
}

// Snapshot captures the current pane contents for Session.
func (t TerminalSnapshotter) Snapshot(ctx context.Context) ([]byte, error) {
	return tmuxbridge.Snapshot(ctx, t.Session)
}

// Router owns every feed's sender and builds one Session per accepted
// connection.
type Router struct {
	Gate *authgate.Gate

	Terminal          *tmuxbridge.Feed
	TerminalBroadcast *broadcast.Broadcaster

	Agent                 *agentbridge.Bridge
	ConversationBroadcast *broadcast.Broadcaster

	Filesystem *watch.Cell
	VCS        *watch.Cell
	Stats      *watch.Cell
	StatsNamed *statsfeed.Runner

	snapshotter session.SnapshotSource

	// Audit records connect/disconnect/control-action events when
	// non-nil. Left nil, auditing is simply disabled (Log's methods are
	// no-ops on a nil receiver too, but Router skips the call entirely).
	Audit *audit.Log

	// Exit is invoked with a process exit code for "restart"/"reset"
	// control actions; the default calls os.Exit. Tests override it.
	Exit func(code int)
}

// New builds a Router around a tmux session name and a project directory
// for the agent bridge. Callers still need to start every feed's Run
// loop themselves (see Start).
func New(gate *authgate.Gate, tmuxSession, projectDir, agentBinary string) *Router {
	return &Router{
		Gate:                  gate,
		Terminal:              tmuxbridge.New(tmuxSession),
		TerminalBroadcast:     broadcast.New(256),
		Agent:                 agentbridge.New(agentBinary, projectDir),
		ConversationBroadcast: broadcast.New(256),
		Filesystem:            watch.NewCell(),
		VCS:                   watch.NewCell(),
		Stats:                 watch.NewCell(),
		snapshotter:           TerminalSnapshotter{Session: tmuxSession},
		Exit:                  os.Exit,
	}
}

// Start launches every feed's background loop. It returns once all feeds
// have been spawned; the feeds themselves run until ctx is cancelled.
func (r *Router) Start(ctx context.Context, watchRoot string, vcsRoot string, statsCollectors []statsfeed.Collector) {
	go r.Terminal.Run(ctx, r.TerminalBroadcast)
	go r.Agent.Run(ctx, r.ConversationBroadcast)

	fs := fsfeed.New(watchRoot)
	go fs.Run(ctx, r.Filesystem)

	vcs := vcsfeed.New(vcsRoot)
	go vcs.Run(ctx, r.VCS)

	r.StatsNamed = statsfeed.NewRunner(statsCollectors)
	go r.StatsNamed.Run(ctx, r.Stats)
}

// snapshotFeeds builds the list of watch-based feeds a freshly live
// session forwards, in a fixed order so the client's first render is
// deterministic.
func (r *Router) snapshotFeeds() []session.SnapshotFeed {
	return []session.SnapshotFeed{
		{Name: "filesystem", Recv: r.Filesystem.Subscribe()},
		{Name: "vcs", Recv: r.VCS.Subscribe()},
		{Name: "stats", Recv: r.Stats.Subscribe()},
	}
}

// wsConn adapts a coder/websocket connection to session.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) Send(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageBinary, payload)
}

func (w wsConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// dispatch implements session.Dispatch by forwarding to the router's
// owned feed input sinks and its own control handler.
type dispatch struct {
	r *Router
}

func (d dispatch) ForwardTerminal(f codec.Frame) {
	select {
	case d.r.Terminal.InputSink() <- f:
	default:
		logging.Warn("terminal input sink full, dropping frame")
	}
}

func (d dispatch) ForwardConversation(f codec.Frame) {
	select {
	case d.r.Agent.InputSink() <- f:
	default:
		logging.Warn("agent input sink full, dropping frame")
	}
}

func (d dispatch) HandleControl(payload []byte) {
	action, err := session.ParseControlAction(payload)
	if err != nil {
		logging.Warn("malformed control frame", "err", err)
		return
	}
	if d.r.Audit != nil {
		if err := d.r.Audit.Record("", "", audit.EventControl, action.Action); err != nil {
			logging.Warn("audit record failed", "event", audit.EventControl, "err", err)
		}
	}

	switch action.Action {
	case "restart":
		logging.Info("control: restart requested")
		d.r.Exit(RestartExitCode)
	case "reset":
		logging.Info("control: reset requested")
		d.r.Exit(ResetExitCode)
	case "reload_frontend":
		logging.Info("control: reload_frontend requested")
		reload, _ := json.Marshal(map[string]string{"action": "reload_frontend"})
		d.r.TerminalBroadcast.Send(codec.Frame{FeedID: codec.Control, Payload: reload})
	default:
		logging.Warn("unknown control action, ignoring", "action", action.Action)
	}
}

// ServeWS is the /ws HTTP handler: validates the session cookie and
// request origin, upgrades, and runs a Session until the connection
// ends.
func (r *Router) ServeWS(w http.ResponseWriter, req *http.Request) {
	cookie, err := req.Cookie(authgate.SessionCookieName)
	if err != nil || !r.Gate.ValidateSession(cookie.Value) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if origin := req.Header.Get("Origin"); origin != "" && !r.Gate.CheckOrigin(origin) {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"127.0.0.1:*", "localhost:*"},
	})
	if err != nil {
		logging.Warn("websocket accept failed", "err", err)
		return
	}

	sessionID := uuid.NewString()
	if r.Audit != nil {
		if err := r.Audit.Record(sessionID, req.RemoteAddr, audit.EventConnect, ""); err != nil {
			logging.Warn("audit record failed", "event", audit.EventConnect, "err", err)
		}
	}

	sess := session.New(
		wsConn{conn: conn},
		r.snapshotter,
		r.TerminalBroadcast.Subscribe(),
		r.snapshotFeeds(),
		dispatch{r: r},
	).WithConversation(r.ConversationBroadcast.Subscribe())
	sess.Run(req.Context())

	if r.Audit != nil {
		if err := r.Audit.Record(sessionID, req.RemoteAddr, audit.EventDisconnect, ""); err != nil {
			logging.Warn("audit record failed", "event", audit.EventDisconnect, "err", err)
		}
	}
}

// ServeAuth is the /auth HTTP handler: exchanges a one-time token for a
// session cookie, per spec.md §5.
func (r *Router) ServeAuth(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	cookieValue, ok := r.Gate.ConsumeToken(token)
	if !ok {
		http.Error(w, "invalid or already-used token", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authgate.SessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(authgate.DefaultSessionTTL),
	})
	w.WriteHeader(http.StatusNoContent)
}

// ServeTell is the loopback-only /api/tell handler used by local tooling
// to issue a control action without a websocket connection.
func (r *Router) ServeTell(w http.ResponseWriter, req *http.Request) {
	if !isLoopback(req) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	payload, _ := json.Marshal(session.ControlAction{Action: body.Action})
	dispatch{r: r}.HandleControl(payload)
	w.WriteHeader(http.StatusNoContent)
}

// isLoopback reports whether the request's remote address is the IPv4 or
// IPv6 loopback address, regardless of port.
func isLoopback(req *http.Request) bool {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

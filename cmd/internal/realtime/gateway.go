// Package realtime contains Fitlink's realtime WebSocket gateway, the
// presence cache, the relationship state machine, and notification fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"fitlink/cmd/internal/auth/session"
	"fitlink/cmd/internal/env"
	"fitlink/cmd/internal/events"
	"fitlink/cmd/internal/friends"
	"fitlink/cmd/internal/ids"
	"fitlink/cmd/internal/metrics"
	v1 "fitlink/contracts/realtime/v1"
)

const (
	wsSubprotocolV1 = "fitlink.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for Fitlink realtime.
//
// It authenticates connections, owns the hydrate/attach lifecycle of presence
// buckets, arms session-expiry disconnects, and routes validated envelopes to
// the command dispatch table.
type Gateway struct {
	log     *slog.Logger
	cache   *Cache
	friends friends.Store
	events  events.Store
	authz   session.AuthzStore
	tokens  session.AccessTokenManager
	fan     *Fanout
	metrics *metrics.Metrics

	handlers map[string]handlerFunc

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// NewGateway constructs a gateway with secure defaults.
// When cache/stores are nil, it falls back to in-memory implementations for dev.
func NewGateway(
	log *slog.Logger,
	cache *Cache,
	friendStore friends.Store,
	eventStore events.Store,
	authz session.AuthzStore,
	tokens session.AccessTokenManager,
	m *metrics.Metrics,
) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cache == nil {
		cache = NewCache(log)
	}
	if friendStore == nil {
		friendStore = friends.NewInMemoryStore()
	}
	if eventStore == nil {
		eventStore = events.NewInMemoryStore()
	}
	if authz == nil {
		authz = session.NewInMemoryAuthzStore()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	g := &Gateway{
		log:     log,
		cache:   cache,
		friends: friendStore,
		events:  eventStore,
		authz:   authz,
		tokens:  tokens,
		metrics: m,
	}
	g.fan = NewFanout(log, cache, m)
	g.handlers = g.dispatchTable()

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = env.Bool("FITLINK_WS_DEV_INSECURE", false)

	g.originRequired = env.Bool("FITLINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = env.CSV("FITLINK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns. Derive the patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = env.Duration("FITLINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = env.Duration("FITLINK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = env.Int("FITLINK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = env.Duration("FITLINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = env.Duration("FITLINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authenticate before allocating any presence state. A rejected
	// connection receives the triggering error verbatim, then closes —
	// no bucket, no timer, no channel join.
	claims, err := g.gate(ctx, conn, r)
	if err != nil {
		g.metrics.AuthRejections.WithLabelValues(errorCode(err)).Inc()
		g.log.Info("ws.reject.auth", "code", errorCode(err), "remote", r.RemoteAddr)
		g.writeErrorDirect(ctx, conn, err)
		_ = conn.Close(websocket.StatusPolicyViolation, errorCode(err))
		return
	}

	now := time.Now().UTC()
	sessionID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id allocation failed")
		return
	}

	client := NewClient(claims.UserID, sessionID, g.sendQueueSize)
	g.metrics.ConnectionsOpen.Inc()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Ordering: disarm the expiry timer, detach from the bucket, then — only
	// when this was the last connection — broadcast offline exactly once and
	// evict the bucket.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.CancelExpiry()
			g.detach(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.metrics.ConnectionsOpen.Dec()
		})
	}

	// Session expiry is an absolute deadline from the token. The timer is
	// owned by the client and cancelled on clean disconnect; firing notifies
	// the client before tearing the connection down.
	client.ArmExpiry(claims.ExpiresAt.Sub(now), func() {
		g.log.Info("ws.session.expire", "session_id", sessionID, "user_id", claims.UserID)
		p, _ := json.Marshal(v1.ForceDisconnectPayload{Reason: codeExpiredMidSession})
		_ = writeEnvelope(context.Background(), conn, g.newEnvelope(v1.KindForceDisconnect, p), g.writeTimeout)
		shutdown(websocket.StatusPolicyViolation, codeExpiredMidSession)
	})

	if err := g.attach(ctx, client); err != nil {
		g.log.Error("ws.attach.fail", "user_id", claims.UserID, "err", err)
		g.writeErrorDirect(ctx, conn, err)
		shutdown(websocket.StatusInternalError, "attach failed")
		return
	}

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: sessionID, UserID: claims.UserID})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.KindHelloAck, ackPayload)) {
		shutdown(websocket.StatusAbnormalClosure, "backpressure: helloAck")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, errors.New("invalid JSON"))
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, fmt.Errorf("%w: %v", errBadPayload, err))
			continue readLoop
		}

		if err := g.dispatch(ctx, client, env); err != nil {
			if session.IsAuthError(err) {
				// Mid-session auth failure: notify, then force disconnect.
				g.trySendError(ctx, client, err)
				shutdown(websocket.StatusPolicyViolation, errorCode(err))
				break readLoop
			}
			g.trySendError(ctx, client, err)
			continue readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- connection gate ----

// gate reads the hello envelope, resolves the token (hello payload, then
// query parameter, then bearer header — first present wins), verifies it,
// and checks the authorization record.
func (g *Gateway) gate(ctx context.Context, conn *websocket.Conn, r *http.Request) (session.AccessClaims, error) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	env, err := readEnvelope(hsCtx, conn)
	cancel()
	if err != nil {
		return session.AccessClaims{}, session.ErrNoToken
	}
	if err := env.Validate(); err != nil || env.Kind != v1.KindHello {
		return session.AccessClaims{}, session.ErrNoToken
	}

	var hello v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &hello); err != nil {
			return session.AccessClaims{}, session.ErrMalformedToken
		}
	}

	token, err := extractToken(hello, r)
	if err != nil {
		return session.AccessClaims{}, err
	}

	now := time.Now().UTC()
	claims, err := g.tokens.Verify(token, now)
	if err != nil {
		return session.AccessClaims{}, err
	}

	// Verify tolerates clock skew, but a deadline at or before now leaves no
	// session lifetime to arm. Reject at connect instead of admitting a
	// connection that expires immediately.
	if !claims.ExpiresAt.After(now) {
		return session.AccessClaims{}, session.ErrTokenExpired
	}

	authorized, err := g.authz.Authorized(ctx, claims.UserID)
	if err != nil {
		return session.AccessClaims{}, err
	}
	if !authorized {
		return session.AccessClaims{}, session.ErrUnauthorized
	}

	return claims, nil
}

// extractToken resolves the access token from the accepted locations in
// priority order: hello payload, "token" query parameter, bearer header.
func extractToken(hello v1.HelloPayload, r *http.Request) (string, error) {
	if t := strings.TrimSpace(hello.Token); t != "" {
		return t, nil
	}

	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t, nil
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(rest) == "" {
			return "", session.ErrMalformedToken
		}
		return strings.TrimSpace(rest), nil
	}

	return "", session.ErrNoToken
}

// attach joins the client to its user's bucket and, on the first connection,
// hydrates the bucket from the friend store and announces the user online.
func (g *Gateway) attach(ctx context.Context, client *Client) error {
	// Single lock scope with eviction: a concurrent last-disconnect either
	// sees this connection and keeps the bucket, or evicted first and the
	// attach creates a fresh bucket that is in the map.
	b, first := g.cache.Attach(client.UserID, client)
	g.metrics.BucketsLive.Set(float64(g.cache.Len()))

	g.log.Info("presence.conn.attach", "user_id", client.UserID, "session_id", client.SessionID, "first", first)

	if !first {
		return nil
	}

	view, err := g.friends.RelationshipView(ctx, client.UserID)
	if err != nil {
		return err
	}

	// Re-fetch after the store await: the bucket may have been evicted by a
	// concurrent last-disconnect, in which case hydration is a no-op.
	b = g.cache.Get(client.UserID)
	if b == nil {
		return nil
	}
	b.Hydrate(view)
	b.SetStatus(StatusOnline)

	g.broadcastStatus(client.UserID, StatusOnline, b.Friends())
	return nil
}

// detach implements disconnect handling: remove the connection, and when it
// was the last one, broadcast offline to friends exactly once and evict.
func (g *Gateway) detach(client *Client) {
	b := g.cache.Get(client.UserID)
	if b == nil {
		return
	}

	remaining := b.Detach(client.SessionID)
	g.log.Info("presence.conn.detach", "user_id", client.UserID, "session_id", client.SessionID, "remaining", remaining)
	if remaining > 0 {
		return
	}

	friendIDs := b.Friends()
	b.SetStatus(StatusOffline)

	// EvictIfEmpty re-checks under the cache lock: if another connection
	// attached in between, the user never went offline and nobody broadcasts.
	if g.cache.EvictIfEmpty(client.UserID) {
		g.broadcastStatus(client.UserID, StatusOffline, friendIDs)
	}
	g.metrics.BucketsLive.Set(float64(g.cache.Len()))
}

// broadcastStatus fans a presence status out to the given friend set.
func (g *Gateway) broadcastStatus(userID int64, status Status, friendIDs []int64) {
	if len(friendIDs) == 0 {
		return
	}

	payload, _ := json.Marshal(v1.StatusPayload{UserID: userID, Status: string(status)})
	env := g.newEnvelope(v1.KindStatus, payload)

	g.fan.Settle(friendIDs, func(int64) (v1.Envelope, error) { return env, nil })
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, err error) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: errorCode(err), Message: errorMessage(err)})
	_ = g.enqueue(ctx, client, g.newEnvelope(v1.KindError, p))
}

// writeErrorDirect delivers an error before any channel join (connect-time
// rejection path); there is no writer goroutine yet.
func (g *Gateway) writeErrorDirect(ctx context.Context, conn *websocket.Conn, err error) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: errorCode(err), Message: errorMessage(err)})
	_ = writeEnvelope(ctx, conn, g.newEnvelope(v1.KindError, p), g.writeTimeout)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func (g *Gateway) newEnvelope(kind string, payload json.RawMessage) v1.Envelope {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		id = ""
	}
	return v1.Envelope{
		V:       v1.Version,
		Kind:    kind,
		ID:      id,
		TS:      now,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Keep this strict: only hosts extracted from
	// the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// Package main provides a CI-friendly end-to-end smoke test for the
// messaging server.
//
// It validates:
//   - WS handshake + subprotocol selection + session.ready
//   - conversation request over REST -> request.new push to the recipient
//   - accept over REST -> request.accepted push to the initiator
//   - send over REST -> message.new push to the other participant
//   - message history fetch returns the intro and the sent message in order
//
// The server must run with SHELFSWAP_AUTH_DEV_INSECURE=true so the flags
// -initiator and -recipient can be used directly as bearer tokens.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "shelfswap.realtime.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

// envelope mirrors the server's push frame. The tool keeps its own copy
// because cmd/internal packages are not importable from tools/.
type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan envelope
	errCh chan error
}

func main() {
	var (
		baseURL   = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		initiator = flag.String("initiator", "smoke-alice", "Initiator user id (dev-insecure token)")
		recipient = flag.String("recipient", "smoke-bob", "Recipient user id (dev-insecure token)")
		intro     = flag.String("intro", "Hi! I saw your copy of The Dispossessed.", "Introductory message")
		text      = flag.String("text", "Great, when works for you?", "Message text to send after accept")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *initiator, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *recipient, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// Initiator starts a conversation request; recipient should see it pushed.
	conv := mustPostJSON(root, *baseURL, *initiator, "/messages/conversations",
		map[string]string{"recipientId": *recipient, "initialMessage": *intro}, http.StatusCreated, *timeout)
	convID := stringField(conv, "id")
	if convID == "" {
		fatalf("start conversation: missing id in %s", conv)
	}
	if got := stringField(conv, "status"); got != "pending" && got != "accepted" {
		fatalf("start conversation: unexpected status %q", got)
	}

	reqEnv := b.mustReadUntilType(root, "request.new", *timeout)
	if got := stringField(reqEnv.Payload, "conversation_id"); got != convID {
		fatalf("request.new conversation_id=%q want=%q", got, convID)
	}

	// Recipient accepts; initiator should see request.accepted.
	_ = mustPostJSON(root, *baseURL, *recipient, "/messages/requests/"+convID+"/accept", nil, http.StatusOK, *timeout)

	accEnv := a.mustReadUntilType(root, "request.accepted", *timeout)
	if got := stringField(accEnv.Payload, "conversation_id"); got != convID {
		fatalf("request.accepted conversation_id=%q want=%q", got, convID)
	}

	// Initiator sends; recipient should see message.new.
	sent := mustPostJSON(root, *baseURL, *initiator, "/messages/conversations/"+convID,
		map[string]string{"content": *text}, http.StatusCreated, *timeout)
	msgID := stringField(sent, "id")

	msgEnv := b.mustReadUntilType(root, "message.new", *timeout)
	if got := stringField(msgEnv.Payload, "message_id"); got != msgID {
		fatalf("message.new message_id=%q want=%q", got, msgID)
	}

	// History: oldest first, intro at seq 1, the new message after it.
	history := mustGetJSON(root, *baseURL, *recipient, "/messages/conversations/"+convID+"?page=0&size=50", *timeout)
	var msgs []map[string]any
	if err := json.Unmarshal(history, &msgs); err != nil {
		fatalf("history decode: %v", err)
	}
	if len(msgs) < 2 {
		fatalf("history: want >= 2 messages, got %d", len(msgs))
	}
	if got, _ := msgs[0]["content"].(string); got != *intro {
		fatalf("history[0] content=%q want intro %q", got, *intro)
	}
	if got, _ := msgs[len(msgs)-1]["content"].(string); got != *text {
		fatalf("history[last] content=%q want %q", got, *text)
	}

	fmt.Printf("OK: A=%s B=%s conv_id=%s msg_id=%s\n", a.sessionID, b.sessionID, convID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+userID)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	ready := c.mustReadUntilType(parent, "session.ready", stepTimeout)

	var p struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(ready.Payload, &p); err != nil {
		fatalf("unmarshal session.ready payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("session.ready missing session_id (%s)", name)
	}
	if p.UserID != userID {
		fatalf("session.ready user_id=%q want=%q (%s)", p.UserID, userID, name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				// Inbox full; the smoke run is already failing, drop.
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) envelope {
	deadline := time.NewTimer(stepTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-parent.Done():
			fatalf("read %s (%s): %v", typ, c.name, parent.Err())
		case err := <-c.errCh:
			fatalf("read %s (%s): %v", typ, c.name, err)
		case <-deadline.C:
			fatalf("read %s (%s): timeout after %s", typ, c.name, stepTimeout)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("read %s (%s): connection closed", typ, c.name)
			}
			if env.Type == typ {
				return env
			}
			// Skip unrelated pushes.
		}
	}
}

func mustPostJSON(parent context.Context, base, userID, path string, body any, wantStatus int, stepTimeout time.Duration) json.RawMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, rd)
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return doJSON(req, path, wantStatus)
}

func mustGetJSON(parent context.Context, base, userID, path string, stepTimeout time.Duration) json.RawMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+userID)

	return doJSON(req, path, http.StatusOK)
}

func doJSON(req *http.Request, path string, wantStatus int) json.RawMessage {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", req.Method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", req.Method, path, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", req.Method, path, resp.StatusCode, wantStatus, data)
	}
	return data
}

func stringField(raw json.RawMessage, key string) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func closeWS(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

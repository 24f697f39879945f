// Package main provides a CI-friendly smoke test for chirp session revocation.
//
// It validates:
//   - register (or login) over HTTP
//   - handshake + subprotocol selection on two devices
//   - hello/ack on both connections
//   - logout_all pushes session_revoked to every device
//   - the server closes each socket with a policy violation
//   - the revoked refresh token is rejected afterwards
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

	v1 "chirp/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

type sessionPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		wsPath   = flag.String("ws", "/ws", "WebSocket path")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		username = flag.String("user", fmt.Sprintf("smoke%d", time.Now().Unix()%1_000_000), "Username to register or log in")
		password = flag.String("password", "smoke-test-passphrase-42", "Password for the smoke user")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateHTTPURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	api := &apiClient{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}}

	first := api.mustSignIn(root, *username, *password)
	second := api.mustLogin(root, *username, *password)

	wsURL := "ws" + strings.TrimPrefix(api.base, "http") + *wsPath

	a := mustConnect(root, "A", wsURL, *origin, first.AccessToken, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", wsURL, *origin, second.AccessToken, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.connID, b.connID, *origin)
	}

	api.mustLogoutAll(root, first.AccessToken)

	mustAssertRevoked(root, a, *timeout)
	mustAssertRevoked(root, b, *timeout)

	api.mustRefreshRejected(root, second.RefreshToken)

	fmt.Printf("OK: user=%s A=%s B=%s revoked\n", *username, a.connID, b.connID)
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) post(ctx context.Context, path string, body any, bearer string) (int, []byte) {
	raw, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		fatalf("build %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	return resp.StatusCode, out
}

// mustSignIn registers the user, falling back to login when the name is taken.
func (c *apiClient) mustSignIn(ctx context.Context, username, password string) sessionPair {
	status, body := c.post(ctx, "/auth/register", map[string]string{
		"username": username,
		"password": password,
		"platform": "desktop",
	}, "")
	switch status {
	case http.StatusCreated:
		return decodeSession(body)
	case http.StatusConflict, http.StatusForbidden:
		return c.mustLogin(ctx, username, password)
	default:
		fatalf("register: status=%d body=%s", status, body)
	}
	return sessionPair{}
}

func (c *apiClient) mustLogin(ctx context.Context, username, password string) sessionPair {
	status, body := c.post(ctx, "/auth/login", map[string]string{
		"username": username,
		"password": password,
		"platform": "desktop",
	}, "")
	if status != http.StatusOK {
		fatalf("login: status=%d body=%s", status, body)
	}
	return decodeSession(body)
}

func (c *apiClient) mustLogoutAll(ctx context.Context, access string) {
	status, body := c.post(ctx, "/auth/logout_all", map[string]string{}, access)
	if status != http.StatusNoContent {
		fatalf("logout_all: status=%d body=%s", status, body)
	}
}

func (c *apiClient) mustRefreshRejected(ctx context.Context, refresh string) {
	status, body := c.post(ctx, "/auth/refresh", map[string]string{
		"refresh_token": refresh,
		"platform":      "desktop",
	}, "")
	if status != http.StatusUnauthorized {
		fatalf("refresh after logout_all: status=%d body=%s (want 401)", status, body)
	}
}

func decodeSession(body []byte) sessionPair {
	var out struct {
		Session sessionPair `json:"session"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		fatalf("decode session: %v", err)
	}
	if out.Session.AccessToken == "" || out.Session.RefreshToken == "" {
		fatalf("session response missing tokens: %s", body)
	}
	return out.Session
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
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

func mustConnect(parent context.Context, name, wsURL, origin, access string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("hello_ack missing connection_id (%s)", name)
	}
	c.connID = p.ConnectionID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustAssertRevoked expects a session_revoked push followed by a policy close.
func mustAssertRevoked(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeSessionRevoked, stepTimeout)

	var p v1.SessionRevokedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal session_revoked payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.Message) == "" {
		fatalf("session_revoked missing message (%s)", c.name)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for close (%s)", c.name)
	case err := <-c.errCh:
		if code := websocket.CloseStatus(err); code != websocket.StatusPolicyViolation {
			fatalf("close status mismatch (%s): got=%v want=%v (err=%v)", c.name, code, websocket.StatusPolicyViolation, err)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

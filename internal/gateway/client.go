// Package gateway implements the websocket client for the messaging gateway
// and the supervised connection lifecycle around it. It is the concrete
// transport.Socket the moderation core runs against; everything above this
// package sees only the Socket interface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/warden/antispam/internal/metrics"
	"github.com/warden/antispam/internal/transport"
)

var (
	// ErrLoggedOut means the gateway terminated the session permanently;
	// the supervisor must not reconnect.
	ErrLoggedOut = errors.New("gateway: logged out")

	// ErrNotConnected is returned for API calls made while no session is up.
	ErrNotConnected = errors.New("gateway: not connected")

	errSessionClosed = errors.New("gateway: session closed")
)

// State is the connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config holds gateway connection settings.
type Config struct {
	URL                 string        // ws://localhost:8090/ws
	AuthToken           string        // session credential presented at auth
	DialTimeout         time.Duration // handshake + auth deadline
	KeepAliveInterval   time.Duration // spacing of keepalive pings
	MarkOnlineOnConnect bool          // advertise presence after auth
	RequestTimeout      time.Duration // per-request deadline cap
	ReconnectMinWait    time.Duration // supervisor backoff floor
	ReconnectMaxWait    time.Duration // supervisor backoff ceiling
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                 "ws://localhost:8090/ws",
		DialTimeout:         20 * time.Second,
		KeepAliveInterval:   10 * time.Second,
		MarkOnlineOnConnect: true,
		RequestTimeout:      30 * time.Second,
		ReconnectMinWait:    1 * time.Second,
		ReconnectMaxWait:    30 * time.Second,
	}
}

// eventBuffer bounds the inbound batch queue. When the consumer falls
// behind, new batches are dropped rather than stalling the read loop, which
// must stay free to route request responses.
const eventBuffer = 64

// Client is a websocket gateway session with supervised reconnect.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	pending map[string]chan frame
	self    string
	state   State

	writeMu sync.Mutex

	events chan []*transport.Message
}

// NewClient creates a Client. Call Run to establish and supervise the
// connection, and consume Events for inbound message batches.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		state:  StateClosed,
		events: make(chan []*transport.Message, eventBuffer),
	}
}

// Events returns the inbound message batch stream. The channel is closed
// when Run returns.
func (c *Client) Events() <-chan []*transport.Message {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelfIdentity implements transport.Socket. It returns "" until the first
// successful auth.
func (c *Client) SelfIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Run connects to the gateway and supervises the session, reconnecting with
// capped exponential backoff whenever it drops. It returns when ctx is
// cancelled or the gateway reports a permanent logout.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.setState(StateClosed)

	wait := c.cfg.ReconnectMinWait
	for {
		opened, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrLoggedOut) {
			log.Printf("[gateway] logged out, not reconnecting")
			return err
		}
		if opened {
			// The session was established; start backoff over.
			wait = c.cfg.ReconnectMinWait
		}

		metrics.GatewayReconnects.Inc()
		log.Printf("[gateway] session ended: %v (reconnecting in %s)", err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.cfg.ReconnectMaxWait {
			wait = c.cfg.ReconnectMaxWait
		}
	}
}

// session runs one connection from dial to disconnect. opened reports
// whether auth completed, which resets the supervisor's backoff.
func (c *Client) session(ctx context.Context) (opened bool, err error) {
	c.setState(StateConnecting)

	dialer := ws.Dialer{Timeout: c.cfg.DialTimeout}
	conn, br, _, err := dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if br != nil {
		// The gateway may push a frame right behind the handshake; anything
		// already buffered must reach the read loop before the reader is
		// recycled.
		if n := br.Buffered(); n > 0 {
			pre := make([]byte, n)
			if _, err := io.ReadFull(br, pre); err == nil {
				conn = &prefetchConn{Conn: conn, pre: pre}
			}
		}
		ws.PutReader(br)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()
	defer c.teardown()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	var auth authResponse
	err = c.request(authCtx, frameAuth, authRequest{
		Token:      c.cfg.AuthToken,
		MarkOnline: c.cfg.MarkOnlineOnConnect,
	}, &auth)
	cancel()
	if err != nil {
		conn.Close()
		<-readErr
		return false, fmt.Errorf("auth: %w", err)
	}

	c.mu.Lock()
	c.self = auth.Self
	c.state = StateOpen
	c.mu.Unlock()
	log.Printf("[gateway] connected to %s as %s", c.cfg.URL, auth.Self)

	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readErr
			return true, ctx.Err()
		case <-ticker.C:
			if err := c.writeFrame(frame{Type: framePing}); err != nil {
				conn.Close()
				<-readErr
				return true, fmt.Errorf("keepalive: %w", err)
			}
		case err := <-readErr:
			return true, err
		}
	}
}

// prefetchConn replays bytes the server sent during the handshake before
// reading from the connection itself.
type prefetchConn struct {
	net.Conn
	pre []byte
}

func (c *prefetchConn) Read(p []byte) (int, error) {
	if len(c.pre) > 0 {
		n := copy(p, c.pre)
		c.pre = c.pre[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// teardown clears the session and fails every in-flight request.
func (c *Client) teardown() {
	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = nil
	c.state = StateConnecting
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readLoop decodes inbound frames: responses are routed to their waiting
// requester, message batches are queued for the consumer.
func (c *Client) readLoop(conn net.Conn) error {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[gateway] bad frame: %v", err)
			continue
		}

		switch f.Type {
		case frameResponse:
			c.route(f)
		case frameMessages:
			var msgs []*transport.Message
			if err := json.Unmarshal(f.Payload, &msgs); err != nil {
				log.Printf("[gateway] bad message batch: %v", err)
				continue
			}
			select {
			case c.events <- msgs:
			default:
				log.Printf("[gateway] event queue full, dropping batch of %d", len(msgs))
			}
		case framePong:
			// keepalive answered
		case frameLoggedOut:
			return ErrLoggedOut
		default:
			log.Printf("[gateway] unsupported frame type=%q", f.Type)
		}
	}
}

func (c *Client) route(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		log.Printf("[gateway] response for unknown request id=%s", f.ID)
		return
	}
	ch <- f
}

// request performs one correlated round trip over the session.
func (c *Client) request(ctx context.Context, typ string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %w", typ, err)
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.writeFrame(frame{Type: typ, ID: id, Payload: body}); err != nil {
		drop()
		return err
	}

	select {
	case <-ctx.Done():
		drop()
		return ctx.Err()
	case f, ok := <-ch:
		if !ok {
			return errSessionClosed
		}
		if f.Error != "" {
			return fmt.Errorf("gateway: %s: %s", typ, f.Error)
		}
		if out != nil && len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, out); err != nil {
				return fmt.Errorf("gateway: unmarshal %s response: %w", typ, err)
			}
		}
		return nil
	}
}

func (c *Client) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gateway: marshal frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientText(conn, data); err != nil {
		return fmt.Errorf("gateway: write %s: %w", f.Type, err)
	}
	return nil
}

// reqCtx applies the configured per-request deadline cap.
func (c *Client) reqCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// FetchGroupMetadata implements transport.Socket.
func (c *Client) FetchGroupMetadata(ctx context.Context, groupID string) (*transport.GroupMetadata, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	var meta transport.GroupMetadata
	if err := c.request(ctx, frameGroupMetadata, metadataRequest{Group: groupID}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// FetchAllGroups implements transport.Socket.
func (c *Client) FetchAllGroups(ctx context.Context) ([]string, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	var resp listResponse
	if err := c.request(ctx, frameGroupList, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// SendMessage implements transport.Socket.
func (c *Client) SendMessage(ctx context.Context, to string, content transport.SendContent, opts *transport.SendOptions) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	req := sendRequest{To: to, Content: content}
	if opts != nil && opts.Quoted != nil {
		key := opts.Quoted.Key
		req.Quoted = &key
	}
	return c.request(ctx, frameSend, req, nil)
}

// RemoveParticipants implements transport.Socket.
func (c *Client) RemoveParticipants(ctx context.Context, groupID string, participants []string) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	return c.request(ctx, frameRemove, removeRequest{Group: groupID, Participants: participants}, nil)
}

// DeleteMessage implements transport.Socket. The key must carry the chat the
// message belongs to; this is checkable before spending a network call, so
// it is an error rather than a silent no-op.
func (c *Client) DeleteMessage(ctx context.Context, key transport.MessageKey) error {
	if key.Remote == "" {
		return errors.New("gateway: delete: message key has no chat")
	}

	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	return c.request(ctx, frameDelete, deleteRequest{Key: key}, nil)
}
